// Package hubsync is the thin layer every stage uses to persist artifacts to
// the Hugging Face Hub: ensure a repo, upload a file or folder, fetch an
// optional resume file, and locate and fetch the newest checkpoint.
package hubsync

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sgl-project/ome-loop/pkg/constants"
	"github.com/sgl-project/ome-loop/pkg/hfutil/hub"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/metrics"
)

// Syncer wraps a Hub client with the loop's upload and resume conventions.
type Syncer struct {
	client  *hub.HubClient
	logger  logging.Interface
	metrics *metrics.Metrics
}

// NewSyncer returns a Syncer. m may be nil.
func NewSyncer(client *hub.HubClient, logger logging.Interface, m *metrics.Metrics) *Syncer {
	return &Syncer{client: client, logger: logger, metrics: m}
}

// RequireToken returns ErrMissingToken unless the client has a token.
func (s *Syncer) RequireToken() error {
	if s.client == nil || !s.client.HasToken() {
		return ErrMissingToken
	}
	return nil
}

func (s *Syncer) record(op, repoType string, start time.Time, err error) {
	s.metrics.RecordHubOperation(op, repoType, time.Since(start), err)
}

// EnsureRepo creates a public repository unless it already exists.
func (s *Syncer) EnsureRepo(ctx context.Context, repoID, repoType string) (err error) {
	if err := s.RequireToken(); err != nil {
		return err
	}
	defer func(start time.Time) { s.record("ensure_repo", repoType, start, err) }(time.Now())

	_, err = s.client.CreateRepo(ctx, repoID,
		hub.WithRepoType(repoType),
		hub.WithPrivate(false),
		hub.WithExistOK(true))
	if err != nil {
		return errors.Wrapf(err, "ensuring %s repo %s", repoType, repoID)
	}
	return nil
}

// UploadPath uploads a directory's contents under their relative paths, or a
// single file under its base name.
func (s *Syncer) UploadPath(ctx context.Context, repoID, localPath, repoType string) (err error) {
	if err := s.RequireToken(); err != nil {
		return err
	}
	defer func(start time.Time) { s.record("upload", repoType, start, err) }(time.Now())

	info, err := os.Stat(localPath)
	if err != nil {
		return errors.Wrapf(err, "upload %s", localPath)
	}

	if info.IsDir() {
		_, err = s.client.UploadFolder(ctx, repoID, localPath,
			hub.WithRepoType(repoType),
			hub.WithPatterns(nil, constants.DefaultUploadIgnorePatterns))
	} else {
		_, err = s.client.UploadFile(ctx, repoID, localPath,
			hub.WithRepoType(repoType),
			hub.WithPathInRepo(filepath.Base(localPath)))
	}
	if err != nil {
		return errors.Wrapf(err, "uploading %s to %s", localPath, repoID)
	}

	s.logger.WithField("repo_id", repoID).
		WithField("path", localPath).
		Debug("Uploaded to the Hub")
	return nil
}

// PushFolder ensures a model repo and uploads localDir under pathInRepo
// ("" for the repo root), skipping files matching ignore.
func (s *Syncer) PushFolder(ctx context.Context, repoID, localDir, pathInRepo string, ignore []string) (err error) {
	if err := s.EnsureRepo(ctx, repoID, hub.RepoTypeModel); err != nil {
		return err
	}
	defer func(start time.Time) { s.record("push_folder", hub.RepoTypeModel, start, err) }(time.Now())

	opts := []hub.Option{hub.WithPatterns(nil, ignore)}
	if pathInRepo != "" {
		opts = append(opts, hub.WithPathInRepo(pathInRepo))
	}
	if _, err = s.client.UploadFolder(ctx, repoID, localDir, opts...); err != nil {
		return errors.Wrapf(err, "pushing %s to %s", localDir, repoID)
	}

	s.logger.WithField("repo_id", repoID).
		WithField("path_in_repo", pathInRepo).
		Info("Pushed folder to the Hub")
	return nil
}

// MaybeDownloadFile fetches pathInRepo to localPath. Any failure, including
// a missing token, yields false and leaves localPath untouched.
func (s *Syncer) MaybeDownloadFile(ctx context.Context, repoID, pathInRepo, repoType, localPath string) bool {
	if s.RequireToken() != nil {
		return false
	}

	var err error
	defer func(start time.Time) { s.record("maybe_download", repoType, start, err) }(time.Now())

	dir := filepath.Dir(localPath)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	staging, err := os.MkdirTemp(dir, ".hub-download-")
	if err != nil {
		return false
	}
	defer os.RemoveAll(staging)

	var fp string
	fp, err = s.client.Download(ctx, repoID, pathInRepo,
		hub.WithRepoType(repoType),
		hub.WithLocalDir(staging),
		hub.WithForceDownload(true))
	if err != nil {
		s.logger.WithField("repo_id", repoID).
			WithField("path", pathInRepo).
			WithError(err).
			Debug("Optional download skipped")
		return false
	}
	if err = os.Rename(fp, localPath); err != nil {
		return false
	}
	return true
}

var firstInt = regexp.MustCompile(`\d+`)

// checkpointOrder is the first integer in name, or -1 when there is none.
func checkpointOrder(name string) int {
	m := firstInt.FindString(name)
	if m == "" {
		return -1
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return -1
	}
	return n
}

// CheckpointPrefixes returns the distinct top-level checkpoint-* directories
// of files, ordered by step.
func CheckpointPrefixes(files []string) []string {
	seen := map[string]bool{}
	var prefixes []string
	for _, f := range files {
		top := strings.SplitN(f, "/", 2)[0]
		if strings.HasPrefix(top, constants.CheckpointPrefix) && !seen[top] {
			seen[top] = true
			prefixes = append(prefixes, top)
		}
	}
	sort.SliceStable(prefixes, func(i, j int) bool {
		oi, oj := checkpointOrder(prefixes[i]), checkpointOrder(prefixes[j])
		if oi != oj {
			return oi < oj
		}
		return prefixes[i] < prefixes[j]
	})
	return prefixes
}

func (s *Syncer) listModelFiles(ctx context.Context, repoID string) ([]string, error) {
	entries, err := s.client.ListFiles(ctx, repoID, hub.WithRepoType(hub.RepoTypeModel))
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type == "file" {
			files = append(files, e.Path)
		}
	}
	return files, nil
}

// LatestCheckpoint returns the highest-step checkpoint-* prefix of a model
// repo. Any error is reported as not found.
func (s *Syncer) LatestCheckpoint(ctx context.Context, repoID string) (string, bool) {
	if s.RequireToken() != nil {
		return "", false
	}
	files, err := s.listModelFiles(ctx, repoID)
	if err != nil {
		s.logger.WithField("repo_id", repoID).WithError(err).Debug("No remote checkpoints")
		return "", false
	}
	prefixes := CheckpointPrefixes(files)
	if len(prefixes) == 0 {
		return "", false
	}
	return prefixes[len(prefixes)-1], true
}

// DownloadFolderPrefix downloads every file under prefix/ of a model repo to
// localDir/<path in repo>.
func (s *Syncer) DownloadFolderPrefix(ctx context.Context, repoID, prefix, localDir string) (err error) {
	if err := s.RequireToken(); err != nil {
		return err
	}
	defer func(start time.Time) { s.record("download_prefix", hub.RepoTypeModel, start, err) }(time.Now())

	files, err := s.listModelFiles(ctx, repoID)
	if err != nil {
		return errors.Wrapf(err, "listing %s", repoID)
	}

	want := strings.TrimSuffix(prefix, "/") + "/"
	count := 0
	for _, f := range files {
		if !strings.HasPrefix(f, want) {
			continue
		}
		if _, err = s.client.Download(ctx, repoID, f,
			hub.WithRepoType(hub.RepoTypeModel),
			hub.WithLocalDir(localDir),
			hub.WithForceDownload(true)); err != nil {
			return errors.Wrapf(err, "downloading %s", path.Join(repoID, f))
		}
		count++
	}

	s.logger.WithField("repo_id", repoID).
		WithField("prefix", prefix).
		WithField("files", count).
		Info("Downloaded checkpoint from the Hub")
	return nil
}
