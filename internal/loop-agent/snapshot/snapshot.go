// Package snapshot archives the pipeline sources or the run logs and
// publishes the archive to the run's dataset repositories.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/sgl-project/ome-loop/pkg/constants"
	"github.com/sgl-project/ome-loop/pkg/hfutil/hub"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/tarball"
)

// Snapshotter builds and uploads code and log snapshots.
type Snapshotter struct {
	logger logging.Interface
	config Config
}

func NewSnapshotter(config *Config) (*Snapshotter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot config invalid: %w", err)
	}
	if config.Now == nil {
		return nil, errors.New("snapshot config invalid: clock is nil")
	}
	return &Snapshotter{logger: config.AnotherLogger, config: *config}, nil
}

func (s *Snapshotter) archivePath(kind string) string {
	name := fmt.Sprintf("%s-%d.tar.gz", kind, s.config.Now().Unix())
	return filepath.Join(s.config.Run.MetaDir(), name)
}

// Code archives the pipeline source directories and uploads the archive to
// the code dataset. It returns the archive path.
func (s *Snapshotter) Code(ctx context.Context) (string, error) {
	rc := s.config.Run
	repoID := rc.CodeDatasetRepo()

	var paths []string
	for _, src := range constants.CodeSnapshotSources {
		paths = append(paths, rc.Path(src))
	}

	out := s.archivePath("code-snapshot")
	return out, s.publish(ctx, repoID, paths, out, constants.CodeSnapshotExcludes)
}

// Logs archives the shared logs directory and the trainer logs of this run.
// When neither exists nothing is written and the returned path is empty.
func (s *Snapshotter) Logs(ctx context.Context) (string, error) {
	rc := s.config.Run

	var paths []string
	for _, p := range []string{
		rc.Path(constants.LogsDirectoryName),
		filepath.Join(rc.TrainADir(), constants.LogsDirectoryName),
	} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		s.logger.Info("No log directories found, skipping logs snapshot")
		return "", nil
	}

	out := s.archivePath("logs")
	return out, s.publish(ctx, rc.LogsDatasetRepo(), paths, out, nil)
}

func (s *Snapshotter) publish(ctx context.Context, repoID string, paths []string, out string, excludes []string) error {
	if err := s.config.Syncer.EnsureRepo(ctx, repoID, hub.RepoTypeDataset); err != nil {
		return err
	}

	n, err := tarball.TarGz(tarball.Sources(paths...), out, tarball.Options{Excludes: excludes})
	if err != nil {
		return errors.Wrapf(err, "archiving %s", out)
	}
	s.logger.WithField("archive", out).WithField("files", n).Info("Snapshot archived")

	if err := s.config.Syncer.UploadPath(ctx, repoID, out, hub.RepoTypeDataset); err != nil {
		return err
	}
	s.logger.WithField("repo_id", repoID).Info("Snapshot uploaded")
	return nil
}
