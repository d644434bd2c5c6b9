package hub

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// UploadFile commits a single local file. The destination defaults to the
// file's base name.
func (c *HubClient) UploadFile(ctx context.Context, repoID, localPath string, opts ...Option) (*CommitInfo, error) {
	rc, err := newRequestConfig(opts)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, NewValidationError("local_path", localPath, "UploadFile expects a file, use UploadFolder for directories")
	}

	pathInRepo := rc.PathInRepo
	if pathInRepo == "" {
		pathInRepo = filepath.Base(localPath)
	}
	if rc.CommitMessage == "" {
		rc.CommitMessage = "Upload " + pathInRepo
	}

	return c.createCommit(ctx, repoID, rc, []*CommitOperationAdd{{PathInRepo: pathInRepo, LocalPath: localPath}})
}

// UploadFolder commits every file below folder that passes the allow and
// ignore patterns, under PathInRepo. VCS metadata is always skipped.
func (c *HubClient) UploadFolder(ctx context.Context, repoID, folder string, opts ...Option) (*CommitInfo, error) {
	rc, err := newRequestConfig(opts)
	if err != nil {
		return nil, err
	}

	ops, err := collectFolderOperations(folder, rc)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		c.logger.WithField("repo_id", repoID).
			WithField("folder", folder).
			Warn("Nothing to upload")
		return &CommitInfo{}, nil
	}

	if rc.CommitMessage == "" {
		rc.CommitMessage = "Upload folder using loop-agent"
	}
	return c.createCommit(ctx, repoID, rc, ops)
}

func collectFolderOperations(folder string, rc *RequestConfig) ([]*CommitOperationAdd, error) {
	var ops []*CommitOperationAdd
	err := filepath.WalkDir(folder, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(folder, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if MatchesPattern(rel, DefaultIgnorePatterns) || ShouldIgnoreFile(rel, rc.AllowPatterns, rc.IgnorePatterns) {
			return nil
		}

		ops = append(ops, &CommitOperationAdd{
			PathInRepo: strings.TrimPrefix(path.Join(rc.PathInRepo, rel), "/"),
			LocalPath:  p,
		})
		return nil
	})
	return ops, err
}

// createCommit runs the preupload, LFS and commit steps for ops.
func (c *HubClient) createCommit(ctx context.Context, repoID string, rc *RequestConfig, ops []*CommitOperationAdd) (*CommitInfo, error) {
	if err := validateRepoID(repoID); err != nil {
		return nil, err
	}

	start := time.Now()
	var totalSize int64
	for _, op := range ops {
		if err := validateRepoPath(op.PathInRepo); err != nil {
			return nil, err
		}
		info, err := os.Stat(op.LocalPath)
		if err != nil {
			return nil, err
		}
		op.size = info.Size()
		totalSize += op.size
		if op.sha256, op.sample, err = sha256File(op.LocalPath); err != nil {
			return nil, fmt.Errorf("hashing %s: %w", op.LocalPath, err)
		}
	}

	if err := c.preupload(ctx, repoID, rc, ops); err != nil {
		return nil, fmt.Errorf("preupload: %w", err)
	}

	var lfsOps []*CommitOperationAdd
	for _, op := range ops {
		if !op.skip && op.uploadMode == UploadModeLFS {
			lfsOps = append(lfsOps, op)
		}
	}
	if err := c.uploadLFS(ctx, repoID, rc, lfsOps); err != nil {
		return nil, err
	}

	info, err := c.commit(ctx, repoID, rc, ops)
	if err != nil {
		return nil, err
	}

	c.config.CreateProgressManager().LogBatch("upload", repoID, len(ops), totalSize, time.Since(start))
	return info, nil
}

// preupload asks the Hub which files must go through LFS and which are
// ignored by the repo's .gitignore.
func (c *HubClient) preupload(ctx context.Context, repoID string, rc *RequestConfig, ops []*CommitOperationAdd) error {
	byPath := make(map[string]*CommitOperationAdd, len(ops))
	for _, op := range ops {
		byPath[op.PathInRepo] = op
		op.uploadMode = UploadModeRegular
	}

	endpoint := fmt.Sprintf(preuploadURLTemplate, c.config.Endpoint, rc.RepoType, repoID, url.PathEscape(rc.Revision))
	for i := 0; i < len(ops); i += PreuploadBatchSize {
		batch := ops[i:min(i+PreuploadBatchSize, len(ops))]

		req := preuploadRequest{Files: make([]preuploadFile, 0, len(batch))}
		for _, op := range batch {
			req.Files = append(req.Files, preuploadFile{
				Path:   op.PathInRepo,
				Sample: base64.StdEncoding.EncodeToString(op.sample),
				Size:   op.size,
			})
		}
		payload, err := json.Marshal(req)
		if err != nil {
			return err
		}

		var out preuploadResponse
		if err := c.postJSON(ctx, "preupload", endpoint, payload, nil, repoID, rc, &out); err != nil {
			return err
		}
		for _, f := range out.Files {
			if op, ok := byPath[f.Path]; ok {
				op.uploadMode = f.UploadMode
				op.skip = f.ShouldIgnore
			}
		}
	}
	return nil
}

// commit posts the NDJSON commit payload.
func (c *HubClient) commit(ctx context.Context, repoID string, rc *RequestConfig, ops []*CommitOperationAdd) (*CommitInfo, error) {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(commitLine{Key: "header", Value: commitHeader{Summary: rc.CommitMessage, Description: rc.CommitDesc}}); err != nil {
		return nil, err
	}

	committed := 0
	for _, op := range ops {
		if op.skip {
			c.logger.WithField("path", op.PathInRepo).Debug("Skipping file ignored by the repository")
			continue
		}
		committed++

		var line commitLine
		switch op.uploadMode {
		case UploadModeLFS:
			line = commitLine{Key: "lfsFile", Value: commitLFSFile{Path: op.PathInRepo, Algo: "sha256", OID: op.sha256}}
		default:
			content, err := os.ReadFile(op.LocalPath)
			if err != nil {
				return nil, err
			}
			line = commitLine{Key: "file", Value: commitFile{
				Content:  base64.StdEncoding.EncodeToString(content),
				Path:     op.PathInRepo,
				Encoding: "base64",
			}}
		}
		if err := enc.Encode(line); err != nil {
			return nil, err
		}
	}
	if committed == 0 {
		return &CommitInfo{}, nil
	}

	endpoint := fmt.Sprintf(commitURLTemplate, c.config.Endpoint, rc.RepoType, repoID, url.PathEscape(rc.Revision))
	headers := map[string]string{"Content-Type": NDJSONContentType}

	var info CommitInfo
	if err := c.postJSON(ctx, "commit", endpoint, body.Bytes(), headers, repoID, rc, &info); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	c.logger.WithField("repo_id", repoID).
		WithField("files", committed).
		WithField("commit", info.CommitOID).
		Info("Committed files to the Hub")
	return &info, nil
}

// postJSON posts payload and decodes the JSON response into out.
func (c *HubClient) postJSON(ctx context.Context, op, endpoint string, payload []byte, headers map[string]string, repoID string, rc *RequestConfig, out interface{}) error {
	resp, err := c.do(ctx, c.config.RequestTimeout, op,
		func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			for k, v := range headers {
				req.Header.Set(k, v)
			}
			return req, nil
		},
		func(resp *http.Response) error {
			return handleHTTPError(resp, repoID, rc.RepoType, rc.Revision, "")
		})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
