package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"
)

// Download fetches one file into the local directory set with WithLocalDir
// (the current directory by default) and returns its path. An existing file
// is kept unless WithForceDownload is given.
func (c *HubClient) Download(ctx context.Context, repoID, filename string, opts ...Option) (string, error) {
	if err := validateRepoID(repoID); err != nil {
		return "", err
	}
	if filename == "" {
		return "", NewValidationError("filename", filename, "filename cannot be empty")
	}
	if err := validateRepoPath(filename); err != nil {
		return "", err
	}
	rc, err := newRequestConfig(opts)
	if err != nil {
		return "", err
	}

	pm := c.config.CreateProgressManager()
	localPath, err := c.downloadFile(ctx, pm, repoID, filename, rc)
	if err != nil {
		pm.LogError("single_download", repoID, err)
		return "", err
	}
	return localPath, nil
}

// SnapshotDownload downloads every file of the repository that passes the
// patterns into localDir and returns localDir.
func (c *HubClient) SnapshotDownload(ctx context.Context, repoID, localDir string, opts ...Option) (string, error) {
	if localDir == "" {
		return "", NewValidationError("local_dir", localDir, "local_dir must be specified for snapshot download")
	}
	opts = append(opts, WithLocalDir(localDir))
	rc, err := newRequestConfig(opts)
	if err != nil {
		return "", err
	}

	files, err := c.ListFiles(ctx, repoID, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to list repository files: %w", err)
	}

	toDownload := FilterByPatterns(files, rc.AllowPatterns, rc.IgnorePatterns)
	var totalSize int64
	for _, f := range toDownload {
		totalSize += f.Size
	}

	pm := c.config.CreateProgressManager()
	bar := pm.CreateFilesBar("Downloading", len(toDownload), totalSize)
	start := time.Now()

	for _, file := range toDownload {
		if err := validateRepoPath(file.Path); err != nil {
			return "", err
		}
		if _, err := c.downloadFile(ctx, pm, repoID, file.Path, rc); err != nil {
			pm.LogError("snapshot_download", repoID, err)
			return "", fmt.Errorf("failed to download file %s: %w", file.Path, err)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	finishBar(bar)

	pm.LogBatch("snapshot_download", repoID, len(toDownload), totalSize, time.Since(start))
	return localDir, nil
}

// downloadFile streams the resolve URL into <LocalDir>/<filename>.incomplete
// and renames it into place once complete.
func (c *HubClient) downloadFile(ctx context.Context, pm *ProgressManager, repoID, filename string, rc *RequestConfig) (string, error) {
	localDir := rc.LocalDir
	if localDir == "" {
		localDir = "."
	}
	repoPath := filename
	if rc.Subfolder != "" && rc.Subfolder != "." {
		repoPath = path.Join(rc.Subfolder, filename)
	}
	destPath := filepath.Join(localDir, filepath.FromSlash(repoPath))

	if !rc.ForceDownload && FileExists(destPath) {
		return destPath, nil
	}

	fileURL, err := HfHubURL(c.config.Endpoint, repoID, filename, rc)
	if err != nil {
		return "", fmt.Errorf("failed to construct URL: %w", err)
	}

	resp, err := c.do(ctx, c.config.DownloadTimeout, "download",
		func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
		},
		func(resp *http.Response) error {
			return handleHTTPError(resp, repoID, rc.RepoType, rc.Revision, repoPath)
		})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := EnsureDir(filepath.Dir(destPath)); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	incompletePath := destPath + ".incomplete"
	f, err := os.OpenFile(incompletePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}

	start := time.Now()
	pm.LogTransferStart("download", repoID, repoPath, resp.ContentLength)
	bar := pm.CreateTransferBar("Downloading", path.Base(repoPath), resp.ContentLength)

	written, copyErr := copyWithContext(ctx, NewProgressWriter(bar, f), resp.Body)
	closeErr := f.Close()
	finishBar(bar)
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(incompletePath)
		return "", fmt.Errorf("failed to write %s: %w", destPath, err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		_ = os.Remove(incompletePath)
		return "", fmt.Errorf("short download of %s: got %d of %d bytes", repoPath, written, resp.ContentLength)
	}

	if err := os.Rename(incompletePath, destPath); err != nil {
		return "", fmt.Errorf("failed to move file to final destination: %w", err)
	}

	pm.LogTransferComplete("download", repoID, repoPath, time.Since(start), written)
	return destPath, nil
}

// contextReader wraps an io.Reader to respect context cancellation
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (n int, err error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
		return cr.r.Read(p)
	}
}

// copyWithContext copies data from src to dst while respecting context cancellation
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, &contextReader{ctx: ctx, r: src})
}
