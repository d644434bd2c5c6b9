package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"sort"
	"strconv"
	"time"
)

// uploadLFS negotiates transfers for ops with the git-lfs batch endpoint and
// uploads every object the Hub doesn't have yet.
func (c *HubClient) uploadLFS(ctx context.Context, repoID string, rc *RequestConfig, ops []*CommitOperationAdd) error {
	if len(ops) == 0 {
		return nil
	}

	req := lfsBatchRequest{
		Operation: "upload",
		Transfers: []string{"basic", "multipart"},
		HashAlgo:  "sha256",
		Ref:       &lfsRef{Name: rc.Revision},
	}
	byOID := make(map[string]*CommitOperationAdd, len(ops))
	for _, op := range ops {
		req.Objects = append(req.Objects, lfsObject{OID: op.sha256, Size: op.size})
		byOID[op.sha256] = op
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf(lfsBatchURLTemplate, c.config.Endpoint, RepoTypesURLPrefixes[rc.RepoType], repoID)
	headers := map[string]string{"Accept": LFSContentType, "Content-Type": LFSContentType}

	var batch lfsBatchResponse
	if err := c.postJSON(ctx, "lfs_batch", endpoint, payload, headers, repoID, rc, &batch); err != nil {
		return fmt.Errorf("lfs batch: %w", err)
	}

	pm := c.config.CreateProgressManager()
	for _, obj := range batch.Objects {
		op, ok := byOID[obj.OID]
		if !ok {
			continue
		}
		if obj.Error != nil {
			return NewLFSUploadError(op.PathInRepo, obj.OID, fmt.Sprintf("%d %s", obj.Error.Code, obj.Error.Message), nil)
		}
		if obj.Actions == nil || obj.Actions.Upload == nil {
			// Already stored on the Hub.
			continue
		}

		start := time.Now()
		pm.LogTransferStart("lfs_upload", repoID, op.PathInRepo, op.size)
		if err := c.uploadLFSObject(ctx, pm, op, obj.Actions.Upload); err != nil {
			return NewLFSUploadError(op.PathInRepo, obj.OID, "upload", err)
		}
		if v := obj.Actions.Verify; v != nil {
			verify, _ := json.Marshal(lfsObject{OID: op.sha256, Size: op.size})
			if err := c.postAction(ctx, "lfs_verify", v, verify); err != nil {
				return NewLFSUploadError(op.PathInRepo, obj.OID, "verify", err)
			}
		}
		pm.LogTransferComplete("lfs_upload", repoID, op.PathInRepo, time.Since(start), op.size)
	}
	return nil
}

// uploadLFSObject does a single PUT, or a multipart upload when the action
// header carries a chunk size and numbered presigned part URLs.
func (c *HubClient) uploadLFSObject(ctx context.Context, pm *ProgressManager, op *CommitOperationAdd, action *lfsAction) error {
	bar := pm.CreateTransferBar("Uploading", path.Base(op.PathInRepo), op.size)
	defer finishBar(bar)

	var progress barAdder
	if bar != nil {
		progress = bar
	}

	chunk, multipart := action.Header[LFSChunkSizeKey]
	if !multipart {
		return c.putPart(ctx, action.Href, op.LocalPath, 0, op.size, progress, nil)
	}

	chunkSize, err := strconv.ParseInt(chunk, 10, 64)
	if err != nil || chunkSize <= 0 {
		return fmt.Errorf("invalid chunk_size %q", chunk)
	}

	var partNumbers []int
	for k := range action.Header {
		if n, err := strconv.Atoi(k); err == nil {
			partNumbers = append(partNumbers, n)
		}
	}
	sort.Ints(partNumbers)

	expected := int((op.size + chunkSize - 1) / chunkSize)
	if len(partNumbers) != expected {
		return fmt.Errorf("expected %d part URLs, got %d", expected, len(partNumbers))
	}

	completion := lfsCompletion{OID: op.sha256}
	for _, n := range partNumbers {
		offset := int64(n-1) * chunkSize
		length := min(chunkSize, op.size-offset)

		var etag string
		if err := c.putPart(ctx, action.Header[strconv.Itoa(n)], op.LocalPath, offset, length, progress, &etag); err != nil {
			return fmt.Errorf("part %d: %w", n, err)
		}
		completion.Parts = append(completion.Parts, lfsPart{PartNumber: n, ETag: etag})
	}

	payload, err := json.Marshal(completion)
	if err != nil {
		return err
	}
	return c.postAction(ctx, "lfs_complete", &lfsAction{Href: action.Href}, payload)
}

// putPart uploads length bytes of file starting at offset. The storage
// backend's ETag is captured when etag is non-nil.
func (c *HubClient) putPart(ctx context.Context, href, file string, offset, length int64, bar barAdder, etag *string) error {
	resp, err := c.do(ctx, c.config.UploadTimeout, "lfs_put",
		func(ctx context.Context) (*http.Request, error) {
			f, err := os.Open(file)
			if err != nil {
				return nil, err
			}
			var body io.Reader = io.NewSectionReader(f, offset, length)
			if bar != nil {
				body = io.TeeReader(body, barWriter{bar})
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPut, href, readCloser{Reader: body, closer: f})
			if err != nil {
				_ = f.Close()
				return nil, err
			}
			req.ContentLength = length
			return req, nil
		},
		func(resp *http.Response) error {
			return NewHTTPError("LFS part upload failed", resp.StatusCode, resp)
		})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if etag != nil {
		*etag = resp.Header.Get("ETag")
		if *etag == "" {
			return fmt.Errorf("storage returned no ETag")
		}
	}
	return nil
}

// postAction posts payload to an LFS action URL with the action's headers.
func (c *HubClient) postAction(ctx context.Context, op string, action *lfsAction, payload []byte) error {
	resp, err := c.do(ctx, c.config.RequestTimeout, op,
		func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, action.Href, bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", LFSContentType)
			req.Header.Set("Accept", LFSContentType)
			for k, v := range action.Header {
				req.Header.Set(k, v)
			}
			return req, nil
		},
		func(resp *http.Response) error {
			return NewHTTPError(op+" failed", resp.StatusCode, resp)
		})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

type barAdder interface {
	Add(int) error
}

type barWriter struct{ bar barAdder }

func (w barWriter) Write(p []byte) (int, error) {
	_ = w.bar.Add(len(p))
	return len(p), nil
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r readCloser) Close() error { return r.closer.Close() }
