package hub

import (
	"fmt"
	"strings"
)

// RepoFile represents an entry returned by the tree API.
type RepoFile struct {
	Path string   `json:"path"`
	Size int64    `json:"size"`
	Type string   `json:"type"` // "file" or "directory"
	OID  string   `json:"oid,omitempty"`
	LFS  *LFSInfo `json:"lfs,omitempty"`
}

// LFSInfo contains LFS metadata for large files
type LFSInfo struct {
	OID         string `json:"oid"`
	Size        int64  `json:"size"`
	PointerSize int    `json:"pointerSize"`
}

// RequestConfig collects the per-call settings of every HubClient
// operation. Fields that don't apply to an operation are ignored.
type RequestConfig struct {
	RepoType  string
	Revision  string
	Subfolder string

	// LocalDir receives downloaded files under their repo-relative paths.
	LocalDir      string
	ForceDownload bool

	// Pattern filtering for snapshots and folder uploads.
	AllowPatterns  []string
	IgnorePatterns []string

	// PathInRepo is the destination folder (UploadFolder) or file path
	// (UploadFile). Empty means the repo root or the local base name.
	PathInRepo    string
	CommitMessage string
	CommitDesc    string

	Private bool
	ExistOK bool
}

func newRequestConfig(opts []Option) (*RequestConfig, error) {
	rc := &RequestConfig{
		RepoType: RepoTypeModel,
		Revision: DefaultRevision,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(rc); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if !isValidRepoType(rc.RepoType) {
		return nil, NewValidationError("repo_type", rc.RepoType, fmt.Sprintf("invalid repo type: %s. Accepted types are: %v", rc.RepoType, RepoTypes))
	}
	return rc, nil
}

// Option adjusts a RequestConfig.
type Option func(*RequestConfig) error

// WithRepoType sets the repository type
func WithRepoType(repoType string) Option {
	return func(c *RequestConfig) error {
		if repoType != "" {
			c.RepoType = repoType
		}
		return nil
	}
}

// WithRevision sets the branch, tag or commit to read from or commit to
func WithRevision(revision string) Option {
	return func(c *RequestConfig) error {
		if revision != "" {
			c.Revision = revision
		}
		return nil
	}
}

// WithSubfolder prefixes the requested filename
func WithSubfolder(subfolder string) Option {
	return func(c *RequestConfig) error {
		c.Subfolder = subfolder
		return nil
	}
}

// WithLocalDir sets where downloads land
func WithLocalDir(dir string) Option {
	return func(c *RequestConfig) error {
		c.LocalDir = dir
		return nil
	}
}

// WithForceDownload re-downloads files that already exist locally
func WithForceDownload(force bool) Option {
	return func(c *RequestConfig) error {
		c.ForceDownload = force
		return nil
	}
}

// WithPatterns sets allow and ignore patterns for filtering
func WithPatterns(allowPatterns, ignorePatterns []string) Option {
	return func(c *RequestConfig) error {
		c.AllowPatterns = allowPatterns
		c.IgnorePatterns = ignorePatterns
		return nil
	}
}

// WithPathInRepo sets the upload destination
func WithPathInRepo(p string) Option {
	return func(c *RequestConfig) error {
		if err := validateRepoPath(p); err != nil {
			return err
		}
		c.PathInRepo = strings.Trim(p, "/")
		return nil
	}
}

// WithCommitMessage sets the commit summary and optional description
func WithCommitMessage(summary, description string) Option {
	return func(c *RequestConfig) error {
		c.CommitMessage = summary
		c.CommitDesc = description
		return nil
	}
}

// WithPrivate creates private repositories
func WithPrivate(private bool) Option {
	return func(c *RequestConfig) error {
		c.Private = private
		return nil
	}
}

// WithExistOK makes CreateRepo succeed when the repository already exists
func WithExistOK(ok bool) Option {
	return func(c *RequestConfig) error {
		c.ExistOK = ok
		return nil
	}
}

// CreateRepoRequest is the body of POST /api/repos/create.
type CreateRepoRequest struct {
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	Type         string `json:"type,omitempty"`
	Private      bool   `json:"private"`
}

// CommitInfo is returned by the commit endpoint.
type CommitInfo struct {
	CommitURL      string `json:"commitUrl"`
	CommitOID      string `json:"commitOid"`
	PullRequestURL string `json:"pullRequestUrl,omitempty"`
}

// CommitOperationAdd is one file to add or overwrite in a commit.
type CommitOperationAdd struct {
	PathInRepo string
	LocalPath  string

	size       int64
	sha256     string
	sample     []byte
	uploadMode string
	skip       bool
}

type preuploadFile struct {
	Path   string `json:"path"`
	Sample string `json:"sample"`
	Size   int64  `json:"size"`
}

type preuploadRequest struct {
	Files []preuploadFile `json:"files"`
}

type preuploadResponse struct {
	Files []struct {
		Path         string `json:"path"`
		UploadMode   string `json:"uploadMode"`
		ShouldIgnore bool   `json:"shouldIgnore"`
	} `json:"files"`
}

type lfsObject struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

type lfsRef struct {
	Name string `json:"name"`
}

type lfsBatchRequest struct {
	Operation string      `json:"operation"`
	Transfers []string    `json:"transfers"`
	Objects   []lfsObject `json:"objects"`
	HashAlgo  string      `json:"hash_algo"`
	Ref       *lfsRef     `json:"ref,omitempty"`
}

type lfsAction struct {
	Href   string            `json:"href"`
	Header map[string]string `json:"header,omitempty"`
}

type lfsBatchObject struct {
	OID     string `json:"oid"`
	Size    int64  `json:"size"`
	Actions *struct {
		Upload *lfsAction `json:"upload,omitempty"`
		Verify *lfsAction `json:"verify,omitempty"`
	} `json:"actions,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type lfsBatchResponse struct {
	Transfer string           `json:"transfer"`
	Objects  []lfsBatchObject `json:"objects"`
}

type lfsPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

type lfsCompletion struct {
	OID   string    `json:"oid"`
	Parts []lfsPart `json:"parts"`
}

// commitLine is one NDJSON record of the commit payload.
type commitLine struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

type commitHeader struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
}

type commitFile struct {
	Content  string `json:"content"`
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
}

type commitLFSFile struct {
	Path string `json:"path"`
	Algo string `json:"algo"`
	OID  string `json:"oid"`
}
