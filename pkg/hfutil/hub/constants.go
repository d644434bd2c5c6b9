package hub

import (
	"os"
	"strings"
	"time"
)

const (
	DefaultEndpoint = "https://huggingface.co"
	DefaultRevision = "main"

	DefaultUserAgent = "loop-agent-hub-go/1.0.0"

	DefaultRequestTimeout = 30 * time.Second
	DownloadTimeout       = 30 * time.Minute
	UploadTimeout         = 60 * time.Minute

	DefaultMaxRetries    = 5
	DefaultRetryInterval = 2 * time.Second
	MaxRetryInterval     = 30 * time.Second

	// Files are offered to preupload in batches of this size.
	PreuploadBatchSize = 256
	// The first bytes of each file are sent to preupload so the Hub can
	// sniff binary content.
	PreuploadSampleSize = 512

	RepoTypeModel   = "model"
	RepoTypeDataset = "dataset"
	RepoTypeSpace   = "space"

	UploadModeRegular = "regular"
	UploadModeLFS     = "lfs"

	UserAgentHeader              = "User-Agent"
	AuthorizationHeader          = "Authorization"
	HuggingfaceHeaderXRepoCommit = "X-Repo-Commit"
	HuggingfaceHeaderXLinkedSize = "X-Linked-Size"

	LFSContentType    = "application/vnd.git-lfs+json"
	NDJSONContentType = "application/x-ndjson"
	LFSChunkSizeKey   = "chunk_size"

	EnvHfToken              = "HF_TOKEN"
	EnvHfEndpoint           = "HF_ENDPOINT"
	EnvHfHubDisableProgress = "HF_HUB_DISABLE_PROGRESS_BARS"
)

// URL templates. The %s verbs are endpoint, repo type plural, repo id and
// revision unless noted.
const (
	resolveURLTemplate   = "%s/%s%s/resolve/%s/%s" // endpoint, url prefix, repo, revision, file
	treeURLTemplate      = "%s/api/%ss/%s/tree/%s"
	preuploadURLTemplate = "%s/api/%ss/%s/preupload/%s"
	commitURLTemplate    = "%s/api/%ss/%s/commit/%s"
	createRepoURL        = "%s/api/repos/create"
	lfsBatchURLTemplate  = "%s/%s%s.git/info/lfs/objects/batch" // endpoint, url prefix, repo
)

var RepoTypes = []string{RepoTypeModel, RepoTypeDataset, RepoTypeSpace}

// RepoTypesURLPrefixes holds the path prefix used by resolve and git URLs.
// Models have none.
var RepoTypesURLPrefixes = map[string]string{
	RepoTypeDataset: "datasets/",
	RepoTypeSpace:   "spaces/",
}

// DefaultIgnorePatterns are never uploaded regardless of caller patterns.
var DefaultIgnorePatterns = []string{".git", ".git/*", "*/.git", "**/.git/**", ".cache/huggingface", ".cache/huggingface/*"}

// GetHfToken returns the HF token from environment
func GetHfToken() string {
	return strings.TrimSpace(os.Getenv(EnvHfToken))
}

// GetEndpoint returns HF_ENDPOINT or the public Hub.
func GetEndpoint() string {
	if e := os.Getenv(EnvHfEndpoint); e != "" {
		return strings.TrimRight(e, "/")
	}
	return DefaultEndpoint
}

func progressDisabledByEnv() bool {
	switch strings.ToUpper(os.Getenv(EnvHfHubDisableProgress)) {
	case "1", "ON", "YES", "TRUE":
		return true
	}
	return false
}
