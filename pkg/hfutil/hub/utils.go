package hub

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"
	"sync"
)

// HfHubURL constructs the resolve URL of a file from the given information
func HfHubURL(endpoint, repoID, filename string, opts *RequestConfig) (string, error) {
	if opts == nil {
		opts = &RequestConfig{}
	}

	repoType := orDefault(opts.RepoType, RepoTypeModel)
	revision := orDefault(opts.Revision, DefaultRevision)
	endpoint = orDefault(endpoint, DefaultEndpoint)

	if !isValidRepoType(repoType) {
		return "", fmt.Errorf("invalid repo type: %s. Accepted types are: %v", repoType, RepoTypes)
	}

	if opts.Subfolder != "" && opts.Subfolder != "." {
		filename = path.Join(opts.Subfolder, filename)
	}

	return fmt.Sprintf(resolveURLTemplate, endpoint, RepoTypesURLPrefixes[repoType], repoID,
		url.PathEscape(revision), escapeFilePath(filename)), nil
}

// escapeFilePath escapes each component of a file path separately, preserving forward slashes
func escapeFilePath(filename string) string {
	if filename == "" {
		return ""
	}

	parts := strings.Split(filename, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func isValidRepoType(repoType string) bool {
	for _, validType := range RepoTypes {
		if repoType == validType {
			return true
		}
	}
	return false
}

// validateRepoID accepts "name" or "namespace/name".
func validateRepoID(repoID string) error {
	if repoID == "" {
		return NewValidationError("repo_id", repoID, "repo_id cannot be empty")
	}
	parts := strings.Split(repoID, "/")
	if len(parts) > 2 || parts[0] == "" || parts[len(parts)-1] == "" {
		return NewValidationError("repo_id", repoID, fmt.Sprintf("repo_id must be 'name' or 'namespace/name', got '%s'", repoID))
	}
	return nil
}

// splitRepoID returns (organization, name); organization is empty for bare names.
func splitRepoID(repoID string) (string, string) {
	if i := strings.Index(repoID, "/"); i >= 0 {
		return repoID[:i], repoID[i+1:]
	}
	return "", repoID
}

// validateRepoPath rejects paths that would escape the local directory.
func validateRepoPath(p string) error {
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return fmt.Errorf("invalid filename: path traversal detected in %s", p)
		}
	}
	return nil
}

// EnsureDir creates directory if it doesn't exist
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// FileExists checks if a file exists
func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

// sha256File returns the hex sha256 of the file plus its leading sample bytes.
func sha256File(filename string) (string, []byte, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	sample := make([]byte, PreuploadSampleSize)
	n, err := io.ReadFull(f, sample)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", nil, err
	}
	sample = sample[:n]

	h := sha256.New()
	h.Write(sample)
	if _, err := io.Copy(h, f); err != nil {
		return "", nil, err
	}
	return hex.EncodeToString(h.Sum(nil)), sample, nil
}

var (
	patternCache   = map[string]*regexp.Regexp{}
	patternCacheMu sync.Mutex
)

// fnmatch implements shell-style matching where '*' also matches '/', the
// semantics the Hub applies to allow and ignore patterns.
func fnmatch(pattern, name string) bool {
	patternCacheMu.Lock()
	re, ok := patternCache[pattern]
	if !ok {
		re = regexp.MustCompile(translatePattern(pattern))
		patternCache[pattern] = re
	}
	patternCacheMu.Unlock()

	return re.MatchString(name)
}

func translatePattern(pattern string) string {
	var b strings.Builder
	b.WriteString(`(?s)^`)
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			j := strings.IndexByte(pattern[i+1:], ']')
			if j < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : i+1+j]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i += j + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString(`$`)
	return b.String()
}

// MatchesPattern checks if a path matches any of the given patterns. A pattern
// ending with "/" matches everything below that folder.
func MatchesPattern(filename string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.HasSuffix(pattern, "/") {
			pattern += "*"
		}
		if fnmatch(pattern, filename) {
			return true
		}
	}
	return false
}

// ShouldIgnoreFile determines if a file should be ignored based on patterns
func ShouldIgnoreFile(filename string, allowPatterns, ignorePatterns []string) bool {
	if len(allowPatterns) > 0 && !MatchesPattern(filename, allowPatterns) {
		return true
	}

	return MatchesPattern(filename, ignorePatterns)
}

// BuildHeaders builds HTTP headers for requests
func BuildHeaders(token, userAgent string, extraHeaders map[string]string) map[string]string {
	headers := make(map[string]string)

	if userAgent != "" {
		headers[UserAgentHeader] = userAgent
	}

	if token != "" {
		headers[AuthorizationHeader] = "Bearer " + token
	}

	for k, v := range extraHeaders {
		headers[k] = v
	}

	return headers
}

var linkNextRegex = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// nextPageURL extracts the rel="next" target of a Link header.
func nextPageURL(link string) string {
	m := linkNextRegex.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return m[1]
}
