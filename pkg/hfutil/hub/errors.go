package hub

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrRepoExists is returned by CreateRepo when the repository is already
// there and the caller did not ask for exist_ok semantics.
var ErrRepoExists = errors.New("repository already exists")

// HubError represents a generic Hub error
type HubError struct {
	Message string
	Cause   error
}

func (e *HubError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *HubError) Unwrap() error {
	return e.Cause
}

// HTTPError represents an HTTP error from the Hub. ServerMessage carries the
// body of the error response, truncated.
type HTTPError struct {
	*HubError
	StatusCode    int
	ServerMessage string
}

func NewHTTPError(message string, statusCode int, response *http.Response) *HTTPError {
	return &HTTPError{
		HubError:      &HubError{Message: message},
		StatusCode:    statusCode,
		ServerMessage: readServerMessage(response),
	}
}

func (e *HTTPError) Error() string {
	if e.ServerMessage != "" {
		return fmt.Sprintf("HTTP %d: %s (%s)", e.StatusCode, e.Message, e.ServerMessage)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func readServerMessage(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// RepositoryNotFoundError is raised when a repository is not found
type RepositoryNotFoundError struct {
	*HTTPError
	RepoID   string
	RepoType string
}

func NewRepositoryNotFoundError(repoID, repoType string, response *http.Response) *RepositoryNotFoundError {
	message := fmt.Sprintf("Repository '%s' not found", repoID)
	if repoType != "" && repoType != RepoTypeModel {
		message = fmt.Sprintf("%s repository '%s' not found", repoType, repoID)
	}

	statusCode := http.StatusNotFound
	if response != nil {
		statusCode = response.StatusCode
	}

	return &RepositoryNotFoundError{
		HTTPError: NewHTTPError(message, statusCode, response),
		RepoID:    repoID,
		RepoType:  repoType,
	}
}

// GatedRepoError is raised when trying to access a gated repository
type GatedRepoError struct {
	*RepositoryNotFoundError
}

func NewGatedRepoError(repoID, repoType string, response *http.Response) *GatedRepoError {
	base := NewRepositoryNotFoundError(repoID, repoType, response)
	base.Message = fmt.Sprintf("Repository '%s' is gated or the token lacks write access", repoID)

	return &GatedRepoError{
		RepositoryNotFoundError: base,
	}
}

// EntryNotFoundError is raised when a file or directory is not found
type EntryNotFoundError struct {
	*HTTPError
	RepoID   string
	RepoType string
	Revision string
	Path     string
}

func NewEntryNotFoundError(repoID, repoType, revision, path string, response *http.Response) *EntryNotFoundError {
	message := fmt.Sprintf("Entry '%s' not found in repository '%s'", path, repoID)
	if repoType != "" && repoType != RepoTypeModel {
		message = fmt.Sprintf("Entry '%s' not found in %s repository '%s'", path, repoType, repoID)
	}
	if revision != "" && revision != DefaultRevision {
		message += fmt.Sprintf(" at revision '%s'", revision)
	}

	statusCode := http.StatusNotFound
	if response != nil {
		statusCode = response.StatusCode
	}

	return &EntryNotFoundError{
		HTTPError: NewHTTPError(message, statusCode, response),
		RepoID:    repoID,
		RepoType:  repoType,
		Revision:  revision,
		Path:      path,
	}
}

// LFSUploadError is raised when the LFS batch endpoint rejects an object or
// a part upload fails.
type LFSUploadError struct {
	*HubError
	OID  string
	Path string
}

func NewLFSUploadError(path, oid, message string, cause error) *LFSUploadError {
	return &LFSUploadError{
		HubError: &HubError{Message: fmt.Sprintf("LFS upload of '%s' failed: %s", path, message), Cause: cause},
		OID:      oid,
		Path:     path,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	*HubError
	Field string
	Value interface{}
}

func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		HubError: &HubError{Message: message},
		Field:    field,
		Value:    value,
	}
}

// handleHTTPError converts HTTP errors to appropriate Hub errors
func handleHTTPError(resp *http.Response, repoID, repoType, revision, filename string) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		if filename == "" {
			return NewRepositoryNotFoundError(repoID, repoType, resp)
		}
		return NewEntryNotFoundError(repoID, repoType, revision, filename, resp)
	case http.StatusUnauthorized:
		return NewRepositoryNotFoundError(repoID, repoType, resp)
	case http.StatusForbidden:
		return NewGatedRepoError(repoID, repoType, resp)
	default:
		return NewHTTPError(http.StatusText(resp.StatusCode), resp.StatusCode, resp)
	}
}

// IsNotFound reports whether err means the repo or file does not exist.
func IsNotFound(err error) bool {
	var entry *EntryNotFoundError
	var repo *RepositoryNotFoundError
	return errors.As(err, &entry) || errors.As(err, &repo)
}
