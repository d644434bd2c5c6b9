package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ListFiles lists every entry of a repository, following tree pagination.
func (c *HubClient) ListFiles(ctx context.Context, repoID string, opts ...Option) ([]RepoFile, error) {
	if err := validateRepoID(repoID); err != nil {
		return nil, err
	}
	rc, err := newRequestConfig(opts)
	if err != nil {
		return nil, err
	}

	next := fmt.Sprintf(treeURLTemplate, c.config.Endpoint, rc.RepoType, repoID, url.PathEscape(rc.Revision)) + "?recursive=true&expand=false"

	var files []RepoFile
	for next != "" {
		pageURL := next
		resp, err := c.do(ctx, c.config.RequestTimeout, "list_files",
			func(ctx context.Context) (*http.Request, error) {
				return http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
			},
			func(resp *http.Response) error {
				return handleHTTPError(resp, repoID, rc.RepoType, rc.Revision, "")
			})
		if err != nil {
			return nil, err
		}

		var page []RepoFile
		err = json.NewDecoder(resp.Body).Decode(&page)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		files = append(files, page...)
		next = nextPageURL(resp.Header.Get("Link"))
	}

	if c.config.EnableDetailedLogs {
		c.logger.WithField("repo_id", repoID).
			WithField("file_count", len(files)).
			Debug("Repository files listed")
	}
	return files, nil
}

// FilterByPatterns keeps the files (not directories) that pass the patterns.
func FilterByPatterns(files []RepoFile, allowPatterns, ignorePatterns []string) []RepoFile {
	var filtered []RepoFile
	for _, file := range files {
		if file.Type == "file" && !ShouldIgnoreFile(file.Path, allowPatterns, ignorePatterns) {
			filtered = append(filtered, file)
		}
	}
	return filtered
}

// CreateRepo creates a repository and returns its URL. With WithExistOK a
// 409 conflict counts as success; otherwise it surfaces as ErrRepoExists.
func (c *HubClient) CreateRepo(ctx context.Context, repoID string, opts ...Option) (string, error) {
	if err := validateRepoID(repoID); err != nil {
		return "", err
	}
	rc, err := newRequestConfig(opts)
	if err != nil {
		return "", err
	}

	org, name := splitRepoID(repoID)
	body := CreateRepoRequest{Name: name, Organization: org, Private: rc.Private}
	if rc.RepoType != RepoTypeModel {
		body.Type = rc.RepoType
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	repoURL := fmt.Sprintf("%s/%s%s", c.config.Endpoint, RepoTypesURLPrefixes[rc.RepoType], repoID)
	resp, err := c.do(ctx, c.config.RequestTimeout, "create_repo",
		func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf(createRepoURL, c.config.Endpoint), bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			return req, nil
		},
		func(resp *http.Response) error {
			if resp.StatusCode == http.StatusConflict {
				return ErrRepoExists
			}
			return handleHTTPError(resp, repoID, rc.RepoType, "", "")
		})
	if errors.Is(err, ErrRepoExists) {
		if rc.ExistOK {
			return repoURL, nil
		}
		return "", fmt.Errorf("%s: %w", repoID, ErrRepoExists)
	}
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var created struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err == nil && created.URL != "" {
		repoURL = created.URL
	}

	c.logger.WithField("repo_id", repoID).
		WithField("repo_type", rc.RepoType).
		Info("Created repository")
	return repoURL, nil
}
