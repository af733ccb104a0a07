// Package forge is the minimal HTTP client to the remote repository
// host (GitHub-shaped REST API) the workflows need: default-branch
// detection and pull-request creation. The surface stays deliberately
// small: plain net/http against the few REST endpoints the workflows
// need, not a full forge SDK.
package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.github.com"

// Client talks to one forge host over its REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client. baseURL defaults to the public GitHub API if
// empty; token is sent as a bearer credential.
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("forge: marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("forge: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forge: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, fmt.Errorf("forge: read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		return resp, fmt.Errorf("forge: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp, fmt.Errorf("forge: decode response: %w", err)
		}
	}
	return resp, nil
}

// repoPath splits an "owner/repo"-shaped identifier or a full URL into
// its owner/repo API path segment.
func repoPath(repo string) (string, error) {
	repo = strings.TrimSuffix(repo, ".git")
	if u, err := url.Parse(repo); err == nil && u.Host != "" {
		repo = strings.Trim(u.Path, "/")
	}
	parts := strings.Split(repo, "/")
	if len(parts) < 2 {
		return "", fmt.Errorf("forge: cannot resolve owner/repo from %q", repo)
	}
	owner, name := parts[len(parts)-2], parts[len(parts)-1]
	return fmt.Sprintf("/repos/%s/%s", owner, name), nil
}

// DefaultBranch returns repo's default branch name as reported by the
// forge.
func (c *Client) DefaultBranch(ctx context.Context, repo string) (string, error) {
	path, err := repoPath(repo)
	if err != nil {
		return "", err
	}
	var out struct {
		DefaultBranch string `json:"default_branch"`
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	if out.DefaultBranch == "" {
		return "", fmt.Errorf("forge: %s returned no default_branch", repo)
	}
	return out.DefaultBranch, nil
}

// PullRequest is the result of CreatePullRequest.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"html_url"`
}

// CreatePullRequest opens a PR from head into base on repo.
func (c *Client) CreatePullRequest(ctx context.Context, repo, title, body, head, base string) (*PullRequest, error) {
	path, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	reqBody := map[string]string{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  base,
	}
	var pr PullRequest
	if _, err := c.do(ctx, http.MethodPost, path+"/pulls", reqBody, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// FileEntry is one entry returned by ListDirectory.
type FileEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "file" or "dir"
}

// ListDirectory lists dir's immediate contents on repo at ref (empty
// for the default branch). Backs the Analyze workflow's list-directory
// tool when no local clone is available.
func (c *Client) ListDirectory(ctx context.Context, repo, dir, ref string) ([]FileEntry, error) {
	base, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("%s/contents/%s", base, strings.TrimPrefix(dir, "/"))
	if ref != "" {
		path += "?ref=" + url.QueryEscape(ref)
	}
	var entries []FileEntry
	if _, err := c.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReadFile returns the decoded text content of path on repo at ref.
func (c *Client) ReadFile(ctx context.Context, repo, path, ref string) (string, error) {
	base, err := repoPath(repo)
	if err != nil {
		return "", err
	}
	apiPath := fmt.Sprintf("%s/contents/%s", base, strings.TrimPrefix(path, "/"))
	if ref != "" {
		apiPath += "?ref=" + url.QueryEscape(ref)
	}
	var out struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if _, err := c.do(ctx, http.MethodGet, apiPath, nil, &out); err != nil {
		return "", err
	}
	if out.Encoding == "base64" {
		decoded, err := decodeBase64(out.Content)
		if err != nil {
			return "", fmt.Errorf("forge: decode file content: %w", err)
		}
		return decoded, nil
	}
	return out.Content, nil
}
