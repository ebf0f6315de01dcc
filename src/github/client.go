package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/explosion/wheelwright/src/provider"
)

const perPage = 100 // GitHub's max per page

// APIError is a non-2xx response from the GitHub API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API error %d: %s", e.StatusCode, e.Body)
}

// Is lets callers match API errors against the provider sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case provider.ErrRemoteAPI:
		return true
	case provider.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case provider.ErrAuthFailed:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

func (e *APIError) transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client is a GitHub REST API client
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	maxRetries uint
	backoff    func() backoff.BackOff
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxRetries bounds attempts per request; 1 disables retries.
func WithMaxRetries(n uint) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryInterval sets the first retry delay.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) {
		c.backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = d
			b.MaxInterval = 10 * d
			return b
		}
	}
}

// NewClient creates a new GitHub client
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		baseURL:    "https://api.github.com",
		maxRetries: 4,
		backoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request describes one API call. Body is re-read on every attempt.
type request struct {
	method      string
	url         string
	body        []byte
	contentType string
	auth        bool
}

// send performs the request with retries on network errors, 5xx and 429,
// and returns the successful response for the caller to consume.
func (c *Client) send(ctx context.Context, r request) (*http.Response, error) {
	op := func() (*http.Response, error) {
		var body io.Reader
		if r.body != nil {
			body = bytes.NewReader(r.body)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if r.auth {
			req.Header.Set("Authorization", "Bearer "+c.token)
			req.Header.Set("Accept", "application/vnd.github+json")
		}
		if r.contentType != "" {
			req.Header.Set("Content-Type", r.contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
			if !apiErr.transient() {
				return nil, backoff.Permanent(apiErr)
			}
			return nil, apiErr
		}
		return resp, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(c.backoff()),
		backoff.WithMaxTries(c.maxRetries),
	)
}

// do sends a JSON request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, url string, in, out any) error {
	r := request{method: method, url: url, auth: true}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		r.body = data
		r.contentType = "application/json"
	}

	resp, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", url, err)
	}
	return nil
}

func (c *Client) repoURL(repo, format string, args ...any) string {
	return c.baseURL + "/repos/" + repo + fmt.Sprintf(format, args...)
}

// GetRepository fetches repository metadata
func (c *Client) GetRepository(ctx context.Context, repo string) (*Repository, error) {
	var r Repository
	if err := c.do(ctx, http.MethodGet, c.repoURL(repo, ""), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReleaseByTag fetches a release by its tag name
func (c *Client) GetReleaseByTag(ctx context.Context, repo, tag string) (*Release, error) {
	var r Release
	if err := c.do(ctx, http.MethodGet, c.repoURL(repo, "/releases/tags/%s", url.PathEscape(tag)), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRelease creates a published release
func (c *Client) CreateRelease(ctx context.Context, repo string, in CreateReleaseRequest) (*Release, error) {
	var r Release
	if err := c.do(ctx, http.MethodPost, c.repoURL(repo, "/releases"), in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRelease edits a release's name or body
func (c *Client) UpdateRelease(ctx context.Context, repo string, id int64, in UpdateReleaseRequest) (*Release, error) {
	var r Release
	if err := c.do(ctx, http.MethodPatch, c.repoURL(repo, "/releases/%d", id), in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReleaseAssets fetches all assets of a release (handles pagination)
func (c *Client) ListReleaseAssets(ctx context.Context, repo string, id int64) ([]ReleaseAsset, error) {
	var all []ReleaseAsset
	for page := 1; ; page++ {
		var assets []ReleaseAsset
		u := c.repoURL(repo, "/releases/%d/assets?per_page=%d&page=%d", id, perPage, page)
		if err := c.do(ctx, http.MethodGet, u, nil, &assets); err != nil {
			return nil, err
		}
		all = append(all, assets...)
		if len(assets) < perPage {
			break
		}
	}
	return all, nil
}

// UploadReleaseAsset uploads a local file to a release. uploadURL is the
// release's upload_url, with or without its {?name,label} template suffix.
func (c *Client) UploadReleaseAsset(ctx context.Context, uploadURL, name, path string) (*ReleaseAsset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = filepath.Base(path)
	}
	if i := strings.Index(uploadURL, "{"); i >= 0 {
		uploadURL = uploadURL[:i]
	}

	resp, err := c.send(ctx, request{
		method:      http.MethodPost,
		url:         uploadURL + "?name=" + url.QueryEscape(name),
		body:        data,
		contentType: "application/octet-stream",
		auth:        true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var asset ReleaseAsset
	if err := json.NewDecoder(resp.Body).Decode(&asset); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &asset, nil
}

// DownloadAsset streams a browser_download_url into w
func (c *Client) DownloadAsset(ctx context.Context, downloadURL string, w io.Writer) (int64, error) {
	resp, err := c.send(ctx, request{method: http.MethodGet, url: downloadURL})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return io.Copy(w, resp.Body)
}

// GetCommit fetches the commit a ref points at
func (c *Client) GetCommit(ctx context.Context, repo, ref string) (*Commit, error) {
	var commit Commit
	if err := c.do(ctx, http.MethodGet, c.repoURL(repo, "/commits/%s", url.PathEscape(ref)), nil, &commit); err != nil {
		return nil, err
	}
	return &commit, nil
}

// CreateTree creates a tree on top of baseTree
func (c *Client) CreateTree(ctx context.Context, repo, baseTree string, entries []TreeEntry) (*Tree, error) {
	in := struct {
		BaseTree string      `json:"base_tree"`
		Tree     []TreeEntry `json:"tree"`
	}{baseTree, entries}

	var tree Tree
	if err := c.do(ctx, http.MethodPost, c.repoURL(repo, "/git/trees"), in, &tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

// CreateCommit creates a commit object
func (c *Client) CreateCommit(ctx context.Context, repo, message, tree string, parents []string) (*GitCommit, error) {
	in := struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}{message, tree, parents}

	var commit GitCommit
	if err := c.do(ctx, http.MethodPost, c.repoURL(repo, "/git/commits"), in, &commit); err != nil {
		return nil, err
	}
	return &commit, nil
}

// CreateRef creates a reference such as refs/heads/<branch>
func (c *Client) CreateRef(ctx context.Context, repo, ref, sha string) (*Ref, error) {
	in := struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}{ref, sha}

	var r Ref
	if err := c.do(ctx, http.MethodPost, c.repoURL(repo, "/git/refs"), in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetCombinedStatus fetches the combined commit status for a ref
func (c *Client) GetCombinedStatus(ctx context.Context, repo, ref string) (*CombinedStatus, error) {
	var s CombinedStatus
	u := c.repoURL(repo, "/commits/%s/status?per_page=%d", url.PathEscape(ref), perPage)
	if err := c.do(ctx, http.MethodGet, u, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetAuthenticatedUser returns the user the token belongs to
func (c *Client) GetAuthenticatedUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/user", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetRateLimit returns the remaining API quota
func (c *Client) GetRateLimit(ctx context.Context) (*RateLimit, error) {
	var r RateLimit
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/rate_limit", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return errors.Is(err, provider.ErrNotFound)
}
