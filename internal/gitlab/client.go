package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"

	"github.com/danielolaszy/trac2gitlab/internal/logging"
)

// Client provides methods to interact with the GitLab REST API.
type Client struct {
	Token      string       // GitLab personal access token or OAuth token
	BaseURL    string       // API root, e.g. "https://gitlab.example.com/api/v4"
	ProjectID  string       // Project ID or path (e.g., "group/project")
	HTTPClient *http.Client // Optional custom HTTP client

	// Timeout applies to each request attempt
	Timeout time.Duration

	// MaxRetryElapsed bounds the total time spent retrying 429 and 503
	MaxRetryElapsed time.Duration

	oauth         bool
	retryInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithOAuth sends the token as an OAuth bearer token instead of a
// PRIVATE-TOKEN header.
func WithOAuth() Option {
	return func(c *Client) { c.oauth = true }
}

// WithRetry sets how long rate-limited requests are retried.
func WithRetry(maxElapsed time.Duration) Option {
	return func(c *Client) {
		if maxElapsed > 0 {
			c.MaxRetryElapsed = maxElapsed
		}
	}
}

// NewClient creates a GitLab client for one project.
func NewClient(token, baseURL, projectID string, opts ...Option) *Client {
	c := &Client{
		Token:           token,
		BaseURL:         strings.TrimSuffix(baseURL, "/"),
		ProjectID:       projectID,
		HTTPClient:      &http.Client{},
		Timeout:         DefaultTimeout,
		MaxRetryElapsed: DefaultMaxRetryElapsed,
		retryInterval:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.oauth {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		base := c.HTTPClient.Transport
		c.HTTPClient = &http.Client{
			Transport: &oauth2.Transport{Source: ts, Base: base},
			Timeout:   c.HTTPClient.Timeout,
		}
	}

	return c
}

func (c *Client) projectPath(suffix string) string {
	return "/projects/" + url.PathEscape(c.ProjectID) + suffix
}

// request is one API call. Body is re-read on every attempt.
type request struct {
	op          string
	context     string
	method      string
	path        string
	body        []byte
	contentType string

	// wantStatus, when set, is the only status accepted as success
	wantStatus int
}

func jsonRequest(op, opContext, method, path string, payload any) (request, error) {
	req := request{op: op, context: opContext, method: method, path: path}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return req, &WriteError{Op: op, Context: opContext, Err: fmt.Errorf("encoding payload: %w", err)}
		}
		req.body = body
		req.contentType = "application/json"
	}
	return req, nil
}

// do sends r and decodes a successful response into out. Responses 429 and
// 503 are retried with exponential backoff; everything else fails at once.
func (c *Client) do(ctx context.Context, r request, out any) error {
	var respBody []byte

	attempt := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.Timeout)
		defer cancel()

		var bodyReader io.Reader
		if r.body != nil {
			bodyReader = bytes.NewReader(r.body)
		}

		req, err := http.NewRequestWithContext(reqCtx, r.method, c.BaseURL+r.path, bodyReader)
		if err != nil {
			return backoff.Permanent(&WriteError{Op: r.op, Context: r.context, Err: fmt.Errorf("create request: %w", err)})
		}
		if !c.oauth {
			req.Header.Set("PRIVATE-TOKEN", c.Token)
		}
		req.Header.Set("Accept", "application/json")
		if r.contentType != "" {
			req.Header.Set("Content-Type", r.contentType)
		}

		logging.Debug("gitlab request", "method", r.method, "path", r.path, "bytes", len(r.body))

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return backoff.Permanent(&WriteError{Op: r.op, Context: r.context, Err: err})
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(&WriteError{Op: r.op, Context: r.context, Err: fmt.Errorf("read response: %w", err)})
		}

		failed := resp.StatusCode < 200 || resp.StatusCode >= 300
		if r.wantStatus != 0 {
			failed = resp.StatusCode != r.wantStatus
		}
		if failed {
			werr := &WriteError{
				Op:         r.op,
				Context:    r.context,
				StatusCode: resp.StatusCode,
				Body:       strings.TrimSpace(string(respBody)),
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
				return werr
			}
			return backoff.Permanent(werr)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.MaxElapsedTime = c.MaxRetryElapsed

	err := backoff.RetryNotify(attempt, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		logging.Warn("retrying gitlab request",
			"op", r.op,
			"context", r.context,
			"wait", wait,
			"error", err)
	})
	if err != nil {
		var werr *WriteError
		if errors.As(err, &werr) {
			return werr
		}
		return &WriteError{Op: r.op, Context: r.context, Err: err}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &WriteError{Op: r.op, Context: r.context, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, op, opContext, method, path string, payload, out any) error {
	req, err := jsonRequest(op, opContext, method, path, payload)
	if err != nil {
		return err
	}
	return c.do(ctx, req, out)
}

// CreateUser creates an instance user. It requires an administrator token.
func (c *Client) CreateUser(ctx context.Context, r CreateUserRequest) (User, error) {
	var user User
	err := c.doJSON(ctx, "create user", "username "+r.Username, http.MethodPost, "/users", r, &user)
	return user, err
}

// CreateLabel creates a project label.
func (c *Client) CreateLabel(ctx context.Context, name, color string) (Label, error) {
	payload := map[string]string{"name": name, "color": color}
	var label Label
	err := c.doJSON(ctx, "create label", "label "+name, http.MethodPost, c.projectPath("/labels"), payload, &label)
	return label, err
}

// CreateMilestone creates a project milestone.
func (c *Client) CreateMilestone(ctx context.Context, r CreateMilestoneRequest) (Milestone, error) {
	var milestone Milestone
	err := c.doJSON(ctx, "create milestone", "milestone "+r.Title, http.MethodPost, c.projectPath("/milestones"), r, &milestone)
	return milestone, err
}

// FindMilestone returns the project milestone with exactly the given title.
// The boolean is false when none exists.
func (c *Client) FindMilestone(ctx context.Context, title string) (Milestone, bool, error) {
	path := c.projectPath("/milestones") + "?" + url.Values{"title": {title}}.Encode()
	var milestones []Milestone
	if err := c.doJSON(ctx, "find milestone", "milestone "+title, http.MethodGet, path, nil, &milestones); err != nil {
		return Milestone{}, false, err
	}
	for _, m := range milestones {
		if m.Title == title {
			return m, true, nil
		}
	}
	return Milestone{}, false, nil
}

// CreateIssue creates an issue. A non-zero IID asks GitLab to use that
// project-scoped number.
func (c *Client) CreateIssue(ctx context.Context, r CreateIssueRequest) (Issue, error) {
	var issue Issue
	err := c.doJSON(ctx, "create issue", "iid "+strconv.Itoa(r.IID), http.MethodPost, c.projectPath("/issues"), r, &issue)
	return issue, err
}

// UpdateIssueState applies a state event ("close" or "reopen") to an issue.
func (c *Client) UpdateIssueState(ctx context.Context, iid int, stateEvent string) (Issue, error) {
	payload := map[string]string{"state_event": stateEvent}
	var issue Issue
	err := c.doJSON(ctx, "update issue state", "iid "+strconv.Itoa(iid), http.MethodPut,
		c.projectPath("/issues/"+strconv.Itoa(iid)), payload, &issue)
	return issue, err
}

// CreateNote adds a note to an issue. A zero createdAt lets GitLab stamp it.
func (c *Client) CreateNote(ctx context.Context, iid int, body string, createdAt time.Time) (Note, error) {
	payload := map[string]string{"body": body}
	if !createdAt.IsZero() {
		payload["created_at"] = createdAt.UTC().Format(time.RFC3339)
	}
	var note Note
	err := c.doJSON(ctx, "create note", "iid "+strconv.Itoa(iid), http.MethodPost,
		c.projectPath("/issues/"+strconv.Itoa(iid)+"/notes"), payload, &note)
	return note, err
}

// UploadFile uploads a local file to the project and returns the markdown
// that references it.
func (c *Client) UploadFile(ctx context.Context, path, filename string) (UploadResult, error) {
	op, opContext := "upload file", "file "+filename

	f, err := os.Open(path)
	if err != nil {
		return UploadResult{}, &WriteError{Op: op, Context: opContext, Err: err}
	}
	defer f.Close()

	if filename == "" {
		filename = filepath.Base(path)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return UploadResult{}, &WriteError{Op: op, Context: opContext, Err: err}
	}
	if _, err := io.Copy(part, f); err != nil {
		return UploadResult{}, &WriteError{Op: op, Context: opContext, Err: fmt.Errorf("reading %s: %w", path, err)}
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, &WriteError{Op: op, Context: opContext, Err: err}
	}

	req := request{
		op:          op,
		context:     opContext,
		method:      http.MethodPost,
		path:        c.projectPath("/uploads"),
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
	}
	var result UploadResult
	err = c.do(ctx, req, &result)
	return result, err
}

// CreateWikiPage creates a project wiki page in markdown format. Only a
// 201 Created response counts as success.
func (c *Client) CreateWikiPage(ctx context.Context, title, content string) (WikiPage, error) {
	payload := map[string]string{"title": title, "content": content, "format": "markdown"}
	req, err := jsonRequest("create wiki page", "page "+title, http.MethodPost, c.projectPath("/wikis"), payload)
	if err != nil {
		return WikiPage{}, err
	}
	req.wantStatus = http.StatusCreated

	var page WikiPage
	err = c.do(ctx, req, &page)
	return page, err
}
