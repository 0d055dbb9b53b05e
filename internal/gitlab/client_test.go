package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// apiCall is one request received by fakeGitLab.
type apiCall struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   map[string]any
}

// fakeGitLab is an httptest server that records calls and answers them
// from a route table keyed by "METHOD /path" (relative to /api/v4).
type fakeGitLab struct {
	server *httptest.Server

	mu     sync.Mutex
	calls  []apiCall
	routes map[string]http.HandlerFunc
}

func newFakeGitLab(t *testing.T) *fakeGitLab {
	t.Helper()
	f := &fakeGitLab{routes: make(map[string]http.HandlerFunc)}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGitLab) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v4")
	c := apiCall{Method: r.Method, Path: path, Query: r.URL.RawQuery, Header: r.Header.Clone()}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &c.Body)
	}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	handler, ok := f.routes[r.Method+" "+path]
	f.mu.Unlock()

	if !ok {
		http.Error(w, `{"message":"404 Not Found"}`, http.StatusNotFound)
		return
	}
	handler(w, r)
}

func (f *fakeGitLab) handle(route string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[route] = h
}

// respond registers a route that always answers status with body.
func (f *fakeGitLab) respond(route string, status int, body string) {
	f.handle(route, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func (f *fakeGitLab) Calls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func (f *fakeGitLab) client(opts ...Option) *Client {
	c := NewClient("test-token", f.server.URL+"/api/v4/", "42", opts...)
	c.retryInterval = time.Millisecond
	return c
}

func TestNewClient(t *testing.T) {
	client := NewClient("test-token", "https://gitlab.example.com/api/v4/", "123")

	assert.Equal(t, "test-token", client.Token)
	assert.Equal(t, "https://gitlab.example.com/api/v4", client.BaseURL)
	assert.Equal(t, "123", client.ProjectID)
	assert.NotNil(t, client.HTTPClient)
	assert.Equal(t, DefaultTimeout, client.Timeout)
	assert.Equal(t, DefaultMaxRetryElapsed, client.MaxRetryElapsed)
}

func TestClientOptions(t *testing.T) {
	custom := &http.Client{Timeout: time.Minute}
	client := NewClient("token", "https://gitlab.example.com/api/v4", "123",
		WithHTTPClient(custom),
		WithTimeout(5*time.Second),
		WithRetry(10*time.Second))

	assert.Same(t, custom, client.HTTPClient)
	assert.Equal(t, 5*time.Second, client.Timeout)
	assert.Equal(t, 10*time.Second, client.MaxRetryElapsed)

	client = NewClient("token", "https://gitlab.example.com/api/v4", "123", WithTimeout(0), WithRetry(-1))
	assert.Equal(t, DefaultTimeout, client.Timeout)
	assert.Equal(t, DefaultMaxRetryElapsed, client.MaxRetryElapsed)
}

func TestCreateIssue(t *testing.T) {
	fake := newFakeGitLab(t)
	fake.respond("POST /projects/42/issues", http.StatusCreated, `{"id":900,"iid":7,"title":"Crash"}`)

	issue, err := fake.client().CreateIssue(context.Background(), CreateIssueRequest{
		IID:         7,
		Title:       "Crash",
		Description: "body",
		Labels:      "core,major",
		MilestoneID: 3,
		CreatedAt:   "2012-03-04T05:06:07Z",
	})
	require.NoError(t, err)
	assert.Equal(t, 900, issue.ID)
	assert.Equal(t, 7, issue.IID)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "test-token", calls[0].Header.Get("PRIVATE-TOKEN"))
	assert.Equal(t, float64(7), calls[0].Body["iid"])
	assert.Equal(t, "core,major", calls[0].Body["labels"])
	assert.Equal(t, float64(3), calls[0].Body["milestone_id"])
	assert.Equal(t, "2012-03-04T05:06:07Z", calls[0].Body["created_at"])
}

func TestCreateIssueOmitsEmptyOptionalFields(t *testing.T) {
	fake := newFakeGitLab(t)
	fake.respond("POST /projects/42/issues", http.StatusCreated, `{"id":1,"iid":1}`)

	_, err := fake.client().CreateIssue(context.Background(), CreateIssueRequest{IID: 1, Title: "t"})
	require.NoError(t, err)

	body := fake.Calls()[0].Body
	assert.NotContains(t, body, "labels")
	assert.NotContains(t, body, "milestone_id")
	assert.NotContains(t, body, "created_at")
}

func TestOAuthSendsBearerToken(t *testing.T) {
	fake := newFakeGitLab(t)
	fake.respond("PUT /projects/42/issues/5", http.StatusOK, `{"iid":5,"state":"closed"}`)

	issue, err := fake.client(WithOAuth()).UpdateIssueState(context.Background(), 5, "close")
	require.NoError(t, err)
	assert.Equal(t, "closed", issue.State)

	call := fake.Calls()[0]
	assert.Equal(t, "Bearer test-token", call.Header.Get("Authorization"))
	assert.Empty(t, call.Header.Get("PRIVATE-TOKEN"))
	assert.Equal(t, "close", call.Body["state_event"])
}

func TestProjectPathIsEscaped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/group%2Fproject/labels", r.RequestURI)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"name":"core"}`)
	}))
	defer server.Close()

	client := NewClient("token", server.URL, "group/project")
	_, err := client.CreateLabel(context.Background(), "core", DefaultLabelColor)
	require.NoError(t, err)
}

func TestNonSuccessStatusIsWriteError(t *testing.T) {
	fake := newFakeGitLab(t)
	fake.respond("POST /projects/42/labels", http.StatusInternalServerError, `{"message":"boom"}`)

	_, err := fake.client().CreateLabel(context.Background(), "core", DefaultLabelColor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDestinationWriteFailed))

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "create label", werr.Op)
	assert.Equal(t, "label core", werr.Context)
	assert.Equal(t, http.StatusInternalServerError, werr.StatusCode)
	assert.Contains(t, werr.Body, "boom")
	assert.Contains(t, err.Error(), "gitlab API returned 500")

	assert.Len(t, fake.Calls(), 1, "500 is not retried")
}

func TestRetriesRateLimitedRequests(t *testing.T) {
	fake := newFakeGitLab(t)
	var attempts atomic.Int32
	fake.handle("POST /projects/42/issues/3/notes", func(w http.ResponseWriter, _ *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			status := http.StatusTooManyRequests
			if n == 2 {
				status = http.StatusServiceUnavailable
			}
			w.WriteHeader(status)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":11,"body":"hi"}`)
	})

	note, err := fake.client().CreateNote(context.Background(), 3, "hi", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 11, note.ID)
	assert.Len(t, fake.Calls(), 3)
}

func TestRetryGivesUp(t *testing.T) {
	fake := newFakeGitLab(t)
	fake.respond("POST /projects/42/issues/3/notes", http.StatusServiceUnavailable, `{}`)

	_, err := fake.client(WithRetry(30*time.Millisecond)).CreateNote(context.Background(), 3, "hi", time.Time{})
	require.Error(t, err)

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, http.StatusServiceUnavailable, werr.StatusCode)
	assert.Greater(t, len(fake.Calls()), 1)
}

func TestRequestTimeout(t *testing.T) {
	fake := newFakeGitLab(t)
	fake.handle("POST /projects/42/issues", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	_, err := fake.client(WithTimeout(20*time.Millisecond)).CreateIssue(context.Background(), CreateIssueRequest{IID: 1, Title: "t"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDestinationWriteFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Zero(t, werr.StatusCode)
}

func TestCreateNoteSendsCreatedAt(t *testing.T) {
	fake := newFakeGitLab(t)
	fake.respond("POST /projects/42/issues/3/notes", http.StatusCreated, `{"id":1}`)

	when := time.Date(2012, 3, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600))
	_, err := fake.client().CreateNote(context.Background(), 3, "hi", when)
	require.NoError(t, err)
	assert.Equal(t, "2012-03-04T04:06:07Z", fake.Calls()[0].Body["created_at"])
}

func TestFindMilestone(t *testing.T) {
	fake := newFakeGitLab(t)
	fake.respond("GET /projects/42/milestones", http.StatusOK,
		`[{"id":4,"title":"M1 beta"},{"id":5,"title":"M1"}]`)

	milestone, found, err := fake.client().FindMilestone(context.Background(), "M1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 5, milestone.ID)
	assert.Equal(t, "title=M1", fake.Calls()[0].Query)

	_, found, err = fake.client().FindMilestone(context.Background(), "M2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUploadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stored-name")
	require.NoError(t, os.WriteFile(path, []byte("log line"), 0o644))

	fake := newFakeGitLab(t)
	fake.handle("POST /projects/42/uploads", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "crash.log", header.Filename)
		assert.Equal(t, "log line", string(data))

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"alt":"crash.log","url":"/uploads/abc/crash.log","markdown":"[crash.log](/uploads/abc/crash.log)"}`)
	})

	result, err := fake.client().UploadFile(context.Background(), path, "crash.log")
	require.NoError(t, err)
	assert.Equal(t, "[crash.log](/uploads/abc/crash.log)", result.Markdown)
	assert.Equal(t, "/uploads/abc/crash.log", result.URL)
}

func TestUploadFileMissing(t *testing.T) {
	fake := newFakeGitLab(t)
	_, err := fake.client().UploadFile(context.Background(), filepath.Join(t.TempDir(), "nope"), "nope")
	assert.ErrorIs(t, err, ErrDestinationWriteFailed)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, fake.Calls())
}

func TestCreateWikiPageRequiresCreated(t *testing.T) {
	fake := newFakeGitLab(t)
	fake.respond("POST /projects/42/wikis", http.StatusOK, `{"title":"home","slug":"home"}`)

	_, err := fake.client().CreateWikiPage(context.Background(), "home", "# Hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDestinationWriteFailed)

	fake.respond("POST /projects/42/wikis", http.StatusCreated, `{"title":"home","slug":"home","format":"markdown"}`)
	page, err := fake.client().CreateWikiPage(context.Background(), "home", "# Hi")
	require.NoError(t, err)
	assert.Equal(t, "home", page.Slug)

	body := fake.Calls()[1].Body
	assert.Equal(t, "markdown", body["format"])
	assert.Equal(t, "# Hi", body["content"])
}

func TestCreateUser(t *testing.T) {
	fake := newFakeGitLab(t)
	fake.respond("POST /users", http.StatusCreated, `{"id":31,"username":"alice"}`)

	user, err := fake.client().CreateUser(context.Background(), CreateUserRequest{
		Email: "alice@example.org", Username: "alice", Name: "alice",
		SkipConfirmation: true, ResetPassword: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 31, user.ID)

	body := fake.Calls()[0].Body
	assert.Equal(t, true, body["skip_confirmation"])
	assert.Equal(t, true, body["reset_password"])
	assert.Equal(t, "alice@example.org", body["email"])
}
