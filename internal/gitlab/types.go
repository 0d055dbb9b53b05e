// Package gitlab writes migrated records to a GitLab project through the
// REST API v4.
//
// Client is the transport: one method per endpoint, authentication, timeouts
// and retries. Writer sits on top of it and owns the run-scoped label and
// milestone caches that keep entity creation idempotent within a run.
package gitlab

import (
	"errors"
	"fmt"
	"time"
)

// API configuration constants.
const (
	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetryElapsed bounds the retries of a rate-limited request.
	DefaultMaxRetryElapsed = time.Minute

	// DefaultLabelColor is the color of labels created by the migration.
	DefaultLabelColor = "#428BCA"

	// DueDateLayout is the date format GitLab expects for milestone due dates.
	DueDateLayout = "2006-01-02"
)

// ErrDestinationWriteFailed matches every error returned for a failed API
// call, whether the server rejected it or it never completed.
var ErrDestinationWriteFailed = errors.New("destination write failed")

// WriteError describes a failed API call.
type WriteError struct {
	// Op names the operation, e.g. "create issue"
	Op string

	// Context identifies the record, e.g. "iid 12"
	Context string

	// StatusCode is zero when no response was received
	StatusCode int
	Body       string
	Err        error
}

func (e *WriteError) Error() string {
	msg := e.Op
	if e.Context != "" {
		msg += " (" + e.Context + ")"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": gitlab API returned %d", e.StatusCode)
		if e.Body != "" {
			msg += ": " + e.Body
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is makes every WriteError match ErrDestinationWriteFailed.
func (e *WriteError) Is(target error) bool {
	return target == ErrDestinationWriteFailed
}

// Issue represents an issue from the GitLab API.
type Issue struct {
	ID          int        `json:"id"`  // Global issue ID
	IID         int        `json:"iid"` // Project-scoped issue ID
	ProjectID   int        `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	State       string     `json:"state"` // "opened", "closed"
	Labels      []string   `json:"labels"`
	Milestone   *Milestone `json:"milestone,omitempty"`
	CreatedAt   *time.Time `json:"created_at"`
	WebURL      string     `json:"web_url"`
}

// User represents a GitLab user.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	State    string `json:"state,omitempty"`
}

// Milestone represents a GitLab milestone.
type Milestone struct {
	ID          int    `json:"id"`
	IID         int    `json:"iid"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	State       string `json:"state"`
	DueDate     string `json:"due_date,omitempty"`
}

// Label represents a GitLab label.
type Label struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Note represents a comment on an issue.
type Note struct {
	ID   int    `json:"id"`
	Body string `json:"body"`
}

// UploadResult is the response of a project file upload.
type UploadResult struct {
	Alt      string `json:"alt"`
	URL      string `json:"url"`
	FullPath string `json:"full_path"`

	// Markdown is the snippet that embeds the file in a note
	Markdown string `json:"markdown"`
}

// WikiPage represents a project wiki page.
type WikiPage struct {
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Format  string `json:"format"`
	Content string `json:"content,omitempty"`
}

// CreateUserRequest is the payload of POST /users.
type CreateUserRequest struct {
	Email            string `json:"email"`
	Username         string `json:"username"`
	Name             string `json:"name"`
	SkipConfirmation bool   `json:"skip_confirmation"`
	ResetPassword    bool   `json:"reset_password"`
}

// CreateIssueRequest is the payload of POST /projects/:id/issues.
type CreateIssueRequest struct {
	IID         int    `json:"iid"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Labels      string `json:"labels,omitempty"` // comma-separated
	MilestoneID int    `json:"milestone_id,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// CreateMilestoneRequest is the payload of POST /projects/:id/milestones.
type CreateMilestoneRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     string `json:"due_date,omitempty"`
}
