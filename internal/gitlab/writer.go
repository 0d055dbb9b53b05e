package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/danielolaszy/trac2gitlab/internal/logging"
	"github.com/danielolaszy/trac2gitlab/pkg/models"
)

// Writer creates destination entities for one migration run. Labels and
// milestones are cached by name so each is created at most once per run.
type Writer struct {
	client     *Client
	labelColor string

	labels     map[string]Label
	milestones map[string]Milestone
}

// NewWriter returns a Writer with empty caches. An empty labelColor falls
// back to DefaultLabelColor.
func NewWriter(client *Client, labelColor string) *Writer {
	if labelColor == "" {
		labelColor = DefaultLabelColor
	}
	return &Writer{
		client:     client,
		labelColor: labelColor,
		labels:     make(map[string]Label),
		milestones: make(map[string]Milestone),
	}
}

// IssueRequest describes an issue to create from a ticket.
type IssueRequest struct {
	// IID is the requested project-scoped number, the Trac ticket id
	IID         int
	Title       string
	Description string
	Labels      []string

	// MilestoneID is zero when the issue has no milestone
	MilestoneID int
	CreatedAt   time.Time
}

// CreateUser creates a user for a Trac account. Confirmation is skipped and
// GitLab mails a password reset link.
func (w *Writer) CreateUser(ctx context.Context, username, email string) (User, error) {
	user, err := w.client.CreateUser(ctx, CreateUserRequest{
		Email:            email,
		Username:         username,
		Name:             username,
		SkipConfirmation: true,
		ResetPassword:    true,
	})
	if err != nil {
		return User{}, err
	}
	logging.Info("created gitlab user", "username", username, "user_id", user.ID)
	return user, nil
}

// EnsureLabel returns the label called name, creating it on first use. A
// label left behind by an earlier run (409 Conflict) is reused.
func (w *Writer) EnsureLabel(ctx context.Context, name string) (Label, error) {
	if label, ok := w.labels[name]; ok {
		return label, nil
	}

	label, err := w.client.CreateLabel(ctx, name, w.labelColor)
	if err != nil {
		if statusOf(err) != http.StatusConflict {
			return Label{}, err
		}
		logging.Debug("label already exists", "label", name)
		label = Label{Name: name}
	}
	if label.Name == "" {
		label.Name = name
	}

	w.labels[name] = label
	return label, nil
}

// EnsureMilestone returns the milestone titled title, creating it on first
// use with the title as its description. When GitLab rejects the creation
// because the title is taken, the existing milestone is looked up instead.
func (w *Writer) EnsureMilestone(ctx context.Context, title string, due *time.Time) (Milestone, error) {
	if milestone, ok := w.milestones[title]; ok {
		return milestone, nil
	}

	req := CreateMilestoneRequest{Title: title, Description: title}
	if due != nil && !due.IsZero() {
		req.DueDate = due.UTC().Format(DueDateLayout)
	}

	milestone, err := w.client.CreateMilestone(ctx, req)
	if err != nil {
		status := statusOf(err)
		if status != http.StatusBadRequest && status != http.StatusConflict {
			return Milestone{}, err
		}

		existing, found, findErr := w.client.FindMilestone(ctx, title)
		if findErr != nil {
			return Milestone{}, findErr
		}
		if !found {
			return Milestone{}, err
		}
		logging.Debug("milestone already exists", "milestone", title, "milestone_id", existing.ID)
		milestone = existing
	}

	w.milestones[title] = milestone
	return milestone, nil
}

// CreateIssue creates an issue numbered r.IID.
func (w *Writer) CreateIssue(ctx context.Context, r IssueRequest) (Issue, error) {
	req := CreateIssueRequest{
		IID:         r.IID,
		Title:       r.Title,
		Description: r.Description,
		Labels:      strings.Join(r.Labels, ","),
		MilestoneID: r.MilestoneID,
	}
	if !r.CreatedAt.IsZero() {
		req.CreatedAt = r.CreatedAt.UTC().Format(time.RFC3339)
	}

	issue, err := w.client.CreateIssue(ctx, req)
	if err != nil {
		return Issue{}, err
	}
	logging.Info("created gitlab issue", "ticket_id", r.IID, "issue_iid", issue.IID, "issue_id", issue.ID)
	return issue, nil
}

// AddNote posts body on issue iid. A blank body is dropped without a call.
func (w *Writer) AddNote(ctx context.Context, iid int, body string, createdAt time.Time) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	if _, err := w.client.CreateNote(ctx, iid, body, createdAt); err != nil {
		return err
	}
	logging.Debug("added note", "issue_iid", iid, "created_at", models.Stamp(createdAt))
	return nil
}

// AttachmentNote is the note that presents an uploaded attachment.
func AttachmentNote(a models.Attachment, markdown string) string {
	return fmt.Sprintf("Attachment by @%s on %s: %s\n\n%s", a.Author, models.Stamp(a.Time), markdown, a.Description)
}

// UploadAttachment uploads the attachment's file and posts a note linking it
// on issue iid.
func (w *Writer) UploadAttachment(ctx context.Context, iid int, a models.Attachment) (UploadResult, error) {
	result, err := w.client.UploadFile(ctx, a.Path, a.Filename)
	if err == nil && result.Markdown == "" {
		err = &WriteError{Op: "upload file", Context: "file " + a.Filename, Err: errors.New("response has no markdown")}
	}
	if err != nil {
		logging.Error("failed to upload attachment",
			"ticket_id", a.TicketID,
			"issue_iid", iid,
			"filename", a.Filename,
			"error", err)
		return UploadResult{}, err
	}

	if err := w.AddNote(ctx, iid, AttachmentNote(a, result.Markdown), a.Time); err != nil {
		return result, err
	}

	logging.Info("added attachment",
		"issue_iid", iid,
		"filename", a.Filename,
		"size", humanize.Bytes(uint64(a.Size)))
	return result, nil
}

// Close closes issue iid.
func (w *Writer) Close(ctx context.Context, iid int) error {
	if _, err := w.client.UpdateIssueState(ctx, iid, "close"); err != nil {
		return err
	}
	logging.Info("closed gitlab issue", "issue_iid", iid)
	return nil
}

// CreateWikiPage creates a wiki page with markdown content.
func (w *Writer) CreateWikiPage(ctx context.Context, title, content string) error {
	if _, err := w.client.CreateWikiPage(ctx, title, content); err != nil {
		return err
	}
	logging.Info("created wiki page", "page", title, "size", humanize.Bytes(uint64(len(content))))
	return nil
}

func statusOf(err error) int {
	var werr *WriteError
	if errors.As(err, &werr) {
		return werr.StatusCode
	}
	return 0
}
