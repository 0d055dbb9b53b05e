// Package migrate replays a Trac project into GitLab.
//
// A Migrator reads everything from a Source and writes it, strictly in
// sequence, to a Destination: users first, then each ticket as an issue
// followed by its history in time order. Failures of single items are logged
// and counted in the Result; only failures to read the source end a run.
package migrate

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/danielolaszy/trac2gitlab/internal/gitlab"
	"github.com/danielolaszy/trac2gitlab/internal/logging"
	"github.com/danielolaszy/trac2gitlab/internal/timeline"
	"github.com/danielolaszy/trac2gitlab/pkg/models"
)

// Source is where migrated records come from.
type Source interface {
	ListUsers(ctx context.Context, usernames []string) ([]models.User, error)
	ListTickets(ctx context.Context) ([]models.Ticket, error)
	ListMilestones(ctx context.Context) (map[string]models.Milestone, error)
	ListWikiPageNames(ctx context.Context) ([]string, error)
	GetWikiPage(ctx context.Context, name string) (models.WikiPage, error)
}

// Destination is where migrated records are written.
type Destination interface {
	CreateUser(ctx context.Context, username, email string) (gitlab.User, error)
	EnsureLabel(ctx context.Context, name string) (gitlab.Label, error)
	EnsureMilestone(ctx context.Context, title string, due *time.Time) (gitlab.Milestone, error)
	CreateIssue(ctx context.Context, r gitlab.IssueRequest) (gitlab.Issue, error)
	AddNote(ctx context.Context, iid int, body string, createdAt time.Time) error
	UploadAttachment(ctx context.Context, iid int, a models.Attachment) (gitlab.UploadResult, error)
	Close(ctx context.Context, iid int) error
	CreateWikiPage(ctx context.Context, title, content string) error
}

// Options tune a migration run.
type Options struct {
	// RunID tags the Result of the run
	RunID string

	// StrictNumbering treats an issue created under a number other than its
	// ticket id as a failure, leaving its history unreplayed.
	StrictNumbering bool

	// WikiExclude names wiki pages skipped in addition to the defaults
	WikiExclude []string
}

// Migrator runs a migration. It is not safe for concurrent use.
type Migrator struct {
	src  Source
	dst  Destination
	opts Options

	milestones     map[string]models.Milestone
	labelsSeen     map[string]bool
	milestonesSeen map[string]bool
	result         *Result
}

// New returns a Migrator writing records from src to dst.
func New(src Source, dst Destination, opts Options) *Migrator {
	return &Migrator{
		src:            src,
		dst:            dst,
		opts:           opts,
		labelsSeen:     make(map[string]bool),
		milestonesSeen: make(map[string]bool),
		result:         newResult(opts.RunID),
	}
}

// Result returns the tallies collected so far.
func (m *Migrator) Result() *Result {
	return m.result
}

// Run migrates users and then tickets.
func (m *Migrator) Run(ctx context.Context, usernames []string) (*Result, error) {
	m.result.Started = time.Now()
	defer func() { m.result.Duration = time.Since(m.result.Started) }()

	if err := m.MigrateUsers(ctx, usernames); err != nil {
		return m.result, err
	}
	if err := m.MigrateTickets(ctx); err != nil {
		return m.result, err
	}
	return m.result, nil
}

// MigrateUsers creates a destination user for every listed Trac user that
// has an email address.
func (m *Migrator) MigrateUsers(ctx context.Context, usernames []string) error {
	logging.Info("exporting trac users", "count", len(usernames))

	users, err := m.src.ListUsers(ctx, usernames)
	if err != nil {
		return fmt.Errorf("failed to read trac users: %w", err)
	}

	for _, user := range users {
		if user.Email == "" {
			logging.Info("skipping user without email", "username", user.Username)
			m.result.UserTally.Skipped++
			continue
		}

		created, err := m.dst.CreateUser(ctx, user.Username, user.Email)
		if err != nil {
			logging.Error("failed to create user", "username", user.Username, "error", err)
			m.result.UserTally.Failed++
			continue
		}

		m.result.Users[user.Username] = created.ID
		m.result.UserTally.Done++
	}

	return nil
}

// MigrateTickets replays every ticket in ascending id order.
func (m *Migrator) MigrateTickets(ctx context.Context) error {
	milestones, err := m.src.ListMilestones(ctx)
	if err != nil {
		return fmt.Errorf("failed to read trac milestones: %w", err)
	}
	m.milestones = milestones

	tickets, err := m.src.ListTickets(ctx)
	if err != nil {
		return fmt.Errorf("failed to read trac tickets: %w", err)
	}
	slices.SortStableFunc(tickets, func(a, b models.Ticket) int { return a.ID - b.ID })

	logging.Info("importing tickets", "count", len(tickets))

	for _, ticket := range tickets {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.migrateTicket(ctx, ticket)
	}

	logging.Info("finished importing tickets",
		"issues", m.result.Issues.Done,
		"failed", m.result.Issues.Failed)
	return nil
}

func (m *Migrator) migrateTicket(ctx context.Context, t models.Ticket) {
	req := gitlab.IssueRequest{
		IID:         t.ID,
		Title:       t.Summary,
		Description: FormatDescription(t),
		Labels:      m.ticketLabels(ctx, t),
		MilestoneID: m.ticketMilestone(ctx, t),
		CreatedAt:   t.Created,
	}

	issue, err := m.dst.CreateIssue(ctx, req)
	if err != nil {
		logging.Error("failed to create issue", "ticket_id", t.ID, "error", err)
		m.result.Issues.Failed++
		return
	}

	iid := issue.IID
	if iid != t.ID {
		if m.opts.StrictNumbering {
			logging.Error("issue created under a different number, history not replayed",
				"ticket_id", t.ID,
				"issue_iid", iid)
			m.result.Issues.Failed++
			return
		}
		logging.Warn("issue created under a different number",
			"ticket_id", t.ID,
			"issue_iid", iid)
	}
	m.result.Issues.Done++

	for _, event := range timeline.ForTicket(t) {
		m.replay(ctx, t.ID, iid, event)
	}

	if t.IsResolved() {
		if err := m.dst.Close(ctx, iid); err != nil {
			logging.Error("failed to close issue", "ticket_id", t.ID, "issue_iid", iid, "error", err)
			m.result.Closed.Failed++
		} else {
			m.result.Closed.Done++
		}
	}
}

// ticketLabels ensures the labels for component, priority, resolution and
// version, in that order. Unset fields and failed labels are left out.
func (m *Migrator) ticketLabels(ctx context.Context, t models.Ticket) []string {
	var labels []string
	for _, name := range []string{t.Component, t.Priority, t.Resolution, t.Version} {
		if name == "" {
			continue
		}

		label, err := m.dst.EnsureLabel(ctx, name)
		if err != nil {
			logging.Warn("failed to create label", "ticket_id", t.ID, "label", name, "error", err)
			m.result.Labels.Failed++
			continue
		}

		if !m.labelsSeen[label.Name] {
			m.labelsSeen[label.Name] = true
			m.result.Labels.Done++
		}
		labels = append(labels, label.Name)
	}
	return labels
}

// ticketMilestone returns the destination milestone id for the ticket, or
// zero when it has none or the milestone could not be created.
func (m *Migrator) ticketMilestone(ctx context.Context, t models.Ticket) int {
	if t.Milestone == "" {
		return 0
	}

	due := m.milestones[t.Milestone].Due
	milestone, err := m.dst.EnsureMilestone(ctx, t.Milestone, due)
	if err != nil {
		logging.Warn("failed to create milestone", "ticket_id", t.ID, "milestone", t.Milestone, "error", err)
		m.result.Milestones.Failed++
		return 0
	}

	if !m.milestonesSeen[t.Milestone] {
		m.milestonesSeen[t.Milestone] = true
		m.result.Milestones.Done++
	}
	return milestone.ID
}

func (m *Migrator) replay(ctx context.Context, ticketID, iid int, event models.Event) {
	switch e := event.(type) {
	case models.CommentEvent:
		m.note(ctx, ticketID, iid, FormatComment(e.Comment), e.Time)
	case models.FieldChangeEvent:
		m.note(ctx, ticketID, iid, FormatFieldChange(e.FieldChange), e.Time)
	case models.AttachmentEvent:
		if _, err := m.dst.UploadAttachment(ctx, iid, e.Attachment); err != nil {
			m.result.Attachments.Failed++
			return
		}
		m.result.Attachments.Done++
	}
}

func (m *Migrator) note(ctx context.Context, ticketID, iid int, body string, createdAt time.Time) {
	if err := m.dst.AddNote(ctx, iid, body, createdAt); err != nil {
		logging.Error("failed to add note", "ticket_id", ticketID, "issue_iid", iid, "error", err)
		m.result.Notes.Failed++
		return
	}
	m.result.Notes.Done++
}
