// Package models defines data structures shared across the application.
package models

import (
	"time"
)

// StampLayout is the display format used for timestamps in migrated notes.
const StampLayout = "2006-01-02 15:04:05 MST"

// Stamp formats t in UTC using StampLayout (e.g. "2012-03-04 05:06:07 UTC").
// The zero time renders as an empty string.
func Stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(StampLayout)
}

// User represents a Trac user selected for migration.
type User struct {
	// Username is the Trac session id (sid) of the user
	Username string

	// Email is taken from the user's session attributes; empty when unknown
	Email string
}

// Ticket represents a Trac ticket together with its history.
type Ticket struct {
	// ID is the Trac ticket number, reused as the GitLab issue iid
	ID int

	// Summary is the ticket's one-line title
	Summary string

	// Description is the raw Trac markup body of the ticket
	Description string

	Component  string
	Priority   string
	Resolution string
	Milestone  string
	Version    string

	// Status is the Trac workflow status (new, assigned, closed, ...)
	Status string

	// Reporter is the username that opened the ticket
	Reporter string

	// Created is the creation time in UTC
	Created time.Time

	Comments     []Comment
	FieldChanges []FieldChange
	Attachments  []Attachment
}

// IsResolved reports whether the ticket should be closed in the destination.
func (t Ticket) IsResolved() bool {
	return t.Status == "closed" || t.Status == "resolved"
}

// Comment is a single comment from a ticket's change history.
type Comment struct {
	Author string
	Time   time.Time
	Text   string
}

// FieldChange is a non-comment entry from a ticket's change history.
type FieldChange struct {
	Author   string
	Time     time.Time
	Field    string
	OldValue string
	NewValue string
}

// Attachment is a file attached to a ticket that exists on local storage.
type Attachment struct {
	// TicketID is the ticket the attachment belongs to
	TicketID int

	// Filename is the original upload name
	Filename string

	Description string
	Author      string
	Time        time.Time

	// Path is the resolved location of the file inside the Trac environment
	Path string

	// Size is the file size in bytes as reported by the filesystem
	Size int64
}

// Milestone is a Trac milestone. Only the due date is carried to GitLab.
type Milestone struct {
	Name        string
	Due         *time.Time
	Description string
}

// WikiPage is the latest version of a Trac wiki page.
type WikiPage struct {
	Name    string
	Exists  bool
	Version int
	Text    string
}
