// Package timeline merges a ticket's history into a single replay order.
package timeline

import (
	"slices"
	"time"

	"github.com/danielolaszy/trac2gitlab/pkg/models"
)

// Merge concatenates comments, field changes and attachments, in that order,
// and stable-sorts the result by event time at second precision, the
// precision of the stamps shown on notes. Events within the same second keep
// the concatenation order. A zero time sorts before any real time.
func Merge(comments []models.Comment, changes []models.FieldChange, attachments []models.Attachment) []models.Event {
	events := make([]models.Event, 0, len(comments)+len(changes)+len(attachments))
	for _, c := range comments {
		events = append(events, models.CommentEvent{Comment: c})
	}
	for _, c := range changes {
		events = append(events, models.FieldChangeEvent{FieldChange: c})
	}
	for _, a := range attachments {
		events = append(events, models.AttachmentEvent{Attachment: a})
	}

	slices.SortStableFunc(events, func(a, b models.Event) int {
		return a.When().Truncate(time.Second).Compare(b.When().Truncate(time.Second))
	})
	return events
}

// ForTicket is Merge applied to a ticket's own history.
func ForTicket(t models.Ticket) []models.Event {
	return Merge(t.Comments, t.FieldChanges, t.Attachments)
}
