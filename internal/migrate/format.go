package migrate

import (
	"fmt"
	"time"

	"github.com/danielolaszy/trac2gitlab/internal/markup"
	"github.com/danielolaszy/trac2gitlab/pkg/models"
)

// FormatDescription builds an issue description from a ticket: an
// attribution line for the reporter followed by the translated description.
func FormatDescription(t models.Ticket) string {
	return attributed(t.Reporter, t.Created, t.Description)
}

// FormatComment builds a note body from a ticket comment.
func FormatComment(c models.Comment) string {
	return attributed(c.Author, c.Time, c.Text)
}

// FormatFieldChange builds a note body recording a field edit.
func FormatFieldChange(c models.FieldChange) string {
	return fmt.Sprintf("Status change by @%s on %s: %s set to %s\n", c.Author, models.Stamp(c.Time), c.Field, c.NewValue)
}

func attributed(author string, when time.Time, text string) string {
	return markup.Inline(fmt.Sprintf("Comment by @%s on %s:\n\n%s", author, models.Stamp(when), text))
}
