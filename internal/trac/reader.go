// Package trac reads users, tickets, milestones and wiki pages from a Trac
// environment.
//
// The database is reached through sqlx so the same queries serve PostgreSQL,
// MySQL and SQLite installations; bind variables are rewritten per driver.
// Attachment files are resolved inside the environment directory.
package trac

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/danielolaszy/trac2gitlab/internal/config"
	"github.com/danielolaszy/trac2gitlab/internal/logging"
	"github.com/danielolaszy/trac2gitlab/pkg/models"
)

var (
	// ErrSourceUnavailable means the Trac database or environment could not
	// be opened. It aborts the run.
	ErrSourceUnavailable = errors.New("trac source unavailable")

	// ErrMissingAttachmentFile means an attachment row has no file on disk.
	// The attachment is skipped.
	ErrMissingAttachmentFile = errors.New("attachment file missing")
)

// HistoryFields are the ticket_change fields carried into the destination.
var HistoryFields = []string{"comment", "component", "priority", "resolution", "version", "status", "type", "owner"}

// Reader reads records from a Trac database and environment directory.
type Reader struct {
	db      *sqlx.DB
	envPath string
}

// Open connects to the Trac database described by cfg and verifies that the
// environment directory exists. Any failure wraps ErrSourceUnavailable.
func Open(ctx context.Context, cfg config.TracConfig) (*Reader, error) {
	info, err := os.Stat(cfg.EnvPath)
	if err != nil {
		return nil, fmt.Errorf("%w: environment %s: %w", ErrSourceUnavailable, cfg.EnvPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: environment %s is not a directory", ErrSourceUnavailable, cfg.EnvPath)
	}

	driver, dsn, err := DataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s database: %w", ErrSourceUnavailable, driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connecting to %s database: %w", ErrSourceUnavailable, driver, err)
	}

	logging.Info("connected to trac database",
		"driver", driver,
		"host", cfg.Host,
		"database", cfg.Name,
		"env_path", cfg.EnvPath)

	return NewReader(db, cfg.EnvPath), nil
}

// NewReader wraps an already opened database.
func NewReader(db *sqlx.DB, envPath string) *Reader {
	return &Reader{db: db, envPath: envPath}
}

// Close closes the underlying database connection.
func (r *Reader) Close() error {
	return r.db.Close()
}

// DataSource returns the sqlx driver name and DSN for cfg.
func DataSource(cfg config.TracConfig) (string, string, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		u := url.URL{
			Scheme: "postgres",
			Host:   hostPort(cfg.Host, cfg.Port, 5432),
			Path:   "/" + cfg.Name,
		}
		if cfg.User != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		}
		if cfg.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
		}
		return "postgres", u.String(), nil

	case config.DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = hostPort(cfg.Host, cfg.Port, 3306)
		mc.DBName = cfg.Name
		return "mysql", mc.FormatDSN(), nil

	case config.DriverSQLite:
		path := cfg.Name
		if path == "" {
			path = filepath.Join(cfg.EnvPath, "db", "trac.db")
		}
		// The driver would create an empty database for a missing file.
		if _, err := os.Stat(path); err != nil {
			return "", "", fmt.Errorf("sqlite database: %w", err)
		}
		return "sqlite", path, nil
	}
	return "", "", fmt.Errorf("unsupported driver %q", cfg.Driver)
}

func hostPort(host string, port, defaultPort int) string {
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// LoadUsernames reads one username per line from path, skipping blank lines.
func LoadUsernames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening usernames file: %w", err)
	}
	defer f.Close()

	var usernames []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			usernames = append(usernames, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading usernames file: %w", err)
	}
	return usernames, nil
}

// ListUsers looks up the email address of each username. Users without an
// email are returned with an empty Email.
func (r *Reader) ListUsers(ctx context.Context, usernames []string) ([]models.User, error) {
	query := r.db.Rebind(`SELECT value FROM session_attribute WHERE sid = ? AND name = 'email'`)

	users := make([]models.User, 0, len(usernames))
	for _, username := range usernames {
		var email sql.NullString
		err := r.db.GetContext(ctx, &email, query, username)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reading email for %s: %w", username, err)
		}

		users = append(users, models.User{Username: username, Email: strings.TrimSpace(email.String)})
		logging.Debug("exported user", "username", username, "has_email", email.String != "")
	}
	return users, nil
}

type ticketRow struct {
	ID          int            `db:"id"`
	Summary     sql.NullString `db:"summary"`
	Description sql.NullString `db:"description"`
	Component   sql.NullString `db:"component"`
	Priority    sql.NullString `db:"priority"`
	Resolution  sql.NullString `db:"resolution"`
	Milestone   sql.NullString `db:"milestone"`
	Version     sql.NullString `db:"version"`
	Status      sql.NullString `db:"status"`
	Reporter    sql.NullString `db:"reporter"`
	Time        sql.NullInt64  `db:"time"`
}

type changeRow struct {
	Author   sql.NullString `db:"author"`
	Time     sql.NullInt64  `db:"time"`
	Field    string         `db:"field"`
	OldValue sql.NullString `db:"oldvalue"`
	NewValue sql.NullString `db:"newvalue"`
}

type attachmentRow struct {
	Filename    string         `db:"filename"`
	Description sql.NullString `db:"description"`
	Author      sql.NullString `db:"author"`
	Time        sql.NullInt64  `db:"time"`
}

// ListTickets returns every ticket with its filtered change history and the
// attachments whose files exist, sorted by ticket id.
func (r *Reader) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	var rows []ticketRow
	err := r.db.SelectContext(ctx, &rows, `SELECT id, summary, description, component, priority,
		resolution, milestone, version, status, reporter, time FROM ticket ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("reading tickets: %w", err)
	}

	tickets := make([]models.Ticket, 0, len(rows))
	for _, row := range rows {
		ticket := models.Ticket{
			ID:          row.ID,
			Summary:     row.Summary.String,
			Description: row.Description.String,
			Component:   row.Component.String,
			Priority:    row.Priority.String,
			Resolution:  row.Resolution.String,
			Milestone:   row.Milestone.String,
			Version:     row.Version.String,
			Status:      row.Status.String,
			Reporter:    row.Reporter.String,
			Created:     fromMicros(row.Time),
		}

		if err := r.readHistory(ctx, &ticket); err != nil {
			return nil, err
		}
		if err := r.readAttachments(ctx, &ticket); err != nil {
			return nil, err
		}

		logging.Info("exported ticket",
			"ticket_id", ticket.ID,
			"comments", len(ticket.Comments),
			"field_changes", len(ticket.FieldChanges),
			"attachments", len(ticket.Attachments))
		tickets = append(tickets, ticket)
	}

	return tickets, nil
}

func (r *Reader) readHistory(ctx context.Context, ticket *models.Ticket) error {
	query, args, err := sqlx.In(`SELECT author, time, field, oldvalue, newvalue FROM ticket_change
		WHERE ticket = ? AND field IN (?) ORDER BY time`, ticket.ID, HistoryFields)
	if err != nil {
		return fmt.Errorf("building history query: %w", err)
	}

	var changes []changeRow
	if err := r.db.SelectContext(ctx, &changes, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("reading history of ticket %d: %w", ticket.ID, err)
	}

	for _, c := range changes {
		when := fromMicros(c.Time)
		if c.Field == "comment" {
			// Trac records an empty comment row alongside every field edit.
			// It is kept, so the edit is attributed like any other comment.
			ticket.Comments = append(ticket.Comments, models.Comment{
				Author: c.Author.String,
				Time:   when,
				Text:   c.NewValue.String,
			})
			continue
		}
		ticket.FieldChanges = append(ticket.FieldChanges, models.FieldChange{
			Author:   c.Author.String,
			Time:     when,
			Field:    c.Field,
			OldValue: c.OldValue.String,
			NewValue: c.NewValue.String,
		})
	}
	return nil
}

func (r *Reader) readAttachments(ctx context.Context, ticket *models.Ticket) error {
	var rows []attachmentRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT filename, description, author, time
		FROM attachment WHERE type = 'ticket' AND id = ? ORDER BY time`), strconv.Itoa(ticket.ID))
	if err != nil {
		return fmt.Errorf("reading attachments of ticket %d: %w", ticket.ID, err)
	}

	for _, row := range rows {
		path, size, err := r.AttachmentPath(ticket.ID, row.Filename)
		if err != nil {
			logging.Warn("skipping attachment",
				"ticket_id", ticket.ID,
				"filename", row.Filename,
				"error", err)
			continue
		}

		logging.Debug("found attachment",
			"ticket_id", ticket.ID,
			"filename", row.Filename,
			"size", humanize.Bytes(uint64(size)))

		ticket.Attachments = append(ticket.Attachments, models.Attachment{
			TicketID:    ticket.ID,
			Filename:    row.Filename,
			Description: row.Description.String,
			Author:      row.Author.String,
			Time:        fromMicros(row.Time),
			Path:        path,
			Size:        size,
		})
	}
	return nil
}

// ListMilestones returns the Trac milestones keyed by name.
func (r *Reader) ListMilestones(ctx context.Context) (map[string]models.Milestone, error) {
	var rows []struct {
		Name        string         `db:"name"`
		Due         sql.NullInt64  `db:"due"`
		Description sql.NullString `db:"description"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT name, due, description FROM milestone`); err != nil {
		return nil, fmt.Errorf("reading milestones: %w", err)
	}

	milestones := make(map[string]models.Milestone, len(rows))
	for _, row := range rows {
		m := models.Milestone{Name: row.Name, Description: row.Description.String}
		if row.Due.Valid && row.Due.Int64 > 0 {
			due := fromMicros(row.Due)
			m.Due = &due
		}
		milestones[row.Name] = m
	}
	return milestones, nil
}

// ListWikiPageNames returns the distinct wiki page names.
func (r *Reader) ListWikiPageNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := r.db.SelectContext(ctx, &names, `SELECT DISTINCT name FROM wiki ORDER BY name`); err != nil {
		return nil, fmt.Errorf("reading wiki page names: %w", err)
	}
	return names, nil
}

// GetWikiPage returns the latest version of a wiki page. A page with no
// stored versions is returned with Exists set to false.
func (r *Reader) GetWikiPage(ctx context.Context, name string) (models.WikiPage, error) {
	var row struct {
		Version int            `db:"version"`
		Text    sql.NullString `db:"text"`
	}
	err := r.db.GetContext(ctx, &row,
		r.db.Rebind(`SELECT version, text FROM wiki WHERE name = ? ORDER BY version DESC LIMIT 1`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.WikiPage{Name: name}, nil
	}
	if err != nil {
		return models.WikiPage{}, fmt.Errorf("reading wiki page %s: %w", name, err)
	}
	return models.WikiPage{Name: name, Exists: true, Version: row.Version, Text: row.Text.String}, nil
}

// fromMicros converts a Trac timestamp (microseconds since the epoch) to UTC.
func fromMicros(v sql.NullInt64) time.Time {
	if !v.Valid || v.Int64 == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v.Int64).UTC()
}
