package localdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nantokaworks/giveaway-draw/internal/shared/logger"
	"github.com/nantokaworks/giveaway-draw/internal/types"
	"go.uber.org/zap"
)

// setupEntriesTable はentriesテーブルを作成
func setupEntriesTable(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			window_id TEXT NOT NULL,
			ticket_number TEXT NOT NULL,
			origin TEXT NOT NULL,
			identity TEXT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			secret_question TEXT NOT NULL DEFAULT '',
			secret_answer TEXT NOT NULL DEFAULT '',
			submitted_at TEXT NOT NULL,
			UNIQUE(window_id, ticket_number)
		)
	`); err != nil {
		logger.Error("Failed to create entries table", zap.Error(err))
		return fmt.Errorf("failed to create entries table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_entries_window_origin ON entries(window_id, origin)`); err != nil {
		logger.Warn("Failed to create entries index", zap.Error(err))
	}

	return nil
}

const selectEntryColumns = `
	SELECT id, window_id, ticket_number, origin, identity,
	       username, phone, secret_question, secret_answer, submitted_at
	FROM entries
`

// CountByOrigin returns how many entries the origin holds in the window.
func (t *Tx) CountByOrigin(ctx context.Context, windowID, origin string) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE window_id = ? AND origin = ?`,
		windowID, origin,
	).Scan(&count)
	if err != nil {
		logger.Error("Failed to count entries by origin", zap.Error(err), zap.String("window_id", windowID))
		return 0, fmt.Errorf("failed to count entries by origin: %w", err)
	}
	return count, nil
}

// TicketExists reports whether the ticket number is already taken in the window.
func (t *Tx) TicketExists(ctx context.Context, windowID, ticketNumber string) (bool, error) {
	var exists int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE window_id = ? AND ticket_number = ?`,
		windowID, ticketNumber,
	).Scan(&exists)
	if err != nil {
		logger.Error("Failed to check ticket number", zap.Error(err), zap.String("window_id", windowID))
		return false, fmt.Errorf("failed to check ticket number: %w", err)
	}
	return exists > 0, nil
}

// InsertEntry appends an entry. An empty ID is filled with a nanoid.
func (t *Tx) InsertEntry(ctx context.Context, entry *types.Entry) error {
	if entry.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate entry id: %w", err)
		}
		entry.ID = id
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO entries (
			id, window_id, ticket_number, origin, identity,
			username, phone, secret_question, secret_answer, submitted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.WindowID,
		entry.TicketNumber,
		entry.Origin,
		entry.Identity,
		entry.Profile.Username,
		entry.Profile.Phone,
		entry.Profile.SecretQuestion,
		entry.Profile.SecretAnswer,
		formatTime(entry.SubmittedAt),
	)
	if err != nil {
		logger.Error("Failed to insert entry",
			zap.String("window_id", entry.WindowID),
			zap.Error(err))
		return fmt.Errorf("failed to insert entry: %w", err)
	}

	logger.Debug("Entry inserted",
		zap.String("window_id", entry.WindowID),
		zap.String("ticket_number", entry.TicketNumber))
	return nil
}

// EntriesFor returns the window's entries inside the transaction.
func (t *Tx) EntriesFor(ctx context.Context, windowID string) ([]types.Entry, error) {
	return entriesFor(ctx, t.tx, windowID)
}

// EntriesFor returns all entries of the window in insertion order.
func (s *Store) EntriesFor(ctx context.Context, windowID string) ([]types.Entry, error) {
	return entriesFor(ctx, s.db, windowID)
}

// CountEntries returns the number of entries in the window.
func (s *Store) CountEntries(ctx context.Context, windowID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE window_id = ?`, windowID).Scan(&count); err != nil {
		logger.Error("Failed to count entries", zap.Error(err), zap.String("window_id", windowID))
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

// FindEntry looks up one ticket of a window.
func (s *Store) FindEntry(ctx context.Context, windowID, ticketNumber string) (*types.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntryColumns+` WHERE window_id = ? AND ticket_number = ?`, windowID, ticketNumber)
	if err != nil {
		logger.Error("Failed to query entry", zap.Error(err))
		return nil, fmt.Errorf("failed to query entry: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query entry: %w", err)
		}
		return nil, ErrEntryNotFound
	}

	entry, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func entriesFor(ctx context.Context, q queryer, windowID string) ([]types.Entry, error) {
	rows, err := q.QueryContext(ctx, selectEntryColumns+` WHERE window_id = ? ORDER BY rowid ASC`, windowID)
	if err != nil {
		logger.Error("Failed to query entries", zap.Error(err), zap.String("window_id", windowID))
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := []types.Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		logger.Error("Error iterating entries", zap.Error(err))
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}

	return entries, nil
}

func scanEntry(rows *sql.Rows) (types.Entry, error) {
	var (
		e           types.Entry
		submittedAt string
	)
	if err := rows.Scan(
		&e.ID,
		&e.WindowID,
		&e.TicketNumber,
		&e.Origin,
		&e.Identity,
		&e.Profile.Username,
		&e.Profile.Phone,
		&e.Profile.SecretQuestion,
		&e.Profile.SecretAnswer,
		&submittedAt,
	); err != nil {
		logger.Error("Failed to scan entry", zap.Error(err))
		return types.Entry{}, fmt.Errorf("failed to scan entry: %w", err)
	}

	t, err := parseTime(submittedAt)
	if err != nil {
		return types.Entry{}, err
	}
	e.SubmittedAt = t
	return e, nil
}

// IsUniqueViolation reports whether err came from the (window_id, ticket_number) constraint.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
