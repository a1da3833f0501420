package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nantokaworks/giveaway-draw/internal/shared/logger"
	"github.com/nantokaworks/giveaway-draw/internal/types"
	"go.uber.org/zap"
)

// setupDrawsTable はdrawsテーブルを作成
func setupDrawsTable(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS draws (
			window_id TEXT PRIMARY KEY,
			picked_at TEXT,
			winner_ticket TEXT,
			winner_payload TEXT,
			message TEXT,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		logger.Error("Failed to create draws table", zap.Error(err))
		return fmt.Errorf("failed to create draws table: %w", err)
	}
	return nil
}

const selectDrawColumns = `
	SELECT window_id, picked_at, winner_ticket, winner_payload, message, created_at
	FROM draws
`

// GetDraw loads a record inside the transaction.
func (t *Tx) GetDraw(ctx context.Context, windowID string) (*types.DrawRecord, error) {
	return getDraw(ctx, t.tx, windowID)
}

// EnsureDraw creates an empty record for the window if none exists.
func (t *Tx) EnsureDraw(ctx context.Context, windowID string, now time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO draws (window_id, created_at) VALUES (?, ?)`,
		windowID, formatTime(now),
	)
	if err != nil {
		logger.Error("Failed to ensure draw record", zap.Error(err), zap.String("window_id", windowID))
		return fmt.Errorf("failed to ensure draw record: %w", err)
	}
	return nil
}

// CommitPick freezes the record. The update only applies while picked_at is
// still NULL; otherwise ErrAlreadyPicked is returned and nothing changes.
func (t *Tx) CommitPick(ctx context.Context, record types.DrawRecord) error {
	if record.PickedAt == nil {
		return errors.New("commit pick requires picked_at")
	}

	var payload, winnerTicket, message sql.NullString
	if record.WinnerDetails != nil {
		b, err := json.Marshal(record.WinnerDetails)
		if err != nil {
			return fmt.Errorf("failed to marshal winner details: %w", err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}
	if record.WinnerTicket != "" {
		winnerTicket = sql.NullString{String: record.WinnerTicket, Valid: true}
	}
	if record.Message != "" {
		message = sql.NullString{String: record.Message, Valid: true}
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE draws
		SET picked_at = ?, winner_ticket = ?, winner_payload = ?, message = ?
		WHERE window_id = ? AND picked_at IS NULL
	`, formatTime(*record.PickedAt), winnerTicket, payload, message, record.WindowID)
	if err != nil {
		logger.Error("Failed to commit pick", zap.Error(err), zap.String("window_id", record.WindowID))
		return fmt.Errorf("failed to commit pick: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrAlreadyPicked
	}
	return nil
}

// GetDraw returns the committed record or ErrDrawNotFound.
func (s *Store) GetDraw(ctx context.Context, windowID string) (*types.DrawRecord, error) {
	return getDraw(ctx, s.db, windowID)
}

// ListDraws returns records ordered by numeric window id, newest first.
func (s *Store) ListDraws(ctx context.Context, offset, limit int) ([]types.DrawRecord, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		selectDrawColumns+` ORDER BY CAST(window_id AS INTEGER) DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		logger.Error("Failed to query draws", zap.Error(err))
		return nil, fmt.Errorf("failed to query draws: %w", err)
	}
	defer rows.Close()

	records := []types.DrawRecord{}
	for rows.Next() {
		r, err := scanDraw(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		logger.Error("Error iterating draws", zap.Error(err))
		return nil, fmt.Errorf("failed to iterate draws: %w", err)
	}
	return records, nil
}

func (s *Store) CountDraws(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM draws`).Scan(&count); err != nil {
		logger.Error("Failed to count draws", zap.Error(err))
		return 0, fmt.Errorf("failed to count draws: %w", err)
	}
	return count, nil
}

func getDraw(ctx context.Context, q queryer, windowID string) (*types.DrawRecord, error) {
	rows, err := q.QueryContext(ctx, selectDrawColumns+` WHERE window_id = ?`, windowID)
	if err != nil {
		logger.Error("Failed to query draw", zap.Error(err), zap.String("window_id", windowID))
		return nil, fmt.Errorf("failed to query draw: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query draw: %w", err)
		}
		return nil, ErrDrawNotFound
	}
	return scanDraw(rows)
}

func scanDraw(rows *sql.Rows) (*types.DrawRecord, error) {
	var (
		r                                        types.DrawRecord
		pickedAt, winnerTicket, payload, message sql.NullString
		createdAt                                string
	)
	if err := rows.Scan(&r.WindowID, &pickedAt, &winnerTicket, &payload, &message, &createdAt); err != nil {
		logger.Error("Failed to scan draw", zap.Error(err))
		return nil, fmt.Errorf("failed to scan draw: %w", err)
	}

	if pickedAt.Valid {
		t, err := parseTime(pickedAt.String)
		if err != nil {
			return nil, err
		}
		r.PickedAt = &t
	}
	if payload.Valid && payload.String != "" {
		var details types.WinnerDetails
		if err := json.Unmarshal([]byte(payload.String), &details); err != nil {
			logger.Warn("Failed to decode winner details", zap.Error(err), zap.String("window_id", r.WindowID))
		} else {
			r.WinnerDetails = &details
		}
	}
	r.WinnerTicket = winnerTicket.String
	r.Message = message.String

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = created
	return &r, nil
}
