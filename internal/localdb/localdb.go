package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nantokaworks/giveaway-draw/internal/shared/logger"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"go.uber.org/zap"
)

const (
	driverSQLite = "sqlite3"
	driverLibSQL = "libsql"

	timeLayout = time.RFC3339Nano
)

var (
	ErrDrawNotFound  = errors.New("draw not found")
	ErrEntryNotFound = errors.New("entry not found")
	ErrAlreadyPicked = errors.New("draw already picked")
)

// queryer は*sql.DBと*sql.Txの共通部分
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns the entries/draws document. All mutations go through WithTx,
// which serializes writers behind one process-wide mutex and one SQL
// transaction. Reads outside WithTx see the last committed snapshot.
type Store struct {
	db      *sql.DB
	driver  string
	writeMu sync.Mutex
}

// Open は DSN に応じてドライバーを選んでDBを開き、テーブルを作成する。
// libsql:// と https:// はTurso(libsql)、それ以外はローカルのSQLiteファイル。
func Open(dsn, authToken string) (*Store, error) {
	driver, source, err := dataSource(dsn, authToken)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == driverSQLite {
		// SQLiteは単一ライターなので接続プールを1に制限
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.setupTables(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Database initialized", zap.String("driver", driver))
	return s, nil
}

func dataSource(dsn, authToken string) (string, string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", "", errors.New("empty database dsn")
	}

	if strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "https://") {
		if authToken == "" {
			return driverLibSQL, dsn, nil
		}
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("invalid database url: %w", err)
		}
		q := u.Query()
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
		return driverLibSQL, u.String(), nil
	}

	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", "", fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	// WALモードとBusy Timeoutを設定（Race Condition対策）。トランザクションは即座に書き込みロックを取る
	return driverSQLite, dsn + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", nil
}

func (s *Store) setupTables() error {
	if err := setupEntriesTable(s.db); err != nil {
		return err
	}
	if err := setupDrawsTable(s.db); err != nil {
		return err
	}

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS scheduler_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_draw_check TEXT
	)`); err != nil {
		logger.Error("Failed to create scheduler_state table", zap.Error(err))
		return fmt.Errorf("failed to create scheduler_state table: %w", err)
	}

	return nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is a write transaction handed to WithTx callbacks.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside the store's single write critical section. The
// transaction commits when fn returns nil and rolls back otherwise,
// including when fn panics.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			logger.Warn("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SetLastDrawCheck は最後にスケジューラが確認した時刻を記録する（診断用）
func (s *Store) SetLastDrawCheck(ctx context.Context, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_state (id, last_draw_check) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_draw_check = excluded.last_draw_check
	`, formatTime(at))
	if err != nil {
		logger.Error("Failed to update last draw check", zap.Error(err))
		return fmt.Errorf("failed to update last draw check: %w", err)
	}
	return nil
}

// LastDrawCheck returns the last recorded scheduler check. ok is false when
// the scheduler has never run.
func (s *Store) LastDrawCheck(ctx context.Context) (time.Time, bool, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT last_draw_check FROM scheduler_state WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !raw.Valid) {
		return time.Time{}, false, nil
	}
	if err != nil {
		logger.Error("Failed to get last draw check", zap.Error(err))
		return time.Time{}, false, fmt.Errorf("failed to get last draw check: %w", err)
	}

	t, err := parseTime(raw.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", raw, err)
	}
	return t, nil
}
