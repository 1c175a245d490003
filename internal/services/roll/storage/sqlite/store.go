package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/rollcall/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/rollcall/internal/services/roll/storage"
	"github.com/louisbranch/rollcall/internal/services/roll/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists user state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.UserStore = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// optionalMillis stores the zero time as 0.
func optionalMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return toMillis(value)
}

func fromOptionalMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return fromMillis(value)
}

// Open opens a SQLite user store and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetUser returns the state stored for handle.
func (s *Store) GetUser(ctx context.Context, handle string) (storage.UserState, error) {
	if err := ctx.Err(); err != nil {
		return storage.UserState{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.UserState{}, fmt.Errorf("storage is not configured")
	}
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return storage.UserState{}, fmt.Errorf("handle is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT handle, account, stats_json, stats_loaded_at, updated_at FROM users WHERE handle = ?`,
		handle,
	)
	var (
		state         storage.UserState
		statsJSON     string
		statsLoadedAt int64
		updatedAt     int64
	)
	if err := row.Scan(&state.Handle, &state.Account, &statsJSON, &statsLoadedAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.UserState{}, storage.ErrNotFound
		}
		return storage.UserState{}, fmt.Errorf("get user: %w", err)
	}
	state.UpdatedAt = fromMillis(updatedAt)
	state.StatsLoadedAt = fromOptionalMillis(statsLoadedAt)
	state.Stats = make(map[string]string)
	if err := json.Unmarshal([]byte(statsJSON), &state.Stats); err != nil {
		return storage.UserState{}, fmt.Errorf("decode stats for %s: %w", handle, err)
	}

	defines, err := s.defines(ctx, handle)
	if err != nil {
		return storage.UserState{}, err
	}
	state.Defines = defines
	return state, nil
}

func (s *Store) defines(ctx context.Context, handle string) (map[string]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name, value FROM defines WHERE handle = ?`, handle)
	if err != nil {
		return nil, fmt.Errorf("list defines: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan define: %w", err)
		}
		out[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate defines: %w", err)
	}
	return out, nil
}

// PutUser replaces the stored state for state.Handle.
func (s *Store) PutUser(ctx context.Context, state storage.UserState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	handle := strings.TrimSpace(state.Handle)
	if handle == "" {
		return fmt.Errorf("handle is required")
	}
	stats := state.Stats
	if stats == nil {
		stats = map[string]string{}
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO users (handle, account, stats_json, stats_loaded_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(handle) DO UPDATE SET
		   account = excluded.account,
		   stats_json = excluded.stats_json,
		   stats_loaded_at = excluded.stats_loaded_at,
		   updated_at = excluded.updated_at`,
		handle,
		strings.TrimSpace(state.Account),
		string(statsJSON),
		optionalMillis(state.StatsLoadedAt),
		toMillis(updatedAt),
	); err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM defines WHERE handle = ?`, handle); err != nil {
		return fmt.Errorf("clear defines: %w", err)
	}
	for name, value := range state.Defines {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO defines (handle, name, value) VALUES (?, ?, ?)`,
			handle,
			name,
			value,
		); err != nil {
			return fmt.Errorf("put define %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put user: %w", err)
	}
	return nil
}
