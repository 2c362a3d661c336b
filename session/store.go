package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cli_state (
    server_url            TEXT PRIMARY KEY,
    user_id               TEXT NOT NULL DEFAULT '',
    session_id            TEXT NOT NULL DEFAULT '',
    dump_id               TEXT NOT NULL DEFAULT '',
    last_selected_dump_id TEXT NOT NULL DEFAULT '',
    updated_at            TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE TABLE IF NOT EXISTS identity (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const defaultUserKey = "default_user_id"

// timestampLayout sorts lexically in time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Store persists session State per server URL so that consecutive CLI
// invocations share the active session and dump.
type Store struct {
	db *sqlx.DB
}

type stateRow struct {
	ServerURL string `db:"server_url"`
	Snapshot
	UpdatedAt string `db:"updated_at"`
}

// OpenStore opens or creates the SQLite database at path.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	db, err := sqlx.Connect("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init state schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DefaultUserID returns the user ID generated on first use of the store.
func (s *Store) DefaultUserID(ctx context.Context) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, "SELECT value FROM identity WHERE key = ?", defaultUserKey)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("read default user: %w", err)
	}

	id = uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO identity (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING",
		defaultUserKey, id); err != nil {
		return "", fmt.Errorf("store default user: %w", err)
	}
	// A concurrent invocation may have won the insert.
	if err := s.db.GetContext(ctx, &id, "SELECT value FROM identity WHERE key = ?", defaultUserKey); err != nil {
		return "", fmt.Errorf("read default user: %w", err)
	}
	return id, nil
}

// Load returns the state saved for serverURL, or an empty state for userID
// when none was saved. Saved state belonging to a different user is ignored.
func (s *Store) Load(ctx context.Context, serverURL, userID string) (*State, error) {
	var row stateRow
	err := s.db.GetContext(ctx, &row,
		`SELECT server_url, user_id, session_id, dump_id, last_selected_dump_id, updated_at
         FROM cli_state WHERE server_url = ?`, serverURL)
	if errors.Is(err, sql.ErrNoRows) {
		return NewState(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if userID != "" && row.UserID != userID {
		return NewState(userID), nil
	}
	return FromSnapshot(row.Snapshot), nil
}

// Save stores st for serverURL.
func (s *Store) Save(ctx context.Context, serverURL string, st *State) error {
	row := stateRow{
		ServerURL: serverURL,
		Snapshot:  st.Snapshot(),
		UpdatedAt: time.Now().UTC().Format(timestampLayout),
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO cli_state (server_url, user_id, session_id, dump_id, last_selected_dump_id, updated_at)
         VALUES (:server_url, :user_id, :session_id, :dump_id, :last_selected_dump_id, :updated_at)
         ON CONFLICT(server_url) DO UPDATE SET
             user_id = excluded.user_id,
             session_id = excluded.session_id,
             dump_id = excluded.dump_id,
             last_selected_dump_id = excluded.last_selected_dump_id,
             updated_at = excluded.updated_at`,
		row,
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Clear removes the state saved for serverURL.
func (s *Store) Clear(ctx context.Context, serverURL string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cli_state WHERE server_url = ?", serverURL); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

// Servers lists the server URLs that have saved state.
func (s *Store) Servers(ctx context.Context) ([]string, error) {
	var urls []string
	if err := s.db.SelectContext(ctx, &urls, "SELECT server_url FROM cli_state ORDER BY updated_at DESC, server_url"); err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	return urls, nil
}
