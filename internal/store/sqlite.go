// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: WAL mode, automatic schema creation, parent directory bootstrap.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path. Parent
// directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS secrets (
			name       TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			nonce      BLOB NOT NULL,
			policy     TEXT NOT NULL DEFAULT '',
			skills     TEXT NOT NULL DEFAULT '',
			disabled   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS vault_meta (
			key   TEXT PRIMARY KEY,
			value BLOB NOT NULL
		);

		CREATE TABLE IF NOT EXISTS thread_snapshots (
			thread_id  INTEGER PRIMARY KEY,
			kind       TEXT NOT NULL,
			label      TEXT NOT NULL,
			status     TEXT NOT NULL,
			parent_id  INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS task_audit (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER NOT NULL,
			event   TEXT NOT NULL,
			before  TEXT NOT NULL,
			after   TEXT NOT NULL,
			detail  TEXT,
			ts      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_task_audit_task ON task_audit(task_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// PutSecret inserts or replaces a secret record.
func (s *SQLiteStore) PutSecret(ctx context.Context, rec *SecretRecord) error {
	now := time.Now().UTC().Format(time.RFC3339)
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets (name, value, nonce, policy, skills, disabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			nonce = excluded.nonce,
			policy = excluded.policy,
			skills = excluded.skills,
			disabled = excluded.disabled,
			updated_at = excluded.updated_at
	`, rec.Name, rec.Value, rec.Nonce, rec.Policy, strings.Join(rec.Skills, ","),
		boolToInt(rec.Disabled), created.UTC().Format(time.RFC3339), now)
	if err != nil {
		return fmt.Errorf("storing secret: %w", err)
	}
	s.logger.Debug("stored secret", "name", rec.Name)
	return nil
}

// GetSecret retrieves one secret record by name.
func (s *SQLiteStore) GetSecret(ctx context.Context, name string) (*SecretRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, value, nonce, policy, skills, disabled, created_at, updated_at
		FROM secrets WHERE name = ?
	`, name)
	return scanSecret(row.Scan)
}

// ListSecrets returns all secret records ordered by name.
func (s *SQLiteStore) ListSecrets(ctx context.Context) ([]*SecretRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value, nonce, policy, skills, disabled, created_at, updated_at
		FROM secrets ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("querying secrets: %w", err)
	}
	defer rows.Close()

	var out []*SecretRecord
	for rows.Next() {
		rec, err := scanSecret(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanSecret(scan func(...any) error) (*SecretRecord, error) {
	var rec SecretRecord
	var skills, createdAt, updatedAt string
	var disabled int

	err := scan(&rec.Name, &rec.Value, &rec.Nonce, &rec.Policy, &skills, &disabled, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning secret: %w", err)
	}
	if skills != "" {
		rec.Skills = strings.Split(skills, ",")
	}
	rec.Disabled = disabled != 0
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

// DeleteSecret removes a secret. Returns ErrNotFound if absent.
func (s *SQLiteStore) DeleteSecret(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	s.logger.Debug("deleted secret", "name", name)
	return nil
}

// GetMeta retrieves a vault metadata value.
func (s *SQLiteStore) GetMeta(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM vault_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying vault meta: %w", err)
	}
	return value, nil
}

// SetMeta stores a vault metadata value.
func (s *SQLiteStore) SetMeta(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO vault_meta (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("storing vault meta: %w", err)
	}
	return nil
}

// DeleteMeta removes a vault metadata value. Absent keys are not an error.
func (s *SQLiteStore) DeleteMeta(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vault_meta WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting vault meta: %w", err)
	}
	return nil
}

// UpsertThreadSnapshot saves or updates a thread snapshot.
func (s *SQLiteStore) UpsertThreadSnapshot(ctx context.Context, snap *ThreadSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO thread_snapshots (thread_id, kind, label, status, parent_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.ThreadID, snap.Kind, snap.Label, snap.Status, snap.ParentID,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving thread snapshot: %w", err)
	}
	return nil
}

// ListThreadSnapshots returns all thread snapshots.
func (s *SQLiteStore) ListThreadSnapshots(ctx context.Context) ([]*ThreadSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, kind, label, status, parent_id, updated_at
		FROM thread_snapshots ORDER BY thread_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying thread snapshots: %w", err)
	}
	defer rows.Close()

	var out []*ThreadSnapshot
	for rows.Next() {
		var snap ThreadSnapshot
		var updatedAt string
		if err := rows.Scan(&snap.ThreadID, &snap.Kind, &snap.Label, &snap.Status, &snap.ParentID, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning thread snapshot: %w", err)
		}
		snap.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, &snap)
	}
	return out, rows.Err()
}

// DeleteThreadSnapshot removes a snapshot. Returns ErrNotFound if absent.
func (s *SQLiteStore) DeleteThreadSnapshot(ctx context.Context, threadID uint64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM thread_snapshots WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("deleting thread snapshot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTaskAudit appends one task transition to the audit trail.
func (s *SQLiteStore) AppendTaskAudit(ctx context.Context, audit *TaskAudit) error {
	ts := audit.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_audit (task_id, event, before, after, detail, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, audit.TaskID, audit.Event, audit.Before, audit.After,
		nullString(audit.Detail), ts.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("appending task audit: %w", err)
	}
	return nil
}

// ListTaskAudit returns the audit trail for one task in append order.
func (s *SQLiteStore) ListTaskAudit(ctx context.Context, taskID uint64) ([]*TaskAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, event, before, after, detail, ts
		FROM task_audit WHERE task_id = ? ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying task audit: %w", err)
	}
	defer rows.Close()

	var out []*TaskAudit
	for rows.Next() {
		var a TaskAudit
		var detail sql.NullString
		var ts string
		if err := rows.Scan(&a.TaskID, &a.Event, &a.Before, &a.After, &detail, &ts); err != nil {
			return nil, fmt.Errorf("scanning task audit: %w", err)
		}
		a.Detail = detail.String
		a.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullString returns nil for empty strings, otherwise the string itself.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*SQLiteStore)(nil)
