// Package sqlitestore persists access state snapshots in a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flemzord/relaybot/internal/access"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const defaultBusyTimeout = 5000 // milliseconds

// Persister implements access.Persister on a single-row table. Each save
// replaces the row inside a transaction.
type Persister struct {
	db  *sql.DB
	now func() time.Time
}

var _ access.Persister = (*Persister)(nil)

// Open opens (or creates) the database at path.
//
// The database uses WAL mode, a 5 s busy timeout and a single connection,
// and the schema is migrated automatically.
func Open(ctx context.Context, path string) (*Persister, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Persister{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (p *Persister) Close() error {
	return p.db.Close()
}

// Load implements access.Persister.
func (p *Persister) Load(ctx context.Context) (*access.State, error) {
	var body string
	err := p.db.QueryRowContext(ctx, `SELECT body FROM access_state WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read state: %w", err)
	}
	var st access.State
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		return nil, fmt.Errorf("sqlite: decode state: %w", err)
	}
	return &st, nil
}

// Save implements access.Persister.
func (p *Persister) Save(ctx context.Context, st *access.State) error {
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("sqlite: encode state: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := p.now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO access_state (id, body, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		string(body), now,
	); err != nil {
		return fmt.Errorf("sqlite: write state: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO access_history (body, saved_at) VALUES (?, ?)`, string(body), now,
	); err != nil {
		return fmt.Errorf("sqlite: write history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM access_history WHERE seq NOT IN (
			SELECT seq FROM access_history ORDER BY seq DESC LIMIT ?
		)`, historyDepth,
	); err != nil {
		return fmt.Errorf("sqlite: prune history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// History returns up to limit previous snapshots, newest first.
func (p *Persister) History(ctx context.Context, limit int) ([]Revision, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT seq, saved_at, body FROM access_history ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Revision
	for rows.Next() {
		var (
			rev     Revision
			savedAt string
			body    string
		)
		if err := rows.Scan(&rev.Seq, &savedAt, &body); err != nil {
			return nil, fmt.Errorf("sqlite: scan history: %w", err)
		}
		rev.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)
		if err := json.Unmarshal([]byte(body), &rev.State); err != nil {
			return nil, fmt.Errorf("sqlite: decode history %d: %w", rev.Seq, err)
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

// Revision is one saved snapshot.
type Revision struct {
	Seq     int64
	SavedAt time.Time
	State   access.State
}
