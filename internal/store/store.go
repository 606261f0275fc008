// ABOUTME: SQLite-backed audit log of administrative actions using modernc.org/sqlite
// ABOUTME: Append-only records keyed by actor/target/time with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store persists administrative action records. It is a pure side-effect
// sink: failures here never reverse an already-committed control-plane
// change.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the audit database at the given path. Parent
// directories are created if needed; the schema is created on first open.
func Open(path string) (*Store, error) {
	logger := slog.Default().With("component", "store")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
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

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("audit store initialized", "path", path)
	return s, nil
}

// createSchema creates the actions table if it doesn't exist.
func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS actions (
			action_id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			target TEXT NOT NULL,
			actor TEXT NOT NULL,
			detail TEXT,
			ts DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_actions_action_actor
			ON actions(action, actor);

		CREATE INDEX IF NOT EXISTS idx_actions_ts
			ON actions(ts);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ActionEntry is a single recorded administrative action.
type ActionEntry struct {
	ID        string
	Action    string // what was done
	Target    string // what it was done to
	Actor     string // who did it
	Detail    string
	Timestamp time.Time
}

// Append records an action. Generates ID and Timestamp if not set.
func (s *Store) Append(ctx context.Context, e *ActionEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO actions (action_id, action, target, actor, detail, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Action,
		e.Target,
		e.Actor,
		e.Detail,
		e.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting action: %w", err)
	}

	s.logger.Debug("recorded action",
		"id", e.ID,
		"action", e.Action,
		"actor", e.Actor,
		"target", e.Target,
	)
	return nil
}

// ActorCount is the number of actions one actor performed.
type ActorCount struct {
	Actor string
	Count int
}

// CountByActor returns per-actor counts for the given action, highest
// first, ties broken by actor.
func (s *Store) CountByActor(ctx context.Context, action string) ([]ActorCount, error) {
	query := `
		SELECT actor, COUNT(*) AS n
		FROM actions
		WHERE action = ?
		GROUP BY actor
		ORDER BY n DESC, actor ASC
	`
	rows, err := s.db.QueryContext(ctx, query, action)
	if err != nil {
		return nil, fmt.Errorf("querying action counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []ActorCount
	for rows.Next() {
		var c ActorCount
		if err := rows.Scan(&c.Actor, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning action count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating action counts: %w", err)
	}
	return counts, nil
}
