package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/ledren/cadent/pkg/schema"
)

// LibSQLStore implements RunStore on libSQL (embedded SQLite fork). Record
// replacement happens inside a transaction, which gives the same
// no-torn-reads guarantee the file backend gets from atomic rename.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum reclaims space from deleted records and compacted event logs.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *LibSQLStore) ReadRecord(ctx context.Context, runID string) (*schema.WorkflowState, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM runs WHERE id = ?`, runID,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "read run record: %s", err.Error()).WithCause(err)
	}
	return decodeState([]byte(stateJSON))
}

func (s *LibSQLStore) WriteRecord(ctx context.Context, runID string, st *schema.WorkflowState) error {
	if runID == "" {
		return schema.NewError(schema.ErrCodeStore, "empty run id")
	}
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, state, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		runID, string(data), now, now,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "write run record: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) DeleteRecord(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "begin delete: %s", err.Error()).WithCause(err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete run record: %s", err.Error()).WithCause(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE run_id = ?`, runID); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete run events: %s", err.Error()).WithCause(err)
	}
	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "commit delete: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY id`)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list runs: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan run id: %s", err.Error()).WithCause(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendEvent appends an event with a monotonically increasing per-run
// sequence, read and written inside one transaction.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "begin append: %s", err.Error()).WithCause(err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "next sequence: %s", err.Error()).WithCause(err)
	}
	event.Sequence = seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var payload any
	if len(event.Payload) > 0 {
		payload = string(event.Payload)
	}
	var stepID any
	if event.StepID != "" {
		stepID = event.StepID
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, step_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, stepID, event.Type, payload, event.Timestamp, seq,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "insert event: %s", err.Error()).WithCause(err)
	}

	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "commit event: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step_id, event_type, payload, timestamp, sequence
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "query events: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stepID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &stepID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan event: %s", err.Error()).WithCause(err)
		}
		e.StepID = stepID.String
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }
