package store

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ledren/cadent/pkg/schema"
)

// FileStore persists one JSON record per run under dir/runs and an NDJSON
// event log per run under dir/events.
//
// Records are written to a temporary file first and moved into place with a
// single atomic rename, so a crash mid-write never leaves a torn record.
type FileStore struct {
	dir string

	mu sync.Mutex // serializes event-log appends
}

// NewFileStore creates the store layout under dir.
func NewFileStore(dir string) (*FileStore, error) {
	for _, sub := range []string{"runs", "events"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "create store dir: %s", err.Error()).WithCause(err)
		}
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) recordPath(runID string) string {
	return filepath.Join(s.dir, "runs", runID+".json")
}

func (s *FileStore) eventsPath(runID string) string {
	return filepath.Join(s.dir, "events", runID+".ndjson")
}

// validRunID rejects ids that would escape the store directory.
func validRunID(runID string) error {
	if runID == "" || strings.ContainsAny(runID, "/\\") || runID == "." || runID == ".." {
		return schema.NewErrorf(schema.ErrCodeStore, "invalid run id %q", runID)
	}
	return nil
}

// ReadRecord returns (nil, nil) when no record exists yet.
func (s *FileStore) ReadRecord(_ context.Context, runID string) (*schema.WorkflowState, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.recordPath(runID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "read run record: %s", err.Error()).WithCause(err)
	}
	return decodeState(data)
}

// WriteRecord atomically replaces the run record.
func (s *FileStore) WriteRecord(_ context.Context, runID string, st *schema.WorkflowState) error {
	if err := validRunID(runID); err != nil {
		return err
	}
	data, err := encodeState(st)
	if err != nil {
		return err
	}

	final := s.recordPath(runID)
	tmp, err := os.CreateTemp(filepath.Dir(final), "."+runID+"-*.tmp")
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "create temp record: %s", err.Error()).WithCause(err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return schema.NewErrorf(schema.ErrCodeStore, "write temp record: %s", err.Error()).WithCause(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return schema.NewErrorf(schema.ErrCodeStore, "sync temp record: %s", err.Error()).WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return schema.NewErrorf(schema.ErrCodeStore, "close temp record: %s", err.Error()).WithCause(err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return schema.NewErrorf(schema.ErrCodeStore, "replace run record: %s", err.Error()).WithCause(err)
	}
	return nil
}

// DeleteRecord removes a run record and its event log. Missing files are
// not an error.
func (s *FileStore) DeleteRecord(_ context.Context, runID string) error {
	if err := validRunID(runID); err != nil {
		return err
	}
	for _, p := range []string{s.recordPath(runID), s.eventsPath(runID)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return schema.NewErrorf(schema.ErrCodeStore, "delete run record: %s", err.Error()).WithCause(err)
		}
	}
	return nil
}

// ListRuns returns the ids of all persisted runs, sorted.
func (s *FileStore) ListRuns(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "runs"))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list runs: %s", err.Error()).WithCause(err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// AppendEvent appends one NDJSON line with the next per-run sequence.
func (s *FileStore) AppendEvent(ctx context.Context, event *Event) error {
	if err := validRunID(event.RunID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readEvents(event.RunID)
	if err != nil {
		return err
	}
	event.Sequence = int64(len(existing)) + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal event").WithCause(err)
	}

	f, err := os.OpenFile(s.eventsPath(event.RunID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "open event log: %s", err.Error()).WithCause(err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "append event: %s", err.Error()).WithCause(err)
	}
	return nil
}

// GetEvents returns events with sequence > since, ordered by sequence.
func (s *FileStore) GetEvents(_ context.Context, runID string, since int64) ([]*Event, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	all, err := s.readEvents(runID)
	if err != nil {
		return nil, err
	}
	var out []*Event
	for _, e := range all {
		if e.Sequence > since {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *FileStore) readEvents(runID string) ([]*Event, error) {
	f, err := os.Open(s.eventsPath(runID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "open event log: %s", err.Error()).WithCause(err)
	}
	defer f.Close()

	var events []*Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "parse event log line").WithCause(err)
		}
		events = append(events, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "scan event log: %s", err.Error()).WithCause(err)
	}
	return events, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }
