package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ledren/cadent/pkg/schema"
)

// Run event types recorded by the host around engine calls.
const (
	EventRunStarted   = "run_started"
	EventTasksSet     = "tasks_set"
	EventStepAdvanced = "step_advanced"
	EventSummarySet   = "summary_set"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
)

// Event is an immutable entry in a run's append-only event log,
// sequence-numbered per run starting at 1.
type Event struct {
	ID        int64           `json:"id,omitempty"`
	RunID     string          `json:"run_id"`
	StepID    string          `json:"step_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// RunStore is the persistence surface for run records and their event logs.
// All implementations must be safe for concurrent use across runs; a single
// run is owned by one caller at a time.
//
// WriteRecord must be atomic with respect to process crash: a reader never
// observes a partially-written record.
type RunStore interface {
	// ReadRecord returns the persisted state for a run, or (nil, nil) when
	// no record exists yet — the expected case for a run never started.
	ReadRecord(ctx context.Context, runID string) (*schema.WorkflowState, error)
	WriteRecord(ctx context.Context, runID string, st *schema.WorkflowState) error
	DeleteRecord(ctx context.Context, runID string) error
	ListRuns(ctx context.Context) ([]string, error)

	// AppendEvent assigns the next per-run sequence number and records the event.
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)

	Close() error
}

// encodeState serializes a run record. Kept in one place so every backend
// persists the identical document shape.
func encodeState(st *schema.WorkflowState) ([]byte, error) {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "marshal run record").WithCause(err)
	}
	return b, nil
}

// decodeState parses a run record.
func decodeState(data []byte) (*schema.WorkflowState, error) {
	var st schema.WorkflowState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "parse run record").WithCause(err)
	}
	return &st, nil
}
