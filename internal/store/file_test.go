package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledren/cadent/pkg/schema"
)

func TestFileStore_RejectsEscapingRunIDs(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"", ".", "..", "a/b", `a\b`, "../escape"} {
		_, err := s.ReadRecord(ctx, id)
		assert.Error(t, err, "read %q", id)
		assert.Error(t, s.WriteRecord(ctx, id, sampleState()), "write %q", id)
		assert.Error(t, s.DeleteRecord(ctx, id), "delete %q", id)
	}
}

func TestFileStore_WriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.WriteRecord(context.Background(), "r1", sampleState()))

	entries, err := os.ReadDir(filepath.Join(dir, "runs"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "r1.json", entries[0].Name())
}

func TestFileStore_ListIgnoresTempAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.WriteRecord(ctx, "r1", sampleState()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "runs", ".r2-123.tmp"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "runs", "notes.txt"), []byte("x"), 0o644))

	ids, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, ids)
}

func TestFileStore_CorruptRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "runs", "bad.json"), []byte("{torn"), 0o644))

	_, err = s.ReadRecord(context.Background(), "bad")
	require.Error(t, err)
	cerr, ok := err.(*schema.CadentError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeStore, cerr.Code)
}

func TestFileStore_EventLogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.AppendEvent(ctx, &Event{RunID: "r1", Type: EventRunStarted}))
	require.NoError(t, s1.AppendEvent(ctx, &Event{RunID: "r1", Type: EventStepAdvanced}))
	require.NoError(t, s1.Close())

	s2, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s2.AppendEvent(ctx, &Event{RunID: "r1", Type: EventRunCompleted}))

	events, err := s2.GetEvents(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[2].Sequence)
	assert.Equal(t, EventRunCompleted, events[2].Type)
}
