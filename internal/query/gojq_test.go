package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledren/cadent/pkg/schema"
)

func runsDoc() any {
	return map[string]any{
		"runs": []any{
			map[string]any{"id": "r1", "status": "running"},
			map[string]any{"id": "r2", "status": "complete"},
			map[string]any{"id": "r3", "status": "complete"},
		},
	}
}

func TestEvaluate_SingleOutput(t *testing.T) {
	e := NewEngine()
	out, err := e.Evaluate(context.Background(), `.runs | length`, runsDoc())
	require.NoError(t, err)
	assert.Equal(t, 3, out)
}

func TestEvaluate_MultipleOutputsCollected(t *testing.T) {
	e := NewEngine()
	out, err := e.Evaluate(context.Background(),
		`.runs[] | select(.status == "complete") | .id`, runsDoc())
	require.NoError(t, err)
	assert.Equal(t, []any{"r2", "r3"}, out)
}

func TestEvaluate_NoOutput(t *testing.T) {
	e := NewEngine()
	out, err := e.Evaluate(context.Background(), `.runs[] | select(.id == "nope")`, runsDoc())
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestEvaluate_EmptyExpression(t *testing.T) {
	e := NewEngine()
	_, err := e.Evaluate(context.Background(), "", runsDoc())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeQuery, err.(*schema.CadentError).Code)
}

func TestEvaluate_InvalidExpression(t *testing.T) {
	e := NewEngine()
	_, err := e.Evaluate(context.Background(), `.[| bad`, runsDoc())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeQuery, err.(*schema.CadentError).Code)
}

func TestEvaluate_RuntimeError(t *testing.T) {
	e := NewEngine()
	_, err := e.Evaluate(context.Background(), `.runs + 1`, runsDoc())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeQuery, err.(*schema.CadentError).Code)
}

func TestEvaluate_CachesCompiledExpressions(t *testing.T) {
	e := NewEngine()
	for i := 0; i < 3; i++ {
		_, err := e.Evaluate(context.Background(), `.runs | length`, runsDoc())
		require.NoError(t, err)
	}
	assert.Len(t, e.cache, 1)
}
