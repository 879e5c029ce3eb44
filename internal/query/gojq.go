// Package query evaluates jq expressions over run documents, letting agents
// filter and reshape state and event queries without a bespoke filter DSL.
package query

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/ledren/cadent/pkg/schema"
)

// Engine compiles and evaluates jq expressions.
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type Engine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewEngine creates a jq query engine with an empty compile cache.
func NewEngine() *Engine {
	return &Engine{cache: make(map[string]*gojq.Code)}
}

// Evaluate compiles (or retrieves from cache) a jq expression and evaluates
// it against the provided document.
//
// jq expressions can produce multiple outputs. When there is exactly one
// output, it is returned directly. When there are multiple outputs, they are
// collected into a slice and returned as []any.
func (e *Engine) Evaluate(ctx context.Context, expression string, doc any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeQuery, "empty jq expression")
	}

	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, doc)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeQuery,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// getOrCompile returns a cached compiled code or compiles and caches a new one.
func (e *Engine) getOrCompile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	parsed, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeQuery,
			"invalid jq expression %q: %s", expression, err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeQuery,
			"compile jq expression %q: %s", expression, err.Error()).WithCause(err)
	}

	e.mu.Lock()
	e.cache[expression] = code
	e.mu.Unlock()
	return code, nil
}
