package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCadentError_Format(t *testing.T) {
	err := NewError(ErrCodeValidation, "bad template")
	assert.Equal(t, "[VALIDATION_ERROR] bad template", err.Error())

	err = NewErrorf(ErrCodeInvalidState, "index %d out of range", 7).WithStep("build")
	assert.Equal(t, "[INVALID_STATE] step build: index 7 out of range", err.Error())
}

func TestCadentError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewError(ErrCodeStore, "write failed").WithCause(cause)
	assert.True(t, errors.Is(err, cause))
}

func TestValidationResult_ToError(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("agents[x]", ErrCodeValidation, "unused")
	assert.True(t, r.Valid())
	assert.NoError(t, r.ToError())

	r.AddError("steps[0]", ErrCodeValidation, "first problem")
	err := r.ToError()
	require.Error(t, err)
	cerr := err.(*CadentError)
	assert.Equal(t, "first problem", cerr.Message)

	r.AddError("steps[1]", ErrCodeValidation, "second problem")
	cerr = r.ToError().(*CadentError)
	assert.Contains(t, cerr.Message, "2 errors")
	assert.Equal(t, 2, cerr.Details["error_count"])
	assert.Equal(t, 1, cerr.Details["warning_count"])
}
