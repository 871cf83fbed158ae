package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Error(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewIOError("failed to write file", cause).
		WithContext("path", "/tmp/x").
		WithContext("attempt", 2)

	assert.Equal(t, "io: failed to write file [attempt=2, path=/tmp/x]: disk full", err.Error())
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestDomainError_Predicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", NewValidationError("bad", nil), IsValidationError},
		{"io", NewIOError("bad", nil), IsIOError},
		{"not found", NewNotFoundError("bad", nil), IsNotFoundError},
		{"conflict", NewConflictError("bad", nil), IsConflictError},
		{"internal", NewInternalError("bad", nil), IsInternalError},
		{"process", NewProcessError("bad", nil), IsProcessError},
		{"cancelled", NewCancelledError("bad", nil), IsCancelledError},
		{"timeout", NewTimeoutError("bad", nil), IsTimeoutError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.check(wrapped), "predicate should see through fmt wrapping")
		})
	}

	assert.False(t, IsNotFoundError(NewValidationError("bad", nil)))
	assert.False(t, IsValidationError(fmt.Errorf("plain")))
}

func TestDomainError_OuterTypeWins(t *testing.T) {
	inner := NewNotFoundError("app not found", nil)
	outer := NewValidationError("invalid request", inner)

	assert.True(t, IsValidationError(outer))
	assert.True(t, stderrors.Is(outer, &DomainError{Type: ErrorTypeNotFound}))
}

func TestErrorCollection(t *testing.T) {
	c := NewErrorCollection()
	assert.False(t, c.HasErrors())
	assert.NoError(t, c.ToError())

	c.Add(nil)
	assert.False(t, c.HasErrors())

	c.Add(NewProcessError("first", nil))
	c.Add(NewTimeoutError("second", nil))

	require.True(t, c.HasErrors())
	assert.Len(t, c.Errors(), 2)
	assert.Contains(t, c.Error(), "first")
	assert.Contains(t, c.Error(), "second")
}
