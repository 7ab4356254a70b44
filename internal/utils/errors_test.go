package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredError_IsMatchesByCode(t *testing.T) {
	sentinel := NewError(ErrCodePoolClosed, "pool is closed").Build()
	err := fmt.Errorf("acquire: %w", NewError(ErrCodePoolClosed, "service api closed").Build())

	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, NewError(ErrCodeTaskFailed, "x").Build()))
	assert.Equal(t, ErrCodePoolClosed, CodeOf(err))
}

func TestStructuredError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := WrapError(cause, ErrCodeResourceCreation, "factory failed")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "RESOURCE_CREATION")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestErrorBuilder(t *testing.T) {
	err := NewError(ErrCodeBatchTimeout, "batch exceeded deadline").
		WithSeverity(SeverityWarning).
		WithContext("batch_key", "default").
		WithRetryable(true).
		WithUserMessage("retrying items individually").
		Build()

	assert.Equal(t, SeverityWarning, err.Severity)
	assert.Equal(t, "WARNING", err.Severity.String())
	assert.Equal(t, "default", err.Context["batch_key"])
	assert.True(t, IsRetryableError(err))
	assert.False(t, err.Timestamp.IsZero())
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, ErrCodeInternal, CodeOf(errors.New("plain")))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout text", errors.New("i/o timeout"), true},
		{"429", errors.New("429 Too Many Requests"), true},
		{"not found", errors.New("404 not found"), false},
		{"structured non-retryable", NewError(ErrCodeInvalidConfig, "bad").Build(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestMultiError(t *testing.T) {
	assert.NoError(t, NewMultiError(nil, nil))

	a, b := errors.New("a"), errors.New("b")
	single := NewMultiError(nil, a)
	require.Error(t, single)
	assert.Equal(t, "a", single.Error())

	both := NewMultiError(a, b)
	assert.ErrorIs(t, both, a)
	assert.ErrorIs(t, both, b)
	assert.Contains(t, both.Error(), "multiple errors occurred")
}
