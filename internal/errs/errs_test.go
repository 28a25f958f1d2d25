package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Unwrap_PreservesCause(t *testing.T) {
	cause := errors.New("kv round-trip failed")
	e := Wrap(Timeout, "commit timed out", cause)

	require.NotNil(t, e)
	assert.Equal(t, cause, errors.Unwrap(e))
	assert.True(t, errors.Is(e, cause))
}

func TestError_Error_FormatsKindAndMessage(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		message  string
		expected string
	}{
		{"conflict", Conflict, "write-write conflict on key range", "CONFLICT: write-write conflict on key range"},
		{"access denied", AccessDenied, "evaluateGet rejected", "ACCESS_DENIED: evaluateGet rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.kind, tt.message).Error())
		})
	}
}

func TestError_Is_MatchesByKindOnly(t *testing.T) {
	a := New(UniquenessViolation, "duplicate email").WithDetail("id", "u1")
	b := New(UniquenessViolation, "a different message entirely")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, New(Conflict, "duplicate email")))
}

func TestKind_Retryable(t *testing.T) {
	assert.True(t, Conflict.Retryable())
	assert.True(t, Timeout.Retryable())
	assert.False(t, UniquenessViolation.Retryable())
	assert.False(t, AccessDenied.Retryable())
}

func TestIsRetryable_DirectJoinedAndPlainErrors(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), New(Conflict, "retry me"))
	assert.False(t, IsRetryable(wrapped)) // errors.Join breaks the Unwrap() error chain we walk

	direct := New(Conflict, "retry me")
	assert.True(t, IsRetryable(direct))

	notOurs := errors.New("plain error")
	assert.False(t, IsRetryable(notOurs))
}

func TestKindOf_DefaultsToInternal(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.Equal(t, PlanComplexityExceeded, KindOf(New(PlanComplexityExceeded, "too many enumerations")))
}
