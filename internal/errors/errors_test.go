package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	err := &Error{Code: ErrNotFound, Status: 404, Message: "conversation not found: c1"}
	assert.Equal(t, "NOT_FOUND: conversation not found: c1", err.Error())
}

func TestConstructors_StatusAndCode(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		code   ErrorCode
		status int
	}{
		{"not found", NewNotFound("conversation", "c1"), ErrNotFound, 404},
		{"invalid request", NewInvalidRequest("bad"), ErrInvalidRequest, 400},
		{"forbidden", NewForbidden("no"), ErrForbidden, 403},
		{"invalid transition", NewInvalidTransition("c1", "completed", "pending"), ErrInvalidTransition, 409},
		{"draft sent", NewDraftSent("d1"), ErrInvalidTransition, 409},
		{"claim conflict", NewClaimConflict("c1", "stylist-a"), ErrClaimConflict, 409},
		{"conflict", NewConflict("stale"), ErrConflict, 409},
		{"not held", NewNotHeld("c1"), ErrNotHeld, 409},
		{"not claimed", NewNotClaimed("c1", "stylist-b"), ErrNotClaimed, 403},
		{"validation", NewValidationFailed("d1", nil), ErrValidationFailed, 422},
		{"inconsistent", NewInconsistent("mismatch", nil), ErrInconsistent, 409},
		{"transport", NewTransport("draft-d1", fmt.Errorf("boom")), ErrTransport, 502},
		{"timeout", NewTimeout("lock conversation c1", context.DeadlineExceeded), ErrTimeout, 504},
		{"internal", NewInternal(nil), ErrInternal, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
		})
	}
}

func TestNewClaimConflict_Holder(t *testing.T) {
	err := NewClaimConflict("c1", "")
	_, ok := err.Details["claimed_by"]
	assert.False(t, ok)

	err = NewClaimConflict("c1", "stylist-a")
	assert.Equal(t, "stylist-a", err.Details["claimed_by"])
}

func TestNewValidationFailed_CarriesAllViolations(t *testing.T) {
	v := []Violation{
		{Rule: "draft.subject_required", Message: "subject line is required"},
		{Rule: "hero_look.items_required", ModuleID: "m1", Message: "needs an item"},
	}
	err := NewValidationFailed("d1", v)
	assert.Len(t, err.Violations, 2)
	assert.Contains(t, err.Message, "2 validation rule(s)")
}

func TestNewTransport_RetryableAndUnwraps(t *testing.T) {
	cause := fmt.Errorf("provider down")
	err := NewTransport("draft-d1", cause)
	assert.True(t, err.Retryable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "draft-d1", err.Details["idempotency_key"])
}

func TestIs_SeesThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("queue: claim c1: %w", NewClaimConflict("c1", ""))
	assert.True(t, Is(wrapped, ErrClaimConflict))
	assert.False(t, Is(wrapped, ErrNotFound))
	assert.False(t, Is(fmt.Errorf("plain"), ErrInternal))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrNotHeld, CodeOf(NewNotHeld("c1")))
	assert.Equal(t, ErrInternal, CodeOf(fmt.Errorf("plain")))

	e, ok := As(fmt.Errorf("wrap: %w", NewNotFound("draft", "d1")))
	require.True(t, ok)
	assert.Equal(t, "d1", e.Details["id"])
}

func TestNewTimeout_KeepsContextCause(t *testing.T) {
	err := NewTimeout("lock conversation c1", context.DeadlineExceeded)
	assert.True(t, err.Retryable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "TIMEOUT: lock conversation c1: timed out", err.Error())
}
