// Package errors defines the coded error taxonomy shared by the queue, draft
// and API layers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrForbidden         ErrorCode = "FORBIDDEN"          // 403
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION" // 409
	ErrClaimConflict     ErrorCode = "CLAIM_CONFLICT"     // 409
	ErrConflict          ErrorCode = "CONFLICT"           // 409, stale version
	ErrNotHeld           ErrorCode = "NOT_HELD"           // 409
	ErrNotClaimed        ErrorCode = "NOT_CLAIMED"        // 403
	ErrValidationFailed  ErrorCode = "VALIDATION_FAILED"  // 422
	ErrInconsistent      ErrorCode = "INCONSISTENT"       // 409
	ErrTransport         ErrorCode = "TRANSPORT_ERROR"    // 502
	ErrTimeout           ErrorCode = "TIMEOUT"            // 504, nothing changed
	ErrInternal          ErrorCode = "INTERNAL"           // 500
)

// Violation is a single failed content rule.
type Violation struct {
	Rule     string `json:"rule"`
	ModuleID string `json:"module_id,omitempty"`
	Message  string `json:"message"`
}

// Error is a structured error with code, HTTP status and details.
type Error struct {
	Code       ErrorCode
	Status     int
	Message    string
	Details    map[string]any
	Violations []Violation
	Retryable  bool

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// NewNotFound reports a missing entity.
func NewNotFound(kind, id string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewInvalidRequest reports a malformed request.
func NewInvalidRequest(msg string) *Error {
	return &Error{Code: ErrInvalidRequest, Status: 400, Message: msg}
}

// NewForbidden reports a caller whose role does not permit the action.
func NewForbidden(msg string) *Error {
	return &Error{Code: ErrForbidden, Status: 403, Message: msg}
}

// NewInvalidTransition reports a lifecycle move outside the transition table.
func NewInvalidTransition(id, from, to string) *Error {
	return &Error{
		Code:    ErrInvalidTransition,
		Status:  409,
		Message: fmt.Sprintf("conversation %s: invalid transition from %q to %q", id, from, to),
		Details: map[string]any{"conversation_id": id, "from": from, "to": to},
	}
}

// NewDraftSent reports an edit to a draft that has already been sent.
func NewDraftSent(draftID string) *Error {
	return &Error{
		Code:    ErrInvalidTransition,
		Status:  409,
		Message: fmt.Sprintf("draft %s has already been sent", draftID),
		Details: map[string]any{"draft_id": draftID},
	}
}

// NewClaimConflict reports a lost claim race.
func NewClaimConflict(id, holder string) *Error {
	details := map[string]any{"conversation_id": id}
	if holder != "" {
		details["claimed_by"] = holder
	}
	return &Error{
		Code:    ErrClaimConflict,
		Status:  409,
		Message: fmt.Sprintf("conversation %s is already claimed", id),
		Details: details,
	}
}

// NewConflict reports a concurrent modification detected by version check.
func NewConflict(msg string) *Error {
	return &Error{Code: ErrConflict, Status: 409, Message: msg, Retryable: true}
}

// NewNotHeld reports a release without a live claim.
func NewNotHeld(id string) *Error {
	return &Error{
		Code:    ErrNotHeld,
		Status:  409,
		Message: fmt.Sprintf("no live claim on conversation %s", id),
		Details: map[string]any{"conversation_id": id},
	}
}

// NewNotClaimed reports a draft operation by a stylist without the claim.
func NewNotClaimed(id, stylistID string) *Error {
	return &Error{
		Code:    ErrNotClaimed,
		Status:  403,
		Message: fmt.Sprintf("conversation %s is not claimed by %s", id, stylistID),
		Details: map[string]any{"conversation_id": id, "stylist_id": stylistID},
	}
}

// NewValidationFailed carries every violated content rule.
func NewValidationFailed(draftID string, violations []Violation) *Error {
	return &Error{
		Code:       ErrValidationFailed,
		Status:     422,
		Message:    fmt.Sprintf("draft %s failed %d validation rule(s)", draftID, len(violations)),
		Details:    map[string]any{"draft_id": draftID},
		Violations: violations,
	}
}

// NewInconsistent reports a structural edit that does not match current state.
func NewInconsistent(msg string, details map[string]any) *Error {
	return &Error{Code: ErrInconsistent, Status: 409, Message: msg, Details: details}
}

// NewTransport wraps an email transport failure. Callers retry with the same
// idempotency key.
func NewTransport(idempotencyKey string, err error) *Error {
	msg := "email transport failed"
	if err != nil {
		msg = fmt.Sprintf("email transport failed: %v", err)
	}
	return &Error{
		Code:      ErrTransport,
		Status:    502,
		Message:   msg,
		Details:   map[string]any{"idempotency_key": idempotencyKey},
		Retryable: true,
		cause:     err,
	}
}

// NewTimeout reports an operation that gave up before committing, leaving
// state untouched. err is the context error.
func NewTimeout(op string, err error) *Error {
	return &Error{
		Code:      ErrTimeout,
		Status:    504,
		Message:   fmt.Sprintf("%s: timed out", op),
		Retryable: true,
		cause:     err,
	}
}

// NewInternal wraps an unexpected failure.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: ErrInternal, Status: 500, Message: msg, cause: err}
}

// As extracts an *Error from err, looking through wrapping.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is checks whether err is, or wraps, an *Error with the given code.
func Is(err error, code ErrorCode) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// CodeOf returns the code of err, or ErrInternal for uncoded errors.
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ErrInternal
}
