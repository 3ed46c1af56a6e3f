// Package domainerrors provides coded errors shared by services and transports.
//
// Services return *Error values (optionally wrapping an infrastructure cause)
// so handlers can translate them into HTTP responses without string matching.
// Authority errors are surfaced verbatim to callers; codes never change meaning
// once published.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers and transports.
type Code string

const (
	// Generic codes.
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInternal           Code = "internal_error"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"

	// Lifecycle codes.
	CodeInvalidState Code = "invalid_state"
	CodeVaultLocked  Code = "vault_locked"
	CodeNotReady     Code = "not_ready"

	// Time-gate codes.
	CodeAttestationCooldown Code = "attestation_cooldown"
	CodeWindowExpired       Code = "window_expired"
	CodeTimelockNotExpired  Code = "timelock_not_expired"

	// Replay codes.
	CodeAlreadyAttested  Code = "already_attested"
	CodeAlreadyVerified  Code = "already_verified"
	CodeAlreadyClaimed   Code = "already_claimed"
	CodeAlreadyCompleted Code = "already_completed"

	// Codec codes.
	CodeInsufficientShares Code = "insufficient_shares"
	CodeInvalidShareFormat Code = "invalid_share_format"

	// Engine codes.
	CodeConsensusStale Code = "consensus_stale"
)

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any coded error with the same code, so errors.Is works against
// a freshly built dErrors.New(code, ...).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying cause.
// A nil cause still yields a coded error so callers can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether any error in the chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is is an alias of HasCode kept for older call sites.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// IsAlreadyDone reports whether err is a replay of an attestation,
// verification, claim or recovery completion.
func IsAlreadyDone(err error) bool {
	switch CodeOf(err) {
	case CodeAlreadyAttested, CodeAlreadyVerified, CodeAlreadyClaimed, CodeAlreadyCompleted:
		return true
	}
	return false
}

// IsTimeGate reports whether err is a cooldown, window or timelock violation.
func IsTimeGate(err error) bool {
	switch CodeOf(err) {
	case CodeAttestationCooldown, CodeWindowExpired, CodeTimelockNotExpired:
		return true
	}
	return false
}

// ToHTTPStatus maps a code to the HTTP status used in error envelopes.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation, CodeInvalidInput,
		CodeInsufficientShares, CodeInvalidShareFormat:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeForbidden:
		// Wrong caller role. Missing credentials never reach a service; the
		// auth middleware answers those with 401 itself.
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvalidState, CodeVaultLocked, CodeNotReady,
		CodeAlreadyAttested, CodeAlreadyVerified, CodeAlreadyClaimed, CodeAlreadyCompleted,
		CodeConsensusStale:
		return http.StatusConflict
	case CodeAttestationCooldown, CodeWindowExpired, CodeTimelockNotExpired:
		return http.StatusUnprocessableEntity
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
