package agent

import (
	"errors"
	"fmt"
)

// Code is a stable error code surfaced to callers.
type Code string

const (
	CodeNoSession          Code = "E_NO_SESSION"
	CodeTargetNotFound     Code = "E_TARGET_NOT_FOUND"
	CodeActionInProgress   Code = "E_ACTION_IN_PROGRESS"
	CodeDelegation         Code = "E_DELEGATION"
	CodeSessionUnavailable Code = "E_SESSION_UNAVAILABLE"
)

var (
	ErrNoSession          = errors.New("no live session")
	ErrTargetNotFound     = errors.New("target not found")
	ErrActionInProgress   = errors.New("another action is in progress")
	ErrDelegationFailure  = errors.New("world operation failed")
	ErrSessionUnavailable = errors.New("session closed during action")
)

var sentinels = map[Code]error{
	CodeNoSession:          ErrNoSession,
	CodeTargetNotFound:     ErrTargetNotFound,
	CodeActionInProgress:   ErrActionInProgress,
	CodeDelegation:         ErrDelegationFailure,
	CodeSessionUnavailable: ErrSessionUnavailable,
}

// ActionError is the typed failure of an executor or perception call.
// errors.Is matches it against the sentinel for its Code.
type ActionError struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if s, ok := sentinels[e.Code]; ok {
		return s.Error()
	}
	return string(e.Code)
}

func (e *ActionError) Unwrap() error { return e.Err }

func (e *ActionError) Is(target error) bool {
	s, ok := sentinels[e.Code]
	return ok && s == target
}

// CodeOf extracts the code from err, or "" when err is not an ActionError.
func CodeOf(err error) Code {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func noSession(op string) error {
	return &ActionError{Code: CodeNoSession, Op: op, Message: ErrNoSession.Error()}
}

func targetNotFound(op, format string, args ...any) error {
	return &ActionError{Code: CodeTargetNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

func inProgress(op, current string) error {
	if current == "" {
		return &ActionError{Code: CodeActionInProgress, Op: op, Message: ErrActionInProgress.Error()}
	}
	return &ActionError{Code: CodeActionInProgress, Op: op, Message: fmt.Sprintf("busy: %s", current)}
}

// delegated keeps the world's message verbatim.
func delegated(op string, err error) error {
	return &ActionError{Code: CodeDelegation, Op: op, Message: err.Error(), Err: err}
}

func sessionLost(op string) error {
	return &ActionError{Code: CodeSessionUnavailable, Op: op, Message: ErrSessionUnavailable.Error()}
}
