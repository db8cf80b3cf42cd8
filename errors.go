package rost

import (
	"errors"
	"fmt"

	"github.com/rost-lang/rost/internal/comm"
	"github.com/rost-lang/rost/internal/constants"
)

// TaskError is the structured failure passed to Domain.Fail when a task
// dies. It records which operation failed, the fail code exposed to the
// external interface, and any wrapped cause.
type TaskError struct {
	Op    string
	Code  constants.FailCode
	Inner error
}

func (e *TaskError) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("rost: %s: %s (code=%d): %v", e.Op, e.Code, int(e.Code), e.Inner)
	}
	return fmt.Sprintf("rost: %s: %s (code=%d)", e.Op, e.Code, int(e.Code))
}

// Unwrap returns the wrapped cause, if any, for errors.Is/As support.
func (e *TaskError) Unwrap() error {
	return e.Inner
}

// Is matches another *TaskError with the same Code, mirroring how the
// original runtime compares fail codes rather than error identity.
func (e *TaskError) Is(target error) bool {
	te, ok := target.(*TaskError)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewTaskError creates a TaskError with no wrapped cause.
func NewTaskError(op string, code constants.FailCode) *TaskError {
	return &TaskError{Op: op, Code: code}
}

// WrapTaskError creates a TaskError wrapping an existing error.
func WrapTaskError(op string, code constants.FailCode, inner error) *TaskError {
	return &TaskError{Op: op, Code: code, Inner: inner}
}

// IsFailCode reports whether err is a *TaskError with the given code.
func IsFailCode(err error, code constants.FailCode) bool {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// ErrDomainShutdown describes an operation attempted against a domain
// that has already finished running all its tasks. No function in this
// package returns it.
var ErrDomainShutdown = errors.New("rost: domain has already shut down")

// ErrPortNoOwner is returned by Upcalls.Send when the channel no longer
// addresses a port or the port's owning task has already died; the
// sender is failed rather than the message silently dropped. It is the
// same value as comm.ErrPortNoOwner.
var ErrPortNoOwner = comm.ErrPortNoOwner

// ErrTaskNotFound describes an operation naming a task index that does
// not exist in the domain's task table. No function in this package
// returns it.
var ErrTaskNotFound = errors.New("rost: task not found")
