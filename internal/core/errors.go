package core

import (
	"errors"
	"fmt"
	"syscall"
)

// NotFoundError reports an absent room/participant/producer/consumer.
// Never retried, always surfaced to the caller.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConflictError reports a room that already exists for a given id.
type ConflictError struct {
	Resource string
	ID       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Resource, e.ID)
}

// PreconditionError reports an operation attempted before a required
// prior step, e.g. produce before transport connect.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// InvalidInputError reports a bad kind or incompatible RTP capabilities.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return e.Reason
}

// UpstreamError reports an unreachable external collaborator (the
// translator or call-control service). Logged, never fatal to a call.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsTransient reports whether an engine call failed with a
// connection-reset class error worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, syscall.ECONNRESET)
}

// IsNotFound is a convenience for callers that treat absence as a no-op.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
