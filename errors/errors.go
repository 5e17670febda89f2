// Package errors provides the structured error types shared by the queue,
// the durable stores, the transport and the sync engine.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNetworkFailure    ErrorCode = "NETWORK_FAILURE"
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
	ErrCodeRejected          ErrorCode = "REJECTED"
	ErrCodeAuthFailure       ErrorCode = "AUTH_FAILURE"
)

// Operation represents the operation during which an error occurred
type Operation string

const (
	OpEnqueue   Operation = "enqueue"
	OpPersist   Operation = "persist"
	OpLoad      Operation = "load"
	OpDrain     Operation = "drain"
	OpSend      Operation = "send"
	OpFetch     Operation = "fetch"
	OpReport    Operation = "report"
	OpSubmit    Operation = "submit"
	OpConfig    Operation = "config"
	OpTransport Operation = "transport"
	OpClose     Operation = "close"
)

// Kind groups errors by how callers are expected to react to them.
type Kind string

const (
	KindOther       Kind = ""
	KindInvalid     Kind = "invalid"
	KindNotFound    Kind = "not_found"
	KindUnavailable Kind = "unavailable"
	KindRejected    Kind = "rejected"
	KindInternal    Kind = "internal"
)

// SyncError represents an error raised by one of the sync components
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "transport")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Kind classifies the error for callers
	Kind Kind

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// WithMetadata returns e after recording key=value in its metadata.
func (e *SyncError) WithMetadata(key string, value interface{}) *SyncError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Kind:      KindInternal,
		Retryable: true,
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Kind:      KindInvalid,
		Retryable: false,
	}
}

// NewNetworkError creates a new network-related SyncError. The request never
// produced a response, so the mutation it carried must be kept.
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Kind:      KindUnavailable,
		Retryable: true,
	}
}

// NewRejectedError creates an error for a definitive server-side rejection.
func NewRejectedError(op Operation, status int, detail string) *SyncError {
	e := &SyncError{
		Code:      ErrCodeRejected,
		Op:        op,
		Component: "remote",
		Err:       fmt.Errorf("server rejected request (status %d): %s", status, detail),
		Kind:      KindRejected,
		Retryable: false,
	}
	return e.WithMetadata("status", status).WithMetadata("detail", detail)
}

// NewAuthError creates an error for a missing or refused credential.
func NewAuthError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeAuthFailure,
		Op:        op,
		Component: "auth",
		Err:       cause,
		Kind:      KindUnavailable,
		Retryable: true,
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError with component information
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewRetryable creates a new retryable SyncError
func NewRetryable(op Operation, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// IsNetwork reports whether err is a transient network-class failure.
func IsNetwork(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code == ErrCodeNetworkFailure
	}
	return false
}

// IsRejected reports whether err is a definitive server rejection.
func IsRejected(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code == ErrCodeRejected
	}
	return false
}

// StatusCode returns the HTTP status recorded on a rejection, or 0.
func StatusCode(err error) int {
	var syncErr *SyncError
	if errors.As(err, &syncErr) && syncErr.Metadata != nil {
		if s, ok := syncErr.Metadata["status"].(int); ok {
			return s
		}
	}
	return 0
}

// Class is the coarse failure taxonomy the engine acts on.
type Class string

const (
	ClassNone        Class = "none"
	ClassTransient   Class = "transient"
	ClassRejected    Class = "rejected"
	ClassPersistence Class = "persistence"
	ClassOther       Class = "other"
)

// Classify maps err onto the failure taxonomy.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		return ClassOther
	}
	switch syncErr.Code {
	case ErrCodeNetworkFailure:
		return ClassTransient
	case ErrCodeRejected:
		return ClassRejected
	case ErrCodeStorageFailure:
		return ClassPersistence
	}
	if syncErr.Retryable {
		return ClassTransient
	}
	return ClassOther
}

// E builds a SyncError from an arbitrary list of arguments. Recognised
// argument types are Op, Component, Kind, ErrorCode, error and string; strings
// are joined into the message of the wrapped error.
func E(args ...interface{}) error {
	e := &SyncError{}
	var msgs []string
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = Operation(a)
		case Operation:
			e.Op = a
		case Component:
			e.Component = string(a)
		case Kind:
			e.Kind = a
		case ErrorCode:
			e.Code = a
		case *SyncError:
			e.Err = a
			if e.Kind == KindOther {
				e.Kind = a.Kind
			}
			if e.Code == "" {
				e.Code = a.Code
			}
			e.Retryable = a.Retryable
		case error:
			e.Err = a
		case string:
			msgs = append(msgs, a)
		}
	}
	if len(msgs) > 0 {
		msg := strings.Join(msgs, ": ")
		if e.Err != nil {
			e.Err = fmt.Errorf("%s: %w", msg, e.Err)
		} else {
			e.Err = errors.New(msg)
		}
	}
	if e.Err == nil {
		e.Err = errors.New("unknown error")
	}
	return e
}

// Op is a builder argument naming an operation.
type Op string

// Component is a builder argument naming a component.
type Component string
