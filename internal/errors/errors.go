// Package errors provides centralized error definitions and error handling utilities
// for the pacer scheduler. It defines the scheduler's failure taxonomy, error types
// with context builders, and classification helpers.
//
// # Taxonomy
//
//   - InvalidInput: a non-callable work item or malformed target rejected at the boundary
//   - TargetInvalid: a stale or dead target detected during validation
//   - CallbackFailure: a panic or error raised inside a dispatched callback
//   - QueueOverflow: a bounded queue evicted or rejected an item
//   - PersistenceCorrupt: a restored blob failed version or structural validation
//
// None of these ever propagate into the host tick loop. Boundary methods report
// InvalidInput by returning false; the remaining kinds are logged and counted.
// The error values exist so that logs, tests and persistence callers can classify
// what happened.
//
// # Usage
//
//	err := errors.NewSchedulerError(errors.KindCallbackFailure, "subscriber panicked", cause).
//	    WithComponent("coalescer").
//	    WithKey("UNIT_HEALTH")
//
//	if errors.Is(err, errors.ErrCallbackFailure) { ... }
//
//	var perr *errors.PersistenceError
//	if errors.As(err, &perr) && perr.Corrupt() { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Kind classifies a scheduler failure.
type Kind int

const (
	KindInvalidInput Kind = iota
	KindTargetInvalid
	KindCallbackFailure
	KindQueueOverflow
	KindPersistenceCorrupt
)

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindTargetInvalid:
		return "target_invalid"
	case KindCallbackFailure:
		return "callback_failure"
	case KindQueueOverflow:
		return "queue_overflow"
	case KindPersistenceCorrupt:
		return "persistence_corrupt"
	default:
		return "unknown"
	}
}

// Sentinel returns the sentinel error that matches k.
func (k Kind) Sentinel() error {
	switch k {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindTargetInvalid:
		return ErrTargetInvalid
	case KindCallbackFailure:
		return ErrCallbackFailure
	case KindQueueOverflow:
		return ErrQueueOverflow
	case KindPersistenceCorrupt:
		return ErrPersistenceCorrupt
	default:
		return nil
	}
}

// defaultSeverity is the severity assigned to a new error of kind k.
func (k Kind) defaultSeverity() Severity {
	switch k {
	case KindInvalidInput:
		return SeverityDebug
	case KindTargetInvalid, KindQueueOverflow:
		return SeverityWarning
	case KindCallbackFailure, KindPersistenceCorrupt:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Scheduler sentinel errors
var (
	// ErrInvalidInput indicates a rejected work item, subscriber or target.
	ErrInvalidInput = New("invalid input")
	// ErrTargetInvalid indicates a tracked target failed its liveness check.
	ErrTargetInvalid = New("target invalid")
	// ErrCallbackFailure indicates a dispatched callback panicked or returned an error.
	ErrCallbackFailure = New("callback failure")
	// ErrQueueOverflow indicates a bounded queue was at capacity.
	ErrQueueOverflow = New("queue overflow")
)

// Persistence sentinel errors
var (
	// ErrPersistenceCorrupt indicates a restored state blob is structurally invalid.
	ErrPersistenceCorrupt = New("persisted state corrupt")
	// ErrVersionMismatch indicates a restored state blob has an unexpected schema version.
	ErrVersionMismatch = New("persisted state version mismatch")
	// ErrStateNotFound indicates no state has been saved yet.
	ErrStateNotFound = New("persisted state not found")
	// ErrStoreClosed indicates the backing store was already closed.
	ErrStoreClosed = New("state store closed")
	// ErrStateLocked indicates another process holds the state directory's lock.
	ErrStateLocked = New("persisted state locked by another process")
)

// -----------------------------------------------------------------------------
// Scheduler Errors
// -----------------------------------------------------------------------------

// SchedulerError describes a failure inside one scheduler component.
//
// Example:
//
//	err := errors.NewSchedulerError(errors.KindTargetInvalid, "target no longer alive", nil).
//	    WithComponent("dirty")
//	fmt.Println(err) // "target_invalid [component=dirty]: target no longer alive"
type SchedulerError struct {
	Kind      Kind
	Component string
	Key       string
	Message   string
	cause     error
	severity  Severity
}

// NewSchedulerError creates a SchedulerError with the default severity for kind.
func NewSchedulerError(kind Kind, message string, cause error) *SchedulerError {
	return &SchedulerError{
		Kind:     kind,
		Message:  message,
		cause:    cause,
		severity: kind.defaultSeverity(),
	}
}

// WithComponent records which component raised the error.
func (e *SchedulerError) WithComponent(component string) *SchedulerError {
	e.Component = component
	return e
}

// WithKey records the event key or target label involved.
func (e *SchedulerError) WithKey(key string) *SchedulerError {
	e.Key = key
	return e
}

// WithSeverity overrides the error severity.
func (e *SchedulerError) WithSeverity(s Severity) *SchedulerError {
	e.severity = s
	return e
}

// Severity returns the error severity.
func (e *SchedulerError) Severity() Severity {
	return e.severity
}

// Error returns the formatted error message.
func (e *SchedulerError) Error() string {
	var parts []string
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("component=%s", e.Component))
	}
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%s", e.Key))
	}

	prefix := e.Kind.String()
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error.
func (e *SchedulerError) Unwrap() error {
	return e.cause
}

// Is matches the sentinel for the error's kind, any *SchedulerError,
// or anything the cause matches.
func (e *SchedulerError) Is(target error) bool {
	if _, ok := target.(*SchedulerError); ok {
		return true
	}
	if s := e.Kind.Sentinel(); s != nil && target == s {
		return true
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// -----------------------------------------------------------------------------
// Persistence Errors
// -----------------------------------------------------------------------------

// PersistenceError describes a failure to load or save learned state.
type PersistenceError struct {
	Op       string // "load" or "save"
	Backend  string // "file", "badger", ...
	Location string
	Version  int
	cause    error
}

// NewPersistenceError creates a PersistenceError for the given operation.
func NewPersistenceError(op string, cause error) *PersistenceError {
	return &PersistenceError{Op: op, cause: cause}
}

// WithBackend records the backend name and location.
func (e *PersistenceError) WithBackend(name, location string) *PersistenceError {
	e.Backend = name
	e.Location = location
	return e
}

// WithVersion records the schema version found in the blob.
func (e *PersistenceError) WithVersion(v int) *PersistenceError {
	e.Version = v
	return e
}

// Corrupt reports whether the failure means the stored state must be discarded.
func (e *PersistenceError) Corrupt() bool {
	return errors.Is(e.cause, ErrPersistenceCorrupt) || errors.Is(e.cause, ErrVersionMismatch)
}

// Error returns the formatted error message.
func (e *PersistenceError) Error() string {
	var parts []string
	if e.Backend != "" {
		parts = append(parts, fmt.Sprintf("backend=%s", e.Backend))
	}
	if e.Location != "" {
		parts = append(parts, fmt.Sprintf("location=%s", e.Location))
	}
	if e.Version != 0 {
		parts = append(parts, fmt.Sprintf("version=%d", e.Version))
	}

	prefix := "state " + e.Op
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix + " failed"
}

// Unwrap returns the underlying error.
func (e *PersistenceError) Unwrap() error {
	return e.cause
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't carry one.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var schedErr *SchedulerError
	if As(err, &schedErr) {
		return schedErr.Severity()
	}

	var persistErr *PersistenceError
	if As(err, &persistErr) && persistErr.Corrupt() {
		return SeverityCritical
	}

	return SeverityError
}

// KindOf returns the kind of a SchedulerError anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var schedErr *SchedulerError
	if As(err, &schedErr) {
		return schedErr.Kind, true
	}
	return 0, false
}

// IsCorrupt reports whether err means persisted state must be discarded.
func IsCorrupt(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrPersistenceCorrupt) || Is(err, ErrVersionMismatch)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to save tuner state")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to dispatch %s", key)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Corruptf returns an ErrPersistenceCorrupt-wrapping error with a formatted reason.
func Corruptf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrPersistenceCorrupt)
}
