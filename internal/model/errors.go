package model

import (
	"errors"
	"fmt"
)

// Error categories per spec §7. Each carries enough context to let a
// caller branch on kind without parsing the message.

type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %v", e.Entity, e.ID)
}

func ErrNotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: id}
}

type ConflictError struct {
	Entity string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Entity, e.Reason)
}

func ErrConflict(entity, reason string) error {
	return &ConflictError{Entity: entity, Reason: reason}
}

type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation: %s", e.Reason)
}

func ErrIntegrity(reason string) error {
	return &IntegrityError{Reason: reason}
}

type CorruptionError struct {
	Reason string
	Cause  error
}

func (e *CorruptionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("corruption: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("corruption: %s", e.Reason)
}

func (e *CorruptionError) Unwrap() error { return e.Cause }

func ErrCorruption(reason string, cause error) error {
	return &CorruptionError{Reason: reason, Cause: cause}
}

type TransientError struct {
	Op    string
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error during %s: %v", e.Op, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

func ErrTransient(op string, cause error) error {
	return &TransientError{Op: op, Cause: cause}
}

// ErrCancelled is returned when a caller's deadline/cancellation signal fires.
var ErrCancelled = errors.New("operation cancelled")

type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s", e.Reason)
}

func ErrConfig(reason string) error {
	return &ConfigError{Reason: reason}
}

// ErrTooManyChunks is an Integrity error: max_chunks would be exceeded.
// Spec §9 Open Question: the source silently truncated; this implementation
// raises an explicit error instead.
func ErrTooManyChunks(memoryID int64, need, max int) error {
	return ErrIntegrity(fmt.Sprintf("memory %d needs %d chunks, exceeds max_chunks=%d", memoryID, need, max))
}

// WrapError attaches context to an error while preserving it for errors.Is/As.
func WrapError(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// IsNotFound, IsConflict, ... are convenience predicates used by callers
// that only care about the category, not the concrete type.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsIntegrity(err error) bool {
	var e *IntegrityError
	return errors.As(err, &e)
}

func IsCorruption(err error) bool {
	var e *CorruptionError
	return errors.As(err, &e)
}

func IsTransient(err error) bool {
	var e *TransientError
	return errors.As(err, &e)
}

func IsConfig(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}
