// Package errors provides the error definitions for infoset.
//
// This file provides:
//   - Sentinel errors for the drain failure taxonomy
//   - Error category checking functions
//   - Error wrapping utilities
//   - A collector for multiple validation errors
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Input errors. Both collapse to "invalid" and lead to quarantine.
	ErrRead   = errors.New("unreadable snapshot")
	ErrSchema = errors.New("snapshot schema violation")

	// ErrIdentityMismatch marks a file whose name disagrees with its payload.
	// Such files are skipped, neither quarantined nor deleted.
	ErrIdentityMismatch = errors.New("snapshot identity mismatch")

	// ErrStoreWrite wraps any failure while committing a file to the store.
	// The file stays in the spool and is retried on the next sweep.
	ErrStoreWrite = errors.New("store write failed")

	// Spool errors
	ErrInvalidFilename = errors.New("invalid spool filename")
	ErrQuarantine      = errors.New("quarantine failed")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidValue  = errors.New("invalid value")

	// Store errors
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedDriver = errors.New("unsupported store driver")
	ErrStoreClosed       = errors.New("store is closed")

	// Protocol errors
	ErrSNMPError = errors.New("SNMP error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsInvalidInput returns true if err means the snapshot itself is broken.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrRead) || errors.Is(err, ErrSchema)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrSchema)
}

// IsRetriable returns true if the same file may succeed on a later sweep.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrStoreWrite) ||
		errors.Is(err, ErrSNMPError) ||
		errors.Is(err, ErrIdentityMismatch)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidValue)
}

// NewStoreWrite wraps a store failure for one operation.
func NewStoreWrite(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreWrite, err)
}

// NewIdentityMismatch describes a filename/payload disagreement.
func NewIdentityMismatch(field string, fromName, fromPayload interface{}) error {
	return fmt.Errorf("%s: filename has %v, payload has %v: %w", field, fromName, fromPayload, ErrIdentityMismatch)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
//
// Every collected error also matches Kind through errors.Is, so a collector
// created with NewValidationErrors(ErrSchema) reports as a schema violation.
type ValidationErrors struct {
	Kind   error
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors(kind error) *ValidationErrors {
	return &ValidationErrors{Kind: kind}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// Addf adds a formatted error to the collection.
func (v *ValidationErrors) Addf(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Errorf(format, args...))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}

	prefix := "validation failed"
	if v.Kind != nil {
		prefix = v.Kind.Error()
	}

	if len(v.Errors) == 1 {
		return prefix + ": " + v.Errors[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d errors:", prefix, len(v.Errors))
	for _, err := range v.Errors {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap exposes the kind and every collected error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	if len(v.Errors) == 0 {
		return nil
	}
	out := make([]error, 0, len(v.Errors)+1)
	if v.Kind != nil {
		out = append(out, v.Kind)
	}
	return append(out, v.Errors...)
}
