// Package apperr holds the error taxonomy shared by the parser, the
// reconciliation job, the review workflow and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"io"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	KindMalformedInput Kind = "malformed_input"
	KindSchemaMismatch Kind = "schema_mismatch"
	KindRowProcessing  Kind = "row_processing"
	KindPersistence    Kind = "persistence"
	KindNotFound       Kind = "not_found"
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindForbidden      Kind = "forbidden"
	KindUnavailable    Kind = "unavailable"
	KindInternal       Kind = "internal"
)

// Error is the application error type.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Row is the 1-based source row, 0 when not row related.
	Row   int    `json:"row,omitempty"`
	Field string `json:"field,omitempty"`
	// Missing lists unresolved logical fields for schema mismatches.
	Missing []string `json:"missing,omitempty"`
	Cause   error    `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.summary() + ": " + e.Cause.Error()
	}
	return e.summary()
}

func (e *Error) summary() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Row > 0 {
		fmt.Fprintf(&b, " (row %d", e.Row)
		if e.Field != "" {
			fmt.Fprintf(&b, ", field %s", e.Field)
		}
		b.WriteString(")")
	}
	return b.String()
}

// Format prints the cause's stack trace for %+v.
func (e *Error) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') && e.Cause != nil {
		fmt.Fprintf(s, "%s: %+v", e.summary(), e.Cause)
		return
	}
	_, _ = io.WriteString(s, e.Error())
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// MalformedInput reports a file that cannot be decoded as its declared kind.
func MalformedInput(message string, row int, cause error) *Error {
	return &Error{Kind: KindMalformedInput, Message: message, Row: row, Cause: cause}
}

// SchemaMismatch reports required logical fields the header row cannot supply.
func SchemaMismatch(missing []string) *Error {
	return &Error{
		Kind:    KindSchemaMismatch,
		Message: "required columns not found: " + strings.Join(missing, ", "),
		Missing: missing,
	}
}

// RowProcessing reports a problem confined to one ledger row.
func RowProcessing(row int, field, message string) *Error {
	return &Error{Kind: KindRowProcessing, Message: message, Row: row, Field: field}
}

// Persistence wraps a storage failure and records a stack for operator logs.
func Persistence(op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: KindPersistence, Message: op, Cause: pkgerrors.WithStack(cause)}
}

func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func Unavailable(message string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func IsNotFound(err error) bool       { return err != nil && KindOf(err) == KindNotFound }
func IsSchemaMismatch(err error) bool { return err != nil && KindOf(err) == KindSchemaMismatch }
func IsMalformedInput(err error) bool { return err != nil && KindOf(err) == KindMalformedInput }
func IsRowProcessing(err error) bool  { return err != nil && KindOf(err) == KindRowProcessing }
func IsPersistence(err error) bool    { return err != nil && KindOf(err) == KindPersistence }
func IsConflict(err error) bool       { return err != nil && KindOf(err) == KindConflict }
