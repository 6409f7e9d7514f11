// Package chaoserr defines the error taxonomy shared by the engine components.
//
// Every error that crosses a component boundary is an *Error carrying a Kind.
// Callers branch on the kind with errors.Is against the sentinel values
// (ErrValidation, ErrNotFound, ...) or with KindOf.
package chaoserr

import (
	"errors"
	"sort"
	"strings"
)

// Kind classifies an error for retry and HTTP mapping decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindTargetUnreachable
	KindTimeout
	KindAuthentication
	KindActionRejected
	KindPersistence
	KindProbe
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation error"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindTargetUnreachable:
		return "target unreachable"
	case KindTimeout:
		return "timeout"
	case KindAuthentication:
		return "authentication failure"
	case KindActionRejected:
		return "action rejected"
	case KindPersistence:
		return "persistence error"
	case KindProbe:
		return "probe error"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrTargetUnreachable = &Error{Kind: KindTargetUnreachable}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrAuthentication    = &Error{Kind: KindAuthentication}
	ErrActionRejected    = &Error{Kind: KindActionRejected}
	ErrPersistence       = &Error{Kind: KindPersistence}
	ErrProbe             = &Error{Kind: KindProbe}
)

// Error is the engine's error type.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "registry.Register".
	Op  string
	Msg string
	// Fields holds per-field messages for validation errors.
	Fields map[string]string
	Err    error
}

// E builds an *Error.
func E(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Validation builds a validation error from field messages.
func Validation(op string, fields map[string]string) *Error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fields[k])
	}
	return &Error{Kind: KindValidation, Op: op, Msg: strings.Join(parts, "; "), Fields: fields}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches bare sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Msg != "" || t.Err != nil || t.Fields != nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether the executor may retry after err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTargetUnreachable, KindTimeout:
		return true
	}
	return false
}

// FieldsOf returns validation field messages, if any.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
