package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so the transport layer can map them without
// inspecting messages.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindConflict      ErrorKind = "conflict"
	KindPoolExhausted ErrorKind = "pool_exhausted"
	KindNotFound      ErrorKind = "not_found"
	KindImmutable     ErrorKind = "immutable"
	KindInternal      ErrorKind = "internal"
)

// Error is the tagged error returned by the composer and its stores.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two errors of the same kind and message, so sentinels survive
// being re-created by a store.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

var (
	// ErrQuizNotFound is returned when a daily quiz id or drop time is unknown.
	ErrQuizNotFound = &Error{Kind: KindNotFound, Message: "daily quiz not found"}
	// ErrTemplateNotFound is returned when a quiz has no stored template.
	ErrTemplateNotFound = &Error{Kind: KindNotFound, Message: "template not found"}
	// ErrQuestionNotFound indicates a referenced question id is not in the pool.
	ErrQuestionNotFound = &Error{Kind: KindNotFound, Message: "question not found"}
	// ErrQuizDropped is returned for any mutation on a quiz that was already served.
	ErrQuizDropped = &Error{Kind: KindImmutable, Message: "daily quiz already dropped"}
	// ErrDropTimeTaken signals that another quiz owns the requested drop time.
	ErrDropTimeTaken = &Error{Kind: KindConflict, Message: "a daily quiz already exists for this drop time"}
	// ErrCompositionInProgress signals that another composer holds the drop time lock.
	ErrCompositionInProgress = &Error{Kind: KindConflict, Message: "composition already in progress for this drop time"}
)

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func PoolExhaustedf(format string, args ...any) error {
	return &Error{Kind: KindPoolExhausted, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure. The message is safe to show; err is not.
func Internal(message string, err error) error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf reports the kind of err. Untagged errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
