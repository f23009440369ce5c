// Package apperr carries the failure kinds that decide how an error is
// reported to API callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	Internal Kind = iota
	BadRequest
	NotFound
	RecognitionFailed
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad_request"
	case NotFound:
		return "not_found"
	case RecognitionFailed:
		return "recognition_failed"
	default:
		return "internal"
	}
}

// Error is a failure tagged with its Kind. Msg is safe to show to clients for
// every kind except Internal.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// BadRequestf reports missing or malformed input.
func BadRequestf(format string, args ...any) error {
	return &Error{Kind: BadRequest, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf reports a missing entity or relationship.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: NotFound, Msg: fmt.Sprintf(format, args...)}
}

// Unrecognized reports that the face service returned no usable identity.
func Unrecognized(msg string) error {
	return &Error{Kind: RecognitionFailed, Msg: msg}
}

// Wrap tags err as Internal. A nil err stays nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Internal, Msg: msg, Err: err}
}

// KindOf returns the Kind of the outermost tagged error in err's chain.
// Untagged errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsNotFound reports whether err belongs to the not-found class, which
// includes recognition misses.
func IsNotFound(err error) bool {
	k := KindOf(err)
	return k == NotFound || k == RecognitionFailed
}

// Message returns the client-facing message for err, or fallback when the
// error is Internal or untagged.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Msg
	}
	return fallback
}
