// Package storage defines the error taxonomy shared by every layer of the
// recording engine. Callers that need to pick an HTTP status or a
// retry policy switch on Kind rather than matching error strings.
package storage

import (
	"fmt"

	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

// Kind enumerates the error kinds surfaced by the engine.
type Kind int

const (
	// KindTransientIO is a temporary write/fsync failure. The writer does
	// not retry: its first failed write leaves it in the failed state, and
	// every later Write returns this kind.
	KindTransientIO Kind = iota
	// KindCorrupt marks a sample index decode failure, a metadata file
	// CRC mismatch, or a violated recording-level invariant.
	KindCorrupt
	// KindLocked means a sample file directory is already open read-write
	// by another process.
	KindLocked
	// KindMismatch means the DB and directory disagree on UUID/open, or a
	// client-supplied open_id doesn't match the server's.
	KindMismatch
	// KindQuota means the database filesystem is full; the process enters
	// graceful-stop.
	KindQuota
	// KindTooLarge means a requested `.m4s` would exceed the 4GiB 32-bit
	// offset ceiling.
	KindTooLarge
	// KindCancelled means the request was aborted; no rollback is needed.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransientIO:
		return "transient_io"
	case KindCorrupt:
		return "corrupt"
	case KindLocked:
		return "locked"
	case KindMismatch:
		return "mismatch"
	case KindQuota:
		return "quota"
	case KindTooLarge:
		return "too_large"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind so HTTP and CLI layers can
// dispatch on it without string matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// AvailableStart and AvailableEnd optionally describe, for a
	// request-time Mismatch, the range of recordings the stream actually
	// holds.
	AvailableStart *clock.Timestamp90k
	AvailableEnd   *clock.Timestamp90k
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a *Error of the given kind around an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithAvailableRange attaches the stream's actual recorded range to e,
// for a Mismatch surfaced as a 404 at request time.
func (e *Error) WithAvailableRange(start, end clock.Timestamp90k) *Error {
	e.AvailableStart = &start
	e.AvailableEnd = &end
	return e
}

// As unwraps err looking for a *Error, the way errors.As would if Error
// didn't need a concrete **Error target.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return nil, false
}

// Is reports whether err (or something it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}
