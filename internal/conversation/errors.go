// ABOUTME: Error taxonomy for the chat core
// ABOUTME: Kinds map store and validation failures to NotFound, Forbidden, InvalidArgument, Conflict, Unavailable

package conversation

import (
	"errors"
	"fmt"

	"github.com/2389/shopchat/internal/store"
)

// Error kinds. Use errors.Is(err, ErrNotFound) and friends to classify.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrUnavailable     = errors.New("unavailable")
)

// Error is returned by every Service operation that fails.
type Error struct {
	Kind error  // one of the Err* kinds above
	Op   string // operation name, e.g. "send"
	Msg  string
	Err  error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// storeError classifies a store failure. Missing rows become NotFound,
// uniqueness violations Conflict, everything else Unavailable.
func storeError(op, what string, err error) *Error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &Error{Kind: ErrNotFound, Op: op, Msg: what + " not found"}
	case errors.Is(err, store.ErrDuplicateConversation):
		return &Error{Kind: ErrConflict, Op: op, Msg: "an active conversation already exists", Err: err}
	default:
		return &Error{Kind: ErrUnavailable, Op: op, Msg: "storage unavailable", Err: err}
	}
}

// KindOf returns the kind of err, or nil if err did not come from this package.
func KindOf(err error) error {
	for _, k := range []error{ErrNotFound, ErrForbidden, ErrInvalidArgument, ErrConflict, ErrUnavailable} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Code returns a stable upper-case code for err, used in error frames.
func Code(err error) string {
	switch KindOf(err) {
	case ErrNotFound:
		return "NOT_FOUND"
	case ErrForbidden:
		return "FORBIDDEN"
	case ErrInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrConflict:
		return "CONFLICT"
	case ErrUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
