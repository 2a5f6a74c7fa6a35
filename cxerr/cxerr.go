// Package cxerr implements the error taxonomy of spec §7 as a small Kind
// enum plus a wrapping Error type, in place of the teacher's process-wide
// last-error slot (Design Notes §9: "the error slot should not exist — all
// errors are returned by value").
package cxerr

import "fmt"

// Kind is a coarse error category, not a specific error value — callers
// switch on Kind, never on error strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalid
	KindMemory
	KindNotFound
	KindExists
	KindFull
	KindCrypto
	KindNetwork
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindMemory:
		return "memory"
	case KindNotFound:
		return "not_found"
	case KindExists:
		return "exists"
	case KindFull:
		return "full"
	case KindCrypto:
		return "crypto"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error wraps an operation name and an underlying cause with its Kind, so
// errors.Is/As keeps working while callers can still branch on Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op/kind, optionally wrapping cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as(err, &e) {
		return e.Kind == kind
	}
	return false
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
