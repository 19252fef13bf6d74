// Package problem defines the error taxonomy shared across the inference
// and matching engines. Every cross-package failure is wrapped in a
// *Problem so callers can branch on Kind without string matching.
package problem

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for caller branching and retry decisions.
type Kind string

const (
	// KindNotFound indicates the referenced entity does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindInvalidState indicates the entity exists but the operation is
	// illegal in its current lifecycle state.
	KindInvalidState Kind = "INVALID_STATE"
	// KindValidation indicates malformed or out-of-range input.
	KindValidation Kind = "VALIDATION"
	// KindUnavailable indicates a dependent service refused or cannot be
	// reached and the operation was not attempted.
	KindUnavailable Kind = "UNAVAILABLE"
	// KindTransient indicates a failure that may succeed on retry.
	KindTransient Kind = "TRANSIENT"
	// KindParse indicates upstream data that could not be interpreted.
	KindParse Kind = "PARSE"
)

// Problem is a classified error. It wraps an optional cause and carries
// a human-readable operation context.
type Problem struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Error implements the error interface.
func (p *Problem) Error() string {
	switch {
	case p.Err != nil && p.Msg != "":
		return fmt.Sprintf("%s: %s: %v", p.Op, p.Msg, p.Err)
	case p.Err != nil:
		return fmt.Sprintf("%s: %v", p.Op, p.Err)
	default:
		return fmt.Sprintf("%s: %s", p.Op, p.Msg)
	}
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (p *Problem) Unwrap() error { return p.Err }

// New builds a Problem with no underlying cause.
func New(kind Kind, op, msg string) *Problem {
	return &Problem{Kind: kind, Op: op, Msg: msg}
}

// Wrap attaches a classification and operation context to err.
// A nil err returns nil so call sites can wrap unconditionally.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Problem{Kind: kind, Op: op, Err: err}
}

// Wrapf is Wrap with an additional formatted message.
func Wrapf(kind Kind, op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Problem{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// NotFound reports a missing entity by type and identifier.
func NotFound(op, entity, id string) *Problem {
	return &Problem{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf("%s %q not found", entity, id)}
}

// InvalidStatef reports an operation attempted against the wrong
// lifecycle state.
func InvalidStatef(op, format string, args ...any) *Problem {
	return &Problem{Kind: KindInvalidState, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Validationf reports malformed input.
func Validationf(op, format string, args ...any) *Problem {
	return &Problem{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the classification from anywhere in err's chain.
// Unclassified errors report KindUnavailable so that unknown failures
// are never silently treated as permanent input errors.
func KindOf(err error) Kind {
	var p *Problem
	if errors.As(err, &p) {
		return p.Kind
	}
	return KindUnavailable
}

// IsNotFound reports whether err's chain carries KindNotFound.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

// IsTransient reports whether err's chain carries KindTransient.
// Transient failures are safe to retry with backoff.
func IsTransient(err error) bool { return hasKind(err, KindTransient) }

func hasKind(err error, k Kind) bool {
	var p *Problem
	if errors.As(err, &p) {
		return p.Kind == k
	}
	return false
}
