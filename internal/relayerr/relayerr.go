// Package relayerr defines the sentinel error kinds shared across the relay
// core, so callers can classify a failure with errors.Is/errors.As instead of
// matching on strings.
package relayerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds from the core's error table.
type Kind uint8

const (
	KindBadStreamID Kind = iota
	KindACLDeny
	KindAlreadyPublishing
	KindNoPublisher
	KindOverrun
	KindSocketBroken
	KindIdleTimeout
	KindUpstreamUnreachable
	KindConfigInvalid
)

func (k Kind) String() string {
	switch k {
	case KindBadStreamID:
		return "BadStreamId"
	case KindACLDeny:
		return "AclDeny"
	case KindAlreadyPublishing:
		return "AlreadyPublishing"
	case KindNoPublisher:
		return "NoPublisher"
	case KindOverrun:
		return "Overrun"
	case KindSocketBroken:
		return "SocketBroken"
	case KindIdleTimeout:
		return "IdleTimeout"
	case KindUpstreamUnreachable:
		return "UpstreamUnreachable"
	case KindConfigInvalid:
		return "ConfigInvalid"
	default:
		return "Unknown"
	}
}

// kindError is the concrete error type carrying a Kind plus an optional cause.
type kindError struct {
	kind Kind
	op   string
	err  error
}

func (e *kindError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.kind, e.op)
	}
	return fmt.Sprintf("%s: %s: %v", e.kind, e.op, e.err)
}

func (e *kindError) Unwrap() error { return e.err }

// Is lets errors.Is(err, relayerr.ErrAlreadyPublishing) match any kindError
// carrying the same Kind, regardless of the op/cause wrapped around it.
func (e *kindError) Is(target error) bool {
	t, ok := target.(*kindError)
	if !ok {
		return false
	}
	return t.kind == e.kind && t.op == "" && t.err == nil
}

// New constructs an error of the given kind, wrapping cause (which may be nil).
func New(kind Kind, op string, cause error) error {
	return &kindError{kind: kind, op: op, err: cause}
}

// KindOf extracts the Kind from err, if err (or something it wraps) is a
// relayerr error. ok is false for errors not produced by this package.
func KindOf(err error) (kind Kind, ok bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return 0, false
}

// Sentinels usable directly with errors.Is — each matches any kindError of
// the same Kind produced anywhere via New, thanks to kindError.Is above.
var (
	ErrBadStreamID          = &kindError{kind: KindBadStreamID}
	ErrACLDeny              = &kindError{kind: KindACLDeny}
	ErrAlreadyPublishing    = &kindError{kind: KindAlreadyPublishing}
	ErrNoPublisher          = &kindError{kind: KindNoPublisher}
	ErrOverrun              = &kindError{kind: KindOverrun}
	ErrSocketBroken         = &kindError{kind: KindSocketBroken}
	ErrIdleTimeout          = &kindError{kind: KindIdleTimeout}
	ErrUpstreamUnreachable  = &kindError{kind: KindUpstreamUnreachable}
	ErrConfigInvalid        = &kindError{kind: KindConfigInvalid}
)
