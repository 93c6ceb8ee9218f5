package oracle

import (
	"errors"
	"fmt"
)

// Kind classifies a failed oracle call. Every kind is retryable on a later linking pass.
type Kind string

const (
	// KindUnavailable covers transport errors and service-side rejections
	KindUnavailable Kind = "unavailable"

	// KindTimeout means the per-call deadline expired
	KindTimeout Kind = "timeout"

	// KindMalformed means no schema-valid payload could be extracted from the reply
	KindMalformed Kind = "malformed"
)

// Error is returned by Adapter.Judge for every failed call.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("oracle %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an oracle *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Kind == kind
}

// KindOf returns the kind of an oracle error, or "" if err is not one.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}

func malformed(format string, args ...interface{}) *Error {
	return &Error{Kind: KindMalformed, Err: fmt.Errorf(format, args...)}
}
