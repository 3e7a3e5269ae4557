package dispatcher

import (
	"errors"
	"strings"
)

// ErrPermanent marks failures that must not be retried: an invalid recipient,
// a missing or broken template, a collaborator rejecting the request.
var ErrPermanent = errors.New("permanent action failure")

// PermanentError wraps the cause of a failure that retrying cannot fix.
type PermanentError struct {
	Reason string
	Cause  error
}

func (e *PermanentError) Error() string {
	msg := strings.TrimSpace(e.Reason)
	if msg == "" {
		msg = ErrPermanent.Error()
	}

	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}

	return msg
}

func (e *PermanentError) Unwrap() error { return e.Cause }

func (e *PermanentError) Is(target error) bool {
	return target == ErrPermanent
}

// Permanent marks err as not retryable.
func Permanent(reason string, err error) error {
	return &PermanentError{Reason: reason, Cause: err}
}

// IsPermanent reports whether err is marked terminal for retries.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
