package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError marks a failure worth retrying: timeouts, rate limits,
// 5xx-equivalent provider responses. Exhausting the retry budget turns a
// transient failure into a dead letter.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transient: %s", e.Reason)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix: malformed input,
// provider-reported content violations. Dead-lettered immediately.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent: %s", e.Reason)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(reason string, err error) error {
	return &TransientError{Reason: reason, Err: err}
}

func Permanent(reason string, err error) error {
	return &PermanentError{Reason: reason, Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsTransient reports whether err should be retried. Unclassified errors
// count as transient: network-level failures rarely announce themselves, and
// the retry cap bounds the damage of a wrong guess.
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return true
}

// Reason extracts the classification reason from err, falling back to the
// error text for unclassified errors.
func Reason(err error) string {
	var te *TransientError
	if errors.As(err, &te) {
		return te.Reason
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
