package exchange

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrSubmitTimeout: the response channel timed out. The order may or may
	// not exist exchange-side; callers must reconcile, never assume failure.
	ErrSubmitTimeout = errors.New("exchange: submit timed out")

	// ErrSubmitRejected: the exchange explicitly refused the order. Safe to
	// treat as not placed; not retried with the same parameters.
	ErrSubmitRejected = errors.New("exchange: submit rejected")

	// ErrTransient covers network-level failures worth retrying with backoff.
	ErrTransient = errors.New("exchange: transient failure")

	// ErrGhostAmbiguous: a timed-out order could not be resolved by its
	// client order ID. Requires manual reconciliation.
	ErrGhostAmbiguous = errors.New("exchange: order status unresolvable")
)

// IsTransient reports whether err warrants a retry with backoff.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRejected reports whether the exchange explicitly refused the request.
func IsRejected(err error) bool {
	return errors.Is(err, ErrSubmitRejected)
}

// IsTimeout reports whether the submission outcome is unknown and must be
// reconciled before any accounting decision.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrSubmitTimeout) || errors.Is(err, context.DeadlineExceeded)
}
