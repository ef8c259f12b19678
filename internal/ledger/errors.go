package ledger

import "errors"

var (
	// ErrInvalidFill: the fill would drive quantity negative or contradicts
	// the in-position flag. Fatal to the owning engine's trading loop.
	ErrInvalidFill = errors.New("ledger: invalid fill")

	// ErrInvariant: a consistency check failed after a mutation. The asset
	// must pause and alert; never auto-resumed.
	ErrInvariant = errors.New("ledger: invariant violation")

	// ErrPendingExists: an order intent is already open on that side. The
	// existing intent must resolve before a new one may begin.
	ErrPendingExists = errors.New("ledger: pending order exists")
)
