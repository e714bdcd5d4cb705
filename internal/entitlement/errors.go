package entitlement

import "errors"

var (
	// ErrUntrustedPrice is the ledger refusing to create or top up a
	// purchase from a price that did not come from the operator's store.
	ErrUntrustedPrice = errors.New("content has no trusted price")

	// ErrConflict surfaces after the store exhausted its retries on
	// transaction serialization failures. Transient; callers may retry.
	ErrConflict = errors.New("purchase update conflict")

	ErrPurchaseNotFound = errors.New("purchase not found")
)
