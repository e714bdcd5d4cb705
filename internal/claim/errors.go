package claim

import "errors"

var (
	ErrInvalidRequest   = errors.New("invalid claim request")
	ErrRelayUnavailable = errors.New("relays unavailable and no receipts supplied")
)
