package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

const (
	KindZapRequest = 9734
	KindZapReceipt = 9735
)

var (
	ErrUnexpectedKind   = errors.New("not a zap receipt event")
	ErrMalformedReceipt = errors.New("malformed zap receipt")
)

// Receipt is a parsed zap receipt: a signed assertion that a lightning
// payment was made to a recipient, optionally referencing target content.
// The raw events are kept around for signature checks.
type Receipt struct {
	ID             string
	Event          *nostr.Event
	Request        *nostr.Event
	AmountSats     int64 // claimed by the zap request, never trusted on its own
	SenderPubkey   string
	ReceiverPubkey string
	Bolt11         string
	Description    string
	Preimage       string
	TargetEventID  string
	TargetAddress  string
	CreatedAt      time.Time
}

// TargetRef is the content reference the receipt points at: an event id or
// an addressable kind:pubkey:d coordinate.
func (r *Receipt) TargetRef() string {
	if r.TargetEventID != "" {
		return r.TargetEventID
	}
	return r.TargetAddress
}

// FromEvent parses a kind 9735 event into a Receipt. Anything that is not a
// well-formed zap receipt is rejected here, at the boundary, so the verifier
// and ledger only ever see the closed shape.
func FromEvent(evt *nostr.Event) (*Receipt, error) {
	if evt == nil {
		return nil, ErrMalformedReceipt
	}
	if evt.Kind != KindZapReceipt {
		return nil, fmt.Errorf("%w: kind %d", ErrUnexpectedKind, evt.Kind)
	}

	r := Receipt{
		ID:        evt.ID,
		Event:     evt,
		CreatedAt: evt.CreatedAt.Time(),
	}

	if tag := evt.Tags.GetFirst([]string{"bolt11"}); tag != nil {
		r.Bolt11 = tag.Value()
	}
	if r.Bolt11 == "" {
		return nil, fmt.Errorf("%w: missing bolt11 tag", ErrMalformedReceipt)
	}

	if tag := evt.Tags.GetFirst([]string{"p"}); tag != nil {
		r.ReceiverPubkey = tag.Value()
	}
	if r.ReceiverPubkey == "" {
		return nil, fmt.Errorf("%w: missing p tag", ErrMalformedReceipt)
	}

	if tag := evt.Tags.GetFirst([]string{"description"}); tag != nil {
		r.Description = tag.Value()
	}
	if r.Description == "" {
		return nil, fmt.Errorf("%w: missing description tag", ErrMalformedReceipt)
	}

	var request nostr.Event
	if err := json.Unmarshal([]byte(r.Description), &request); err != nil {
		return nil, fmt.Errorf("%w: description is not a zap request: %v", ErrMalformedReceipt, err)
	}
	if request.Kind != KindZapRequest {
		return nil, fmt.Errorf("%w: description kind %d", ErrMalformedReceipt, request.Kind)
	}
	r.Request = &request
	r.SenderPubkey = request.PubKey
	r.AmountSats = requestAmountSats(&request)

	if tag := evt.Tags.GetFirst([]string{"P"}); tag != nil && tag.Value() != "" {
		r.SenderPubkey = tag.Value()
	}
	if tag := evt.Tags.GetFirst([]string{"preimage"}); tag != nil {
		r.Preimage = tag.Value()
	}
	if tag := evt.Tags.GetFirst([]string{"e"}); tag != nil {
		r.TargetEventID = tag.Value()
	}
	if tag := evt.Tags.GetFirst([]string{"a"}); tag != nil {
		r.TargetAddress = tag.Value()
	}

	return &r, nil
}

func requestAmountSats(request *nostr.Event) int64 {
	tag := request.Tags.GetFirst([]string{"amount"})
	if tag == nil {
		return 0
	}

	var msat int64
	if _, err := fmt.Sscanf(tag.Value(), "%d", &msat); err != nil || msat < 0 {
		return 0
	}
	return msat / 1000
}
