package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapacademy/platform/internal/invoice"
)

type zapOpts struct {
	amountMSat    int64
	recipient     string
	targetEventID string
	targetAddress string
	bolt11        string
	preimage      string
	skipDesc      bool
	skipBolt11    bool
	skipRecipient bool
}

// signedZap builds a signed zap request wrapped in a signed zap receipt,
// returning the receipt event and the description hash the matching invoice
// would carry.
func signedZap(t *testing.T, opts zapOpts) (*nostr.Event, string) {
	t.Helper()

	senderSK := nostr.GeneratePrivateKey()

	request := nostr.Event{
		Kind:      KindZapRequest,
		CreatedAt: nostr.Now(),
		Tags: nostr.Tags{
			{"amount", strconv.FormatInt(opts.amountMSat, 10)},
			{"p", opts.recipient},
			{"relays", "wss://relay.example.com"},
		},
	}
	if opts.targetEventID != "" {
		request.Tags = append(request.Tags, nostr.Tag{"e", opts.targetEventID})
	}
	if opts.targetAddress != "" {
		request.Tags = append(request.Tags, nostr.Tag{"a", opts.targetAddress})
	}
	require.NoError(t, request.Sign(senderSK))

	description, err := json.Marshal(request)
	require.NoError(t, err)
	descSum := sha256.Sum256(description)

	zapperSK := nostr.GeneratePrivateKey()
	rcpt := nostr.Event{
		Kind:      KindZapReceipt,
		CreatedAt: nostr.Now(),
	}
	if !opts.skipBolt11 {
		rcpt.Tags = append(rcpt.Tags, nostr.Tag{"bolt11", opts.bolt11})
	}
	if !opts.skipDesc {
		rcpt.Tags = append(rcpt.Tags, nostr.Tag{"description", string(description)})
	}
	if !opts.skipRecipient {
		rcpt.Tags = append(rcpt.Tags, nostr.Tag{"p", opts.recipient})
	}
	if opts.targetEventID != "" {
		rcpt.Tags = append(rcpt.Tags, nostr.Tag{"e", opts.targetEventID})
	}
	if opts.targetAddress != "" {
		rcpt.Tags = append(rcpt.Tags, nostr.Tag{"a", opts.targetAddress})
	}
	if opts.preimage != "" {
		rcpt.Tags = append(rcpt.Tags, nostr.Tag{"preimage", opts.preimage})
	}
	require.NoError(t, rcpt.Sign(zapperSK))

	return &rcpt, hex.EncodeToString(descSum[:])
}

func TestFromEvent(t *testing.T) {
	base := zapOpts{
		amountMSat:    1_000_000,
		recipient:     "beef01",
		targetEventID: "event123",
		bolt11:        "lnbc10u1fake",
	}

	t.Run("well formed", func(t *testing.T) {
		evt, _ := signedZap(t, base)

		r, err := FromEvent(evt)
		require.NoError(t, err)
		assert.Equal(t, evt.ID, r.ID)
		assert.Equal(t, int64(1000), r.AmountSats)
		assert.Equal(t, "beef01", r.ReceiverPubkey)
		assert.Equal(t, "event123", r.TargetEventID)
		assert.Equal(t, "event123", r.TargetRef())
		assert.Equal(t, "lnbc10u1fake", r.Bolt11)
		assert.NotEmpty(t, r.SenderPubkey)
	})

	t.Run("addressable target", func(t *testing.T) {
		opts := base
		opts.targetEventID = ""
		opts.targetAddress = "30023:beef01:my-course"
		evt, _ := signedZap(t, opts)

		r, err := FromEvent(evt)
		require.NoError(t, err)
		assert.Equal(t, "30023:beef01:my-course", r.TargetRef())
	})

	t.Run("wrong kind", func(t *testing.T) {
		evt, _ := signedZap(t, base)
		evt.Kind = nostr.KindTextNote

		_, err := FromEvent(evt)
		assert.ErrorIs(t, err, ErrUnexpectedKind)
	})

	t.Run("missing bolt11", func(t *testing.T) {
		opts := base
		opts.skipBolt11 = true
		evt, _ := signedZap(t, opts)

		_, err := FromEvent(evt)
		assert.ErrorIs(t, err, ErrMalformedReceipt)
	})

	t.Run("missing description", func(t *testing.T) {
		opts := base
		opts.skipDesc = true
		evt, _ := signedZap(t, opts)

		_, err := FromEvent(evt)
		assert.ErrorIs(t, err, ErrMalformedReceipt)
	})

	t.Run("missing recipient", func(t *testing.T) {
		opts := base
		opts.skipRecipient = true
		evt, _ := signedZap(t, opts)

		_, err := FromEvent(evt)
		assert.ErrorIs(t, err, ErrMalformedReceipt)
	})

	t.Run("nil event", func(t *testing.T) {
		_, err := FromEvent(nil)
		assert.ErrorIs(t, err, ErrMalformedReceipt)
	})
}

func testInvoice(descHash string, msat int64) *invoice.Invoice {
	return &invoice.Invoice{
		PaymentHash:     "0001020304050607080900010203040506070809000102030405060708090102",
		DescriptionHash: descHash,
		MSat:            msat,
	}
}
