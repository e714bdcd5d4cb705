package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zapacademy/platform/internal/invoice"
)

type RejectionReason string

const (
	ReasonBadSignature    RejectionReason = "bad_signature"
	ReasonInvoiceMismatch RejectionReason = "invoice_mismatch"
	ReasonAmountMismatch  RejectionReason = "amount_mismatch"
	ReasonWrongRecipient  RejectionReason = "wrong_recipient"
	ReasonWrongTarget     RejectionReason = "wrong_target"

	// ReasonMalformed is a boundary rejection: the event never parsed
	// into a receipt, so none of the checks above could run.
	ReasonMalformed RejectionReason = "malformed"
)

// VerifyError is a typed rejection for a single receipt. A batch claim drops
// the offending receipt and keeps going.
type VerifyError struct {
	ReceiptID string
	Reason    RejectionReason
	Detail    string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("receipt %s rejected: %s: %s", e.ReceiptID, e.Reason, e.Detail)
}

// Target is the content reference a receipt must point at to count toward
// that content's purchase.
type Target struct {
	EventID string
	Address string
}

// NewVerifier returns a Verifier. When trustedZappers is non-empty, only
// receipts authored by one of those pubkeys are accepted; an empty list
// accepts any author with a valid signature.
func NewVerifier(trustedZappers []string) *Verifier {
	return &Verifier{trustedZappers: trustedZappers}
}

type Verifier struct {
	trustedZappers []string
}

// Verify runs every check a receipt must pass before its amount may be
// credited: author signature (and zapper allowlist), inner request
// signature, invoice binding, amount consistency, recipient, and target.
// All inputs are untrusted; the invoice must be the decoded form of the
// receipt's own bolt11.
func (v *Verifier) Verify(r *Receipt, inv *invoice.Invoice, recipient string, target Target) error {
	if ok, err := r.Event.CheckSignature(); err != nil || !ok {
		return reject(r, ReasonBadSignature, "invalid receipt signature")
	}
	if !zapperIsTrusted(v.trustedZappers, r.Event.PubKey) {
		return reject(r, ReasonBadSignature, "author is not a trusted zapper")
	}
	if ok, err := r.Request.CheckSignature(); err != nil || !ok {
		return reject(r, ReasonBadSignature, "invalid zap request signature")
	}

	if !invoiceBound(r, inv) {
		return reject(r, ReasonInvoiceMismatch, "receipt does not commit to this invoice")
	}

	// The invoice's requested amount is the only number we credit. A
	// receipt whose request claims a different amount is inconsistent,
	// and an amountless invoice leaves nothing trustworthy to credit.
	if inv.MSat <= 0 {
		return reject(r, ReasonAmountMismatch, "invoice carries no amount")
	}
	if r.AmountSats > 0 && r.AmountSats != inv.Sats() {
		return reject(r, ReasonAmountMismatch,
			fmt.Sprintf("request claims %d sats, invoice requests %d", r.AmountSats, inv.Sats()))
	}

	if !strings.EqualFold(r.ReceiverPubkey, recipient) {
		return reject(r, ReasonWrongRecipient, "receipt pays a different recipient")
	}

	if !targetMatches(r, target) {
		return reject(r, ReasonWrongTarget, "receipt references different content")
	}

	return nil
}

// invoiceBound checks that the receipt and the invoice belong together:
// either the invoice's description hash commits to the zap request carried
// in the receipt, or the receipt's preimage hashes to the payment hash.
// This is what stops an unrelated paid invoice being replayed here.
func invoiceBound(r *Receipt, inv *invoice.Invoice) bool {
	if inv.DescriptionHash != "" {
		sum := sha256.Sum256([]byte(r.Description))
		if strings.EqualFold(hex.EncodeToString(sum[:]), inv.DescriptionHash) {
			return true
		}
	}

	if r.Preimage != "" && inv.PaymentHash != "" {
		pre, err := hex.DecodeString(r.Preimage)
		if err == nil {
			sum := sha256.Sum256(pre)
			if strings.EqualFold(hex.EncodeToString(sum[:]), inv.PaymentHash) {
				return true
			}
		}
	}

	return false
}

func targetMatches(r *Receipt, target Target) bool {
	if target.EventID != "" && strings.EqualFold(r.TargetEventID, target.EventID) {
		return true
	}
	if target.Address != "" && r.TargetAddress == target.Address {
		return true
	}
	return false
}

func zapperIsTrusted(trusted []string, pubkey string) bool {
	// No allowlist configured means any valid author is accepted.
	if len(trusted) == 0 {
		return true
	}

	for _, pk := range trusted {
		if strings.EqualFold(pk, pubkey) {
			return true
		}
	}
	return false
}

func reject(r *Receipt, reason RejectionReason, detail string) error {
	return &VerifyError{ReceiptID: r.ID, Reason: reason, Detail: detail}
}
