package claim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/zapacademy/platform/internal/audit"
	"github.com/zapacademy/platform/internal/entitlement"
	"github.com/zapacademy/platform/internal/invoice"
	"github.com/zapacademy/platform/internal/pricing"
	"github.com/zapacademy/platform/internal/receipt"
	"github.com/zapacademy/platform/internal/relays"
	"github.com/zapacademy/platform/internal/topup"
)

type Status string

const (
	StatusUnlocked      Status = "unlocked"
	StatusPartiallyPaid Status = "partially_paid"
	StatusRejected      Status = "rejected"
)

// Request is one claim attempt. Candidates are raw relay events the caller
// observed; everything in them is re-verified here.
type Request struct {
	UserID          string
	Ref             pricing.ContentRef
	PriceHint       *int64
	Candidates      []*nostr.Event
	FetchFromRelays bool
}

// Rejection reports one dropped receipt. Dropping a receipt is never fatal
// to the claim; the rest of the batch still counts.
type Rejection struct {
	ReceiptID string                  `json:"receipt_id"`
	Reason    receipt.RejectionReason `json:"reason"`
	Detail    string                  `json:"detail,omitempty"`
}

type Result struct {
	Status       Status
	AmountPaid   int64
	Required     int64
	Remaining    int64
	ViaCourseID  string
	Purchase     *entitlement.Purchase
	TopupInvoice *topup.Invoice
	Rejections   []Rejection
}

type ReceiptSource interface {
	FetchReceiptsOnce(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
}

// Options carries the optional collaborators. Everything here may be nil;
// the orchestrator then skips relay fetching, auditing, or top-up invoices.
type Options struct {
	Receipts ReceiptSource
	Audit    audit.Sink
	Topup    topup.Issuer
}

func New(prices *pricing.Resolver, verifier *receipt.Verifier, ledger *entitlement.Service, opts Options) (*Orchestrator, error) {
	if prices == nil || verifier == nil || ledger == nil {
		return nil, fmt.Errorf("must provide resolver, verifier, and ledger")
	}
	return &Orchestrator{
		prices:   prices,
		verifier: verifier,
		ledger:   ledger,
		receipts: opts.Receipts,
		audit:    opts.Audit,
		topup:    opts.Topup,
	}, nil
}

type Orchestrator struct {
	prices   *pricing.Resolver
	verifier *receipt.Verifier
	ledger   *entitlement.Service
	receipts ReceiptSource
	audit    audit.Sink
	topup    topup.Issuer
}

// Claim resolves the price, verifies every candidate receipt, merges the
// verified amounts into the ledger, and reports unlock status. The outcome
// is a pure function of (user, content, candidate receipts): calling it any
// number of times with the same inputs lands in the same state.
func (o *Orchestrator) Claim(ctx context.Context, req Request) (*Result, error) {
	result, err := o.claim(ctx, req)
	o.recordAudit(ctx, req, result, err)
	return result, err
}

// AutoClaim is the eager entry point, invoked whenever the caller's
// observed receipt stream total reaches the price. Identical to Claim; with
// no new receipts the ledger upsert is a no-op, so retrying as events
// stream in is cheap and safe.
func (o *Orchestrator) AutoClaim(ctx context.Context, req Request) (*Result, error) {
	return o.Claim(ctx, req)
}

func (o *Orchestrator) claim(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidRequest)
	}
	if err := req.Ref.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	quote, err := o.prices.Resolve(ctx, req.Ref, req.PriceHint)
	if err != nil {
		return nil, err
	}

	// The ledger enforces this too; checking here keeps "not configured
	// for sale" distinct from "not yet paid" before any relay I/O. An
	// unpriced resource can still unlock through a purchased or enrolled
	// parent course, whose own price was trusted.
	if quote.Source != pricing.SourceTrusted {
		if req.Ref.ResourceID != "" {
			access, err := o.ledger.ResolveCourseAccess(ctx, req.UserID, req.Ref.ResourceID)
			if err != nil {
				return nil, err
			}
			if access.Unlocked {
				return &Result{
					Status:      StatusUnlocked,
					ViaCourseID: access.ViaCourseID,
				}, nil
			}
		}
		return &Result{Status: StatusRejected}, entitlement.ErrUntrustedPrice
	}

	events, err := o.gatherEvents(ctx, req, quote)
	if err != nil {
		return nil, err
	}

	credits, rejections := o.verifyAll(events, quote)

	purchase, err := o.ledger.ApplyVerifiedReceipts(ctx, req.UserID, quote, credits)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Required:   o.ledger.RequiredAmount(purchase, quote.Price),
		Purchase:   purchase,
		Rejections: rejections,
	}
	if purchase != nil {
		result.AmountPaid = purchase.AmountPaid
	}

	if result.AmountPaid >= result.Required {
		result.Status = StatusUnlocked
		return result, nil
	}

	// No direct entitlement; a parent course purchase or enrollment can
	// still unlock a resource.
	if req.Ref.ResourceID != "" {
		access, err := o.ledger.ResolveCourseAccess(ctx, req.UserID, req.Ref.ResourceID)
		if err != nil {
			return nil, err
		}
		if access.Unlocked {
			result.Status = StatusUnlocked
			result.ViaCourseID = access.ViaCourseID
			return result, nil
		}
	}

	result.Status = StatusPartiallyPaid
	result.Remaining = result.Required - result.AmountPaid

	if o.topup != nil && result.Remaining > 0 {
		inv, err := o.topup.CreateInvoice(ctx, topup.Topup{
			UserID:    req.UserID,
			ContentID: quote.ContentID,
			Sats:      result.Remaining,
		})
		if err != nil {
			log.Printf("claim: topup invoice: %v", err)
		} else {
			result.TopupInvoice = inv
		}
	}

	return result, nil
}

// gatherEvents merges the caller's candidates with a one-shot relay query.
// A relay failure degrades to "no additional receipts" unless the caller
// supplied nothing at all, in which case there is no data to decide with.
func (o *Orchestrator) gatherEvents(ctx context.Context, req Request, quote *pricing.PriceQuote) ([]*nostr.Event, error) {
	events := req.Candidates

	if !req.FetchFromRelays || o.receipts == nil {
		return events, nil
	}

	filter := relays.ReceiptFilter(quote.OwnerPubkey, quote.TargetEventID, quote.TargetAddress)
	fetched, err := o.receipts.FetchReceiptsOnce(ctx, filter)
	if err != nil {
		if len(events) == 0 {
			return nil, fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
		}
		log.Printf("claim: relay fetch degraded: %v", err)
	}

	return append(events, fetched...), nil
}

func (o *Orchestrator) verifyAll(events []*nostr.Event, quote *pricing.PriceQuote) ([]entitlement.Credit, []Rejection) {
	var (
		credits    []entitlement.Credit
		rejections []Rejection
		seen       = map[string]bool{}
	)

	target := receipt.Target{
		EventID: quote.TargetEventID,
		Address: quote.TargetAddress,
	}

	for _, evt := range events {
		if evt == nil || seen[evt.ID] {
			continue
		}
		seen[evt.ID] = true

		rcpt, err := receipt.FromEvent(evt)
		if err != nil {
			rejections = append(rejections, Rejection{
				ReceiptID: evt.ID,
				Reason:    receipt.ReasonMalformed,
				Detail:    err.Error(),
			})
			continue
		}

		inv, err := invoice.Decode(rcpt.Bolt11)
		if err != nil {
			rejections = append(rejections, Rejection{
				ReceiptID: rcpt.ID,
				Reason:    receipt.ReasonInvoiceMismatch,
				Detail:    fmt.Sprintf("undecodable invoice: %v", err),
			})
			continue
		}

		if err := o.verifier.Verify(rcpt, inv, quote.OwnerPubkey, target); err != nil {
			var verr *receipt.VerifyError
			if errors.As(err, &verr) {
				rejections = append(rejections, Rejection{
					ReceiptID: verr.ReceiptID,
					Reason:    verr.Reason,
					Detail:    verr.Detail,
				})
			}
			continue
		}

		// Credit the invoice's requested amount, never the claim.
		credits = append(credits, entitlement.Credit{
			ReceiptID: rcpt.ID,
			Sats:      inv.Sats(),
		})
	}

	return credits, rejections
}

func (o *Orchestrator) recordAudit(ctx context.Context, req Request, result *Result, err error) {
	if o.audit == nil {
		return
	}

	details := map[string]any{
		"content_id": req.Ref.ID(),
	}
	if result != nil {
		details["status"] = string(result.Status)
		details["amount_paid"] = result.AmountPaid
		details["required"] = result.Required
		details["rejected_receipts"] = len(result.Rejections)
		if result.ViaCourseID != "" {
			details["via_course_id"] = result.ViaCourseID
		}
	}
	if err != nil {
		details["error"] = err.Error()
	}

	o.audit.Record(ctx, audit.Event{
		UserID:    req.UserID,
		Action:    "claim",
		Details:   details,
		Timestamp: time.Now(),
	})
}
