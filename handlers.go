package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nbd-wtf/go-nostr"

	"github.com/zapacademy/platform/internal/audit"
	"github.com/zapacademy/platform/internal/claim"
	"github.com/zapacademy/platform/internal/entitlement"
	"github.com/zapacademy/platform/internal/pricing"
)

type handlers struct {
	config Config
	claims *claim.Orchestrator
	ledger *entitlement.Service
	audit  audit.Sink
	notes  noteSender
}

type noteSender interface {
	SendNote(context.Context, string) error
}

type claimRequest struct {
	Pubkey          string         `json:"pubkey"`
	ResourceID      string         `json:"resource_id,omitempty"`
	CourseID        string         `json:"course_id,omitempty"`
	PriceHint       *int64         `json:"price_hint,omitempty"`
	Receipts        []*nostr.Event `json:"receipts,omitempty"`
	FetchFromRelays bool           `json:"fetch_from_relays,omitempty"`
}

// handleClaim attempts to unlock content for a pubkey from zap receipts.
func (h *handlers) handleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "expected JSON payload", http.StatusBadRequest)
		return
	}

	if !validPubkey(req.Pubkey) {
		http.Error(w, "invalid pubkey", http.StatusBadRequest)
		return
	}
	if !pubkeyIsAllowed(h.config.AllowedPubkeys, req.Pubkey) {
		http.Error(w, "pubkey not allowed", http.StatusForbidden)
		return
	}

	result, err := h.claims.Claim(ctx, claim.Request{
		UserID:          req.Pubkey,
		Ref:             pricing.ContentRef{ResourceID: req.ResourceID, CourseID: req.CourseID},
		PriceHint:       req.PriceHint,
		Candidates:      req.Receipts,
		FetchFromRelays: req.FetchFromRelays,
	})
	claimCounter.Inc()
	if err != nil {
		writeClaimError(w, err)
		return
	}

	for _, rej := range result.Rejections {
		rejectionCounter.WithLabelValues(string(rej.Reason)).Inc()
	}

	if result.Status == claim.StatusUnlocked {
		unlockCounter.Inc()

		// Announce fresh unlocks only; access checks resolve here too.
		if h.notes != nil && len(req.Receipts) > 0 {
			contentID := req.ResourceID + req.CourseID
			go func() {
				if err := h.notes.SendNote(context.Background(), fmt.Sprintf("content unlocked: %v", contentID)); err != nil {
					log.Printf("err: notes.SendNote: %v", err)
				}
			}()
		}
	}

	writeJSON(w, http.StatusOK, claimResponse(result))
}

// handleGetAccess reports whether a pubkey may view a resource, either paid
// for directly or through a containing course. It is a claim with no new
// receipts, so it never changes stored state.
func (h *handlers) handleGetAccess(w http.ResponseWriter, r *http.Request) {
	var (
		ctx        = r.Context()
		pubkey     = chi.URLParam(r, "pubkey")
		resourceID = chi.URLParam(r, "resourceID")
	)

	if !validPubkey(pubkey) {
		http.Error(w, "invalid pubkey", http.StatusBadRequest)
		return
	}
	if !pubkeyIsAllowed(h.config.AllowedPubkeys, pubkey) {
		http.Error(w, "pubkey not allowed", http.StatusForbidden)
		return
	}

	result, err := h.claims.Claim(ctx, claim.Request{
		UserID: pubkey,
		Ref:    pricing.ResourceRef(resourceID),
	})
	if err != nil {
		writeClaimError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"unlocked":      result.Status == claim.StatusUnlocked,
		"via_course_id": result.ViaCourseID,
		"amount_paid":   result.AmountPaid,
		"required":      result.Required,
		"remaining":     result.Remaining,
	})
}

// handleListPurchases returns every purchase row for a pubkey.
func (h *handlers) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	var (
		ctx    = r.Context()
		pubkey = chi.URLParam(r, "pubkey")
	)

	if !validPubkey(pubkey) {
		http.Error(w, "invalid pubkey", http.StatusBadRequest)
		return
	}
	if !pubkeyIsAllowed(h.config.AllowedPubkeys, pubkey) {
		http.Error(w, "pubkey not allowed", http.StatusForbidden)
		return
	}

	purchases, err := h.ledger.ListPurchases(ctx, pubkey)
	if err != nil {
		log.Printf("err: ledger.ListPurchases: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(purchases))
	for _, p := range purchases {
		entry := map[string]any{
			"amount_paid": p.AmountPaid,
			"receipts":    len(p.ReceiptIDs),
			"created_at":  p.CreatedAt.Unix(),
			"updated_at":  p.UpdatedAt.Unix(),
		}
		if p.ResourceID != nil {
			entry["resource_id"] = *p.ResourceID
		}
		if p.CourseID != nil {
			entry["course_id"] = *p.CourseID
		}
		if p.PriceAtPurchase != nil {
			entry["price_at_purchase"] = *p.PriceAtPurchase
		}
		out = append(out, entry)
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) handleCallbackZBDCharge(w http.ResponseWriter, r *http.Request) {
	var data struct {
		Amount      string `json:"amount"`      // "1000000"
		ConfirmedAt string `json:"confirmedAt"` // "2023-07-31T21:14:44.000Z"
		CreatedAt   string `json:"createdAt"`   // "2023-07-31T21:14:33.184Z"
		Description string `json:"description"` // "Top up lesson-42"
		ExpiresAt   string `json:"expiresAt"`   // "2023-07-31T21:19:33.163Z"
		ID          string `json:"id"`          // "077c6d70-421f-4a5c-9baa-85c80ec11ace"
		InternalID  string `json:"internalId"`  // "<pubkey>:<content_id>"
		Invoice     struct {
			Request string `json:"request"` // "lnbc10u1pjvsfpepp597...",
			URI     string `json:"uri"`     // "lightning:lnbc10u1pj..."
		} `json:"invoice"`
		Status string `json:"status"` // "completed"
		Unit   string `json:"unit"`   // "msats"
	}

	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, "expected JSON payload", http.StatusBadRequest)
		return
	}

	// Entitlement comes from the zap receipt, not this callback. The
	// callback is recorded so paid charges can be reconciled later.
	if data.Status == "completed" && h.audit != nil {
		h.audit.Record(r.Context(), audit.Event{
			UserID: data.InternalID,
			Action: "topup_paid",
			Details: map[string]any{
				"charge_id": data.ID,
				"amount":    data.Amount,
				"unit":      data.Unit,
			},
			Timestamp: time.Now(),
		})
	}

	w.WriteHeader(http.StatusOK)
}

func writeClaimError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, claim.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, pricing.ErrContentNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, entitlement.ErrUntrustedPrice):
		http.Error(w, "content has no trusted price", http.StatusConflict)
	case errors.Is(err, claim.ErrRelayUnavailable):
		relayFailureCounter.Inc()
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		log.Printf("err: claims.Claim: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func claimResponse(result *claim.Result) map[string]any {
	resp := map[string]any{
		"status":      result.Status,
		"amount_paid": result.AmountPaid,
		"required":    result.Required,
		"remaining":   result.Remaining,
		"rejections":  result.Rejections,
	}
	if result.ViaCourseID != "" {
		resp["via_course_id"] = result.ViaCourseID
	}
	if result.TopupInvoice != nil {
		resp["topup_invoice"] = result.TopupInvoice
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	jsonb, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal resp: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonb)
}

func pubkeyIsAllowed(pubkeys []string, pubkey string) bool {
	// If no whitelist of pubkeys are provided, it's allowed
	if len(pubkeys) == 0 {
		return true
	}

	allowed := false
	for _, allowedPubkey := range pubkeys {
		if strings.EqualFold(allowedPubkey, pubkey) {
			allowed = true
			break
		}
	}

	return allowed
}

func validPubkey(pk string) bool {
	if len(pk) != 64 {
		return false
	}
	_, err := hex.DecodeString(pk)
	return err == nil
}
