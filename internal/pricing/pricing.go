package pricing

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrContentNotFound = errors.New("content not found")
)

type ContentType string

const (
	ContentResource ContentType = "resource"
	ContentCourse   ContentType = "course"
)

// Source records where a price came from. Only a Trusted price, read from
// the operator's own store, may ever grant entitlement. An UntrustedHint
// arrives from protocol events an attacker can author, so it is surfaced for
// display and mismatch reporting but the ledger refuses to act on it.
type Source string

const (
	SourceTrusted       Source = "trusted"
	SourceUntrustedHint Source = "untrusted_hint"
)

// ContentRef identifies exactly one resource or one course.
type ContentRef struct {
	ResourceID string
	CourseID   string
}

func ResourceRef(id string) ContentRef { return ContentRef{ResourceID: id} }
func CourseRef(id string) ContentRef   { return ContentRef{CourseID: id} }

func (r ContentRef) Validate() error {
	if (r.ResourceID == "") == (r.CourseID == "") {
		return fmt.Errorf("must reference exactly one of resource or course")
	}
	return nil
}

func (r ContentRef) ID() string {
	if r.ResourceID != "" {
		return r.ResourceID
	}
	return r.CourseID
}

func (r ContentRef) Type() ContentType {
	if r.CourseID != "" {
		return ContentCourse
	}
	return ContentResource
}

// ContentPrice is the stored pricing row for a content item. A nil Price
// means the operator never configured one.
type ContentPrice struct {
	Price       *int64
	OwnerPubkey string
	OwnerUserID string
	EventID     string
	Address     string
}

// PriceQuote answers "what must be paid, and can that number be trusted".
// It never grants access by itself.
type PriceQuote struct {
	Price         int64
	Source        Source
	ContentType   ContentType
	ContentID     string
	OwnerPubkey   string
	OwnerUserID   string
	TargetEventID string
	TargetAddress string
}

type contentRepo interface {
	FindContentPrice(ctx context.Context, ref ContentRef) (*ContentPrice, error)
}

// MismatchFunc fires when a trusted price disagrees with an event-supplied
// hint. Observability only; the trusted price always wins.
type MismatchFunc func(ref ContentRef, trusted, hint int64)

func New(repo contentRepo, onMismatch MismatchFunc) *Resolver {
	return &Resolver{
		repo:       repo,
		onMismatch: onMismatch,
	}
}

type Resolver struct {
	repo       contentRepo
	onMismatch MismatchFunc
}

// Resolve returns the authoritative price quote for a content item. When the
// stored price is set the hint is ignored (and compared for mismatch
// reporting); otherwise the clamped hint is returned marked untrusted.
func (r *Resolver) Resolve(ctx context.Context, ref ContentRef, hint *int64) (*PriceQuote, error) {
	if err := ref.Validate(); err != nil {
		return nil, ErrContentNotFound
	}

	row, err := r.repo.FindContentPrice(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("FindContentPrice: %w", err)
	}
	if row == nil {
		return nil, ErrContentNotFound
	}

	quote := PriceQuote{
		ContentType:   ref.Type(),
		ContentID:     ref.ID(),
		OwnerPubkey:   row.OwnerPubkey,
		OwnerUserID:   row.OwnerUserID,
		TargetEventID: row.EventID,
		TargetAddress: row.Address,
	}

	if row.Price != nil {
		quote.Price = *row.Price
		quote.Source = SourceTrusted

		if hint != nil && clampHint(*hint) != *row.Price && r.onMismatch != nil {
			r.onMismatch(ref, *row.Price, clampHint(*hint))
		}
		return &quote, nil
	}

	quote.Source = SourceUntrustedHint
	if hint != nil {
		quote.Price = clampHint(*hint)
	}
	return &quote, nil
}

func clampHint(hint int64) int64 {
	if hint < 0 {
		return 0
	}
	return hint
}
