package entitlement

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zapacademy/platform/internal/pricing"
)

// Purchase is the accumulated payment state for one (user, content) pair.
// There is exactly one row per pair; first payment and every later top-up go
// through the same upsert. AmountPaid never decreases and the row is never
// deleted, audits depend on it.
type Purchase struct {
	ID              string
	UserID          string
	ResourceID      *string
	CourseID        *string
	AmountPaid      int64
	PriceAtPurchase *int64
	ReceiptIDs      []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (p *Purchase) HasReceipt(id string) bool {
	for _, rid := range p.ReceiptIDs {
		if rid == id {
			return true
		}
	}
	return false
}

// Credit is one verified receipt's contribution: the receipt id for
// deduplication and the invoice-sourced amount.
type Credit struct {
	ReceiptID string
	Sats      int64
}

// UpsertRequest carries the candidate credits into the store. The store
// re-filters already-applied receipt ids inside its transaction, so two
// concurrent claims with overlapping receipts cannot double-count.
type UpsertRequest struct {
	UserID        string
	Ref           pricing.ContentRef
	Credits       []Credit
	PriceSnapshot *int64
}

// CourseAccess is derived, never stored.
type CourseAccess struct {
	Unlocked    bool
	ViaCourseID string
}

type Store interface {
	FindContentPrice(ctx context.Context, ref pricing.ContentRef) (*pricing.ContentPrice, error)
	FindPurchase(ctx context.Context, userID string, ref pricing.ContentRef) (*Purchase, error)
	ListPurchases(ctx context.Context, userID string) ([]Purchase, error)
	UpsertPurchase(ctx context.Context, req UpsertRequest) (*Purchase, error)
	FindCourseMemberships(ctx context.Context, resourceID string) ([]string, error)
	FindEnrollment(ctx context.Context, userID, courseID string) (bool, error)
}

func New(store Store) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("must provide a store")
	}
	return &Service{store: store}, nil
}

type Service struct {
	store Store
}

// ApplyVerifiedReceipts merges already-verified receipt credits into the
// purchase for (userID, quote content). Receipts whose ids were applied
// before contribute nothing; applying the same set twice is a no-op.
//
// The quote must be trusted: a resource with no operator-configured price
// can never be purchased, no matter what amounts or hints a caller
// supplies. This check lives here, in the ledger, not at call sites.
func (s *Service) ApplyVerifiedReceipts(ctx context.Context, userID string, quote *pricing.PriceQuote, credits []Credit) (*Purchase, error) {
	if quote == nil || quote.Source != pricing.SourceTrusted {
		return nil, ErrUntrustedPrice
	}

	ref := refFromQuote(quote)
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("quote ref: %w", err)
	}

	var positive []Credit
	for _, c := range credits {
		if c.Sats > 0 && c.ReceiptID != "" {
			positive = append(positive, c)
		}
	}

	// Nothing new to merge: report the current state, which may be nil
	// when the user never paid. A record is only created by a first
	// verified payment of at least one sat.
	if len(positive) == 0 {
		return s.store.FindPurchase(ctx, userID, ref)
	}

	snapshot := quote.Price
	purchase, err := s.store.UpsertPurchase(ctx, UpsertRequest{
		UserID:        userID,
		Ref:           ref,
		Credits:       positive,
		PriceSnapshot: &snapshot,
	})
	if err != nil {
		return nil, fmt.Errorf("UpsertPurchase: %w", err)
	}

	return purchase, nil
}

// RequiredAmount is min(priceAtPurchase, currentPrice) when a positive
// snapshot exists, else currentPrice. A price increase never locks out an
// existing buyer; a decrease still benefits them.
func (s *Service) RequiredAmount(p *Purchase, currentPrice int64) int64 {
	if p != nil && p.PriceAtPurchase != nil && *p.PriceAtPurchase > 0 && *p.PriceAtPurchase < currentPrice {
		return *p.PriceAtPurchase
	}
	return currentPrice
}

func (s *Service) FindPurchase(ctx context.Context, userID string, ref pricing.ContentRef) (*Purchase, error) {
	return s.store.FindPurchase(ctx, userID, ref)
}

func (s *Service) ListPurchases(ctx context.Context, userID string) ([]Purchase, error) {
	return s.store.ListPurchases(ctx, userID)
}

// ResolveCourseAccess checks whether a resource is unlocked transitively:
// the user bought, or is enrolled in, some course containing it. Candidate
// courses are walked in ascending id order, an arbitrary but stable
// tie-break, and the first qualifying one wins.
func (s *Service) ResolveCourseAccess(ctx context.Context, userID, resourceID string) (*CourseAccess, error) {
	courseIDs, err := s.store.FindCourseMemberships(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("FindCourseMemberships: %w", err)
	}
	sort.Strings(courseIDs)

	for _, courseID := range courseIDs {
		enrolled, err := s.store.FindEnrollment(ctx, userID, courseID)
		if err != nil {
			return nil, fmt.Errorf("FindEnrollment: %w", err)
		}
		if enrolled {
			return &CourseAccess{Unlocked: true, ViaCourseID: courseID}, nil
		}

		ref := pricing.CourseRef(courseID)
		purchase, err := s.store.FindPurchase(ctx, userID, ref)
		if err != nil {
			return nil, fmt.Errorf("FindPurchase: %w", err)
		}
		if purchase == nil {
			continue
		}

		row, err := s.store.FindContentPrice(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("FindContentPrice: %w", err)
		}
		if row == nil || row.Price == nil {
			// Course without a trusted price cannot be an unlock path.
			continue
		}

		if purchase.AmountPaid >= s.RequiredAmount(purchase, *row.Price) {
			return &CourseAccess{Unlocked: true, ViaCourseID: courseID}, nil
		}
	}

	return &CourseAccess{}, nil
}

func refFromQuote(quote *pricing.PriceQuote) pricing.ContentRef {
	if quote.ContentType == pricing.ContentCourse {
		return pricing.CourseRef(quote.ContentID)
	}
	return pricing.ResourceRef(quote.ContentID)
}
