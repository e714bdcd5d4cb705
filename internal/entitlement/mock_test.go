package entitlement

import (
	"context"

	"github.com/zapacademy/platform/internal/pricing"
)

// mockStore keeps purchases in memory with the same merge semantics the real
// stores implement: per-receipt dedup inside the upsert.
type mockStore struct {
	Prices      map[string]*pricing.ContentPrice
	Purchases   map[string]*Purchase
	Memberships map[string][]string
	Enrollments map[string]bool

	UpsertErr error
	FindErr   error
	Upserts   int
}

func newMockStore() *mockStore {
	return &mockStore{
		Prices:      map[string]*pricing.ContentPrice{},
		Purchases:   map[string]*Purchase{},
		Memberships: map[string][]string{},
		Enrollments: map[string]bool{},
	}
}

func purchaseKey(userID string, ref pricing.ContentRef) string {
	return userID + "/" + ref.ID()
}

func (m *mockStore) FindContentPrice(ctx context.Context, ref pricing.ContentRef) (*pricing.ContentPrice, error) {
	return m.Prices[ref.ID()], m.FindErr
}

func (m *mockStore) FindPurchase(ctx context.Context, userID string, ref pricing.ContentRef) (*Purchase, error) {
	return m.Purchases[purchaseKey(userID, ref)], m.FindErr
}

func (m *mockStore) ListPurchases(ctx context.Context, userID string) ([]Purchase, error) {
	var out []Purchase
	for _, p := range m.Purchases {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, m.FindErr
}

func (m *mockStore) UpsertPurchase(ctx context.Context, req UpsertRequest) (*Purchase, error) {
	if m.UpsertErr != nil {
		return nil, m.UpsertErr
	}
	m.Upserts++

	key := purchaseKey(req.UserID, req.Ref)
	p := m.Purchases[key]
	if p == nil {
		p = &Purchase{
			ID:     key,
			UserID: req.UserID,
		}
		if req.Ref.CourseID != "" {
			id := req.Ref.CourseID
			p.CourseID = &id
		} else {
			id := req.Ref.ResourceID
			p.ResourceID = &id
		}
		m.Purchases[key] = p
	}

	for _, c := range req.Credits {
		if p.HasReceipt(c.ReceiptID) {
			continue
		}
		p.ReceiptIDs = append(p.ReceiptIDs, c.ReceiptID)
		p.AmountPaid += c.Sats
	}

	if p.PriceAtPurchase == nil && req.PriceSnapshot != nil {
		snap := *req.PriceSnapshot
		p.PriceAtPurchase = &snap
	}

	return p, nil
}

func (m *mockStore) FindCourseMemberships(ctx context.Context, resourceID string) ([]string, error) {
	return m.Memberships[resourceID], m.FindErr
}

func (m *mockStore) FindEnrollment(ctx context.Context, userID, courseID string) (bool, error) {
	return m.Enrollments[userID+"/"+courseID], m.FindErr
}
