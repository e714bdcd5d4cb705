package claim

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/zapacademy/platform/internal/audit"
	"github.com/zapacademy/platform/internal/entitlement"
	"github.com/zapacademy/platform/internal/pricing"
	"github.com/zapacademy/platform/internal/topup"
)

// memStore is an in-memory entitlement.Store with the same merge semantics
// as the real repos: per-receipt dedup inside the upsert.
type memStore struct {
	Prices      map[string]*pricing.ContentPrice
	Purchases   map[string]*entitlement.Purchase
	Memberships map[string][]string
	Enrollments map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		Prices:      map[string]*pricing.ContentPrice{},
		Purchases:   map[string]*entitlement.Purchase{},
		Memberships: map[string][]string{},
		Enrollments: map[string]bool{},
	}
}

func (m *memStore) FindContentPrice(ctx context.Context, ref pricing.ContentRef) (*pricing.ContentPrice, error) {
	return m.Prices[ref.ID()], nil
}

func (m *memStore) FindPurchase(ctx context.Context, userID string, ref pricing.ContentRef) (*entitlement.Purchase, error) {
	return m.Purchases[userID+"/"+ref.ID()], nil
}

func (m *memStore) ListPurchases(ctx context.Context, userID string) ([]entitlement.Purchase, error) {
	var out []entitlement.Purchase
	for _, p := range m.Purchases {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) UpsertPurchase(ctx context.Context, req entitlement.UpsertRequest) (*entitlement.Purchase, error) {
	key := req.UserID + "/" + req.Ref.ID()
	p := m.Purchases[key]
	if p == nil {
		p = &entitlement.Purchase{ID: key, UserID: req.UserID}
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

func (m *memStore) FindCourseMemberships(ctx context.Context, resourceID string) ([]string, error) {
	return m.Memberships[resourceID], nil
}

func (m *memStore) FindEnrollment(ctx context.Context, userID, courseID string) (bool, error) {
	return m.Enrollments[userID+"/"+courseID], nil
}

type mockSource struct {
	Events []*nostr.Event
	Err    error
	Calls  int
}

func (m *mockSource) FetchReceiptsOnce(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	m.Calls++
	return m.Events, m.Err
}

type mockAudit struct {
	mu     sync.Mutex
	Events []audit.Event
}

func (m *mockAudit) Record(ctx context.Context, evt audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, evt)
}

type mockIssuer struct {
	Invoice *topup.Invoice
	Err     error
	Calls   int
}

func (m *mockIssuer) CreateInvoice(ctx context.Context, t topup.Topup) (*topup.Invoice, error) {
	m.Calls++
	return m.Invoice, m.Err
}
