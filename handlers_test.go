package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapacademy/platform/internal/claim"
	"github.com/zapacademy/platform/internal/entitlement"
	"github.com/zapacademy/platform/internal/pricing"
	"github.com/zapacademy/platform/internal/receipt"
)

func TestPubkeyIsAllowed(t *testing.T) {
	var tests = []struct {
		name     string
		pubkeys  []string
		pubkey   string
		expected bool
	}{
		{"default open", []string{}, "123", true},
		{"whitelisted", []string{"123"}, "123", true},
		{"whitelisted", []string{"123", "456"}, "123", true},
		{"not whitelisted", []string{"123", "456"}, "789", false},
		{"case insensitive", []string{"ABC123"}, "abc123", true},
	}

	for _, tt := range tests {
		result := pubkeyIsAllowed(tt.pubkeys, tt.pubkey)
		assert.Equal(t, tt.expected, result)
	}
}

// stubStore serves one content row with a fixed price (nil = unpriced) and
// holds no purchases.
type stubStore struct {
	price *int64
}

func (s *stubStore) FindContentPrice(ctx context.Context, ref pricing.ContentRef) (*pricing.ContentPrice, error) {
	return &pricing.ContentPrice{Price: s.price, OwnerPubkey: strings.Repeat("ab", 32), EventID: "evt-1"}, nil
}

func (s *stubStore) FindPurchase(ctx context.Context, userID string, ref pricing.ContentRef) (*entitlement.Purchase, error) {
	return nil, nil
}

func (s *stubStore) ListPurchases(ctx context.Context, userID string) ([]entitlement.Purchase, error) {
	return nil, nil
}

func (s *stubStore) UpsertPurchase(ctx context.Context, req entitlement.UpsertRequest) (*entitlement.Purchase, error) {
	return nil, nil
}

func (s *stubStore) FindCourseMemberships(ctx context.Context, resourceID string) ([]string, error) {
	return nil, nil
}

func (s *stubStore) FindEnrollment(ctx context.Context, userID, courseID string) (bool, error) {
	return false, nil
}

func newTestHandlers(t *testing.T, store entitlement.Store) handlers {
	t.Helper()

	ledger, err := entitlement.New(store)
	require.NoError(t, err)

	claims, err := claim.New(pricing.New(store, nil), receipt.NewVerifier(nil), ledger, claim.Options{})
	require.NoError(t, err)

	return handlers{
		config: Config{},
		claims: claims,
		ledger: ledger,
	}
}

func TestHandleClaimCountsEveryAttempt(t *testing.T) {
	priced := int64(1000)

	var tests = []struct {
		name       string
		price      *int64
		wantStatus int
	}{
		{"partially paid", &priced, http.StatusOK},
		{"untrusted price", nil, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers(t, &stubStore{price: tt.price})

			before := testutil.ToFloat64(claimCounter)

			body := fmt.Sprintf(`{"pubkey":%q,"resource_id":"res-1"}`, strings.Repeat("ab", 32))
			w := httptest.NewRecorder()
			h.handleClaim(w, httptest.NewRequest(http.MethodPost, "/claim", strings.NewReader(body)))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, before+1, testutil.ToFloat64(claimCounter))
		})
	}
}

func TestValidPubkey(t *testing.T) {
	var tests = []struct {
		name     string
		pubkey   string
		expected bool
	}{
		{"valid", strings.Repeat("ab", 32), true},
		{"too short", "abcd", false},
		{"too long", strings.Repeat("ab", 33), false},
		{"not hex", strings.Repeat("zz", 32), false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		result := validPubkey(tt.pubkey)
		assert.Equal(t, tt.expected, result, tt.name)
	}
}
