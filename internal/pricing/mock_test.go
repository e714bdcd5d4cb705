package pricing

import (
	"context"
)

type mockContentRepo struct {
	FindContentPriceRow *ContentPrice
	FindContentPriceErr error
}

func (m *mockContentRepo) FindContentPrice(ctx context.Context, ref ContentRef) (*ContentPrice, error) {
	return m.FindContentPriceRow, m.FindContentPriceErr
}
