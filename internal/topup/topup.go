package topup

import (
	"context"
)

// Topup asks a lightning provider for an invoice covering the remaining
// amount on a partially paid purchase. The platform never holds the funds;
// the invoice pays the provider account the operator configured.
type Topup struct {
	UserID    string
	ContentID string
	Sats      int64
}

type Invoice struct {
	ID             string `json:"id"`
	PaymentRequest string `json:"payment_request"`
}

type Issuer interface {
	CreateInvoice(ctx context.Context, t Topup) (*Invoice, error)
}
