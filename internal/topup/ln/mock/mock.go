package mock

import (
	"context"

	"github.com/zapacademy/platform/internal/topup"
)

func New() *Client {
	return &Client{}
}

type Client struct {
}

func (c *Client) CreateInvoice(ctx context.Context, t topup.Topup) (*topup.Invoice, error) {
	return &topup.Invoice{
		ID:             "fake",
		PaymentRequest: "lnbcfake",
	}, nil
}
