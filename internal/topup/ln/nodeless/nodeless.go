package nodeless

import (
	"context"

	"github.com/nodeless-io/go-nodeless"

	"github.com/zapacademy/platform/internal/topup"
)

func New(apiKey, storeID string, testnet bool) (*Client, error) {
	c, err := nodeless.New(nodeless.Config{
		APIKey:     apiKey,
		UseTestnet: testnet,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		Client:  c,
		storeID: storeID,
	}, nil
}

type Client struct {
	*nodeless.Client
	storeID string
}

func (c *Client) CreateInvoice(ctx context.Context, t topup.Topup) (*topup.Invoice, error) {
	invoice, err := c.CreateStoreInvoice(ctx, nodeless.CreateInvoiceRequest{
		StoreID:  c.storeID,
		Amount:   float64(t.Sats),
		Currency: "SATS",
	})
	if err != nil {
		return nil, err
	}

	return &topup.Invoice{
		ID:             invoice.ID,
		PaymentRequest: invoice.LightningInvoice,
	}, nil
}
