package zbd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	zebedee "github.com/zebedeeio/go-sdk"

	"github.com/zapacademy/platform/internal/topup"
)

func New(apiKey, chargeCallbackURL string) (*Client, error) {
	return &Client{
		Client:            zebedee.New(apiKey),
		chargeCallbackURL: chargeCallbackURL,
	}, nil
}

type Client struct {
	*zebedee.Client
	chargeCallbackURL string
}

func (c *Client) CreateInvoice(ctx context.Context, t topup.Topup) (*topup.Invoice, error) {
	invoice, err := c.Charge(&zebedee.Charge{
		InternalID:  t.UserID + ":" + t.ContentID,
		Amount:      strconv.FormatInt(t.Sats*1000, 10), // millisats
		Description: fmt.Sprintf("Top up %s", t.ContentID),
		ExpiresIn:   int64((time.Minute * 5).Seconds()),
		CallbackURL: c.chargeCallbackURL,
	})
	if err != nil {
		return nil, err
	}

	return &topup.Invoice{
		ID:             invoice.ID,
		PaymentRequest: invoice.Invoice.Request,
	}, nil
}
