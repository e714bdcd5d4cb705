package invoice

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

var (
	// ErrUnusableInvoice means neither decode path produced a description
	// hash or an amount. Such an invoice cannot bind a payment to anything.
	ErrUnusableInvoice = errors.New("invoice has no description hash and no amount")
)

// Invoice is the subset of a bolt11 payment request the verifier needs.
type Invoice struct {
	PaymentHash     string
	DescriptionHash string
	MSat            int64
}

func (i *Invoice) Sats() int64 {
	return i.MSat / 1000
}

// Decode parses a bolt11 payment request. The structured decoder is tried
// first; any fields it leaves empty are recovered from the raw bech32
// sections, so an invoice that trips up the primary decoder is still usable
// as long as its sections carry a payment/description hash or an amount.
func Decode(pr string) (*Invoice, error) {
	var inv Invoice

	bolt11, primaryErr := decodepay.Decodepay(strings.TrimSpace(pr))
	if primaryErr == nil {
		inv.PaymentHash = bolt11.PaymentHash
		inv.DescriptionHash = bolt11.DescriptionHash
		inv.MSat = bolt11.MSatoshi
	}

	if inv.PaymentHash == "" || inv.DescriptionHash == "" || inv.MSat == 0 {
		raw, rawErr := decodeRaw(pr)
		if rawErr != nil && primaryErr != nil {
			return nil, fmt.Errorf("decode payment request: %w", primaryErr)
		}
		if rawErr == nil {
			if inv.PaymentHash == "" {
				inv.PaymentHash = raw.PaymentHash
			}
			if inv.DescriptionHash == "" {
				inv.DescriptionHash = raw.DescriptionHash
			}
			if inv.MSat == 0 {
				inv.MSat = raw.MSat
			}
		}
	}

	if inv.DescriptionHash == "" && inv.MSat == 0 {
		return nil, ErrUnusableInvoice
	}

	return &inv, nil
}

const (
	tagPaymentHash     = 1  // 'p'
	tagDescriptionHash = 23 // 'h'

	timestampGroups = 7
	signatureGroups = 104
)

// decodeRaw walks the invoice's 5-bit sections directly: amount from the
// human readable part, payment and description hashes from tagged fields.
func decodeRaw(pr string) (*Invoice, error) {
	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(strings.TrimSpace(pr)))
	if err != nil {
		return nil, fmt.Errorf("bech32 decode: %w", err)
	}
	if !strings.HasPrefix(hrp, "ln") {
		return nil, fmt.Errorf("not a lightning invoice hrp: %q", hrp)
	}
	if len(data) < timestampGroups+signatureGroups {
		return nil, fmt.Errorf("invoice data too short: %d groups", len(data))
	}

	inv := Invoice{
		MSat: hrpAmountMSat(hrp),
	}

	// Tagged fields sit between the timestamp and the trailing signature.
	fields := data[timestampGroups : len(data)-signatureGroups]
	for pos := 0; pos+3 <= len(fields); {
		tag := fields[pos]
		length := int(fields[pos+1])<<5 | int(fields[pos+2])
		pos += 3
		if pos+length > len(fields) {
			break
		}
		payload := fields[pos : pos+length]
		pos += length

		switch tag {
		case tagPaymentHash:
			if h := groupsToHash(payload); h != "" {
				inv.PaymentHash = h
			}
		case tagDescriptionHash:
			if h := groupsToHash(payload); h != "" {
				inv.DescriptionHash = h
			}
		}
	}

	return &inv, nil
}

// hrpAmountMSat extracts the optional amount from an hrp like "lnbc2500u".
// Returns 0 when the invoice is amountless or the amount is malformed.
func hrpAmountMSat(hrp string) int64 {
	amt := strings.TrimPrefix(hrp, "ln")
	for len(amt) > 0 && (amt[0] < '0' || amt[0] > '9') {
		amt = amt[1:] // currency prefix
	}
	if amt == "" {
		return 0
	}

	// msat per unit of 1 BTC is 1e11; multipliers scale down from there.
	var mul int64 = 100_000_000_000
	switch amt[len(amt)-1] {
	case 'm':
		mul = 100_000_000
		amt = amt[:len(amt)-1]
	case 'u':
		mul = 100_000
		amt = amt[:len(amt)-1]
	case 'n':
		mul = 100
		amt = amt[:len(amt)-1]
	case 'p':
		mul = 0 // handled below, 1 pico-BTC is a tenth of a msat
		amt = amt[:len(amt)-1]
	}

	n, err := strconv.ParseInt(amt, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	if mul == 0 {
		return n / 10
	}
	return n * mul
}

// groupsToHash converts a 52-group tagged field back into a 32 byte hash.
func groupsToHash(groups []byte) string {
	if len(groups) != 52 {
		return ""
	}
	b, err := bech32.ConvertBits(groups, 5, 8, true)
	if err != nil || len(b) < 32 {
		return ""
	}
	return hex.EncodeToString(b[:32])
}
