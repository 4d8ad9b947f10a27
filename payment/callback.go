// Package payment decodes payment-provider callbacks into a provider-agnostic
// Callback. Nothing downstream sees provider wire formats.
package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrBadSignature     = errors.New("bad signature")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Class is the reconciliation bucket of a provider status.
type Class string

const (
	ClassOK      Class = "ok"
	ClassPending Class = "pending"
	ClassFail    Class = "fail"
	ClassUnknown Class = "unknown"
)

// maxFieldLen bounds the provider strings that are stored on the order.
const maxFieldLen = 128

const (
	ProviderLiqPay = "liqpay"
	ProviderFondy  = "fondy"
)

type Callback struct {
	Provider string
	OrderID  string
	// Status is the provider's own status string, kept for unknown classes.
	Status string
	Class  Class
	// Amount is in major currency units. HasAmount is false when the
	// provider did not send a parseable amount.
	Amount    decimal.Decimal
	HasAmount bool
	Currency  string
	Raw       json.RawMessage
}

func (cb *Callback) checkLengths() error {
	for name, v := range map[string]string{"order_id": cb.OrderID, "status": cb.Status, "currency": cb.Currency} {
		if len(v) > maxFieldLen {
			return fmt.Errorf("%w: %s longer than %d bytes", ErrMalformedPayload, name, maxFieldLen)
		}
	}
	return nil
}
