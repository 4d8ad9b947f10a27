package payment

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	liqpayOK      = []string{"success", "sandbox"}
	liqpayPending = []string{"processing", "wait_secure", "wait_accept", "3ds_verify", "otp_verify"}
	liqpayFail    = []string{"failure", "error", "reversed"}
)

// ClassifyLiqPay maps a LiqPay status string to its reconciliation bucket.
func ClassifyLiqPay(status string) Class {
	return classify(status, liqpayOK, liqpayPending, liqpayFail)
}

func classify(status string, ok, pending, fail []string) Class {
	for _, s := range ok {
		if status == s {
			return ClassOK
		}
	}
	for _, s := range pending {
		if status == s {
			return ClassPending
		}
	}
	for _, s := range fail {
		if status == s {
			return ClassFail
		}
	}
	return ClassUnknown
}

// LiqPay verifies and decodes LiqPay server callbacks: a base64 JSON `data`
// field signed with base64(sha1(private_key + data + private_key)).
type LiqPay struct {
	privateKey string
}

func NewLiqPay(privateKey string) *LiqPay {
	return &LiqPay{privateKey: privateKey}
}

func (l *LiqPay) Sign(data string) string {
	sum := sha1.Sum([]byte(l.privateKey + data + l.privateKey))
	return base64.StdEncoding.EncodeToString(sum[:])
}

type liqpayPayload struct {
	Status   string           `json:"status"`
	OrderID  string           `json:"order_id"`
	Amount   json.RawMessage  `json:"amount"`
	Currency string           `json:"currency"`
}

// Decode rejects the callback with ErrBadSignature when no private key is
// configured or the signature does not match.
func (l *LiqPay) Decode(data, signature string) (*Callback, error) {
	if l.privateKey == "" {
		return nil, ErrBadSignature
	}
	expected := l.Sign(data)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return nil, ErrBadSignature
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: data is not base64: %v", ErrMalformedPayload, err)
	}

	var p liqpayPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(p.OrderID) == "" {
		return nil, fmt.Errorf("%w: missing order_id", ErrMalformedPayload)
	}

	status := p.Status
	if status == "" {
		status = "error"
	}

	cb := &Callback{
		Provider: ProviderLiqPay,
		OrderID:  strings.TrimSpace(p.OrderID),
		Status:   status,
		Class:    ClassifyLiqPay(status),
		Currency: p.Currency,
		Raw:      raw,
	}
	if err := cb.checkLengths(); err != nil {
		return nil, err
	}
	if a, ok := parseAmount(p.Amount); ok {
		cb.Amount = a
		cb.HasAmount = true
	}
	return cb, nil
}

// parseAmount accepts a JSON number or a numeric string. Anything else is
// treated as an absent amount.
func parseAmount(raw json.RawMessage) (decimal.Decimal, bool) {
	v := strings.TrimSpace(string(raw))
	if v == "" || v == "null" {
		return decimal.Decimal{}, false
	}
	if strings.HasPrefix(v, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, false
		}
		v = strings.TrimSpace(s)
	}
	a, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return a, true
}
