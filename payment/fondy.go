package payment

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	fondyOK      = []string{"approved"}
	fondyPending = []string{"created", "processing", ""}
	fondyFail    = []string{"declined", "expired", "reversed", "error"}
)

func ClassifyFondy(status string) Class {
	return classify(status, fondyOK, fondyPending, fondyFail)
}

// Fondy decodes Fondy server callbacks. Signature checking is enabled only
// when a merchant password is configured.
type Fondy struct {
	merchantPassword string
}

func NewFondy(merchantPassword string) *Fondy {
	return &Fondy{merchantPassword: merchantPassword}
}

func (f *Fondy) VerifiesSignature() bool {
	return f.merchantPassword != ""
}

// Sign computes sha1(password|v1|v2|...) over the non-empty values ordered by
// key, excluding the signature fields themselves.
func (f *Fondy) Sign(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k, v := range values {
		if k == "signature" || k == "response_signature_string" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, f.merchantPassword)
	for _, k := range keys {
		parts = append(parts, values[k])
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func (f *Fondy) Decode(values map[string]string) (*Callback, error) {
	if f.VerifiesSignature() {
		expected := f.Sign(values)
		got := strings.ToLower(values["signature"])
		if subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
			return nil, ErrBadSignature
		}
	}

	orderID := strings.TrimSpace(values["order_id"])
	if orderID == "" {
		return nil, fmt.Errorf("%w: missing order_id", ErrMalformedPayload)
	}

	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	status := strings.TrimSpace(values["order_status"])
	cb := &Callback{
		Provider: ProviderFondy,
		OrderID:  orderID,
		Status:   status,
		Class:    ClassifyFondy(status),
		Currency: values["currency"],
		Raw:      raw,
	}
	if err := cb.checkLengths(); err != nil {
		return nil, err
	}
	// Fondy reports amounts in minor units.
	if a, err := decimal.NewFromString(strings.TrimSpace(values["amount"])); err == nil {
		cb.Amount = a.Shift(-2)
		cb.HasAmount = true
	}
	return cb, nil
}
