package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "new"
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusShipped  OrderStatus = "shipped"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusFailed   OrderStatus = "failed"
	OrderStatusFailure  OrderStatus = "failure"
	OrderStatusError    OrderStatus = "error"
	OrderStatusSandbox  OrderStatus = "sandbox"
)

// AdminStatuses is the closed set an operator may assign by hand.
var AdminStatuses = []OrderStatus{
	OrderStatusNew,
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusShipped,
	OrderStatusCanceled,
	OrderStatusFailed,
	OrderStatusFailure,
	OrderStatusError,
	OrderStatusSandbox,
}

func (s OrderStatus) Valid() bool {
	for _, v := range AdminStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Order sources. Anything other than checkout is a draft created from a webhook.
const (
	SourceCheckout = "checkout"
	SourceLiqPay   = "liqpay"
	SourceFondy    = "fondy"
)

const DefaultCurrency = "UAH"

type Order struct {
	ID             int64           `json:"id"`
	OrderID        string          `json:"order_id"`
	Items          LineItems       `json:"items"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	Status         OrderStatus     `json:"status"`
	Customer       Customer        `json:"customer"`
	Delivery       Delivery        `json:"delivery"`
	Source         string          `json:"source"`
	RawPayload     json.RawMessage `json:"raw_payload,omitempty"`
	AmountMismatch bool            `json:"amount_mismatch"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (o *Order) IsDraft() bool {
	return o.Source != "" && o.Source != SourceCheckout
}

// LineItem is a snapshot taken at checkout; it is never re-read from the catalog.
type LineItem struct {
	ProductID int64           `json:"product_id"`
	Title     string          `json:"title"`
	PriceUAH  decimal.Decimal `json:"price_uah"`
	Qty       int             `json:"qty"`
}

func (li LineItem) LineTotal() decimal.Decimal {
	return li.PriceUAH.Mul(decimal.NewFromInt(int64(li.Qty)))
}

type LineItems []LineItem

func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue(l)
}

func (l *LineItems) Scan(src any) error {
	return scanJSON(src, l)
}

type Customer struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email,omitempty"`
	Messenger string `json:"messenger,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

func (c Customer) Value() (driver.Value, error) {
	return jsonValue(c)
}

func (c *Customer) Scan(src any) error {
	return scanJSON(src, c)
}

// Delivery types used by the storefront.
const (
	DeliveryNova    = "nova"
	DeliveryUkr     = "ukr"
	DeliveryCourier = "courier"
)

type Delivery struct {
	Type      string `json:"type"`
	City      string `json:"city,omitempty"`
	Warehouse string `json:"warehouse,omitempty"`
	Branch    string `json:"branch,omitempty"`
	Address   string `json:"address,omitempty"`
}

func (d Delivery) Value() (driver.Value, error) {
	return jsonValue(d)
}

func (d *Delivery) Scan(src any) error {
	return scanJSON(src, d)
}

// jsonValue returns text so lib/pq does not encode the document as bytea.
func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("unsupported JSON column type")
	}
}

type CartItem struct {
	ID  int64 `json:"id"`
	Qty int   `json:"qty"`
	// Price is accepted for compatibility with older carts and always ignored.
	Price *decimal.Decimal `json:"price,omitempty"`
}

type PlaceOrderRequest struct {
	Items    []CartItem `json:"items"`
	Customer Customer   `json:"customer"`
	Delivery Delivery   `json:"delivery"`
	Comment  string     `json:"comment"`
}

type UpdateStatusRequest struct {
	Status  OrderStatus `json:"status" binding:"required"`
	Confirm bool        `json:"confirm"`
}

// OrderFilter narrows admin order listings.
type OrderFilter struct {
	Status string
	Query  string
}

// PublicOrder is what a customer sees on the order lookup page.
type PublicOrder struct {
	OrderID   string          `json:"order_id"`
	Status    OrderStatus     `json:"status"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	Items     LineItems       `json:"items"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (o *Order) Public() PublicOrder {
	return PublicOrder{
		OrderID:   o.OrderID,
		Status:    o.Status,
		Total:     o.Total,
		Currency:  o.Currency,
		Items:     o.Items,
		PaidAt:    o.PaidAt,
		CreatedAt: o.CreatedAt,
	}
}

type OrderEvent struct {
	EventType      string          `json:"event_type"` // order_created, order_status_changed
	OrderID        string          `json:"order_id"`
	Status         OrderStatus     `json:"status"`
	PreviousStatus OrderStatus     `json:"previous_status,omitempty"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	Order          *Order          `json:"order,omitempty"`
}

const (
	EventOrderCreated       = "order_created"
	EventOrderStatusChanged = "order_status_changed"
)
