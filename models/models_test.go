package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Павук солом'яний":    "pavuk-solom-yanyi",
		"  Дідух №3  ":        "didukh-3",
		"Щедрик -- Різдво":    "shchedryk-rizdvo",
		"Straw Star":          "straw-star",
		"!!!":                 "",
		"Їжак ґудзик Європа":  "yizhak-gudzyk-yevropa",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOrderStatus_Valid(t *testing.T) {
	for _, s := range AdminStatuses {
		if !s.Valid() {
			t.Errorf("Expected %s to be valid", s)
		}
	}
	if OrderStatus("archived").Valid() {
		t.Error("Expected archived to be invalid")
	}
}

func TestChatIDs_UnmarshalJSON(t *testing.T) {
	var s AdminSettings
	if err := json.Unmarshal([]byte(`{"telegramChatIds":[123456789," -100 ","",7.0]}`), &s); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := []string{"123456789", "-100", "7"}
	if len(s.TelegramChatIDs) != len(want) {
		t.Fatalf("Expected %v, got %v", want, s.TelegramChatIDs)
	}
	for i := range want {
		if s.TelegramChatIDs[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, s.TelegramChatIDs)
		}
	}
}

func TestLineItems_ScanValue(t *testing.T) {
	items := LineItems{{ProductID: 1, Title: "Зірка", PriceUAH: decimal.RequireFromString("80.50"), Qty: 2}}
	v, err := items.Value()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	s, ok := v.(string)
	if !ok {
		t.Fatalf("Expected string value, got %T", v)
	}

	var back LineItems
	if err := back.Scan([]byte(s)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !back[0].LineTotal().Equal(decimal.NewFromInt(161)) {
		t.Errorf("Unexpected line total %s", back[0].LineTotal())
	}

	var empty LineItems
	if v, _ := empty.Value(); v != "[]" {
		t.Errorf("Expected [] for nil items, got %v", v)
	}
}

func TestOrder_Public(t *testing.T) {
	o := &Order{OrderID: "ORD-1", Status: OrderStatusPaid, Customer: Customer{Phone: "+380"}, Source: SourceCheckout}
	b, _ := json.Marshal(o.Public())
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	if _, ok := m["customer"]; ok {
		t.Error("Public view must not expose customer data")
	}
	if o.IsDraft() {
		t.Error("Checkout order is not a draft")
	}
}
