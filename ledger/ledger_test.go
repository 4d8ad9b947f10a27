package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/nerkean/gnizde.4ko/models"
	"github.com/nerkean/gnizde.4ko/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	ledger   *Ledger
	orders   *memOrders
	products *memProducts
	notifier *recordingNotifier
	clock    *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	f := &fixture{
		orders: newMemOrders(),
		products: &memProducts{products: map[int64]models.Product{
			1: {ID: 1, Title: "Павук солом'яний", PriceUAH: decimal.NewFromInt(150)},
			2: {ID: 2, Title: "Зірка", PriceUAH: decimal.RequireFromString("80.50")},
		}},
		notifier: &recordingNotifier{},
		clock:    &fakeClock{now: time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)},
	}
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.ledger = New(f.orders, f.products, f.notifier, zaptest.NewLogger(t), opts...)
	return f
}

func callback(orderID string, class payment.Class, status string) *payment.Callback {
	raw, _ := json.Marshal(map[string]string{"order_id": orderID, "status": status})
	return &payment.Callback{
		Provider: payment.ProviderFondy,
		OrderID:  orderID,
		Status:   status,
		Class:    class,
		Raw:      raw,
	}
}

func TestLedger_PlaceOrder_EmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.PlaceOrder(context.Background(), models.PlaceOrderRequest{})
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Zero(t, f.products.calls, "no lookup for an empty cart")
	assert.Zero(t, f.orders.len())
}

func TestLedger_PlaceOrder_IgnoresClientPrice(t *testing.T) {
	f := newFixture(t)
	tampered := decimal.NewFromInt(1)

	o, err := f.ledger.PlaceOrder(context.Background(), models.PlaceOrderRequest{
		Items: []models.CartItem{{ID: 1, Qty: 2, Price: &tampered}},
	})
	require.NoError(t, err)
	assert.True(t, o.Total.Equal(decimal.NewFromInt(300)), "total %s", o.Total)
	assert.Equal(t, models.OrderStatusNew, o.Status)
	assert.Equal(t, models.SourceCheckout, o.Source)
	assert.Equal(t, "UAH", o.Currency)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Павук солом'яний", o.Items[0].Title)
	assert.True(t, o.Items[0].PriceUAH.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, []string{o.OrderID}, f.notifier.placed)
}

func TestLedger_PlaceOrder_MissingProductCreatesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.PlaceOrder(context.Background(), models.PlaceOrderRequest{
		Items: []models.CartItem{{ID: 1, Qty: 1}, {ID: 99, Qty: 1}},
	})
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.Zero(t, f.orders.len())
	assert.Empty(t, f.notifier.placed)
}

func TestLedger_PlaceOrder_ClampsQuantity(t *testing.T) {
	f := newFixture(t)

	o, err := f.ledger.PlaceOrder(context.Background(), models.PlaceOrderRequest{
		Items: []models.CartItem{{ID: 1, Qty: 0}, {ID: 2, Qty: -4}},
	})
	require.NoError(t, err)
	require.Len(t, o.Items, 2)
	assert.Equal(t, 1, o.Items[0].Qty)
	assert.Equal(t, 1, o.Items[1].Qty)
	assert.True(t, o.Total.Equal(decimal.RequireFromString("230.50")))
}

func TestLedger_PlaceOrder_AggregatesDuplicateIDs(t *testing.T) {
	f := newFixture(t)

	o, err := f.ledger.PlaceOrder(context.Background(), models.PlaceOrderRequest{
		Items: []models.CartItem{{ID: 1, Qty: 2}, {ID: 2, Qty: 1}, {ID: 1, Qty: 1}},
	})
	require.NoError(t, err)
	require.Len(t, o.Items, 2, "repeated ids fold into one line")
	assert.Equal(t, int64(1), o.Items[0].ProductID)
	assert.Equal(t, 3, o.Items[0].Qty)
	assert.Equal(t, int64(2), o.Items[1].ProductID)
	assert.True(t, o.Total.Equal(decimal.RequireFromString("530.50")))
}

func TestLedger_PlaceOrder_RejectsOverflowingQuantity(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.PlaceOrder(context.Background(), models.PlaceOrderRequest{
		Items: []models.CartItem{{ID: 1, Qty: math.MaxInt}, {ID: 1, Qty: math.MaxInt}},
	})
	assert.ErrorIs(t, err, ErrOrderTooLarge)
	assert.Zero(t, f.products.calls, "limits are checked before the product lookup")
	assert.Zero(t, f.orders.len())
	assert.Empty(t, f.notifier.placed)
}

func TestLedger_PlaceOrder_QuantityLimit(t *testing.T) {
	f := newFixture(t)

	o, err := f.ledger.PlaceOrder(context.Background(), models.PlaceOrderRequest{
		Items: []models.CartItem{{ID: 1, Qty: maxLineQty - 1}, {ID: 1, Qty: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, maxLineQty, o.Items[0].Qty)

	_, err = f.ledger.PlaceOrder(context.Background(), models.PlaceOrderRequest{
		Items: []models.CartItem{{ID: 1, Qty: maxLineQty}, {ID: 1, Qty: 1}},
	})
	assert.ErrorIs(t, err, ErrOrderTooLarge)
	assert.Equal(t, 1, f.orders.len())
}

func TestLedger_PlaceOrder_RejectsTotalBeyondColumn(t *testing.T) {
	f := newFixture(t)
	f.products.products[3] = models.Product{ID: 3, Title: "Люстра", PriceUAH: decimal.RequireFromString("99999999.99")}

	_, err := f.ledger.PlaceOrder(context.Background(), models.PlaceOrderRequest{
		Items: []models.CartItem{{ID: 3, Qty: 500}},
	})
	assert.ErrorIs(t, err, ErrOrderTooLarge)
	assert.Zero(t, f.orders.len())
}

func TestLedger_PlaceOrder_CommentGoesToCustomer(t *testing.T) {
	f := newFixture(t)

	o, err := f.ledger.PlaceOrder(context.Background(), models.PlaceOrderRequest{
		Items:    []models.CartItem{{ID: 1, Qty: 1}},
		Customer: models.Customer{Name: "Оксана", Phone: "+380501112233"},
		Delivery: models.Delivery{Type: models.DeliveryNova, City: "Київ", Warehouse: "12"},
		Comment:  "  подзвоніть  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "подзвоніть", o.Customer.Comment)
	assert.Equal(t, "Київ", o.Delivery.City)
}

func TestLedger_PlaceOrder_RegeneratesIDOnConflict(t *testing.T) {
	ids := []string{"ORD-000001-AAAA", "ORD-000001-AAAA", "ORD-000002-BBBB"}
	next := 0
	gen := func(time.Time) string {
		id := ids[next]
		next++
		return id
	}
	f := newFixture(t, WithIDGenerator(gen))
	req := models.PlaceOrderRequest{Items: []models.CartItem{{ID: 1, Qty: 1}}}

	first, err := f.ledger.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	second, err := f.ledger.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "ORD-000001-AAAA", first.OrderID)
	assert.Equal(t, "ORD-000002-BBBB", second.OrderID)
	assert.Equal(t, 2, f.orders.len())
}

func TestLedger_PlaceOrder_StoreError(t *testing.T) {
	f := newFixture(t)
	f.orders.createErr = errors.New("connection refused")

	_, err := f.ledger.PlaceOrder(context.Background(), models.PlaceOrderRequest{
		Items: []models.CartItem{{ID: 1, Qty: 1}},
	})
	assert.Error(t, err)
	assert.Empty(t, f.notifier.placed)
}

func TestNewOrderID_Format(t *testing.T) {
	re := regexp.MustCompile(`^ORD-\d{6}-[0-9A-F]{4}$`)
	id := NewOrderID(time.UnixMilli(1733050123456))
	assert.Regexp(t, re, id)
	assert.Equal(t, "ORD-123456-", id[:11])
}

func TestMerge(t *testing.T) {
	cases := []struct {
		current  models.OrderStatus
		class    payment.Class
		status   string
		want     models.OrderStatus
		markPaid bool
	}{
		{models.OrderStatusNew, payment.ClassOK, "approved", models.OrderStatusPaid, true},
		{models.OrderStatusFailed, payment.ClassOK, "approved", models.OrderStatusPaid, true},
		{models.OrderStatusPaid, payment.ClassOK, "approved", models.OrderStatusPaid, false},
		{models.OrderStatusNew, payment.ClassFail, "declined", models.OrderStatusFailed, false},
		{models.OrderStatusPaid, payment.ClassFail, "declined", models.OrderStatusPaid, false},
		{models.OrderStatusNew, payment.ClassPending, "processing", models.OrderStatusNew, false},
		{models.OrderStatusPaid, payment.ClassPending, "processing", models.OrderStatusPaid, false},
		{models.OrderStatusNew, payment.ClassUnknown, "hold_wait", models.OrderStatus("hold_wait"), false},
		{models.OrderStatusPaid, payment.ClassUnknown, "hold_wait", models.OrderStatusPaid, false},
		{models.OrderStatusNew, payment.ClassUnknown, "", models.OrderStatusNew, false},
		{models.OrderStatusShipped, payment.ClassFail, "reversed", models.OrderStatusShipped, false},
		{models.OrderStatusShipped, payment.ClassOK, "success", models.OrderStatusShipped, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%s/%s", tc.current, tc.class, tc.status), func(t *testing.T) {
			got, markPaid := Merge(tc.current, tc.class, tc.status)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.markPaid, markPaid)
		})
	}
}

func placeOne(t *testing.T, f *fixture) *models.Order {
	t.Helper()
	o, err := f.ledger.PlaceOrder(context.Background(), models.PlaceOrderRequest{
		Items: []models.CartItem{{ID: 1, Qty: 2}},
	})
	require.NoError(t, err)
	return o
}

func TestLedger_Reconcile_Idempotent(t *testing.T) {
	f := newFixture(t)
	o := placeOne(t, f)

	var firstPaidAt time.Time
	for i := 0; i < 5; i++ {
		res, err := f.ledger.Reconcile(context.Background(), callback(o.OrderID, payment.ClassOK, "approved"))
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPaid, res.Order.Status)
		require.NotNil(t, res.Order.PaidAt)
		if i == 0 {
			firstPaidAt = *res.Order.PaidAt
		}
		assert.Equal(t, firstPaidAt, *res.Order.PaidAt, "paid timestamp is stamped once")
	}

	stored := f.orders.get(o.OrderID)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.Equal(t, firstPaidAt, *stored.PaidAt)
	assert.Len(t, f.notifier.changes, 1, "one notification for the transition to paid")
	assert.Equal(t, 1, f.orders.len())
}

func TestLedger_Reconcile_StickyPaid(t *testing.T) {
	f := newFixture(t)
	o := placeOne(t, f)

	_, err := f.ledger.Reconcile(context.Background(), callback(o.OrderID, payment.ClassOK, "approved"))
	require.NoError(t, err)

	late := []*payment.Callback{
		callback(o.OrderID, payment.ClassFail, "declined"),
		callback(o.OrderID, payment.ClassPending, "processing"),
		callback(o.OrderID, payment.ClassUnknown, "hold_wait"),
		callback(o.OrderID, payment.ClassFail, "reversed"),
	}
	for _, cb := range late {
		res, err := f.ledger.Reconcile(context.Background(), cb)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPaid, res.Order.Status, cb.Status)
		assert.False(t, res.Changed())
		assert.JSONEq(t, string(cb.Raw), string(f.orders.get(o.OrderID).RawPayload), "raw payload always overwritten")
	}
}

func TestLedger_Reconcile_PendingKeepsStatusStoresPayload(t *testing.T) {
	f := newFixture(t)
	o := placeOne(t, f)

	cb := callback(o.OrderID, payment.ClassPending, "processing")
	res, err := f.ledger.Reconcile(context.Background(), cb)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusNew, res.Order.Status)
	assert.Nil(t, res.Order.PaidAt)

	stored := f.orders.get(o.OrderID)
	assert.Equal(t, models.OrderStatusNew, stored.Status)
	assert.JSONEq(t, string(cb.Raw), string(stored.RawPayload))
	assert.Empty(t, f.notifier.changes)
}

func TestLedger_Reconcile_FailThenOK(t *testing.T) {
	f := newFixture(t)
	o := placeOne(t, f)

	res, err := f.ledger.Reconcile(context.Background(), callback(o.OrderID, payment.ClassFail, "declined"))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, res.Order.Status)

	res, err = f.ledger.Reconcile(context.Background(), callback(o.OrderID, payment.ClassOK, "approved"))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, res.Order.Status)
	assert.NotNil(t, res.Order.PaidAt)
}

func TestLedger_Reconcile_DraftOnMiss(t *testing.T) {
	f := newFixture(t)
	cb := callback("ORD-404404-DEAD", payment.ClassOK, "approved")
	cb.Amount = decimal.RequireFromString("99.90")
	cb.HasAmount = true

	res, err := f.ledger.Reconcile(context.Background(), cb)
	require.NoError(t, err)
	assert.True(t, res.Draft)
	assert.Equal(t, 1, f.orders.len())

	stored := f.orders.get("ORD-404404-DEAD")
	require.NotNil(t, stored)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.NotNil(t, stored.PaidAt)
	assert.Equal(t, payment.ProviderFondy, stored.Source)
	assert.True(t, stored.IsDraft())
	assert.True(t, stored.Total.Equal(decimal.RequireFromString("99.90")))
	assert.Equal(t, "UAH", stored.Currency)
	assert.JSONEq(t, string(cb.Raw), string(stored.RawPayload))

	// A replay hits the draft instead of creating another one.
	_, err = f.ledger.Reconcile(context.Background(), cb)
	require.NoError(t, err)
	assert.Equal(t, 1, f.orders.len())
}

func TestLedger_Reconcile_DraftStatusFollowsCallback(t *testing.T) {
	cases := map[payment.Class]models.OrderStatus{
		payment.ClassFail:    models.OrderStatusFailed,
		payment.ClassPending: models.OrderStatusPending,
		payment.ClassUnknown: models.OrderStatus("hold_wait"),
	}
	for class, want := range cases {
		f := newFixture(t)
		res, err := f.ledger.Reconcile(context.Background(), callback("ORD-1", class, "hold_wait"))
		require.NoError(t, err)
		assert.Equal(t, want, res.Order.Status, string(class))
		assert.Nil(t, res.Order.PaidAt)
	}
}

func TestLedger_Reconcile_AmountMismatchIsRecordedNotBlocking(t *testing.T) {
	f := newFixture(t)
	o := placeOne(t, f)

	cb := callback(o.OrderID, payment.ClassOK, "approved")
	cb.Amount = decimal.NewFromInt(3)
	cb.HasAmount = true
	cb.Currency = "UAH"

	res, err := f.ledger.Reconcile(context.Background(), cb)
	require.NoError(t, err)
	assert.True(t, res.AmountMismatch)
	assert.Equal(t, models.OrderStatusPaid, res.Order.Status)

	ok := callback(o.OrderID, payment.ClassOK, "approved")
	ok.Amount = decimal.NewFromInt(300)
	ok.HasAmount = true
	res, err = f.ledger.Reconcile(context.Background(), ok)
	require.NoError(t, err)
	assert.False(t, res.AmountMismatch)
	assert.True(t, f.orders.get(o.OrderID).AmountMismatch, "mismatch flag is sticky")
}

func TestLedger_Reconcile_CurrencyMismatch(t *testing.T) {
	f := newFixture(t)
	o := placeOne(t, f)

	cb := callback(o.OrderID, payment.ClassPending, "processing")
	cb.Currency = "USD"
	res, err := f.ledger.Reconcile(context.Background(), cb)
	require.NoError(t, err)
	assert.True(t, res.AmountMismatch)
}

func TestLedger_Reconcile_RetriesLostRace(t *testing.T) {
	f := newFixture(t)
	o := placeOne(t, f)
	f.orders.casMisses = 2

	res, err := f.ledger.Reconcile(context.Background(), callback(o.OrderID, payment.ClassOK, "approved"))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, res.Order.Status)
}

func TestLedger_Reconcile_GivesUpAfterRepeatedRaces(t *testing.T) {
	f := newFixture(t)
	o := placeOne(t, f)
	f.orders.casMisses = 100

	_, err := f.ledger.Reconcile(context.Background(), callback(o.OrderID, payment.ClassOK, "approved"))
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
}

func TestLedger_Reconcile_StoreError(t *testing.T) {
	f := newFixture(t)
	o := placeOne(t, f)
	f.orders.applyErr = errors.New("connection reset")

	_, err := f.ledger.Reconcile(context.Background(), callback(o.OrderID, payment.ClassOK, "approved"))
	assert.Error(t, err)
	assert.Equal(t, models.OrderStatusNew, f.orders.get(o.OrderID).Status)
}

func TestLedger_Reconcile_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	o := placeOne(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cb := callback(o.OrderID, payment.ClassFail, "declined")
			if i%2 == 0 {
				cb = callback(o.OrderID, payment.ClassOK, "approved")
			}
			_, err := f.ledger.Reconcile(context.Background(), cb)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored := f.orders.get(o.OrderID)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.NotNil(t, stored.PaidAt)
}

func TestLedger_SetStatus(t *testing.T) {
	f := newFixture(t)
	o := placeOne(t, f)
	_, err := f.ledger.Reconcile(context.Background(), callback(o.OrderID, payment.ClassOK, "approved"))
	require.NoError(t, err)

	got, err := f.ledger.SetStatus(context.Background(), o.ID, models.OrderStatusNew, false)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusNew, got.Status, "operator may move a paid order anywhere")

	_, err = f.ledger.SetStatus(context.Background(), o.ID, "archived", true)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.ledger.SetStatus(context.Background(), o.ID, models.OrderStatusCanceled, false)
	assert.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Equal(t, models.OrderStatusNew, f.orders.get(o.OrderID).Status)

	got, err = f.ledger.SetStatus(context.Background(), o.ID, models.OrderStatusCanceled, true)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCanceled, got.Status)

	_, err = f.ledger.SetStatus(context.Background(), 404, models.OrderStatusShipped, false)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestLedger_Delete(t *testing.T) {
	f := newFixture(t)
	o := placeOne(t, f)

	assert.ErrorIs(t, f.ledger.Delete(context.Background(), o.ID, false), ErrConfirmationRequired)
	assert.Equal(t, 1, f.orders.len())

	require.NoError(t, f.ledger.Delete(context.Background(), o.ID, true))
	assert.Zero(t, f.orders.len())

	assert.ErrorIs(t, f.ledger.Delete(context.Background(), o.ID, true), ErrOrderNotFound)
}

func TestLedger_CheckoutToShipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := placeOne(t, f)
	assert.True(t, o.Total.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, models.OrderStatusNew, o.Status)

	res, err := f.ledger.Reconcile(ctx, callback(o.OrderID, payment.ClassOK, "approved"))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, res.Order.Status)
	assert.NotNil(t, res.Order.PaidAt)

	res, err = f.ledger.Reconcile(ctx, callback(o.OrderID, payment.ClassFail, "declined"))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, res.Order.Status)

	shipped, err := f.ledger.SetStatus(ctx, o.ID, models.OrderStatusShipped, false)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, shipped.Status)
}

func TestClampPage(t *testing.T) {
	page, limit := ClampPage(0, 1000)
	assert.Equal(t, 1, page)
	assert.Equal(t, 50, limit)
	page, limit = ClampPage(3, 0)
	assert.Equal(t, 3, page)
	assert.Equal(t, 5, limit)
}
