package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nerkean/gnizde.4ko/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticSettings struct {
	s *models.AdminSettings
}

func (f staticSettings) Load(ctx context.Context) *models.AdminSettings { return f.s }

type telegramStub struct {
	mu       sync.Mutex
	requests []sendMessageRequest
	paths    []string
	failFor  map[string]bool
}

func (s *telegramStub) handler(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.paths = append(s.paths, r.URL.Path)
	fail := s.failFor[req.ChatID]
	s.mu.Unlock()
	if fail {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
		return
	}
	w.Write([]byte(`{"ok":true}`))
}

func sampleOrder() *models.Order {
	return &models.Order{
		OrderID: "ORD-123456-AB12",
		Items: models.LineItems{
			{ProductID: 1, Title: "Павук <великий>", PriceUAH: decimal.NewFromInt(150), Qty: 2},
		},
		Total:    decimal.NewFromInt(300),
		Currency: "UAH",
		Status:   models.OrderStatusNew,
		Customer: models.Customer{Name: "Оксана", Phone: "+380501112233", Comment: "після 18:00"},
		Delivery: models.Delivery{Type: models.DeliveryNova, City: "Львів", Warehouse: "Відділення 5"},
		Source:   models.SourceCheckout,
	}
}

func TestTelegram_Send_MergesRecipients(t *testing.T) {
	stub := &telegramStub{}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{Token: "T0KEN", StaticChats: "111,222", APIBase: srv.URL},
		staticSettings{&models.AdminSettings{TelegramChatIDs: models.ChatIDs{"222", "333"}}},
		zaptest.NewLogger(t))

	require.NoError(t, tg.Send(context.Background(), "<b>hi</b>"))
	require.Len(t, stub.requests, 3)

	chats := []string{}
	for i, req := range stub.requests {
		chats = append(chats, req.ChatID)
		assert.Equal(t, "HTML", req.ParseMode)
		assert.Equal(t, "<b>hi</b>", req.Text)
		assert.Equal(t, "/botT0KEN/sendMessage", stub.paths[i])
	}
	assert.ElementsMatch(t, []string{"111", "222", "333"}, chats)
}

func TestTelegram_Send_PartialFailureIsNotAnError(t *testing.T) {
	stub := &telegramStub{failFor: map[string]bool{"bad": true}}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{Token: "t", StaticChats: "bad,good", APIBase: srv.URL}, nil, zaptest.NewLogger(t))
	assert.NoError(t, tg.Send(context.Background(), "x"))

	tg = NewTelegram(TelegramConfig{Token: "t", StaticChats: "bad", APIBase: srv.URL}, nil, zaptest.NewLogger(t))
	err := tg.Send(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegram_Send_NotConfigured(t *testing.T) {
	tg := NewTelegram(TelegramConfig{StaticChats: "1"}, nil, zaptest.NewLogger(t))
	assert.ErrorIs(t, tg.Send(context.Background(), "x"), ErrNotConfigured)

	tg = NewTelegram(TelegramConfig{Token: "t"}, staticSettings{}, zaptest.NewLogger(t))
	assert.ErrorIs(t, tg.Send(context.Background(), "x"), ErrNoRecipients)
}

func TestFormatOrderPlaced(t *testing.T) {
	msg := FormatOrderPlaced(sampleOrder())

	assert.Contains(t, msg, "ORD-123456-AB12")
	assert.Contains(t, msg, "Павук &lt;великий&gt;")
	assert.Contains(t, msg, "2 шт. × 150.00 ₴")
	assert.Contains(t, msg, "СУМА: 300.00 ₴")
	assert.Contains(t, msg, "Нова Пошта: Львів, Відділення 5")
	assert.Contains(t, msg, "після 18:00")
}

func TestFormatStatusChanged(t *testing.T) {
	o := sampleOrder()
	o.Status = models.OrderStatusPaid
	msg := FormatStatusChanged(o, models.OrderStatusNew)
	assert.True(t, strings.HasPrefix(msg, "✅"))
	assert.Contains(t, msg, "new → <b>paid</b>")

	draft := &models.Order{OrderID: "ORD-X", Status: models.OrderStatusFailed, Source: models.SourceLiqPay, Currency: "UAH"}
	msg = FormatStatusChanged(draft, "")
	assert.Contains(t, msg, "чернетку (liqpay)")
}

func TestNotable(t *testing.T) {
	o := sampleOrder()
	o.Status = models.OrderStatusPaid
	assert.True(t, Notable(o, models.OrderStatusNew))
	assert.False(t, Notable(o, models.OrderStatusPaid))

	o.Status = models.OrderStatusShipped
	assert.False(t, Notable(o, models.OrderStatusPaid))

	o.Status = models.OrderStatusPending
	assert.True(t, Notable(o, ""))
}

type recordingSender struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recordingSender) Send(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return r.err
}

func TestDirect_DispatchesInBackground(t *testing.T) {
	sender := &recordingSender{err: errors.New("telegram down")}
	d := NewDirect(sender, zaptest.NewLogger(t))
	var wg sync.WaitGroup
	d.wait = wg.Done

	ctx, cancel := context.WithCancel(context.Background())
	wg.Add(1)
	d.OrderPlaced(ctx, sampleOrder())
	cancel()

	o := sampleOrder()
	o.Status = models.OrderStatusShipped
	d.StatusChanged(context.Background(), o, models.OrderStatusPaid)

	wg.Wait()
	require.Len(t, sender.texts, 1, "shipped is not announced")
	assert.Contains(t, sender.texts[0], "НОВЕ ЗАМОВЛЕННЯ")
}
