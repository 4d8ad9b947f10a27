// Package ledger owns the Order record: checkout creation, payment callback
// reconciliation and manual operator transitions.
package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerkean/gnizde.4ko/models"
	"github.com/nerkean/gnizde.4ko/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrProductNotFound      = errors.New("referenced item not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidStatus        = errors.New("invalid order status")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrConcurrentUpdate     = errors.New("order was modified concurrently")
	ErrOrderTooLarge        = errors.New("order exceeds quantity limits")
)

type OrderRepository interface {
	Create(ctx context.Context, o *models.Order) error
	FindByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	FindByID(ctx context.Context, id int64) (*models.Order, error)
	ApplyPayment(ctx context.Context, id int64, expected models.OrderStatus, u repository.PaymentUpdate) (bool, error)
	SetStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context, f models.OrderFilter) (int, error)
	List(ctx context.Context, f models.OrderFilter, page, limit int) ([]models.Order, error)
}

type ProductRepository interface {
	FindByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
}

// Notifier receives best-effort operator notifications. Implementations log
// their own failures and must not block the caller on delivery.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *models.Order)
	StatusChanged(ctx context.Context, o *models.Order, previous models.OrderStatus)
}

type nopNotifier struct{}

func (nopNotifier) OrderPlaced(context.Context, *models.Order) {}
func (nopNotifier) StatusChanged(context.Context, *models.Order, models.OrderStatus) {}

const (
	maxIDAttempts        = 3
	maxReconcileAttempts = 5

	// maxLineQty bounds the summed quantity of one product in a cart.
	maxLineQty = 999
)

// maxOrderTotal is the largest total the orders.total DECIMAL(12,2) column holds.
var maxOrderTotal = decimal.RequireFromString("9999999999.99")

type Ledger struct {
	orders   OrderRepository
	products ProductRepository
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	newID    func(time.Time) string
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithIDGenerator(gen func(time.Time) string) Option {
	return func(l *Ledger) { l.newID = gen }
}

func New(orders OrderRepository, products ProductRepository, notifier Notifier, logger *zap.Logger, opts ...Option) *Ledger {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	l := &Ledger{
		orders:   orders,
		products: products,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		newID:    NewOrderID,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewOrderID returns a short token such as ORD-482913-9F3A: the last six
// digits of the millisecond clock plus four hex digits of random entropy.
func NewOrderID(t time.Time) string {
	id, err := uuid.NewRandom()
	if err != nil {
		var b [2]byte
		_, _ = rand.Read(b[:])
		return fmt.Sprintf("ORD-%06d-%02X%02X", t.UnixMilli()%1000000, b[0], b[1])
	}
	return fmt.Sprintf("ORD-%06d-%s", t.UnixMilli()%1000000, strings.ToUpper(id.String()[:4]))
}

func (l *Ledger) Get(ctx context.Context, id int64) (*models.Order, error) {
	o, err := l.orders.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (l *Ledger) GetByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := l.orders.FindByOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

type Page struct {
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
	Total int            `json:"total"`
	Items []models.Order `json:"items"`
}

// ClampPage bounds paging parameters to page >= 1 and 5 <= limit <= 50.
func ClampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 5 {
		limit = 5
	}
	if limit > 50 {
		limit = 50
	}
	return page, limit
}

func (l *Ledger) List(ctx context.Context, f models.OrderFilter, page, limit int) (*Page, error) {
	page, limit = ClampPage(page, limit)
	total, err := l.orders.Count(ctx, f)
	if err != nil {
		return nil, err
	}
	items, err := l.orders.List(ctx, f, page, limit)
	if err != nil {
		return nil, err
	}
	return &Page{Page: page, Limit: limit, Total: total, Items: items}, nil
}
