package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/nerkean/gnizde.4ko/models"
	"github.com/nerkean/gnizde.4ko/repository"
)

type memOrders struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*models.Order
	// casMisses makes the next N ApplyPayment calls report a lost race.
	casMisses int
	createErr error
	applyErr  error
	creates   int
}

func newMemOrders() *memOrders {
	return &memOrders{byID: make(map[int64]*models.Order)}
}

func clone(o *models.Order) *models.Order {
	c := *o
	c.Items = append(models.LineItems(nil), o.Items...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	return &c
}

func (m *memOrders) Create(ctx context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.byID {
		if existing.OrderID == o.OrderID {
			return repository.ErrConflict
		}
	}
	m.creates++
	m.nextID++
	o.ID = m.nextID
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	m.byID[o.ID] = clone(o)
	return nil
}

func (m *memOrders) FindByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.OrderID == orderID {
			return clone(o), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memOrders) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(o), nil
}

func (m *memOrders) ApplyPayment(ctx context.Context, id int64, expected models.OrderStatus, u repository.PaymentUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return false, m.applyErr
	}
	if m.casMisses > 0 {
		m.casMisses--
		return false, nil
	}
	o, ok := m.byID[id]
	if !ok || o.Status != expected {
		return false, nil
	}
	o.Status = u.Status
	if o.PaidAt == nil && u.PaidAt != nil {
		t := *u.PaidAt
		o.PaidAt = &t
	}
	o.RawPayload = u.RawPayload
	o.AmountMismatch = o.AmountMismatch || u.AmountMismatch
	if o.Currency == "" {
		o.Currency = u.Currency
	}
	return true, nil
}

func (m *memOrders) SetStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	o.Status = status
	return clone(o), nil
}

func (m *memOrders) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memOrders) Count(ctx context.Context, f models.OrderFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID), nil
}

func (m *memOrders) List(ctx context.Context, f models.OrderFilter, page, limit int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for _, o := range m.byID {
		out = append(out, *clone(o))
	}
	return out, nil
}

func (m *memOrders) get(orderID string) *models.Order {
	o, err := m.FindByOrderID(context.Background(), orderID)
	if err != nil {
		return nil
	}
	return o
}

func (m *memOrders) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memProducts struct {
	products map[int64]models.Product
	calls    int
}

func (m *memProducts) FindByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	m.calls++
	out := []models.Product{}
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type statusChange struct {
	orderID  string
	previous models.OrderStatus
	status   models.OrderStatus
}

type recordingNotifier struct {
	mu      sync.Mutex
	placed  []string
	changes []statusChange
}

func (r *recordingNotifier) OrderPlaced(ctx context.Context, o *models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placed = append(r.placed, o.OrderID)
}

func (r *recordingNotifier) StatusChanged(ctx context.Context, o *models.Order, previous models.OrderStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, statusChange{orderID: o.OrderID, previous: previous, status: o.Status})
}
