package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerkean/gnizde.4ko/models"
)

const orderColumns = "id, order_id, items, total, currency, status, customer, delivery, source, raw_payload, amount_mismatch, paid_at, created_at, updated_at"

type OrderStore struct {
	db *sql.DB
}

func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

func scanOrder(row scanner) (*models.Order, error) {
	var o models.Order
	var raw []byte
	var paidAt sql.NullTime
	err := row.Scan(
		&o.ID, &o.OrderID, &o.Items, &o.Total, &o.Currency, &o.Status,
		&o.Customer, &o.Delivery, &o.Source, &raw, &o.AmountMismatch,
		&paidAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		o.RawPayload = raw
	}
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	return &o, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// Create inserts o and fills in its storage id and timestamps. A duplicate
// business id yields ErrConflict.
func (s *OrderStore) Create(ctx context.Context, o *models.Order) error {
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO orders (order_id, items, total, currency, status, customer, delivery, source, raw_payload, amount_mismatch, paid_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id, created_at, updated_at",
		o.OrderID, o.Items, o.Total, o.Currency, o.Status, o.Customer, o.Delivery,
		o.Source, nullableJSON(o.RawPayload), o.AmountMismatch, nullableTime(o.PaidAt),
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (s *OrderStore) FindByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE order_id = $1", orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

func (s *OrderStore) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// PaymentUpdate is the result of merging one provider callback.
type PaymentUpdate struct {
	Status         models.OrderStatus
	PaidAt         *time.Time
	RawPayload     []byte
	AmountMismatch bool
	Currency       string
}

// ApplyPayment writes u only if the order still has the expected status, and
// reports whether the row was updated. paid_at is never overwritten once set
// and amount_mismatch is sticky.
func (s *OrderStore) ApplyPayment(ctx context.Context, id int64, expected models.OrderStatus, u PaymentUpdate) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, paid_at = COALESCE(paid_at, $2), raw_payload = $3, amount_mismatch = amount_mismatch OR $4, currency = COALESCE(NULLIF(currency, ''), $5), updated_at = CURRENT_TIMESTAMP WHERE id = $6 AND status = $7",
		u.Status, nullableTime(u.PaidAt), nullableJSON(u.RawPayload), u.AmountMismatch, u.Currency, id, expected,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (s *OrderStore) SetStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		"UPDATE orders SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 RETURNING "+orderColumns,
		status, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	return o, nil
}

func (s *OrderStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func orderWhere(f models.OrderFilter) *whereBuilder {
	w := &whereBuilder{}
	if f.Status != "" {
		w.add("status = " + w.next(f.Status))
	}
	if f.Query != "" {
		p := w.next(likePattern(f.Query))
		w.add("(order_id ILIKE " + p + " OR customer->>'name' ILIKE " + p +
			" OR customer->>'phone' ILIKE " + p + " OR delivery->>'city' ILIKE " + p + ")")
	}
	return w
}

func (s *OrderStore) Count(ctx context.Context, f models.OrderFilter) (int, error) {
	w := orderWhere(f)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return n, nil
}

// List returns orders newest first.
func (s *OrderStore) List(ctx context.Context, f models.OrderFilter, page, limit int) ([]models.Order, error) {
	w := orderWhere(f)
	query := "SELECT " + orderColumns + " FROM orders" + w.String() +
		" ORDER BY created_at DESC LIMIT " + w.next(limit) + " OFFSET " + w.next(offset(page, limit))

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
