package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerkean/gnizde.4ko/models"
	"github.com/nerkean/gnizde.4ko/payment"
	"github.com/nerkean/gnizde.4ko/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// settled statuses are never moved by automated callbacks.
func settled(s models.OrderStatus) bool {
	return s == models.OrderStatusPaid || s == models.OrderStatusShipped
}

// Merge computes the status an order should take after a callback of the
// given class. markPaid reports whether the paid timestamp must be stamped.
func Merge(current models.OrderStatus, class payment.Class, providerStatus string) (next models.OrderStatus, markPaid bool) {
	if settled(current) {
		return current, false
	}
	switch class {
	case payment.ClassOK:
		return models.OrderStatusPaid, true
	case payment.ClassFail:
		return models.OrderStatusFailed, false
	case payment.ClassPending:
		return current, false
	default:
		if s := strings.TrimSpace(providerStatus); s != "" {
			return models.OrderStatus(s), false
		}
		return current, false
	}
}

type ReconcileResult struct {
	Order          *models.Order
	Previous       models.OrderStatus
	Draft          bool
	AmountMismatch bool
}

func (r *ReconcileResult) Changed() bool {
	return r.Order.Status != r.Previous
}

// Reconcile applies a verified provider callback to its order. The write is
// conditional on the status read, so concurrent deliveries for the same order
// re-run the merge instead of overwriting each other. An unknown order id
// yields a draft order built from the callback.
func (l *Ledger) Reconcile(ctx context.Context, cb *payment.Callback) (*ReconcileResult, error) {
	for attempt := 0; attempt < maxReconcileAttempts; attempt++ {
		o, err := l.orders.FindByOrderID(ctx, cb.OrderID)
		if errors.Is(err, repository.ErrNotFound) {
			res, err := l.createDraft(ctx, cb)
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			return res, err
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load order: %w", err)
		}

		res, applied, err := l.apply(ctx, o, cb)
		if err != nil {
			return nil, err
		}
		if applied {
			return res, nil
		}
		l.logger.Debug("Order changed during reconcile, retrying",
			zap.String("order_id", cb.OrderID),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, fmt.Errorf("%w: %s", ErrConcurrentUpdate, cb.OrderID)
}

func (l *Ledger) apply(ctx context.Context, o *models.Order, cb *payment.Callback) (*ReconcileResult, bool, error) {
	previous := o.Status
	next, markPaid := Merge(previous, cb.Class, cb.Status)
	mismatch := amountMismatch(o, cb)

	u := repository.PaymentUpdate{
		Status:         next,
		RawPayload:     cb.Raw,
		AmountMismatch: mismatch,
		Currency:       cb.Currency,
	}
	var now time.Time
	if markPaid {
		now = l.now()
		u.PaidAt = &now
	}

	ok, err := l.orders.ApplyPayment(ctx, o.ID, previous, u)
	if err != nil {
		return nil, false, fmt.Errorf("failed to apply payment: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	o.Status = next
	o.RawPayload = cb.Raw
	o.AmountMismatch = o.AmountMismatch || mismatch
	if markPaid && o.PaidAt == nil {
		o.PaidAt = &now
	}
	if o.Currency == "" {
		o.Currency = cb.Currency
	}

	if mismatch {
		l.logger.Warn("Callback amount does not match order",
			zap.String("order_id", o.OrderID),
			zap.String("provider", cb.Provider),
			zap.String("order_total", o.Total.StringFixed(2)),
			zap.String("order_currency", o.Currency),
			zap.String("callback_amount", cb.Amount.StringFixed(2)),
			zap.String("callback_currency", cb.Currency),
		)
	}
	l.logger.Info("Payment callback applied",
		zap.String("order_id", o.OrderID),
		zap.String("provider", cb.Provider),
		zap.String("provider_status", cb.Status),
		zap.String("class", string(cb.Class)),
		zap.String("previous", string(previous)),
		zap.String("status", string(next)),
	)

	res := &ReconcileResult{Order: o, Previous: previous, AmountMismatch: mismatch}
	if res.Changed() {
		l.notifier.StatusChanged(ctx, o, previous)
	}
	return res, true, nil
}

func (l *Ledger) createDraft(ctx context.Context, cb *payment.Callback) (*ReconcileResult, error) {
	status, markPaid := Merge("", cb.Class, cb.Status)
	if status == "" {
		status = models.OrderStatusPending
	}
	currency := cb.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}
	total := decimal.Zero
	if cb.HasAmount {
		total = cb.Amount
	}

	o := &models.Order{
		OrderID:    cb.OrderID,
		Items:      models.LineItems{},
		Total:      total,
		Currency:   currency,
		Status:     status,
		Source:     cb.Provider,
		RawPayload: cb.Raw,
	}
	if markPaid {
		now := l.now()
		o.PaidAt = &now
	}

	if err := l.orders.Create(ctx, o); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create draft order: %w", err)
	}

	l.logger.Warn("Callback for unknown order, draft created",
		zap.String("order_id", o.OrderID),
		zap.String("provider", cb.Provider),
		zap.String("status", string(o.Status)),
	)
	l.notifier.StatusChanged(ctx, o, "")
	return &ReconcileResult{Order: o, Draft: true}, nil
}

// amountMismatch compares the callback against the stored total. Drafts and
// callbacks without an amount are not checked.
func amountMismatch(o *models.Order, cb *payment.Callback) bool {
	if o.IsDraft() {
		return false
	}
	if cb.HasAmount && !cb.Amount.Equal(o.Total) {
		return true
	}
	return cb.Currency != "" && o.Currency != "" && !strings.EqualFold(cb.Currency, o.Currency)
}
