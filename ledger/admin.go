package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerkean/gnizde.4ko/models"
	"github.com/nerkean/gnizde.4ko/repository"

	"go.uber.org/zap"
)

// SetStatus is the operator override. Any status in the closed set is
// accepted regardless of the current one; canceling needs confirm.
func (l *Ledger) SetStatus(ctx context.Context, id int64, status models.OrderStatus, confirm bool) (*models.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if status == models.OrderStatusCanceled && !confirm {
		return nil, ErrConfirmationRequired
	}

	current, err := l.orders.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	o, err := l.orders.SetStatus(ctx, id, status)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	l.logger.Info("Order status set by operator",
		zap.String("order_id", o.OrderID),
		zap.String("previous", string(current.Status)),
		zap.String("status", string(o.Status)),
	)
	if o.Status != current.Status {
		l.notifier.StatusChanged(ctx, o, current.Status)
	}
	return o, nil
}

// Delete removes the order permanently.
func (l *Ledger) Delete(ctx context.Context, id int64, confirm bool) error {
	if !confirm {
		return ErrConfirmationRequired
	}
	err := l.orders.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	l.logger.Info("Order deleted", zap.Int64("id", id))
	return nil
}
