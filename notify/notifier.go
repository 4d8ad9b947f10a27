package notify

import (
	"context"
	"time"

	"github.com/nerkean/gnizde.4ko/models"

	"go.uber.org/zap"
)

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Direct sends notifications from a background goroutine so the request
// that triggered them never waits on Telegram.
type Direct struct {
	sender  Sender
	logger  *zap.Logger
	timeout time.Duration
	// wait is set by tests to observe completion.
	wait func()
}

func NewDirect(sender Sender, logger *zap.Logger) *Direct {
	return &Direct{sender: sender, logger: logger, timeout: 15 * time.Second}
}

func (d *Direct) OrderPlaced(ctx context.Context, o *models.Order) {
	d.dispatch(ctx, o.OrderID, FormatOrderPlaced(o))
}

func (d *Direct) StatusChanged(ctx context.Context, o *models.Order, previous models.OrderStatus) {
	if !Notable(o, previous) {
		return
	}
	d.dispatch(ctx, o.OrderID, FormatStatusChanged(o, previous))
}

func (d *Direct) dispatch(ctx context.Context, orderID, text string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if d.wait != nil {
			defer d.wait()
		}
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		if err := d.sender.Send(ctx, text); err != nil {
			d.logger.Error("Operator notification failed",
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
	}()
}
