package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nerkean/gnizde.4ko/models"
	"github.com/nerkean/gnizde.4ko/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PlaceOrder prices the cart from stored product prices and persists a new
// order. Client-supplied prices are ignored. Repeated product ids are folded
// into a single line with summed quantities.
func (l *Ledger) PlaceOrder(ctx context.Context, req models.PlaceOrderRequest) (*models.Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}

	qty := make(map[int64]int, len(req.Items))
	ids := make([]int64, 0, len(req.Items))
	for _, it := range req.Items {
		q := it.Qty
		if q < 1 {
			q = 1
		}
		if q > maxLineQty || qty[it.ID] > maxLineQty-q {
			return nil, fmt.Errorf("%w: product %d", ErrOrderTooLarge, it.ID)
		}
		if _, ok := qty[it.ID]; !ok {
			ids = append(ids, it.ID)
		}
		qty[it.ID] += q
	}

	products, err := l.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to look up products: %w", err)
	}
	byID := make(map[int64]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	items := make(models.LineItems, 0, len(ids))
	total := decimal.Zero
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: product %d", ErrProductNotFound, id)
		}
		li := models.LineItem{ProductID: p.ID, Title: p.Title, PriceUAH: p.PriceUAH, Qty: qty[id]}
		total = total.Add(li.LineTotal())
		items = append(items, li)
	}
	if total.GreaterThan(maxOrderTotal) {
		return nil, fmt.Errorf("%w: total %s", ErrOrderTooLarge, total.StringFixed(2))
	}

	customer := req.Customer
	if c := strings.TrimSpace(req.Comment); c != "" {
		customer.Comment = c
	}

	order := &models.Order{
		Items:    items,
		Total:    total,
		Currency: models.DefaultCurrency,
		Status:   models.OrderStatusNew,
		Customer: customer,
		Delivery: req.Delivery,
		Source:   models.SourceCheckout,
	}

	for attempt := 0; ; attempt++ {
		order.OrderID = l.newID(l.now())
		err = l.orders.Create(ctx, order)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) || attempt+1 >= maxIDAttempts {
			return nil, fmt.Errorf("failed to save order: %w", err)
		}
		l.logger.Warn("Order id collision, regenerating", zap.String("order_id", order.OrderID))
	}

	l.logger.Info("Order placed",
		zap.String("order_id", order.OrderID),
		zap.String("total", order.Total.StringFixed(2)),
		zap.Int("lines", len(order.Items)),
	)
	l.notifier.OrderPlaced(ctx, order)
	return order, nil
}
