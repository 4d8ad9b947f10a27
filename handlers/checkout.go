package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nerkean/gnizde.4ko/ledger"
	"github.com/nerkean/gnizde.4ko/middleware"
	"github.com/nerkean/gnizde.4ko/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const tracerName = "gnizde-shop"

type CheckoutHandler struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

func NewCheckoutHandler(l *ledger.Ledger, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{ledger: l, logger: logger}
}

func (h *CheckoutHandler) PlaceOrder(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "PlaceOrder")
	defer span.End()

	var req models.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.Int("cart.items", len(req.Items)))

	order, err := h.ledger.PlaceOrder(ctx, req)
	switch {
	case errors.Is(err, ledger.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cart is empty"})
		return
	case errors.Is(err, ledger.ErrProductNotFound), errors.Is(err, ledger.ErrOrderTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		span.RecordError(err)
		h.logger.Error("Failed to place order",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	middleware.RecordOrderCreated()
	span.SetAttributes(attribute.String("order.id", order.OrderID))
	c.JSON(http.StatusOK, gin.H{"ok": true, "orderId": order.OrderID})
}

// GetOrder is the customer-facing lookup by business order id.
func (h *CheckoutHandler) GetOrder(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "GetPublicOrder")
	defer span.End()

	orderID := strings.TrimSpace(c.Param("orderId"))
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := h.ledger.GetByOrderID(ctx, orderID)
	if errors.Is(err, ledger.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to get order", zap.String("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, order.Public())
}
