package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nerkean/gnizde.4ko/ledger"
	"github.com/nerkean/gnizde.4ko/middleware"
	"github.com/nerkean/gnizde.4ko/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type AdminOrderHandler struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

func NewAdminOrderHandler(l *ledger.Ledger, logger *zap.Logger) *AdminOrderHandler {
	return &AdminOrderHandler{ledger: l, logger: logger}
}

// confirmed reads the out-of-band confirmation used by DELETE and by
// requests that carry no body.
func confirmed(c *gin.Context) bool {
	if v, err := strconv.ParseBool(c.Query("confirm")); err == nil && v {
		return true
	}
	v, err := strconv.ParseBool(c.GetHeader("X-Confirm"))
	return err == nil && v
}

func (h *AdminOrderHandler) writeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, ledger.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "Order not found"})
	case errors.Is(err, ledger.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
	case errors.Is(err, ledger.ErrConfirmationRequired):
		c.JSON(http.StatusPreconditionRequired, gin.H{"ok": false, "error": "Confirmation required"})
	default:
		h.logger.Error(msg,
			zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (h *AdminOrderHandler) ListOrders(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "AdminListOrders")
	defer span.End()

	filter := models.OrderFilter{
		Status: strings.TrimSpace(c.Query("status")),
		Query:  strings.TrimSpace(c.Query("q")),
	}
	page, limit := pageParams(c, 20)

	result, err := h.ledger.List(ctx, filter, page, limit)
	if err != nil {
		span.RecordError(err)
		h.writeError(c, err, "Failed to list orders")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AdminOrderHandler) GetOrder(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "AdminGetOrder")
	defer span.End()

	id, ok := parseID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int64("order.pk", id))

	order, err := h.ledger.Get(ctx, id)
	if err != nil {
		h.writeError(c, err, "Failed to get order")
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *AdminOrderHandler) UpdateStatus(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "AdminUpdateOrderStatus")
	defer span.End()

	id, ok := parseID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req models.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(
		attribute.Int64("order.pk", id),
		attribute.String("order.status", string(req.Status)),
	)

	order, err := h.ledger.SetStatus(ctx, id, req.Status, req.Confirm || confirmed(c))
	if err != nil {
		h.writeError(c, err, "Failed to update order status")
		return
	}
	h.logger.Info("Order status updated",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("order_id", order.OrderID),
		zap.String("status", string(order.Status)),
		zap.String("admin", middleware.AdminUser(c)),
	)
	c.JSON(http.StatusOK, gin.H{"ok": true, "order": order})
}

func (h *AdminOrderHandler) DeleteOrder(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "AdminDeleteOrder")
	defer span.End()

	id, ok := parseID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int64("order.pk", id))

	if err := h.ledger.Delete(ctx, id, confirmed(c)); err != nil {
		h.writeError(c, err, "Failed to delete order")
		return
	}
	h.logger.Info("Order deleted by admin",
		zap.Int64("id", id),
		zap.String("admin", middleware.AdminUser(c)),
	)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
