package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/nerkean/gnizde.4ko/ledger"
	"github.com/nerkean/gnizde.4ko/middleware"
	"github.com/nerkean/gnizde.4ko/payment"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

type WebhookHandler struct {
	ledger        *ledger.Ledger
	liqpay        *payment.LiqPay
	fondy         *payment.Fondy
	publicBaseURL string
	logger        *zap.Logger
}

func NewWebhookHandler(l *ledger.Ledger, liqpay *payment.LiqPay, fondy *payment.Fondy, publicBaseURL string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		ledger:        l,
		liqpay:        liqpay,
		fondy:         fondy,
		publicBaseURL: publicBaseURL,
		logger:        logger,
	}
}

func (h *WebhookHandler) LiqPay(c *gin.Context) {
	_, span := otel.Tracer(tracerName).Start(c.Request.Context(), "LiqPayWebhook")
	defer span.End()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	cb, err := h.liqpay.Decode(c.PostForm("data"), c.PostForm("signature"))
	if err != nil {
		h.reject(c, span, payment.ProviderLiqPay, err)
		return
	}
	h.reconcile(c, span, cb)
}

func (h *WebhookHandler) Fondy(c *gin.Context) {
	_, span := otel.Tracer(tracerName).Start(c.Request.Context(), "FondyWebhook")
	defer span.End()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	values, err := fondyValues(c)
	if err != nil {
		h.reject(c, span, payment.ProviderFondy, errors.Join(payment.ErrMalformedPayload, err))
		return
	}
	cb, err := h.fondy.Decode(values)
	if err != nil {
		h.reject(c, span, payment.ProviderFondy, err)
		return
	}
	h.reconcile(c, span, cb)
}

// fondyValues flattens a form or JSON callback into string values. JSON
// bodies may wrap the fields in a "response" object.
func fondyValues(c *gin.Context) (map[string]string, error) {
	values := map[string]string{}
	if strings.HasPrefix(c.ContentType(), "application/json") {
		dec := json.NewDecoder(c.Request.Body)
		dec.UseNumber()
		var body map[string]any
		if err := dec.Decode(&body); err != nil {
			return nil, err
		}
		if inner, ok := body["response"].(map[string]any); ok {
			body = inner
		}
		for k, v := range body {
			switch val := v.(type) {
			case string:
				values[k] = val
			case json.Number:
				values[k] = val.String()
			case bool:
				if val {
					values[k] = "true"
				} else {
					values[k] = "false"
				}
			case nil:
			default:
				b, _ := json.Marshal(val)
				values[k] = string(b)
			}
		}
		return values, nil
	}

	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	for k, v := range c.Request.PostForm {
		if len(v) > 0 {
			values[k] = v[0]
		}
	}
	return values, nil
}

func (h *WebhookHandler) reject(c *gin.Context, span trace.Span, provider string, err error) {
	span.RecordError(err)
	middleware.RecordWebhookCallback(provider, "rejected")
	h.logger.Warn("Rejected payment callback",
		zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
		zap.String("provider", provider),
		zap.String("ip", c.ClientIP()),
		zap.Error(err),
	)
	if errors.Is(err, payment.ErrBadSignature) {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "bad signature"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "malformed payload"})
}

func (h *WebhookHandler) reconcile(c *gin.Context, span trace.Span, cb *payment.Callback) {
	ctx := trace.ContextWithSpan(c.Request.Context(), span)
	span.SetAttributes(
		attribute.String("payment.provider", cb.Provider),
		attribute.String("payment.status", cb.Status),
		attribute.String("payment.class", string(cb.Class)),
		attribute.String("order.id", cb.OrderID),
	)
	middleware.RecordWebhookCallback(cb.Provider, string(cb.Class))

	res, err := h.ledger.Reconcile(ctx, cb)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to reconcile payment callback",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("provider", cb.Provider),
			zap.String("order_id", cb.OrderID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Internal server error"})
		return
	}
	if res.AmountMismatch {
		middleware.RecordAmountMismatch(cb.Provider)
	}
	if res.Draft {
		c.JSON(http.StatusOK, gin.H{"ok": true, "created": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *WebhookHandler) successURL(orderID string) string {
	u := h.publicBaseURL + "/checkout/success"
	if orderID != "" {
		u += "?" + url.Values{"order_id": {orderID}}.Encode()
	}
	return u
}

// FondyReturn handles the browser POST back from the payment page.
func (h *WebhookHandler) FondyReturn(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	if err := c.Request.ParseForm(); err != nil {
		h.logger.Warn("Malformed Fondy return", zap.Error(err))
		c.Redirect(http.StatusSeeOther, h.successURL(""))
		return
	}
	c.Redirect(http.StatusSeeOther, h.successURL(strings.TrimSpace(c.Request.PostForm.Get("order_id"))))
}

func (h *WebhookHandler) FondyReturnGet(c *gin.Context) {
	c.Redirect(http.StatusFound, h.successURL(""))
}
