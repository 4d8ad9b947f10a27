package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/nerkean/gnizde.4ko/models"
)

func deliveryLine(d models.Delivery) string {
	place := strings.Trim(strings.Join([]string{d.City, firstNonEmpty(d.Warehouse, d.Branch, d.Address)}, ", "), ", ")
	switch d.Type {
	case models.DeliveryNova:
		return "🔴 Нова Пошта: " + html.EscapeString(place)
	case models.DeliveryUkr:
		return "🟡 Укрпошта: " + html.EscapeString(place)
	case models.DeliveryCourier:
		return "🚚 Кур'єр: " + html.EscapeString(place)
	}
	return "🚚 Інше: " + html.EscapeString(place)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// FormatOrderPlaced renders the Telegram HTML message for a new order.
func FormatOrderPlaced(o *models.Order) string {
	var b strings.Builder
	b.WriteString("📦 <b>НОВЕ ЗАМОВЛЕННЯ!</b>\n")
	fmt.Fprintf(&b, "<code>%s</code>\n\n", html.EscapeString(o.OrderID))

	fmt.Fprintf(&b, "👤 <b>Клієнт:</b> %s\n", html.EscapeString(o.Customer.Name))
	fmt.Fprintf(&b, "📞 <b>Телефон:</b> <code>%s</code>\n", html.EscapeString(o.Customer.Phone))
	if o.Customer.Email != "" {
		fmt.Fprintf(&b, "✉️ <b>Email:</b> %s\n", html.EscapeString(o.Customer.Email))
	}
	if o.Customer.Messenger != "" {
		fmt.Fprintf(&b, "💬 <b>Зв'язок:</b> %s\n", html.EscapeString(o.Customer.Messenger))
	}

	b.WriteString("\n🚚 <b>Доставка:</b>\n")
	b.WriteString(deliveryLine(o.Delivery))
	b.WriteString("\n\n🛒 <b>Товари:</b>\n")
	for i, it := range o.Items {
		fmt.Fprintf(&b, "%d. <b>%s</b>\n    %d шт. × %s ₴\n", i+1, html.EscapeString(it.Title), it.Qty, it.PriceUAH.StringFixed(2))
	}

	fmt.Fprintf(&b, "\n💰 <b>СУМА: %s ₴</b>\n", o.Total.StringFixed(2))
	if o.Customer.Comment != "" {
		fmt.Fprintf(&b, "\n📝 <b>Коментар:</b>\n%s\n", html.EscapeString(o.Customer.Comment))
	}
	return b.String()
}

// FormatStatusChanged renders a short status update. previous is empty for
// orders created from a provider callback.
func FormatStatusChanged(o *models.Order, previous models.OrderStatus) string {
	icon := "ℹ️"
	switch o.Status {
	case models.OrderStatusPaid:
		icon = "✅"
	case models.OrderStatusFailed, models.OrderStatusFailure, models.OrderStatusError, models.OrderStatusCanceled:
		icon = "❌"
	case models.OrderStatusShipped:
		icon = "📬"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>Замовлення</b> <code>%s</code>\n", icon, html.EscapeString(o.OrderID))
	if previous == "" {
		fmt.Fprintf(&b, "Статус: <b>%s</b>\n", html.EscapeString(string(o.Status)))
	} else {
		fmt.Fprintf(&b, "Статус: %s → <b>%s</b>\n", html.EscapeString(string(previous)), html.EscapeString(string(o.Status)))
	}
	fmt.Fprintf(&b, "Сума: %s %s\n", o.Total.StringFixed(2), html.EscapeString(o.Currency))
	if o.IsDraft() {
		fmt.Fprintf(&b, "⚠️ Замовлення не знайдено, створено чернетку (%s)\n", html.EscapeString(o.Source))
	}
	if o.AmountMismatch {
		b.WriteString("⚠️ Сума або валюта не збігається з платежем\n")
	}
	return b.String()
}

// Notable reports whether a status transition is worth an operator message.
func Notable(o *models.Order, previous models.OrderStatus) bool {
	if o.Status == previous {
		return false
	}
	switch o.Status {
	case models.OrderStatusPaid, models.OrderStatusFailed:
		return true
	}
	return previous == ""
}
