package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	htmltemplate "html/template"
	"math"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	mailCategoryOrderConfirmation = "order_confirmation"
	mailCategoryOrderCancellation = "order_cancellation"
)

// NotificationServiceDeps wires the notification service.
type NotificationServiceDeps struct {
	Orders    repositories.OrderRepository
	Mail      repositories.MailOutbox
	Locale    string
	StoreName string
	Clock     func() time.Time
	Logger    Logger
}

type notificationService struct {
	orders    repositories.OrderRepository
	mail      repositories.MailOutbox
	printer   *message.Printer
	storeName string
	now       func() time.Time
	logger    Logger
	plain     *bluemonday.Policy
	html      *htmltemplate.Template
	text      *texttemplate.Template
}

// NewNotificationService constructs a NotificationService rendering mail for locale.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("notification service: order repository is required")
	}
	if deps.Mail == nil {
		return nil, errors.New("notification service: mail outbox is required")
	}
	tag, err := language.Parse(strings.TrimSpace(deps.Locale))
	if err != nil {
		tag = language.AmericanEnglish
	}
	storeName := strings.TrimSpace(deps.StoreName)
	if storeName == "" {
		storeName = "Our store"
	}

	svc := &notificationService{
		orders:    deps.Orders,
		mail:      deps.Mail,
		printer:   message.NewPrinter(tag),
		storeName: storeName,
		now:       clockOrNow(deps.Clock),
		logger:    loggerOrNoop(deps.Logger),
		plain:     bluemonday.StrictPolicy(),
	}
	funcs := map[string]any{"money": svc.formatMoney, "plain": svc.plainText}
	svc.html = htmltemplate.Must(htmltemplate.New("html").Funcs(funcs).Parse(orderMailHTML))
	svc.text = texttemplate.Must(texttemplate.New("text").Funcs(funcs).Parse(orderMailText))
	return svc, nil
}

func (s *notificationService) HandleOrderEvent(ctx context.Context, event OrderEvent) error {
	var category, subject string
	switch event.Type {
	case domain.OrderEventPlaced:
		category = mailCategoryOrderConfirmation
		subject = "Order confirmation"
	case domain.OrderEventCancelled:
		category = mailCategoryOrderCancellation
		subject = "Order cancelled"
	default:
		return nil
	}
	fields := map[string]any{"eventId": event.ID, "eventType": string(event.Type), "orderId": event.OrderID}

	order, err := s.orders.Get(ctx, event.OrderID)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "notification.order_missing", fields)
			return nil
		}
		return translateRepoError(err, "order "+event.OrderID)
	}
	email := strings.TrimSpace(order.CustomerEmail)
	if email == "" {
		s.logger(ctx, "notification.no_recipient", fields)
		return nil
	}

	msg, err := s.render(order, category, subject)
	if err != nil {
		return err
	}
	msg.To = []string{email}
	if err := s.mail.Enqueue(ctx, msg); err != nil {
		if isRepoConflict(err) {
			// redelivered event
			return nil
		}
		return translateRepoError(err, "mail")
	}
	s.logger(ctx, "notification.queued", fields)
	return nil
}

type orderMailView struct {
	StoreName string
	Heading   string
	Cancelled bool
	Order     domain.Order
}

func (s *notificationService) render(order domain.Order, category, subject string) (domain.MailMessage, error) {
	view := orderMailView{
		StoreName: s.storeName,
		Heading:   subject,
		Cancelled: category == mailCategoryOrderCancellation,
		Order:     order,
	}
	var htmlBody, textBody bytes.Buffer
	if err := s.html.Execute(&htmlBody, view); err != nil {
		return domain.MailMessage{}, fmt.Errorf("render order mail html: %w", err)
	}
	if err := s.text.Execute(&textBody, view); err != nil {
		return domain.MailMessage{}, fmt.Errorf("render order mail text: %w", err)
	}
	return domain.MailMessage{
		ID:        category + ":" + order.ID,
		Subject:   fmt.Sprintf("%s: %s %s", s.storeName, subject, order.Number),
		HTML:      htmlBody.String(),
		Text:      textBody.String(),
		Category:  category,
		RelatedID: order.ID,
		CreatedAt: s.now(),
	}, nil
}

// formatMoney renders minor units in the order currency for the configured locale.
func (s *notificationService) formatMoney(amount int64, code string) string {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return fmt.Sprintf("%d %s", amount, strings.ToUpper(code))
	}
	scale, _ := currency.Standard.Rounding(unit)
	major := float64(amount) / math.Pow10(scale)
	return s.printer.Sprint(currency.Symbol(unit.Amount(major)))
}

func (s *notificationService) plainText(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.plain.Sanitize(value)))
}

const orderMailHTML = `<!doctype html>
<html><body>
<h1>{{.Heading}}</h1>
<p>{{if .Cancelled}}Your order {{.Order.Number}} has been cancelled.{{else}}Thank you for your order {{.Order.Number}}.{{end}}</p>
<table>
{{- range .Order.Items}}
<tr><td>{{.Name}}</td><td>&times;{{.Quantity}}</td><td>{{money .LineTotal $.Order.Currency}}</td></tr>
{{- end}}
</table>
<p>Subtotal: {{money .Order.Subtotal .Order.Currency}}</p>
{{- if gt .Order.Discount 0}}
<p>Discount{{with .Order.CouponCode}} ({{.}}){{end}}: -{{money .Order.Discount .Order.Currency}}</p>
{{- end}}
<p>Shipping: {{money .Order.ShippingFee .Order.Currency}}</p>
{{- if gt .Order.CODFee 0}}
<p>Cash on delivery fee: {{money .Order.CODFee .Order.Currency}}</p>
{{- end}}
<p><strong>Total: {{money .Order.TotalAmount .Order.Currency}}</strong></p>
{{- if not .Cancelled}}
<p>Shipping to {{.Order.ShippingAddress.FullName}}, {{.Order.ShippingAddress.StreetAddress}}, {{.Order.ShippingAddress.City}}</p>
{{- end}}
<p>{{.StoreName}}</p>
</body></html>
`

const orderMailText = `{{.Heading}}

{{if .Cancelled}}Your order {{.Order.Number}} has been cancelled.{{else}}Thank you for your order {{.Order.Number}}.{{end}}
{{range .Order.Items}}
- {{plain .Name}} x{{.Quantity}}: {{money .LineTotal $.Order.Currency}}
{{- end}}

Subtotal: {{money .Order.Subtotal .Order.Currency}}
{{- if gt .Order.Discount 0}}
Discount: -{{money .Order.Discount .Order.Currency}}
{{- end}}
Shipping: {{money .Order.ShippingFee .Order.Currency}}
{{- if gt .Order.CODFee 0}}
Cash on delivery fee: {{money .Order.CODFee .Order.Currency}}
{{- end}}
Total: {{money .Order.TotalAmount .Order.Currency}}

{{.StoreName}}
`
