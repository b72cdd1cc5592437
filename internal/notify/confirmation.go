package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"storefront/internal/order"
)

// FormatAmount renders an amount with the locale's digit grouping. HUF has
// no minor unit in practice, so it is shown without decimals.
func FormatAmount(lang language.Tag, amount decimal.Decimal, currency string) string {
	p := message.NewPrinter(lang)
	if strings.EqualFold(currency, "HUF") {
		return p.Sprintf("%d %s", amount.Round(0).IntPart(), currency)
	}
	return p.Sprintf("%.2f %s", amount.InexactFloat64(), currency)
}

var confirmationHTML = template.Must(template.New("confirmation").Parse(`<h1>Köszönjük a rendelésed!</h1>
<p>Rendelésszám: <strong>{{.OrderID}}</strong></p>
<table>
{{- range .Lines}}
<tr><td>{{.Name}}</td><td>{{.Quantity}} db</td><td>{{.Total}}</td></tr>
{{- end}}
</table>
<p>Végösszeg: <strong>{{.Gross}}</strong> (ebből ÁFA: {{.VAT}})</p>`))

type confirmationLine struct {
	Name     string
	Quantity int
	Total    string
}

// OrderConfirmation builds the paid-order e-mail for the customer.
func OrderConfirmation(o *order.Order, lang language.Tag) (Message, error) {
	data := struct {
		OrderID string
		Lines   []confirmationLine
		Gross   string
		VAT     string
	}{
		OrderID: o.ID,
		Gross:   FormatAmount(lang, o.GrossTotal, o.Currency),
		VAT:     FormatAmount(lang, o.VATTotal, o.Currency),
	}
	var text strings.Builder
	text.WriteString("Köszönjük a rendelésed!\nRendelésszám: " + o.ID + "\n\n")
	for _, it := range o.Items {
		total := FormatAmount(lang, it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))), o.Currency)
		data.Lines = append(data.Lines, confirmationLine{Name: it.Name, Quantity: it.Quantity, Total: total})
		text.WriteString(message.NewPrinter(lang).Sprintf("%s x%d: %s\n", it.Name, it.Quantity, total))
	}
	text.WriteString("\nVégösszeg: " + data.Gross + "\n")

	var html bytes.Buffer
	if err := confirmationHTML.Execute(&html, data); err != nil {
		return Message{}, err
	}
	return Message{
		To:      []string{o.CustomerEmail},
		Subject: "Rendelés visszaigazolása #" + shortID(o.ID),
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return strings.ToUpper(id[:8])
	}
	return strings.ToUpper(id)
}

// OrderReader loads the order a confirmation is rendered from.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
}

// SendOrderConfirmation renders the confirmation for orderID in lang and
// hands it to m.
func SendOrderConfirmation(ctx context.Context, orders OrderReader, m Mailer, lang language.Tag, orderID string) error {
	o, err := orders.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	msg, err := OrderConfirmation(o, lang)
	if err != nil {
		return err
	}
	if err := m.Send(ctx, msg); err != nil {
		return fmt.Errorf("send confirmation for %s: %w", orderID, err)
	}
	return nil
}
