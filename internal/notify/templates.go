package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/shopspring/decimal"
)

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`Dear {{.CustomerName}},

Thank you for your order! Your order has been confirmed.

Order Details:
Order Number: {{.OrderNumber}}
Total Amount: ${{.Total.StringFixed 2}}
Status: {{.Status}}

We will notify you when your order ships.

Best regards,
Summit Market Team
`))

var lowStockTmpl = template.Must(template.New("low_stock").Parse(`Dear {{.VendorName}},

Your product "{{.ProductName}}" is running low on stock.
Current stock: {{.Stock}}

Please restock soon to avoid out-of-stock situations.

Best regards,
Summit Market Team
`))

type Confirmation struct {
	To           string
	CustomerName string
	OrderNumber  string
	Total        decimal.Decimal
	Status       string
}

func (c Confirmation) Message(key string) (Message, error) {
	if strings.TrimSpace(c.To) == "" {
		return Message{}, fmt.Errorf("confirmation %s: %w", c.OrderNumber, ErrNoRecipient)
	}
	var b bytes.Buffer
	if err := confirmationTmpl.Execute(&b, c); err != nil {
		return Message{}, err
	}
	return Message{To: c.To, Subject: "Order Confirmation - " + c.OrderNumber, Body: b.String(), Key: key}, nil
}

type LowStock struct {
	To          string
	VendorName  string
	ProductName string
	Stock       int
}

func (l LowStock) Message(key string) (Message, error) {
	if strings.TrimSpace(l.To) == "" {
		return Message{}, fmt.Errorf("low stock %s: %w", l.ProductName, ErrNoRecipient)
	}
	var b bytes.Buffer
	if err := lowStockTmpl.Execute(&b, l); err != nil {
		return Message{}, err
	}
	return Message{To: l.To, Subject: "Low Stock Alert - " + l.ProductName, Body: b.String(), Key: key}, nil
}
