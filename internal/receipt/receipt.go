// Package receipt renders orders as fixed-width plain text for 80mm thermal
// printers and browser print frames.
package receipt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/domain"
)

var ErrMissingPartName = errors.New("part name is missing")

const (
	rule         = "------------------------------------------------"
	dateLayout   = "1/2/2006, 3:04:05 PM"
	unknownPart  = "Unknown Part"
	noPartNumber = "N/A"
	walkIn       = "Walk-in Customer"
	indent       = "                "
)

var vatRate = decimal.New(2, -1)

// Source is what a receipt is rendered from. The caller picks the variant:
// PersistedOrder for a stored order with looked-up parts, Input for a
// free-standing receipt that already carries display names.
type Source interface {
	document() (document, error)
}

// PersistedOrder renders a stored order. Parts holds the owner's parts keyed
// by id; a line whose part is absent prints as "Unknown Part".
type PersistedOrder struct {
	Order domain.Order
	Parts map[string]domain.Part
}

type InputItem struct {
	Name       string
	PartNumber string
	Quantity   int
	Price      decimal.Decimal
}

// Input renders a receipt from display-ready lines. Every item must carry a
// name.
type Input struct {
	OrderNumber     string
	Items           []InputItem
	TotalAmount     decimal.Decimal
	Status          domain.OrderStatus
	PaymentMethod   domain.PaymentMethod
	CustomerName    string
	CustomerPhone   string
	CustomerEmail   string
	CarRegistration string
	CreatedAt       time.Time
	CashReceived    *decimal.Decimal
	ChangeAmount    *decimal.Decimal
}

type line struct {
	name       string
	partNumber string
	quantity   int
	price      decimal.Decimal
	subtotal   decimal.Decimal
}

type document struct {
	orderNumber     string
	createdAt       time.Time
	customerName    string
	customerPhone   string
	customerEmail   string
	carRegistration string
	lines           []line
	total           decimal.Decimal
	status          domain.OrderStatus
	paymentMethod   domain.PaymentMethod
	cashReceived    *decimal.Decimal
	changeAmount    *decimal.Decimal
}

func (p PersistedOrder) document() (document, error) {
	o := p.Order
	doc := document{
		orderNumber:     o.OrderNumber,
		createdAt:       o.CreatedAt,
		customerName:    o.CustomerName,
		customerPhone:   o.CustomerPhone,
		customerEmail:   o.CustomerEmail,
		carRegistration: o.CarRegistration,
		total:           o.TotalAmount,
		status:          o.Status,
		paymentMethod:   o.PaymentMethod,
		cashReceived:    o.CashReceived,
		changeAmount:    o.ChangeAmount,
		lines:           make([]line, 0, len(o.Items)),
	}
	for _, item := range o.Items {
		name, number := unknownPart, noPartNumber
		if part, ok := p.Parts[item.Part]; ok {
			if part.Name != "" {
				name = part.Name
			}
			if part.PartNumber != "" {
				number = part.PartNumber
			}
		}
		doc.lines = append(doc.lines, line{
			name:       name,
			partNumber: number,
			quantity:   item.Quantity,
			price:      item.Price,
			subtotal:   item.Subtotal(),
		})
	}
	return doc, nil
}

func (in Input) document() (document, error) {
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	doc := document{
		orderNumber:     in.OrderNumber,
		createdAt:       createdAt,
		customerName:    in.CustomerName,
		customerPhone:   in.CustomerPhone,
		customerEmail:   in.CustomerEmail,
		carRegistration: in.CarRegistration,
		total:           in.TotalAmount,
		status:          in.Status,
		paymentMethod:   in.PaymentMethod,
		cashReceived:    in.CashReceived,
		changeAmount:    in.ChangeAmount,
		lines:           make([]line, 0, len(in.Items)),
	}
	for _, item := range in.Items {
		if strings.TrimSpace(item.Name) == "" {
			return document{}, ErrMissingPartName
		}
		number := item.PartNumber
		if number == "" {
			number = noPartNumber
		}
		qty := decimal.NewFromInt(int64(item.Quantity))
		doc.lines = append(doc.lines, line{
			name:       item.Name,
			partNumber: number,
			quantity:   item.Quantity,
			price:      item.Price,
			subtotal:   item.Price.Mul(qty),
		})
	}
	return doc, nil
}

// Render produces the receipt text. The date line uses the server's local
// time zone. VAT is 20% of the line subtotals while TOTAL is the order's
// stored total; the two are not reconciled.
func Render(src Source) (string, error) {
	if src == nil {
		return "", errors.New("receipt source is required")
	}
	doc, err := src.document()
	if err != nil {
		return "", err
	}

	subtotal := decimal.Zero
	for _, l := range doc.lines {
		subtotal = subtotal.Add(l.subtotal)
	}
	vat := subtotal.Mul(vatRate)

	out := []string{
		"                CAR PARTS SYSTEM                ",
		"                123 Auto Parts Street                ",
		"                   City, Country                    ",
		"                Tel: (123) 456-7890                 ",
		rule,
		"Order #: " + doc.orderNumber,
		"Date: " + doc.createdAt.In(time.Local).Format(dateLayout),
		"Customer: " + orDefault(doc.customerName, walkIn),
	}
	if doc.customerPhone != "" {
		out = append(out, "Phone: "+doc.customerPhone)
	}
	if doc.customerEmail != "" {
		out = append(out, "Email: "+doc.customerEmail)
	}
	if doc.carRegistration != "" {
		out = append(out, "Car Registration: "+doc.carRegistration)
	}
	out = append(out,
		rule,
		"ITEM                  QTY   PRICE   TOTAL",
		rule,
	)
	for _, l := range doc.lines {
		out = append(out, padEnd(truncate(l.name, 20), 22)+
			padStart(strconv.Itoa(l.quantity), 5)+
			padStart(l.price.StringFixed(2), 7)+
			padStart(l.subtotal.StringFixed(2), 8))
	}
	out = append(out,
		rule,
		"Subtotal:"+padStart(subtotal.StringFixed(2), 32),
		"VAT (20%):"+padStart(vat.StringFixed(2), 31),
		rule,
		"TOTAL:"+padStart(doc.total.StringFixed(2), 35),
		rule,
		"",
		indent+"Payment Method: "+orDefault(string(doc.paymentMethod), noPartNumber),
		indent+"Payment Status: "+paymentStatus(doc.status),
	)
	if doc.paymentMethod == domain.PaymentCash && doc.cashReceived != nil && !doc.cashReceived.IsZero() {
		change := decimal.Zero
		if doc.changeAmount != nil {
			change = *doc.changeAmount
		}
		out = append(out,
			fmt.Sprintf("%sCash Amount: £%s", indent, doc.cashReceived.StringFixed(2)),
			fmt.Sprintf("%sChange Due: £%s", indent, change.StringFixed(2)),
		)
	}
	out = append(out,
		"",
		"            Thank you for your business!",
		"                Please come again",
		rule,
	)

	return strings.Join(out, "\n"), nil
}

// EscPos wraps receipt text in ESC/POS initialise and partial-cut commands.
func EscPos(text string) []byte {
	buf := make([]byte, 0, len(text)+8)
	buf = append(buf, 0x1b, 0x40)
	for _, l := range strings.Split(text, "\n") {
		buf = append(buf, l...)
		buf = append(buf, '\n')
	}
	return append(buf, 0x1d, 0x56, 0x41, 0x10)
}

func paymentStatus(status domain.OrderStatus) string {
	if status == domain.OrderCompleted {
		return "PAID"
	}
	return "UNPAID"
}

func orDefault(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func padEnd(s string, width int) string {
	if gap := width - utf8.RuneCountInString(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}

func padStart(s string, width int) string {
	if gap := width - utf8.RuneCountInString(s); gap > 0 {
		return strings.Repeat(" ", gap) + s
	}
	return s
}
