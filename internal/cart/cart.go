// Package cart accumulates barcode scans into a checkout basket.
//
// The running total is maintained incrementally on every transition rather
// than recomputed, so each transition must keep Total equal to the sum of
// price times quantity over the entries. Consistent reports whether it does.
package cart

import (
	"errors"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/domain"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrNotInCart       = errors.New("part is not in the cart")
	ErrEmpty           = errors.New("cart is empty")
)

// Part is the slice of a catalogue part the cart needs.
type Part struct {
	ID         string
	Name       string
	PartNumber string
	Barcode    string
	Price      decimal.Decimal
}

func PartFrom(p domain.Part) Part {
	return Part{
		ID:         p.ID,
		Name:       p.Name,
		PartNumber: p.PartNumber,
		Barcode:    p.BarcodeValue(),
		Price:      p.SellingPrice,
	}
}

type Entry struct {
	Part     Part
	Quantity int
}

func (e Entry) LineTotal() decimal.Decimal {
	return e.Part.Price.Mul(decimal.NewFromInt(int64(e.Quantity)))
}

// Cart is not safe for concurrent use.
type Cart struct {
	entries []Entry
	total   decimal.Decimal
}

func New() *Cart {
	return &Cart{}
}

// Scan adds one unit of part, merging into an existing entry. A rescan
// carries the latest catalogue data, so the merged entry is repriced as a
// whole.
func (c *Cart) Scan(part Part) {
	i := c.index(part.ID)
	if i < 0 {
		c.entries = append(c.entries, Entry{Part: part, Quantity: 1})
		c.total = c.total.Add(part.Price)
		return
	}
	c.total = c.total.Sub(c.entries[i].LineTotal())
	c.entries[i].Part = part
	c.entries[i].Quantity++
	c.total = c.total.Add(c.entries[i].LineTotal())
}

func (c *Cart) Remove(partID string) error {
	i := c.index(partID)
	if i < 0 {
		return ErrNotInCart
	}
	c.total = c.total.Sub(c.entries[i].LineTotal())
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	return nil
}

func (c *Cart) SetQuantity(partID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	i := c.index(partID)
	if i < 0 {
		return ErrNotInCart
	}
	c.total = c.total.Sub(c.entries[i].LineTotal())
	c.entries[i].Quantity = quantity
	c.total = c.total.Add(c.entries[i].LineTotal())
	return nil
}

func (c *Cart) Clear() {
	c.entries = nil
	c.total = decimal.Zero
}

// CheckoutSucceeded empties the cart once the order has been accepted.
func (c *Cart) CheckoutSucceeded() {
	c.Clear()
}

func (c *Cart) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Cart) Len() int {
	return len(c.entries)
}

func (c *Cart) Total() decimal.Decimal {
	return c.total
}

func (c *Cart) Consistent() bool {
	sum := decimal.Zero
	for _, e := range c.entries {
		sum = sum.Add(e.LineTotal())
	}
	return sum.Equal(c.total)
}

type Checkout struct {
	CustomerName  string
	CustomerPhone string
	PaymentMethod domain.PaymentMethod
}

// OrderRequest builds the fast-checkout order: it is submitted as already
// COMPLETED with the running total as the order total.
func (c *Cart) OrderRequest(co Checkout) (domain.OrderCreateRequest, error) {
	if len(c.entries) == 0 {
		return domain.OrderCreateRequest{}, ErrEmpty
	}
	items := make([]domain.OrderItemRequest, 0, len(c.entries))
	for _, e := range c.entries {
		items = append(items, domain.OrderItemRequest{
			Part:     e.Part.ID,
			Quantity: e.Quantity,
			Price:    e.Part.Price,
		})
	}
	return domain.OrderCreateRequest{
		Items:         items,
		TotalAmount:   c.total,
		Status:        domain.OrderCompleted,
		CustomerName:  co.CustomerName,
		CustomerPhone: co.CustomerPhone,
		PaymentMethod: co.PaymentMethod,
	}, nil
}

func (c *Cart) index(partID string) int {
	for i, e := range c.entries {
		if e.Part.ID == partID {
			return i
		}
	}
	return -1
}
