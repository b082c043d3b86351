package cart

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/domain"
)

func price(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

func mustConsistent(t *testing.T, c *Cart, step string) {
	t.Helper()
	if !c.Consistent() {
		t.Fatalf("total drifted after %s: total=%s entries=%+v", step, c.Total(), c.Entries())
	}
}

func TestScanMergesRepeatedParts(t *testing.T) {
	a := Part{ID: "a", Name: "Air Filter", Price: price("5.00")}
	b := Part{ID: "b", Name: "Bulb", Price: price("2.50")}

	c := New()
	c.Scan(a)
	mustConsistent(t, c, "scan a")
	c.Scan(a)
	mustConsistent(t, c, "scan a again")
	c.Scan(b)
	mustConsistent(t, c, "scan b")

	entries := c.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Part.ID != "a" || entries[0].Quantity != 2 {
		t.Fatalf("expected a x2 first, got %+v", entries[0])
	}
	if entries[1].Part.ID != "b" || entries[1].Quantity != 1 {
		t.Fatalf("expected b x1 second, got %+v", entries[1])
	}
	if !c.Total().Equal(price("12.50")) {
		t.Fatalf("expected total 12.50, got %s", c.Total())
	}
}

func TestRescanWithNewPriceRepricesEntry(t *testing.T) {
	c := New()
	c.Scan(Part{ID: "a", Name: "Air Filter", Price: price("5.00")})
	c.Scan(Part{ID: "a", Name: "Air Filter", Price: price("6.00")})
	mustConsistent(t, c, "rescan with updated price")

	entries := c.Entries()
	if len(entries) != 1 || entries[0].Quantity != 2 || !entries[0].Part.Price.Equal(price("6.00")) {
		t.Fatalf("expected one entry a x2 at 6.00, got %+v", entries)
	}
	if !c.Total().Equal(price("12.00")) {
		t.Fatalf("expected total 12.00, got %s", c.Total())
	}

	req, err := c.OrderRequest(Checkout{PaymentMethod: domain.PaymentCash})
	if err != nil {
		t.Fatalf("order request: %v", err)
	}
	if !req.TotalAmount.Equal(price("12.00")) || !req.Items[0].Price.Equal(price("6.00")) {
		t.Fatalf("unexpected order request %+v", req)
	}
}

func TestRemoveAndSetQuantityKeepTotal(t *testing.T) {
	a := Part{ID: "a", Price: price("19.99")}
	b := Part{ID: "b", Price: price("0.35")}

	c := New()
	c.Scan(a)
	c.Scan(b)
	c.Scan(b)

	if err := c.SetQuantity("b", 7); err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	mustConsistent(t, c, "set quantity")
	if !c.Total().Equal(price("22.44")) {
		t.Fatalf("expected 22.44, got %s", c.Total())
	}

	if err := c.Remove("a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	mustConsistent(t, c, "remove")
	if !c.Total().Equal(price("2.45")) {
		t.Fatalf("expected 2.45, got %s", c.Total())
	}

	c.Scan(a)
	mustConsistent(t, c, "rescan after remove")
	if c.Len() != 2 {
		t.Fatalf("expected removed part to come back as a new entry")
	}
}

func TestInvalidTransitionsLeaveCartUntouched(t *testing.T) {
	c := New()
	c.Scan(Part{ID: "a", Price: price("3")})

	if err := c.SetQuantity("a", 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if err := c.SetQuantity("missing", 2); !errors.Is(err, ErrNotInCart) {
		t.Fatalf("expected ErrNotInCart, got %v", err)
	}
	if err := c.Remove("missing"); !errors.Is(err, ErrNotInCart) {
		t.Fatalf("expected ErrNotInCart, got %v", err)
	}
	mustConsistent(t, c, "rejected transitions")
	if !c.Total().Equal(price("3")) {
		t.Fatalf("expected total unchanged, got %s", c.Total())
	}
}

func TestClearAndCheckoutReset(t *testing.T) {
	c := New()
	c.Scan(Part{ID: "a", Price: price("4.20")})
	c.Clear()
	mustConsistent(t, c, "clear")
	if c.Len() != 0 || !c.Total().IsZero() {
		t.Fatalf("expected empty cart after clear")
	}

	c.Scan(Part{ID: "a", Price: price("4.20")})
	c.CheckoutSucceeded()
	if c.Len() != 0 || !c.Total().IsZero() {
		t.Fatalf("expected empty cart after checkout")
	}
}

func TestRandomTransitionSequencesStayConsistent(t *testing.T) {
	parts := []Part{
		{ID: "a", Price: price("5.00")},
		{ID: "b", Price: price("2.50")},
		{ID: "c", Price: price("0.99")},
		{ID: "d", Price: price("129.95")},
	}
	rng := rand.New(rand.NewSource(7))

	c := New()
	for step := 0; step < 2000; step++ {
		p := parts[rng.Intn(len(parts))]
		switch rng.Intn(10) {
		case 0:
			_ = c.Remove(p.ID)
		case 1, 2:
			_ = c.SetQuantity(p.ID, rng.Intn(6))
		case 3:
			if rng.Intn(20) == 0 {
				c.Clear()
			}
		case 4:
			p.Price = p.Price.Add(decimal.NewFromInt(int64(rng.Intn(5))))
			c.Scan(p)
		default:
			c.Scan(p)
		}
		mustConsistent(t, c, "random step")
	}
}

func TestOrderRequestFromCart(t *testing.T) {
	c := New()
	if _, err := c.OrderRequest(Checkout{}); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}

	c.Scan(PartFrom(domain.Part{ID: "a", Name: "Fuse", SellingPrice: price("1.25")}))
	c.Scan(PartFrom(domain.Part{ID: "a", Name: "Fuse", SellingPrice: price("1.25")}))

	req, err := c.OrderRequest(Checkout{CustomerName: "Sam", PaymentMethod: domain.PaymentCash})
	if err != nil {
		t.Fatalf("order request: %v", err)
	}
	if req.Status != domain.OrderCompleted {
		t.Fatalf("expected COMPLETED fast checkout, got %s", req.Status)
	}
	if len(req.Items) != 1 || req.Items[0].Quantity != 2 || !req.Items[0].Price.Equal(price("1.25")) {
		t.Fatalf("unexpected items %+v", req.Items)
	}
	if !req.TotalAmount.Equal(price("2.50")) {
		t.Fatalf("expected total 2.50, got %s", req.TotalAmount)
	}
}
