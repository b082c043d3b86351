package receipt

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/domain"
)

func dec(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("decimal %q: %v", raw, err)
	}
	return d
}

func decPtr(t *testing.T, raw string) *decimal.Decimal {
	d := dec(t, raw)
	return &d
}

func sp(n int) string {
	return strings.Repeat(" ", n)
}

func sampleOrder(t *testing.T) PersistedOrder {
	t.Helper()
	return PersistedOrder{
		Order: domain.Order{
			ID:              "order-1",
			OrderNumber:     "ORD-240305-0042",
			CreatedAt:       time.Date(2024, time.March, 5, 14, 7, 9, 0, time.Local),
			CustomerName:    "Jane Doe",
			CustomerPhone:   "0123",
			CarRegistration: "AB12 CDE",
			Status:          domain.OrderCompleted,
			PaymentMethod:   domain.PaymentCash,
			TotalAmount:     dec(t, "71.99"),
			CashReceived:    decPtr(t, "80"),
			ChangeAmount:    decPtr(t, "8.01"),
			Items: []domain.OrderItem{
				{Part: "p1", Quantity: 2, Price: dec(t, "25.50")},
				{Part: "p2", Quantity: 1, Price: dec(t, "8.99")},
			},
		},
		Parts: map[string]domain.Part{
			"p1": {ID: "p1", Name: "Brake Pad Set Front Axle", PartNumber: "BP-100"},
			"p2": {ID: "p2", Name: "Oil Filter", PartNumber: "OF-7"},
		},
	}
}

func TestRenderPersistedOrderLayout(t *testing.T) {
	got, err := Render(sampleOrder(t))
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	want := strings.Join([]string{
		"                CAR PARTS SYSTEM                ",
		"                123 Auto Parts Street                ",
		"                   City, Country                    ",
		"                Tel: (123) 456-7890                 ",
		rule,
		"Order #: ORD-240305-0042",
		"Date: 3/5/2024, 2:07:09 PM",
		"Customer: Jane Doe",
		"Phone: 0123",
		"Car Registration: AB12 CDE",
		rule,
		"ITEM                  QTY   PRICE   TOTAL",
		rule,
		"Brake Pad Set Front " + sp(2) + sp(4) + "2" + sp(2) + "25.50" + sp(3) + "51.00",
		"Oil Filter" + sp(12) + sp(4) + "1" + sp(3) + "8.99" + sp(4) + "8.99",
		rule,
		"Subtotal:" + sp(27) + "59.99",
		"VAT (20%):" + sp(26) + "12.00",
		rule,
		"TOTAL:" + sp(30) + "71.99",
		rule,
		"",
		sp(16) + "Payment Method: CASH",
		sp(16) + "Payment Status: PAID",
		sp(16) + "Cash Amount: £80.00",
		sp(16) + "Change Due: £8.01",
		"",
		"            Thank you for your business!",
		"                Please come again",
		rule,
	}, "\n")

	if got != want {
		t.Fatalf("receipt mismatch\n--- got ---\n%s\n--- want ---\n%s", got, want)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	src := sampleOrder(t)
	first, err := Render(src)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := Render(src)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical output across renders")
	}
}

func TestRenderVATIgnoresStoredTotal(t *testing.T) {
	src := sampleOrder(t)
	src.Order.TotalAmount = dec(t, "1.00")

	got, err := Render(src)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(got, "VAT (20%):"+sp(26)+"12.00") {
		t.Fatalf("expected VAT computed from line subtotals, got\n%s", got)
	}
	if !strings.Contains(got, "TOTAL:"+sp(31)+"1.00") {
		t.Fatalf("expected stored total printed as-is, got\n%s", got)
	}
}

func TestRenderPersistedFallsBackForMissingPart(t *testing.T) {
	src := sampleOrder(t)
	delete(src.Parts, "p2")
	src.Order.Status = domain.OrderPending
	src.Order.PaymentMethod = ""
	src.Order.CustomerName = ""

	got, err := Render(src)
	if err != nil {
		t.Fatalf("expected persisted order to render with fallbacks, got %v", err)
	}
	for _, want := range []string{
		"Unknown Part" + sp(10),
		"Customer: Walk-in Customer",
		"Payment Method: N/A",
		"Payment Status: UNPAID",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in receipt\n%s", want, got)
		}
	}
	if strings.Contains(got, "Cash Amount") {
		t.Fatalf("expected no cash lines without CASH payment")
	}
}

func TestRenderInputRejectsMissingName(t *testing.T) {
	in := Input{
		OrderNumber: "ORD-240101-0001",
		CreatedAt:   time.Date(2024, time.January, 1, 9, 0, 0, 0, time.Local),
		TotalAmount: dec(t, "10"),
		Items: []InputItem{
			{Name: "Spark Plug", Quantity: 1, Price: dec(t, "5")},
			{Name: "", Quantity: 1, Price: dec(t, "5")},
		},
	}

	out, err := Render(in)
	if !errors.Is(err, ErrMissingPartName) {
		t.Fatalf("expected ErrMissingPartName, got %v", err)
	}
	if out != "" {
		t.Fatalf("expected no partial receipt, got %q", out)
	}
}

func TestRenderInputCardPayment(t *testing.T) {
	in := Input{
		OrderNumber:   "ORD-240101-0002",
		CreatedAt:     time.Date(2024, time.January, 1, 9, 5, 0, 0, time.Local),
		TotalAmount:   dec(t, "6"),
		Status:        domain.OrderCompleted,
		PaymentMethod: domain.PaymentCard,
		CashReceived:  decPtr(t, "10"),
		Items: []InputItem{
			{Name: "Wiper Blade", Quantity: 2, Price: dec(t, "2.5")},
		},
	}

	got, err := Render(in)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(got, "Wiper Blade"+sp(11)+sp(4)+"2"+sp(3)+"2.50"+sp(4)+"5.00") {
		t.Fatalf("unexpected item row in\n%s", got)
	}
	if !strings.Contains(got, "Date: 1/1/2024, 9:05:00 AM") {
		t.Fatalf("unexpected date line in\n%s", got)
	}
	if strings.Contains(got, "Cash Amount") || strings.Contains(got, "Change Due") {
		t.Fatalf("expected no cash lines for card payment")
	}
}

func TestRenderRequiresSource(t *testing.T) {
	if _, err := Render(nil); err == nil {
		t.Fatalf("expected error for nil source")
	}
}

func TestEscPosFraming(t *testing.T) {
	payload := EscPos("A\nB")
	if !bytes.HasPrefix(payload, []byte{0x1b, 0x40}) {
		t.Fatalf("expected ESC @ prefix, got %v", payload[:2])
	}
	if !bytes.HasSuffix(payload, []byte{0x1d, 0x56, 0x41, 0x10}) {
		t.Fatalf("expected cut command suffix")
	}
	if !bytes.Contains(payload, []byte("A\nB\n")) {
		t.Fatalf("expected text lines terminated by newline")
	}
}
