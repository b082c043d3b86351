package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/cache"
	"carparts/backend/internal/domain"
	"carparts/backend/internal/report"
	"carparts/backend/internal/store"
	"carparts/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.New()
	return New(repo, report.NewAggregator(nil, 0, time.UTC)), repo
}

// reportCache is an in-process cache.ReportCache for exercising invalidation.
type reportCache struct {
	entries map[string]*domain.SalesReport
	gens    map[string]int64
}

var _ cache.ReportCache = (*reportCache)(nil)

func (c *reportCache) Get(_ context.Context, key string) (*domain.SalesReport, bool, error) {
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *reportCache) Set(_ context.Context, key string, value *domain.SalesReport, _ time.Duration) error {
	c.entries[key] = value
	return nil
}

func (c *reportCache) Generation(_ context.Context, scope string) (int64, error) {
	return c.gens[scope], nil
}

func (c *reportCache) Bump(_ context.Context, scope string) error {
	c.gens[scope]++
	return nil
}

func actorCtx(userID string) context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   userID,
		Username: userID,
		Role:     domain.RoleUser,
		Status:   domain.UserVerified,
	})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "admin-1",
		Username: "admin",
		Role:     domain.RoleAdmin,
		Status:   domain.UserVerified,
	})
}

func money(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

func createPart(t *testing.T, svc *Service, ctx context.Context, name, partNumber string, qty int, barcode string) domain.PartDetail {
	t.Helper()
	category, err := svc.CreateCategory(ctx, domain.CategoryRequest{Name: "Cat " + partNumber, Description: "test"})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	req := domain.PartRequest{
		Name:         name,
		Category:     category.ID,
		BuyingPrice:  money("3.00"),
		SellingPrice: money("5.25"),
		Quantity:     qty,
		PartNumber:   partNumber,
	}
	if barcode != "" {
		req.Barcode = &barcode
	}
	part, err := svc.CreatePart(ctx, req)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	return part
}

func TestOperationsRequireActor(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.ListParts(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := svc.ListUsers(actorCtx("u1")); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin, got %v", err)
	}
}

func TestCreatePartDefaultsAndResolvesCategory(t *testing.T) {
	svc, _ := newTestService()
	ctx := actorCtx("u1")

	part := createPart(t, svc, ctx, "Brake Pad", "BP-1", 5, "  ")
	if part.MinQuantity != domain.DefaultMinQuantity {
		t.Fatalf("expected default min quantity, got %d", part.MinQuantity)
	}
	if part.Barcode != nil {
		t.Fatalf("expected blank barcode to be stored as absent")
	}
	if part.Category == nil || part.Category.Name != "Cat BP-1" {
		t.Fatalf("expected resolved category, got %+v", part.Category)
	}
	if !part.LowStock {
		t.Fatalf("expected quantity equal to minimum to be low stock")
	}

	low, err := svc.LowStockParts(ctx)
	if err != nil || len(low) != 1 {
		t.Fatalf("expected one low stock part, got %d (%v)", len(low), err)
	}
}

func TestCreatePartValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := actorCtx("u1")

	_, err := svc.CreatePart(ctx, domain.PartRequest{Name: "No number", Category: "c"})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected invalid error, got %v", err)
	}
	_, err = svc.CreatePart(ctx, domain.PartRequest{
		Name: "Neg", Category: "c", PartNumber: "N-1", SellingPrice: money("-1"),
	})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected invalid error for negative price, got %v", err)
	}
	_, err = svc.CreatePart(ctx, domain.PartRequest{
		Name: "Fine", Category: "c", PartNumber: "N-2", SellingPrice: money("4.499"),
	})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected invalid error for sub-cent price, got %v", err)
	}

	createPart(t, svc, ctx, "Filter", "F-1", 10, "111")
	category, _ := svc.CreateCategory(ctx, domain.CategoryRequest{Name: "Other", Description: "x"})
	_, err = svc.CreatePart(ctx, domain.PartRequest{Name: "Filter 2", Category: category.ID, PartNumber: "F-1"})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected duplicate part number to be rejected as invalid, got %v", err)
	}
}

func TestPartsAreScopedToOwner(t *testing.T) {
	svc, _ := newTestService()
	u1, u2 := actorCtx("u1"), actorCtx("u2")

	part := createPart(t, svc, u1, "Spark Plug", "SP-1", 10, "4001")

	if _, err := svc.GetPart(u2, part.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected other owner to get not found, got %v", err)
	}
	if _, err := svc.GetPartByBarcode(u2, "4001"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected barcode lookup scoped to owner, got %v", err)
	}
	// Same barcode and part number are free for another owner.
	createPart(t, svc, u2, "Spark Plug", "SP-1", 1, "4001")

	got, err := svc.GetPartByBarcode(u1, "4001")
	if err != nil || got.ID != part.ID {
		t.Fatalf("expected own part by barcode, got %+v (%v)", got, err)
	}
	if err := svc.DeletePart(u2, part.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected delete of foreign part to fail, got %v", err)
	}
}

func TestSearchPartsRequiresQuery(t *testing.T) {
	svc, _ := newTestService()
	ctx := actorCtx("u1")
	createPart(t, svc, ctx, "Oil Filter", "OF-9", 10, "")

	if _, err := svc.SearchParts(ctx, "  "); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected invalid for empty query, got %v", err)
	}
	found, err := svc.SearchParts(ctx, "filter")
	if err != nil || len(found) != 1 {
		t.Fatalf("expected one match, got %d (%v)", len(found), err)
	}
}

func TestCategoryDuplicateName(t *testing.T) {
	svc, _ := newTestService()
	ctx := actorCtx("u1")
	if _, err := svc.CreateCategory(ctx, domain.CategoryRequest{Name: "Brakes", Description: "x"}); err != nil {
		t.Fatalf("create category: %v", err)
	}
	_, err := svc.CreateCategory(ctx, domain.CategoryRequest{Name: "Brakes", Description: "y"})
	var svcErr *Error
	if !errors.As(err, &svcErr) || svcErr.Message != "Category already exists" {
		t.Fatalf("expected duplicate category message, got %v", err)
	}
	if _, err := svc.CreateCategory(actorCtx("u2"), domain.CategoryRequest{Name: "Brakes", Description: "z"}); err != nil {
		t.Fatalf("expected another owner to reuse the name, got %v", err)
	}
}

func TestCreateOrderDecrementsStock(t *testing.T) {
	svc, repo := newTestService()
	ctx := actorCtx("u1")
	part := createPart(t, svc, ctx, "Brake Disc", "BD-1", 10, "")

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Items:       []domain.OrderItemRequest{{Part: part.ID, Quantity: 3, Price: money("5.25")}},
		TotalAmount: money("15.75"),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != domain.OrderPending {
		t.Fatalf("expected default status PENDING, got %s", order.Status)
	}
	if !regexp.MustCompile(`^ORD-\d{6}-\d{4}$`).MatchString(order.OrderNumber) {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if len(order.Items) != 1 || order.Items[0].Part == nil || order.Items[0].Part.Name != "Brake Disc" {
		t.Fatalf("expected resolved order line, got %+v", order.Items)
	}

	stored, _ := repo.GetPart(context.Background(), "u1", part.ID)
	if stored.Quantity != 7 {
		t.Fatalf("expected stock 7, got %d", stored.Quantity)
	}
}

func TestCreateOrderKeepsOrderWhenPartMissing(t *testing.T) {
	svc, _ := newTestService()
	u1 := actorCtx("u1")
	foreign := createPart(t, svc, actorCtx("u2"), "Foreign", "FX-1", 4, "")

	order, err := svc.CreateOrder(u1, domain.OrderCreateRequest{
		Items:       []domain.OrderItemRequest{{Part: foreign.ID, Quantity: 1, Price: money("1")}},
		TotalAmount: money("1"),
	})
	if err != nil {
		t.Fatalf("expected order to be saved, got %v", err)
	}
	if order.Items[0].Part != nil {
		t.Fatalf("expected foreign part to resolve to null")
	}
	still, _ := svc.GetPart(actorCtx("u2"), foreign.ID)
	if still.Quantity != 4 {
		t.Fatalf("expected foreign stock untouched, got %d", still.Quantity)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := actorCtx("u1")

	cases := []domain.OrderCreateRequest{
		{TotalAmount: money("1")},
		{Items: []domain.OrderItemRequest{{Part: "p", Quantity: 0, Price: money("1")}}},
		{Items: []domain.OrderItemRequest{{Part: "p", Quantity: 1}}, Status: "SHIPPED"},
		{Items: []domain.OrderItemRequest{{Part: "p", Quantity: 1}}, PaymentMethod: "CHEQUE"},
		{Items: []domain.OrderItemRequest{{Part: "p", Quantity: 1, Price: money("1.005")}}, TotalAmount: money("1.01")},
		{Items: []domain.OrderItemRequest{{Part: "p", Quantity: 1, Price: money("1")}}, TotalAmount: money("1.001")},
	}
	for i, req := range cases {
		if _, err := svc.CreateOrder(ctx, req); !errors.Is(err, store.ErrInvalid) {
			t.Fatalf("case %d: expected invalid, got %v", i, err)
		}
	}
}

func TestCreateOrderRetriesOrderNumberCollision(t *testing.T) {
	svc, _ := newTestService()
	ctx := actorCtx("u1")
	part := createPart(t, svc, ctx, "Fuse", "FU-1", 50, "")

	numbers := []string{"ORD-240101-0001", "ORD-240101-0001", "ORD-240101-0002"}
	svc.numbering = func(time.Time) string {
		next := numbers[0]
		numbers = numbers[1:]
		return next
	}

	req := domain.OrderCreateRequest{
		Items:       []domain.OrderItemRequest{{Part: part.ID, Quantity: 1, Price: money("1")}},
		TotalAmount: money("1"),
	}
	first, err := svc.CreateOrder(ctx, req)
	if err != nil {
		t.Fatalf("first order: %v", err)
	}
	second, err := svc.CreateOrder(ctx, req)
	if err != nil {
		t.Fatalf("second order: %v", err)
	}
	if first.OrderNumber == second.OrderNumber || second.OrderNumber != "ORD-240101-0002" {
		t.Fatalf("expected retry to pick a fresh number, got %s and %s", first.OrderNumber, second.OrderNumber)
	}
}

func TestUpdateOrderStatusComputesChange(t *testing.T) {
	svc, _ := newTestService()
	ctx := actorCtx("u1")
	part := createPart(t, svc, ctx, "Bulb", "BU-1", 10, "")

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Items:       []domain.OrderItemRequest{{Part: part.ID, Quantity: 2, Price: money("7.75")}},
		TotalAmount: money("15.50"),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	cash := money("20")
	updated, err := svc.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusRequest{
		Status:        domain.OrderCompleted,
		PaymentMethod: domain.PaymentCash,
		CashReceived:  &cash,
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != domain.OrderCompleted || updated.PaymentMethod != domain.PaymentCash {
		t.Fatalf("unexpected order %+v", updated.Order)
	}
	if updated.ChangeAmount == nil || !updated.ChangeAmount.Equal(money("4.50")) {
		t.Fatalf("expected change 4.50, got %v", updated.ChangeAmount)
	}

	// Card payment leaves the stored cash figures alone.
	again, err := svc.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusRequest{PaymentMethod: domain.PaymentCard})
	if err != nil {
		t.Fatalf("update to card: %v", err)
	}
	if again.Status != domain.OrderCompleted || again.ChangeAmount == nil || !again.ChangeAmount.Equal(money("4.50")) {
		t.Fatalf("expected status and change kept, got %+v", again.Order)
	}

	tooPrecise := money("20.005")
	if _, err := svc.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusRequest{PaymentMethod: domain.PaymentCash, CashReceived: &tooPrecise}); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected sub-cent cash amount to be rejected, got %v", err)
	}

	if _, err := svc.UpdateOrderStatus(actorCtx("u2"), order.ID, domain.OrderStatusRequest{Status: domain.OrderCancelled}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected foreign order update to fail, got %v", err)
	}
}

func TestSalesReportCountsCompletedOrders(t *testing.T) {
	svc, _ := newTestService()
	ctx := actorCtx("u1")
	fixed := time.Date(2024, time.February, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	part := createPart(t, svc, ctx, "Wiper", "WI-1", 10, "")

	line := []domain.OrderItemRequest{{Part: part.ID, Quantity: 1, Price: money("10")}}
	if _, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Items: line, TotalAmount: money("10"), Status: domain.OrderCompleted, PaymentMethod: domain.PaymentCash,
	}); err != nil {
		t.Fatalf("order: %v", err)
	}
	if _, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Items: line, TotalAmount: money("25.50"), Status: domain.OrderCompleted, PaymentMethod: domain.PaymentCard,
	}); err != nil {
		t.Fatalf("order: %v", err)
	}
	if _, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{Items: line, TotalAmount: money("99")}); err != nil {
		t.Fatalf("pending order: %v", err)
	}

	got, err := svc.SalesReport(ctx, "2024", "2")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !got.TotalSales.Equal(money("35.50")) || len(got.Orders) != 2 {
		t.Fatalf("unexpected report total=%s orders=%d", got.TotalSales, len(got.Orders))
	}
	if !got.SalesByPaymentMethod.Cash.Equal(money("10")) || !got.SalesByPaymentMethod.Card.Equal(money("25.50")) {
		t.Fatalf("unexpected buckets %+v", got.SalesByPaymentMethod)
	}

	other, err := svc.SalesReport(actorCtx("u2"), "2024", "2")
	if err != nil || !other.TotalSales.IsZero() {
		t.Fatalf("expected empty report for other owner, got %+v (%v)", other, err)
	}
	if _, err := svc.SalesReport(ctx, "2024", "13"); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected invalid period, got %v", err)
	}
}

func TestReceiptForStoredOrder(t *testing.T) {
	svc, _ := newTestService()
	ctx := actorCtx("u1")
	part := createPart(t, svc, ctx, "Air Filter", "AF-2", 10, "")

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Items:        []domain.OrderItemRequest{{Part: part.ID, Quantity: 1, Price: money("12")}},
		TotalAmount:  money("12"),
		CustomerName: "Dana",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	text, err := svc.Receipt(ctx, order.ID)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if !strings.Contains(text, "Air Filter") || !strings.Contains(text, order.OrderNumber) {
		t.Fatalf("receipt missing order details:\n%s", text)
	}
	if _, err := svc.Receipt(actorCtx("u2"), order.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected foreign receipt to be not found, got %v", err)
	}
}

func TestPreviewReceiptRequiresNames(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.PreviewReceipt(actorCtx("u1"), domain.ReceiptPreviewRequest{
		OrderNumber: "ORD-1",
		Items:       []domain.ReceiptPreviewItem{{Quantity: 1, Price: money("1")}},
		TotalAmount: money("1"),
	})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected invalid for unnamed line, got %v", err)
	}
}

func TestUpdateUserStatus(t *testing.T) {
	svc, repo := newTestService()
	if err := repo.CreateUser(context.Background(), domain.User{
		ID: "u9", Username: "mechanic", Email: "m@example.com", Role: domain.RoleUser, Status: domain.UserPending,
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	pending, err := svc.ListPendingUsers(adminCtx())
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending user, got %d (%v)", len(pending), err)
	}
	if _, err := svc.UpdateUserStatus(adminCtx(), domain.UserStatusRequest{UserID: "u9", Status: "banned"}); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	if _, err := svc.UpdateUserStatus(adminCtx(), domain.UserStatusRequest{UserID: "nobody", Status: domain.UserVerified}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	user, err := svc.UpdateUserStatus(adminCtx(), domain.UserStatusRequest{UserID: "u9", Status: domain.UserVerified})
	if err != nil || user.Status != domain.UserVerified {
		t.Fatalf("expected verified user, got %+v (%v)", user, err)
	}
}

func TestCachedSalesReportFollowsWrites(t *testing.T) {
	repo := memory.New()
	rc := &reportCache{entries: map[string]*domain.SalesReport{}, gens: map[string]int64{}}
	svc := New(repo, report.NewAggregator(rc, time.Hour, time.UTC))
	ctx := actorCtx("u1")
	fixed := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	part := createPart(t, svc, ctx, "Spark Plug", "SP-1", 10, "")

	line := []domain.OrderItemRequest{{Part: part.ID, Quantity: 1, Price: money("8")}}
	completed := domain.OrderCreateRequest{Items: line, TotalAmount: money("8"), Status: domain.OrderCompleted, PaymentMethod: domain.PaymentCash}
	if _, err := svc.CreateOrder(ctx, completed); err != nil {
		t.Fatalf("order: %v", err)
	}
	first, err := svc.SalesReport(ctx, "2024", "3")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rc.entries) != 1 || !first.TotalSales.Equal(money("8")) {
		t.Fatalf("expected cached report with total 8, got total=%s entries=%d", first.TotalSales, len(rc.entries))
	}

	if _, err := svc.UpdatePart(ctx, part.ID, domain.PartRequest{
		Name:         "Iridium Spark Plug",
		Category:     part.Part.Category,
		BuyingPrice:  money("3.00"),
		SellingPrice: money("8.00"),
		Quantity:     9,
		PartNumber:   "SP-1",
	}); err != nil {
		t.Fatalf("update part: %v", err)
	}
	renamed, err := svc.SalesReport(ctx, "2024", "3")
	if err != nil {
		t.Fatalf("report after rename: %v", err)
	}
	if got := renamed.Orders[0].Items[0].Part; got == nil || got.Name != "Iridium Spark Plug" {
		t.Fatalf("expected renamed part in report, got %+v", got)
	}

	if _, err := svc.CreateOrder(ctx, completed); err != nil {
		t.Fatalf("second order: %v", err)
	}
	latest, err := svc.SalesReport(ctx, "2024", "3")
	if err != nil {
		t.Fatalf("report after order: %v", err)
	}
	if !latest.TotalSales.Equal(money("16")) || len(latest.Orders) != 2 {
		t.Fatalf("expected new order in report, got total=%s orders=%d", latest.TotalSales, len(latest.Orders))
	}

	if err := svc.DeletePart(ctx, part.ID); err != nil {
		t.Fatalf("delete part: %v", err)
	}
	afterDelete, err := svc.SalesReport(ctx, "2024", "3")
	if err != nil {
		t.Fatalf("report after delete: %v", err)
	}
	if afterDelete.Orders[0].Items[0].Part != nil {
		t.Fatalf("expected deleted part to resolve to null in report")
	}
}
