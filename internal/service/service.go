package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/inventory"
	"carparts/backend/internal/receipt"
	"carparts/backend/internal/report"
	"carparts/backend/internal/store"
	"carparts/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("Access denied. Admin only.")
)

// Error carries a client-facing message. It matches its Kind with errors.Is,
// so handlers map it to a status the same way as a bare store sentinel.
type Error struct {
	Kind    error
	Message string
	Details string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func invalid(message string) error {
	return &Error{Kind: store.ErrInvalid, Message: message}
}

func notFound(message string) error {
	return &Error{Kind: store.ErrNotFound, Message: message}
}

const maxOrderNumberAttempts = 5

type Service struct {
	repo      store.Repository
	inventory *inventory.Adjuster
	reports   *report.Aggregator
	now       func() time.Time
	numbering func(time.Time) string
}

func New(repo store.Repository, reports *report.Aggregator) *Service {
	if reports == nil {
		reports = report.NewAggregator(nil, 0, nil)
	}
	return &Service{
		repo:      repo,
		inventory: inventory.NewAdjuster(repo),
		reports:   reports,
		now:       time.Now,
		numbering: xid.NewOrderNumber,
	}
}

func owner(ctx context.Context) (string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return "", ErrUnauthenticated
	}
	return actor.UserID, nil
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func (s *Service) ListParts(ctx context.Context) ([]domain.PartDetail, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return nil, err
	}
	parts, err := s.repo.ListParts(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.partDetails(ctx, ownerID, parts)
}

func (s *Service) GetPart(ctx context.Context, id string) (domain.PartDetail, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return domain.PartDetail{}, err
	}
	part, err := s.repo.GetPart(ctx, ownerID, strings.TrimSpace(id))
	if errors.Is(err, store.ErrNotFound) {
		return domain.PartDetail{}, notFound("Part not found")
	}
	if err != nil {
		return domain.PartDetail{}, err
	}
	return s.partDetail(ctx, ownerID, *part)
}

func (s *Service) GetPartByBarcode(ctx context.Context, barcode string) (domain.PartDetail, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return domain.PartDetail{}, err
	}
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.PartDetail{}, invalid("Barcode is required")
	}
	part, err := s.repo.GetPartByBarcode(ctx, ownerID, barcode)
	if errors.Is(err, store.ErrNotFound) {
		return domain.PartDetail{}, notFound("Part not found with this barcode")
	}
	if err != nil {
		return domain.PartDetail{}, err
	}
	return s.partDetail(ctx, ownerID, *part)
}

func (s *Service) CreatePart(ctx context.Context, req domain.PartRequest) (domain.PartDetail, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return domain.PartDetail{}, err
	}
	now := s.now().UTC()
	part, err := partFromRequest(req)
	if err != nil {
		return domain.PartDetail{}, err
	}
	part.ID = xid.New()
	part.Owner = ownerID
	part.CreatedAt, part.UpdatedAt = now, now

	created, err := s.repo.CreatePart(ctx, part)
	if errors.Is(err, store.ErrDuplicate) {
		return domain.PartDetail{}, invalid("Part with this part number or barcode already exists")
	}
	if err != nil {
		return domain.PartDetail{}, err
	}
	return s.partDetail(ctx, ownerID, *created)
}

func (s *Service) UpdatePart(ctx context.Context, id string, req domain.PartRequest) (domain.PartDetail, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return domain.PartDetail{}, err
	}
	part, err := partFromRequest(req)
	if err != nil {
		return domain.PartDetail{}, err
	}
	part.ID = strings.TrimSpace(id)
	part.Owner = ownerID
	part.UpdatedAt = s.now().UTC()

	updated, err := s.repo.UpdatePart(ctx, part)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.PartDetail{}, notFound("Part not found")
	case errors.Is(err, store.ErrDuplicate):
		return domain.PartDetail{}, invalid("Part with this part number or barcode already exists")
	case err != nil:
		return domain.PartDetail{}, err
	}
	s.reports.Invalidate(ctx, ownerID)
	return s.partDetail(ctx, ownerID, *updated)
}

func (s *Service) DeletePart(ctx context.Context, id string) error {
	ownerID, err := owner(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeletePart(ctx, ownerID, strings.TrimSpace(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Part not found")
		}
		return err
	}
	s.reports.Invalidate(ctx, ownerID)
	return nil
}

func (s *Service) SearchParts(ctx context.Context, query string) ([]domain.PartDetail, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalid("Search query is required")
	}
	parts, err := s.repo.SearchParts(ctx, ownerID, query)
	if err != nil {
		return nil, err
	}
	return s.partDetails(ctx, ownerID, parts)
}

func (s *Service) LowStockParts(ctx context.Context) ([]domain.PartDetail, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return nil, err
	}
	parts, err := s.repo.ListLowStockParts(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.partDetails(ctx, ownerID, parts)
}

func partFromRequest(req domain.PartRequest) (domain.Part, error) {
	part := domain.Part{
		Name:         strings.TrimSpace(req.Name),
		Description:  strings.TrimSpace(req.Description),
		Category:     strings.TrimSpace(req.Category),
		BuyingPrice:  req.BuyingPrice,
		SellingPrice: req.SellingPrice,
		Quantity:     req.Quantity,
		MinQuantity:  domain.DefaultMinQuantity,
		Manufacturer: strings.TrimSpace(req.Manufacturer),
		PartNumber:   strings.TrimSpace(req.PartNumber),
	}
	if req.MinQuantity != nil {
		part.MinQuantity = *req.MinQuantity
	}
	if req.Barcode != nil {
		if code := strings.TrimSpace(*req.Barcode); code != "" {
			part.Barcode = &code
		}
	}

	if part.Name == "" || part.Category == "" || part.PartNumber == "" {
		return domain.Part{}, invalid("Name, category and part number are required")
	}
	if part.BuyingPrice.IsNegative() || part.SellingPrice.IsNegative() {
		return domain.Part{}, invalid("Prices must not be negative")
	}
	if !isMoney(part.BuyingPrice) || !isMoney(part.SellingPrice) {
		return domain.Part{}, invalid("Prices must have at most 2 decimal places")
	}
	if part.Quantity < 0 || part.MinQuantity < 0 {
		return domain.Part{}, invalid("Quantities must not be negative")
	}
	return part, nil
}

// isMoney reports whether d fits the stores' two-decimal money columns.
func isMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

func (s *Service) partDetail(ctx context.Context, ownerID string, part domain.Part) (domain.PartDetail, error) {
	details, err := s.partDetails(ctx, ownerID, []domain.Part{part})
	if err != nil {
		return domain.PartDetail{}, err
	}
	return details[0], nil
}

// partDetails resolves each part's category. A category that no longer
// exists resolves to null.
func (s *Service) partDetails(ctx context.Context, ownerID string, parts []domain.Part) ([]domain.PartDetail, error) {
	ids := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if _, ok := seen[p.Category]; ok || p.Category == "" {
			continue
		}
		seen[p.Category] = struct{}{}
		ids = append(ids, p.Category)
	}
	categories, err := s.repo.GetCategoriesByIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, err
	}

	out := make([]domain.PartDetail, 0, len(parts))
	for _, p := range parts {
		detail := domain.PartDetail{Part: p, LowStock: p.LowStock()}
		if c, ok := categories[p.Category]; ok {
			detail.Category = &c
		}
		out = append(out, detail)
	}
	return out, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCategories(ctx, ownerID)
}

func (s *Service) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return domain.Category{}, err
	}
	category, err := s.repo.GetCategory(ctx, ownerID, strings.TrimSpace(id))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Category{}, notFound("Category not found")
	}
	if err != nil {
		return domain.Category{}, err
	}
	return *category, nil
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryRequest) (domain.Category, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return domain.Category{}, err
	}
	name, description, err := validateCategory(req)
	if err != nil {
		return domain.Category{}, err
	}
	now := s.now().UTC()
	created, err := s.repo.CreateCategory(ctx, domain.Category{
		ID:          xid.New(),
		Name:        name,
		Description: description,
		Owner:       ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return domain.Category{}, invalid("Category already exists")
	}
	if err != nil {
		return domain.Category{}, err
	}
	return *created, nil
}

func (s *Service) UpdateCategory(ctx context.Context, id string, req domain.CategoryRequest) (domain.Category, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return domain.Category{}, err
	}
	name, description, err := validateCategory(req)
	if err != nil {
		return domain.Category{}, err
	}
	updated, err := s.repo.UpdateCategory(ctx, domain.Category{
		ID:          strings.TrimSpace(id),
		Name:        name,
		Description: description,
		Owner:       ownerID,
		UpdatedAt:   s.now().UTC(),
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.Category{}, notFound("Category not found")
	case errors.Is(err, store.ErrDuplicate):
		return domain.Category{}, invalid("Category already exists")
	case err != nil:
		return domain.Category{}, err
	}
	s.reports.Invalidate(ctx, ownerID)
	return *updated, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	ownerID, err := owner(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCategory(ctx, ownerID, strings.TrimSpace(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Category not found")
		}
		return err
	}
	s.reports.Invalidate(ctx, ownerID)
	return nil
}

func validateCategory(req domain.CategoryRequest) (string, string, error) {
	name := strings.TrimSpace(req.Name)
	description := strings.TrimSpace(req.Description)
	if name == "" || description == "" {
		return "", "", invalid("Name and description are required")
	}
	return name, description, nil
}

// CreateOrder persists the order under a fresh order number and then
// decrements stock line by line. Stock failures are logged and never undo the
// order.
func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.OrderDetail, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return domain.OrderDetail{}, err
	}

	if len(req.Items) == 0 {
		return domain.OrderDetail{}, invalid("Items are required")
	}
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		partID := strings.TrimSpace(item.Part)
		if partID == "" || item.Quantity < 1 || item.Price.IsNegative() || !isMoney(item.Price) {
			return domain.OrderDetail{}, invalid("Invalid order item")
		}
		items = append(items, domain.OrderItem{Part: partID, Quantity: item.Quantity, Price: item.Price})
	}
	status := req.Status
	if status == "" {
		status = domain.OrderPending
	}
	if !status.Valid() {
		return domain.OrderDetail{}, invalid("Invalid status")
	}
	if !req.PaymentMethod.Valid() {
		return domain.OrderDetail{}, invalid("Invalid payment method")
	}
	if req.TotalAmount.IsNegative() || !isMoney(req.TotalAmount) {
		return domain.OrderDetail{}, invalid("Invalid total amount")
	}

	var created *domain.Order
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		now := s.now()
		order := domain.Order{
			ID:              xid.New(),
			OrderNumber:     s.numbering(now.In(s.reports.Location())),
			Items:           items,
			TotalAmount:     req.TotalAmount,
			Status:          status,
			PaymentMethod:   req.PaymentMethod,
			CustomerName:    strings.TrimSpace(req.CustomerName),
			CustomerPhone:   strings.TrimSpace(req.CustomerPhone),
			CustomerEmail:   strings.TrimSpace(req.CustomerEmail),
			CarRegistration: strings.TrimSpace(req.CarRegistration),
			Owner:           ownerID,
			CreatedAt:       now.UTC(),
			UpdatedAt:       now.UTC(),
		}
		created, err = s.repo.CreateOrder(ctx, order)
		if errors.Is(err, store.ErrDuplicate) {
			log.Printf("[service] WARN: order number collision %s (attempt %d)", order.OrderNumber, attempt)
			continue
		}
		if err != nil {
			return domain.OrderDetail{}, err
		}
		break
	}
	if created == nil {
		return domain.OrderDetail{}, fmt.Errorf("no free order number after %d attempts", maxOrderNumberAttempts)
	}

	adjustment := s.inventory.Apply(ctx, ownerID, created.Items)
	if !adjustment.Complete() {
		log.Printf("[service] WARN: order=%s saved with %d stock line(s) not adjusted", created.OrderNumber, len(adjustment.Skipped))
	}
	s.reports.Invalidate(ctx, ownerID)

	return s.orderDetail(ctx, ownerID, *created)
}

func (s *Service) ListOrders(ctx context.Context) ([]domain.OrderDetail, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := s.repo.ListOrders(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.orderDetails(ctx, ownerID, orders)
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.OrderDetail, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	order, err := s.getOrder(ctx, ownerID, id)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	return s.orderDetail(ctx, ownerID, *order)
}

func (s *Service) getOrder(ctx context.Context, ownerID string, id string) (*domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, ownerID, strings.TrimSpace(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("Order not found")
	}
	return order, err
}

// UpdateOrderStatus writes a status and payment transition. Any status may
// follow any other. For CASH with a non-zero cash amount the change is
// computed against the order's total as stored before this update.
func (s *Service) UpdateOrderStatus(ctx context.Context, id string, req domain.OrderStatusRequest) (domain.OrderDetail, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	if req.Status != "" && !req.Status.Valid() {
		return domain.OrderDetail{}, invalid("Invalid status")
	}
	if !req.PaymentMethod.Valid() {
		return domain.OrderDetail{}, invalid("Invalid payment method")
	}
	if req.CashReceived != nil && !isMoney(*req.CashReceived) {
		return domain.OrderDetail{}, invalid("Invalid cash amount")
	}

	existing, err := s.getOrder(ctx, ownerID, id)
	if err != nil {
		return domain.OrderDetail{}, err
	}

	var update domain.OrderUpdate
	if req.Status != "" {
		status := req.Status
		update.Status = &status
	}
	if req.PaymentMethod != "" {
		method := req.PaymentMethod
		update.PaymentMethod = &method
	}
	if req.PaymentMethod == domain.PaymentCash && req.CashReceived != nil && !req.CashReceived.IsZero() {
		cash := *req.CashReceived
		change := ChangeDue(cash, existing.TotalAmount)
		update.CashReceived = &cash
		update.ChangeAmount = &change
	}

	updated, err := s.repo.UpdateOrder(ctx, ownerID, existing.ID, update)
	if errors.Is(err, store.ErrNotFound) {
		return domain.OrderDetail{}, notFound("Order not found")
	}
	if err != nil {
		return domain.OrderDetail{}, err
	}
	s.reports.Invalidate(ctx, ownerID)

	return s.orderDetail(ctx, ownerID, *updated)
}

func (s *Service) orderDetail(ctx context.Context, ownerID string, order domain.Order) (domain.OrderDetail, error) {
	details, err := s.orderDetails(ctx, ownerID, []domain.Order{order})
	if err != nil {
		return domain.OrderDetail{}, err
	}
	return details[0], nil
}

// orderDetails swaps part ids for the owner's parts. A part that is gone, or
// belongs to someone else, resolves to null.
func (s *Service) orderDetails(ctx context.Context, ownerID string, orders []domain.Order) ([]domain.OrderDetail, error) {
	ids := make([]string, 0)
	seen := make(map[string]struct{})
	for _, o := range orders {
		for _, item := range o.Items {
			if _, ok := seen[item.Part]; ok {
				continue
			}
			seen[item.Part] = struct{}{}
			ids = append(ids, item.Part)
		}
	}
	parts, err := s.repo.GetPartsByIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, err
	}
	list := make([]domain.Part, 0, len(parts))
	for _, p := range parts {
		list = append(list, p)
	}
	resolved, err := s.partDetails(ctx, ownerID, list)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.PartDetail, len(resolved))
	for _, d := range resolved {
		byID[d.ID] = d
	}

	out := make([]domain.OrderDetail, 0, len(orders))
	for _, o := range orders {
		detail := domain.OrderDetail{Order: o, Items: make([]domain.OrderItemDetail, 0, len(o.Items))}
		for _, item := range o.Items {
			line := domain.OrderItemDetail{Quantity: item.Quantity, Price: item.Price}
			if p, ok := byID[item.Part]; ok {
				line.Part = &p
			}
			detail.Items = append(detail.Items, line)
		}
		out = append(out, detail)
	}
	return out, nil
}

const invalidPeriodMessage = "Invalid date parameters. Year must be a valid number and month must be between 1-12."

func (s *Service) SalesReport(ctx context.Context, yearRaw string, monthRaw string) (*domain.SalesReport, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return nil, err
	}
	year, month, err := report.ParsePeriod(yearRaw, monthRaw, s.now().In(s.reports.Location()))
	if err != nil {
		return nil, invalid(invalidPeriodMessage)
	}
	return s.reports.Monthly(ctx, ownerID, year, month, func(ctx context.Context, from, to time.Time) ([]domain.OrderDetail, error) {
		orders, err := s.repo.ListCompletedOrders(ctx, ownerID, from, to)
		if err != nil {
			return nil, err
		}
		return s.orderDetails(ctx, ownerID, orders)
	})
}

// Receipt renders a stored order with the owner's current part names.
func (s *Service) Receipt(ctx context.Context, id string) (string, error) {
	ownerID, err := owner(ctx)
	if err != nil {
		return "", err
	}
	order, err := s.getOrder(ctx, ownerID, id)
	if err != nil {
		return "", err
	}
	ids := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		ids = append(ids, item.Part)
	}
	parts, err := s.repo.GetPartsByIDs(ctx, ownerID, ids)
	if err != nil {
		return "", err
	}
	return receipt.Render(receipt.PersistedOrder{Order: *order, Parts: parts})
}

func (s *Service) PreviewReceipt(ctx context.Context, req domain.ReceiptPreviewRequest) (string, error) {
	if _, err := owner(ctx); err != nil {
		return "", err
	}
	in := receipt.Input{
		OrderNumber:     strings.TrimSpace(req.OrderNumber),
		TotalAmount:     req.TotalAmount,
		Status:          req.Status,
		PaymentMethod:   req.PaymentMethod,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		CustomerEmail:   req.CustomerEmail,
		CarRegistration: req.CarRegistration,
		CashReceived:    req.CashReceived,
		ChangeAmount:    req.ChangeAmount,
		Items:           make([]receipt.InputItem, 0, len(req.Items)),
	}
	if req.CreatedAt != nil {
		in.CreatedAt = *req.CreatedAt
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, receipt.InputItem{
			Name:       item.Name,
			PartNumber: item.PartNumber,
			Quantity:   item.Quantity,
			Price:      item.Price,
		})
	}

	text, err := receipt.Render(in)
	if errors.Is(err, receipt.ErrMissingPartName) {
		return "", invalid("Part name is missing")
	}
	return text, err
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx, "")
}

func (s *Service) ListPendingUsers(ctx context.Context) ([]domain.User, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx, domain.UserPending)
}

func (s *Service) UpdateUserStatus(ctx context.Context, req domain.UserStatusRequest) (domain.User, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.User{}, err
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" || req.Status == "" {
		return domain.User{}, invalid("User ID and status are required")
	}
	if !req.Status.Valid() {
		return domain.User{}, invalid("Invalid status")
	}
	user, err := s.repo.UpdateUserStatus(ctx, userID, req.Status)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, notFound("User not found")
	}
	if err != nil {
		return domain.User{}, err
	}
	return *user, nil
}

// ChangeDue is the change for a cash payment against a total. It may be
// negative when the cash does not cover the total.
func ChangeDue(cash decimal.Decimal, total decimal.Decimal) decimal.Decimal {
	return cash.Sub(total)
}
