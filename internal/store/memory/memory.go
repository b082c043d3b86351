package memory

import (
	"cmp"
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/store"
	"carparts/backend/internal/xid"
)

type Store struct {
	mu         sync.RWMutex
	parts      map[string]domain.Part
	categories map[string]domain.Category
	orders     map[string]domain.Order
	users      map[string]domain.User
}

func New() *Store {
	return &Store{
		parts:      make(map[string]domain.Part),
		categories: make(map[string]domain.Category),
		orders:     make(map[string]domain.Order),
		users:      make(map[string]domain.User),
	}
}

// NewSeeded returns a store holding a verified admin and a small demo
// catalogue owned by that admin. Credentials come from SEED_ADMIN_EMAIL and
// SEED_ADMIN_PASSWORD; dev defaults are used with a warning when unset.
func NewSeeded() *Store {
	s := New()

	email := envOr("SEED_ADMIN_EMAIL", "admin@carparts.local")
	password := envOr("SEED_ADMIN_PASSWORD", "admin123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD to override.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}

	now := time.Now().UTC()
	admin := domain.User{
		ID:           xid.New(),
		Username:     "admin",
		Email:        strings.ToLower(email),
		PasswordHash: string(hash),
		Role:         domain.RoleAdmin,
		Status:       domain.UserVerified,
		CreatedAt:    now,
	}
	s.users[admin.ID] = admin

	categories := []domain.Category{
		{Name: "Brakes", Description: "Pads, discs and calipers"},
		{Name: "Filters", Description: "Oil, air and cabin filters"},
		{Name: "Electrical", Description: "Bulbs, fuses and batteries"},
	}
	byName := make(map[string]string, len(categories))
	for _, c := range categories {
		c.ID = xid.New()
		c.Owner = admin.ID
		c.CreatedAt, c.UpdatedAt = now, now
		s.categories[c.ID] = c
		byName[c.Name] = c.ID
	}

	seedParts := []struct {
		name, category, number, barcode, buy, sell string
		qty, min                                   int
	}{
		{"Front Brake Pads", "Brakes", "BP-1001", "5012345678900", "18.00", "34.99", 24, 5},
		{"Brake Disc 280mm", "Brakes", "BD-2800", "5012345678917", "22.50", "45.00", 6, 4},
		{"Oil Filter", "Filters", "OF-0007", "5012345678924", "3.10", "8.99", 40, 10},
		{"Cabin Air Filter", "Filters", "CF-0311", "5012345678931", "4.75", "12.50", 5, 5},
		{"H7 Headlight Bulb", "Electrical", "EL-H7", "5012345678948", "1.20", "4.49", 60, 12},
		{"Blade Fuse Kit", "Electrical", "EL-FK20", "", "2.00", "6.25", 3, 5},
	}
	for _, sp := range seedParts {
		p := domain.Part{
			ID:           xid.New(),
			Name:         sp.name,
			Category:     byName[sp.category],
			BuyingPrice:  decimal.RequireFromString(sp.buy),
			SellingPrice: decimal.RequireFromString(sp.sell),
			Quantity:     sp.qty,
			MinQuantity:  sp.min,
			PartNumber:   sp.number,
			Owner:        admin.ID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if sp.barcode != "" {
			code := sp.barcode
			p.Barcode = &code
		}
		s.parts[p.ID] = p
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListParts(_ context.Context, owner string) ([]domain.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Part, 0, len(s.parts))
	for _, p := range s.parts {
		if p.Owner == owner {
			result = append(result, clonePart(p))
		}
	}
	sortParts(result)
	return result, nil
}

func (s *Store) GetPart(_ context.Context, owner string, id string) (*domain.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.parts[id]
	if !ok || p.Owner != owner {
		return nil, store.ErrNotFound
	}
	out := clonePart(p)
	return &out, nil
}

func (s *Store) GetPartByBarcode(_ context.Context, owner string, barcode string) (*domain.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.parts {
		if p.Owner == owner && p.Barcode != nil && *p.Barcode == barcode {
			out := clonePart(p)
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetPartsByIDs(_ context.Context, owner string, ids []string) (map[string]domain.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Part, len(ids))
	for _, id := range ids {
		if p, ok := s.parts[id]; ok && p.Owner == owner {
			result[id] = clonePart(p)
		}
	}
	return result, nil
}

func (s *Store) CreatePart(_ context.Context, part domain.Part) (*domain.Part, error) {
	if part.ID == "" || part.Owner == "" {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.parts[part.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if s.partConflictLocked(part) {
		return nil, store.ErrDuplicate
	}
	s.parts[part.ID] = clonePart(part)
	out := clonePart(part)
	return &out, nil
}

func (s *Store) UpdatePart(_ context.Context, part domain.Part) (*domain.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.parts[part.ID]
	if !ok || existing.Owner != part.Owner {
		return nil, store.ErrNotFound
	}
	if s.partConflictLocked(part) {
		return nil, store.ErrDuplicate
	}
	part.CreatedAt = existing.CreatedAt
	s.parts[part.ID] = clonePart(part)
	out := clonePart(part)
	return &out, nil
}

func (s *Store) DeletePart(_ context.Context, owner string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parts[id]
	if !ok || p.Owner != owner {
		return store.ErrNotFound
	}
	delete(s.parts, id)
	return nil
}

func (s *Store) SearchParts(_ context.Context, owner string, query string) ([]domain.Part, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return []domain.Part{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		part  domain.Part
		score int
	}
	hits := make([]scored, 0)
	for _, p := range s.parts {
		if p.Owner != owner {
			continue
		}
		haystack := strings.ToLower(strings.Join([]string{p.Name, p.Description, p.PartNumber, p.BarcodeValue()}, " "))
		score := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{part: clonePart(p), score: score})
		}
	}
	slices.SortFunc(hits, func(a, b scored) int {
		if a.score != b.score {
			return b.score - a.score
		}
		return cmp.Compare(a.part.Name, b.part.Name)
	})

	result := make([]domain.Part, 0, len(hits))
	for _, h := range hits {
		result = append(result, h.part)
	}
	return result, nil
}

func (s *Store) ListLowStockParts(_ context.Context, owner string) ([]domain.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Part, 0)
	for _, p := range s.parts {
		if p.Owner == owner && p.LowStock() {
			result = append(result, clonePart(p))
		}
	}
	sortParts(result)
	return result, nil
}

func (s *Store) AdjustPartQuantity(_ context.Context, owner string, id string, delta int) (*domain.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parts[id]
	if !ok || p.Owner != owner {
		return nil, store.ErrNotFound
	}
	p.Quantity += delta
	p.UpdatedAt = time.Now().UTC()
	s.parts[id] = p
	out := clonePart(p)
	return &out, nil
}

func (s *Store) ListCategories(_ context.Context, owner string) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Category, 0)
	for _, c := range s.categories {
		if c.Owner == owner {
			result = append(result, c)
		}
	}
	slices.SortFunc(result, func(a, b domain.Category) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetCategory(_ context.Context, owner string, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[id]
	if !ok || c.Owner != owner {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetCategoriesByIDs(_ context.Context, owner string, ids []string) (map[string]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Category, len(ids))
	for _, id := range ids {
		if c, ok := s.categories[id]; ok && c.Owner == owner {
			result[id] = c
		}
	}
	return result, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	if category.ID == "" || category.Owner == "" {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.categoryConflictLocked(category) {
		return nil, store.ErrDuplicate
	}
	s.categories[category.ID] = category
	return &category, nil
}

func (s *Store) UpdateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.categories[category.ID]
	if !ok || existing.Owner != category.Owner {
		return nil, store.ErrNotFound
	}
	if s.categoryConflictLocked(category) {
		return nil, store.ErrDuplicate
	}
	category.CreatedAt = existing.CreatedAt
	s.categories[category.ID] = category
	return &category, nil
}

func (s *Store) DeleteCategory(_ context.Context, owner string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.categories[id]
	if !ok || c.Owner != owner {
		return store.ErrNotFound
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" || order.Owner == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return nil, store.ErrDuplicate
	}
	for _, o := range s.orders {
		if o.Owner == order.Owner && o.OrderNumber == order.OrderNumber {
			return nil, store.ErrDuplicate
		}
	}
	s.orders[order.ID] = cloneOrder(order)
	out := cloneOrder(order)
	return &out, nil
}

func (s *Store) ListOrders(_ context.Context, owner string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, o := range s.orders {
		if o.Owner == owner {
			result = append(result, cloneOrder(o))
		}
	}
	sortOrdersNewestFirst(result)
	return result, nil
}

func (s *Store) GetOrder(_ context.Context, owner string, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok || o.Owner != owner {
		return nil, store.ErrNotFound
	}
	out := cloneOrder(o)
	return &out, nil
}

func (s *Store) UpdateOrder(_ context.Context, owner string, id string, update domain.OrderUpdate) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.Owner != owner {
		return nil, store.ErrNotFound
	}
	if update.Status != nil {
		o.Status = *update.Status
	}
	if update.PaymentMethod != nil {
		o.PaymentMethod = *update.PaymentMethod
	}
	if update.CashReceived != nil {
		v := *update.CashReceived
		o.CashReceived = &v
	}
	if update.ChangeAmount != nil {
		v := *update.ChangeAmount
		o.ChangeAmount = &v
	}
	o.UpdatedAt = time.Now().UTC()
	s.orders[id] = o
	out := cloneOrder(o)
	return &out, nil
}

func (s *Store) ListCompletedOrders(_ context.Context, owner string, from time.Time, to time.Time) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, o := range s.orders {
		if o.Owner != owner || o.Status != domain.OrderCompleted {
			continue
		}
		if o.CreatedAt.Before(from) || o.CreatedAt.After(to) {
			continue
		}
		result = append(result, cloneOrder(o))
	}
	sortOrdersNewestFirst(result)
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) error {
	if user.ID == "" {
		return store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ID == user.ID || strings.EqualFold(u.Email, user.Email) || u.Username == user.Username {
			return store.ErrDuplicate
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context, status domain.UserStatus) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		if status != "" && u.Status != status {
			continue
		}
		result = append(result, u)
	}
	slices.SortFunc(result, func(a, b domain.User) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

func (s *Store) UpdateUserStatus(_ context.Context, id string, status domain.UserStatus) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.Status = status
	s.users[id] = u
	return &u, nil
}

func (s *Store) partConflictLocked(part domain.Part) bool {
	for id, p := range s.parts {
		if id == part.ID || p.Owner != part.Owner {
			continue
		}
		if p.PartNumber == part.PartNumber {
			return true
		}
		if part.Barcode != nil && p.Barcode != nil && *p.Barcode == *part.Barcode {
			return true
		}
	}
	return false
}

func (s *Store) categoryConflictLocked(category domain.Category) bool {
	for id, c := range s.categories {
		if id != category.ID && c.Owner == category.Owner && c.Name == category.Name {
			return true
		}
	}
	return false
}

func sortParts(parts []domain.Part) {
	slices.SortFunc(parts, func(a, b domain.Part) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func sortOrdersNewestFirst(orders []domain.Order) {
	slices.SortFunc(orders, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func clonePart(src domain.Part) domain.Part {
	dst := src
	if src.Barcode != nil {
		code := *src.Barcode
		dst.Barcode = &code
	}
	return dst
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = slices.Clone(src.Items)
	if src.CashReceived != nil {
		v := *src.CashReceived
		dst.CashReceived = &v
	}
	if src.ChangeAmount != nil {
		v := *src.ChangeAmount
		dst.ChangeAmount = &v
	}
	return dst
}
