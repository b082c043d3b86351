package store

import (
	"context"
	"errors"
	"time"

	"carparts/backend/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	ErrInvalid   = errors.New("invalid input")
)

// Every method that takes an owner only sees that owner's rows; a record
// belonging to someone else is reported as ErrNotFound.
type Repository interface {
	PartStore
	CategoryStore
	OrderStore
	UserStore
}

type PartStore interface {
	ListParts(ctx context.Context, owner string) ([]domain.Part, error)
	GetPart(ctx context.Context, owner string, id string) (*domain.Part, error)
	GetPartByBarcode(ctx context.Context, owner string, barcode string) (*domain.Part, error)
	GetPartsByIDs(ctx context.Context, owner string, ids []string) (map[string]domain.Part, error)
	CreatePart(ctx context.Context, part domain.Part) (*domain.Part, error)
	UpdatePart(ctx context.Context, part domain.Part) (*domain.Part, error)
	DeletePart(ctx context.Context, owner string, id string) error
	SearchParts(ctx context.Context, owner string, query string) ([]domain.Part, error)
	ListLowStockParts(ctx context.Context, owner string) ([]domain.Part, error)
	// AdjustPartQuantity adds delta to the stored quantity without any floor
	// and returns the part as it is after the write.
	AdjustPartQuantity(ctx context.Context, owner string, id string, delta int) (*domain.Part, error)
}

type CategoryStore interface {
	ListCategories(ctx context.Context, owner string) ([]domain.Category, error)
	GetCategory(ctx context.Context, owner string, id string) (*domain.Category, error)
	GetCategoriesByIDs(ctx context.Context, owner string, ids []string) (map[string]domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	DeleteCategory(ctx context.Context, owner string, id string) error
}

type OrderStore interface {
	// CreateOrder fails with ErrDuplicate when the owner already has an
	// order with the same order number.
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	ListOrders(ctx context.Context, owner string) ([]domain.Order, error)
	GetOrder(ctx context.Context, owner string, id string) (*domain.Order, error)
	UpdateOrder(ctx context.Context, owner string, id string, update domain.OrderUpdate) (*domain.Order, error)
	// ListCompletedOrders returns COMPLETED orders created within [from, to].
	ListCompletedOrders(ctx context.Context, owner string, from time.Time, to time.Time) ([]domain.Order, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	// ListUsers filters by status unless status is empty.
	ListUsers(ctx context.Context, status domain.UserStatus) ([]domain.User, error)
	UpdateUserStatus(ctx context.Context, id string, status domain.UserStatus) (*domain.User, error)
}
