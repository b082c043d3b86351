package mongostore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"carparts/backend/internal/domain"
)

// Money is stored as Decimal128 so amounts round-trip without float drift.
func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("encode decimal %s: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode decimal %s: %w", v, err)
	}
	return d, nil
}

func toDecimal128Ptr(d *decimal.Decimal) (*primitive.Decimal128, error) {
	if d == nil {
		return nil, nil
	}
	v, err := toDecimal128(*d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func fromDecimal128Ptr(v *primitive.Decimal128) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	d, err := fromDecimal128(*v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

type partDoc struct {
	ID           string               `bson:"_id"`
	Owner        string               `bson:"user"`
	Name         string               `bson:"name"`
	Description  string               `bson:"description"`
	Category     string               `bson:"category"`
	BuyingPrice  primitive.Decimal128 `bson:"buyingPrice"`
	SellingPrice primitive.Decimal128 `bson:"sellingPrice"`
	Quantity     int                  `bson:"quantity"`
	MinQuantity  int                  `bson:"minQuantity"`
	Manufacturer string               `bson:"manufacturer"`
	PartNumber   string               `bson:"partNumber"`
	Barcode      *string              `bson:"barcode,omitempty"`
	CreatedAt    time.Time            `bson:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt"`
}

func newPartDoc(p domain.Part) (partDoc, error) {
	buying, err := toDecimal128(p.BuyingPrice)
	if err != nil {
		return partDoc{}, err
	}
	selling, err := toDecimal128(p.SellingPrice)
	if err != nil {
		return partDoc{}, err
	}
	return partDoc{
		ID:           p.ID,
		Owner:        p.Owner,
		Name:         p.Name,
		Description:  p.Description,
		Category:     p.Category,
		BuyingPrice:  buying,
		SellingPrice: selling,
		Quantity:     p.Quantity,
		MinQuantity:  p.MinQuantity,
		Manufacturer: p.Manufacturer,
		PartNumber:   p.PartNumber,
		Barcode:      p.Barcode,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}, nil
}

func (d partDoc) toDomain() (domain.Part, error) {
	buying, err := fromDecimal128(d.BuyingPrice)
	if err != nil {
		return domain.Part{}, err
	}
	selling, err := fromDecimal128(d.SellingPrice)
	if err != nil {
		return domain.Part{}, err
	}
	return domain.Part{
		ID:           d.ID,
		Owner:        d.Owner,
		Name:         d.Name,
		Description:  d.Description,
		Category:     d.Category,
		BuyingPrice:  buying,
		SellingPrice: selling,
		Quantity:     d.Quantity,
		MinQuantity:  d.MinQuantity,
		Manufacturer: d.Manufacturer,
		PartNumber:   d.PartNumber,
		Barcode:      d.Barcode,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}, nil
}

// categoryDoc mirrors domain.Category field for field.
type categoryDoc struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	Description string    `bson:"description"`
	Owner       string    `bson:"user"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func newCategoryDoc(c domain.Category) categoryDoc {
	return categoryDoc(c)
}

func (d categoryDoc) toDomain() domain.Category {
	return domain.Category(d)
}

type orderItemDoc struct {
	Part     string               `bson:"part"`
	Quantity int                  `bson:"quantity"`
	Price    primitive.Decimal128 `bson:"price"`
}

type orderDoc struct {
	ID              string                `bson:"_id"`
	Owner           string                `bson:"user"`
	OrderNumber     string                `bson:"orderNumber"`
	Items           []orderItemDoc        `bson:"items"`
	TotalAmount     primitive.Decimal128  `bson:"totalAmount"`
	Status          string                `bson:"status"`
	PaymentMethod   string                `bson:"paymentMethod,omitempty"`
	CustomerName    string                `bson:"customerName,omitempty"`
	CustomerPhone   string                `bson:"customerPhone,omitempty"`
	CustomerEmail   string                `bson:"customerEmail,omitempty"`
	CarRegistration string                `bson:"carRegistration,omitempty"`
	CashReceived    *primitive.Decimal128 `bson:"cashReceived,omitempty"`
	ChangeAmount    *primitive.Decimal128 `bson:"changeAmount,omitempty"`
	CreatedAt       time.Time             `bson:"createdAt"`
	UpdatedAt       time.Time             `bson:"updatedAt"`
}

func newOrderDoc(o domain.Order) (orderDoc, error) {
	total, err := toDecimal128(o.TotalAmount)
	if err != nil {
		return orderDoc{}, err
	}
	cash, err := toDecimal128Ptr(o.CashReceived)
	if err != nil {
		return orderDoc{}, err
	}
	change, err := toDecimal128Ptr(o.ChangeAmount)
	if err != nil {
		return orderDoc{}, err
	}
	items := make([]orderItemDoc, 0, len(o.Items))
	for _, item := range o.Items {
		price, err := toDecimal128(item.Price)
		if err != nil {
			return orderDoc{}, err
		}
		items = append(items, orderItemDoc{Part: item.Part, Quantity: item.Quantity, Price: price})
	}
	return orderDoc{
		ID:              o.ID,
		Owner:           o.Owner,
		OrderNumber:     o.OrderNumber,
		Items:           items,
		TotalAmount:     total,
		Status:          string(o.Status),
		PaymentMethod:   string(o.PaymentMethod),
		CustomerName:    o.CustomerName,
		CustomerPhone:   o.CustomerPhone,
		CustomerEmail:   o.CustomerEmail,
		CarRegistration: o.CarRegistration,
		CashReceived:    cash,
		ChangeAmount:    change,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}, nil
}

func (d orderDoc) toDomain() (domain.Order, error) {
	total, err := fromDecimal128(d.TotalAmount)
	if err != nil {
		return domain.Order{}, err
	}
	cash, err := fromDecimal128Ptr(d.CashReceived)
	if err != nil {
		return domain.Order{}, err
	}
	change, err := fromDecimal128Ptr(d.ChangeAmount)
	if err != nil {
		return domain.Order{}, err
	}
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		price, err := fromDecimal128(item.Price)
		if err != nil {
			return domain.Order{}, err
		}
		items = append(items, domain.OrderItem{Part: item.Part, Quantity: item.Quantity, Price: price})
	}
	return domain.Order{
		ID:              d.ID,
		Owner:           d.Owner,
		OrderNumber:     d.OrderNumber,
		Items:           items,
		TotalAmount:     total,
		Status:          domain.OrderStatus(d.Status),
		PaymentMethod:   domain.PaymentMethod(d.PaymentMethod),
		CustomerName:    d.CustomerName,
		CustomerPhone:   d.CustomerPhone,
		CustomerEmail:   d.CustomerEmail,
		CarRegistration: d.CarRegistration,
		CashReceived:    cash,
		ChangeAmount:    change,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}

type userDoc struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"passwordHash"`
	Role         string    `bson:"role"`
	Status       string    `bson:"status"`
	CreatedAt    time.Time `bson:"createdAt"`
}

func newUserDoc(u domain.User) userDoc {
	return userDoc{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		Status:       string(u.Status),
		CreatedAt:    u.CreatedAt,
	}
}

func (d userDoc) toDomain() domain.User {
	return domain.User{
		ID:           d.ID,
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Role:         d.Role,
		Status:       domain.UserStatus(d.Status),
		CreatedAt:    d.CreatedAt,
	}
}
