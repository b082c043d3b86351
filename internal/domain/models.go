package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderCompleted, OrderCancelled:
		return true
	default:
		return false
	}
}

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "CASH"
	PaymentCard PaymentMethod = "CARD"
)

// Valid accepts the empty method; orders may be created before payment.
func (m PaymentMethod) Valid() bool {
	switch m {
	case "", PaymentCash, PaymentCard:
		return true
	default:
		return false
	}
}

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type UserStatus string

const (
	UserPending  UserStatus = "pending"
	UserVerified UserStatus = "verified"
	UserRejected UserStatus = "rejected"
)

func (s UserStatus) Valid() bool {
	switch s {
	case UserPending, UserVerified, UserRejected:
		return true
	default:
		return false
	}
}

const DefaultMinQuantity = 5

type Category struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Owner       string    `json:"user"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CategoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Part struct {
	ID           string          `json:"_id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Category     string          `json:"category"`
	BuyingPrice  decimal.Decimal `json:"buyingPrice"`
	SellingPrice decimal.Decimal `json:"sellingPrice"`
	Quantity     int             `json:"quantity"`
	MinQuantity  int             `json:"minQuantity"`
	Manufacturer string          `json:"manufacturer,omitempty"`
	PartNumber   string          `json:"partNumber"`
	Barcode      *string         `json:"barcode"`
	Owner        string          `json:"user"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// LowStock is inclusive: a part sitting exactly at its minimum is low.
func (p Part) LowStock() bool {
	return p.Quantity <= p.MinQuantity
}

func (p Part) BarcodeValue() string {
	if p.Barcode == nil {
		return ""
	}
	return *p.Barcode
}

type PartRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	BuyingPrice  decimal.Decimal `json:"buyingPrice"`
	SellingPrice decimal.Decimal `json:"sellingPrice"`
	Quantity     int             `json:"quantity"`
	MinQuantity  *int            `json:"minQuantity,omitempty"`
	Manufacturer string          `json:"manufacturer"`
	PartNumber   string          `json:"partNumber"`
	Barcode      *string         `json:"barcode"`
}

// PartDetail is a part with its category resolved for display.
type PartDetail struct {
	Part
	Category *Category `json:"category"`
	LowStock bool      `json:"lowStock"`
}

type OrderItem struct {
	Part     string          `json:"part"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID              string           `json:"_id"`
	OrderNumber     string           `json:"orderNumber"`
	Items           []OrderItem      `json:"items"`
	TotalAmount     decimal.Decimal  `json:"totalAmount"`
	Status          OrderStatus      `json:"status"`
	PaymentMethod   PaymentMethod    `json:"paymentMethod,omitempty"`
	CustomerName    string           `json:"customerName,omitempty"`
	CustomerPhone   string           `json:"customerPhone,omitempty"`
	CustomerEmail   string           `json:"customerEmail,omitempty"`
	CarRegistration string           `json:"carRegistration,omitempty"`
	CashReceived    *decimal.Decimal `json:"cashReceived,omitempty"`
	ChangeAmount    *decimal.Decimal `json:"changeAmount,omitempty"`
	Owner           string           `json:"user"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

type OrderItemRequest struct {
	Part     string          `json:"part"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type OrderCreateRequest struct {
	Items           []OrderItemRequest `json:"items"`
	TotalAmount     decimal.Decimal    `json:"totalAmount"`
	Status          OrderStatus        `json:"status,omitempty"`
	CustomerName    string             `json:"customerName,omitempty"`
	CustomerPhone   string             `json:"customerPhone,omitempty"`
	CustomerEmail   string             `json:"customerEmail,omitempty"`
	CarRegistration string             `json:"carRegistration,omitempty"`
	PaymentMethod   PaymentMethod      `json:"paymentMethod,omitempty"`
}

type OrderStatusRequest struct {
	Status        OrderStatus      `json:"status,omitempty"`
	PaymentMethod PaymentMethod    `json:"paymentMethod,omitempty"`
	CashReceived  *decimal.Decimal `json:"cashReceived,omitempty"`
}

// OrderUpdate carries the fields a status transition writes; nil means unchanged.
type OrderUpdate struct {
	Status        *OrderStatus
	PaymentMethod *PaymentMethod
	CashReceived  *decimal.Decimal
	ChangeAmount  *decimal.Decimal
}

type OrderItemDetail struct {
	Part     *PartDetail     `json:"part"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// OrderDetail replaces the raw part ids of an order with resolved parts.
// Dangling references resolve to a null part.
type OrderDetail struct {
	Order
	Items []OrderItemDetail `json:"items"`
}

type SalesByPaymentMethod struct {
	Cash decimal.Decimal `json:"CASH"`
	Card decimal.Decimal `json:"CARD"`
}

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type SalesReport struct {
	TotalSales           decimal.Decimal      `json:"totalSales"`
	SalesByPaymentMethod SalesByPaymentMethod `json:"salesByPaymentMethod"`
	Orders               []OrderDetail        `json:"orders"`
	DateRange            DateRange            `json:"dateRange"`
}

type ReceiptResponse struct {
	Status string      `json:"status"`
	Data   ReceiptData `json:"data"`
}

type ReceiptData struct {
	Receipt      string `json:"receipt"`
	EscposBase64 string `json:"escposBase64,omitempty"`
	FileName     string `json:"fileName,omitempty"`
}

type ReceiptPreviewItem struct {
	Name       string          `json:"name"`
	PartNumber string          `json:"partNumber,omitempty"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
}

type ReceiptPreviewRequest struct {
	OrderNumber     string               `json:"orderNumber"`
	Items           []ReceiptPreviewItem `json:"items"`
	TotalAmount     decimal.Decimal      `json:"totalAmount"`
	Status          OrderStatus          `json:"status"`
	PaymentMethod   PaymentMethod        `json:"paymentMethod,omitempty"`
	CustomerName    string               `json:"customerName,omitempty"`
	CustomerPhone   string               `json:"customerPhone,omitempty"`
	CustomerEmail   string               `json:"customerEmail,omitempty"`
	CarRegistration string               `json:"carRegistration,omitempty"`
	CreatedAt       *time.Time           `json:"createdAt,omitempty"`
	CashReceived    *decimal.Decimal     `json:"cashReceived,omitempty"`
	ChangeAmount    *decimal.Decimal     `json:"changeAmount,omitempty"`
}

type User struct {
	ID           string     `json:"_id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AdminCreateRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	SecretKey string `json:"secretKey"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	ID        string     `json:"_id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	Status    UserStatus `json:"status"`
	Token     string     `json:"token"`
	ExpiresAt string     `json:"expiresAt"`
	Message   string     `json:"message,omitempty"`
}

type UserStatusRequest struct {
	UserID string     `json:"userId"`
	Status UserStatus `json:"status"`
}

// Actor is the authenticated identity a request runs as.
type Actor struct {
	UserID   string
	Username string
	Role     string
	Status   UserStatus
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
