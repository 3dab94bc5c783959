package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Actor struct {
	Username string
	Role     string
}

const (
	RoleAdmin      = "admin"
	RoleCashier    = "cashier"
	RoleTechnician = "technician"
)

type Category struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type CategoryCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Product struct {
	ID                int64           `json:"id"`
	CategoryID        int64           `json:"category_id,omitempty"`
	SKU               string          `json:"sku,omitempty"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	StockQty          int             `json:"stock_quantity"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	StockStatus       string          `json:"stock_status"`
	Active            bool            `json:"active"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	CategoryID        int64           `json:"category_id"`
	SKU               string          `json:"sku"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	InitialStock      int             `json:"initial_stock"`
	LowStockThreshold *int            `json:"low_stock_threshold,omitempty"`
}

type ProductUpdateRequest struct {
	CategoryID        *int64           `json:"category_id,omitempty"`
	Name              *string          `json:"name,omitempty"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	LowStockThreshold *int             `json:"low_stock_threshold,omitempty"`
	Active            *bool            `json:"active,omitempty"`
}

// StockAdjustmentRequest moves on-hand stock by Delta. Positive deltas restock,
// negative deltas write stock off; the result may never drop below zero.
type StockAdjustmentRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type SparePart struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	StockQty          int             `json:"stock_quantity"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	StockStatus       string          `json:"stock_status"`
	Active            bool            `json:"active"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type SparePartCreateRequest struct {
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	InitialStock      int             `json:"initial_stock"`
	LowStockThreshold *int            `json:"low_stock_threshold,omitempty"`
}

type SparePartUpdateRequest struct {
	Name              *string          `json:"name,omitempty"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	LowStockThreshold *int             `json:"low_stock_threshold,omitempty"`
	Active            *bool            `json:"active,omitempty"`
}

// RepairService is a catalog entry ("screen replacement", "battery swap").
type RepairService struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
}

type RepairServiceCreateRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

type RepairServiceUpdateRequest struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Active      *bool            `json:"active,omitempty"`
}

type Customer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type DailyReportPayment struct {
	PaymentMethod string          `json:"payment_method"`
	Sales         int64           `json:"sales"`
	Total         decimal.Decimal `json:"total"`
}

type DailyReport struct {
	Date                 string               `json:"date"`
	Sales                int64                `json:"sales"`
	GrossSales           decimal.Decimal      `json:"gross_sales"`
	Discount             decimal.Decimal      `json:"discount"`
	Tax                  decimal.Decimal      `json:"tax"`
	Refunds              decimal.Decimal      `json:"refunds"`
	NetSales             decimal.Decimal      `json:"net_sales"`
	RepairPayments       decimal.Decimal      `json:"repair_payments"`
	RepairPaymentRefunds decimal.Decimal      `json:"repair_payment_refunds"`
	ByPayment            []DailyReportPayment `json:"by_payment"`
}

const (
	StockStatusInStock    = "in_stock"
	StockStatusLowStock   = "low_stock"
	StockStatusOutOfStock = "out_of_stock"
)

const (
	PaymentMethodCash  = "cash"
	PaymentMethodGCash = "gcash"
)
