package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SaleStatusCompleted         = "completed"
	SaleStatusPartiallyRefunded = "partially_refunded"
	SaleStatusRefunded          = "refunded"
)

type Sale struct {
	ID              string          `json:"id"`
	ReferenceNo     string          `json:"reference_no"`
	IdempotencyKey  string          `json:"-"`
	CashierUsername string          `json:"cashier_username,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   string          `json:"payment_method"`
	AmountReceived  decimal.Decimal `json:"amount_received"`
	Change          decimal.Decimal `json:"change"`
	GCashReference  string          `json:"gcash_reference,omitempty"`
	Status          string          `json:"status"`
	TotalRefunded   decimal.Decimal `json:"total_refunded"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []SaleLineItem  `json:"items"`
	Refunds         []RefundedItem  `json:"refunds,omitempty"`
}

type SaleLineItem struct {
	ID                 string          `json:"id"`
	SaleID             string          `json:"sale_id"`
	ProductID          int64           `json:"product_id"`
	ProductName        string          `json:"product_name"`
	Quantity           int             `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	RefundedQuantity   int             `json:"refunded_quantity"`
	RefundableQuantity int             `json:"refundable_quantity"`
}

// RefundedItem is immutable once written.
type RefundedItem struct {
	ID         string          `json:"id"`
	SaleID     string          `json:"sale_id"`
	LineItemID string          `json:"transaction_item_id"`
	ProductID  int64           `json:"product_id"`
	Quantity   int             `json:"quantity"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason,omitempty"`
	RefundedBy string          `json:"refunded_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

type CheckoutItem struct {
	ProductID int64           `json:"id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type CheckoutRequest struct {
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Items          []CheckoutItem  `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  string          `json:"payment_method"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	GCashReference string          `json:"gcash_reference,omitempty"`
}

type CheckoutResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Duplicate bool   `json:"duplicate"`
	Sale      *Sale  `json:"sale,omitempty"`
}

type RefundItemRequest struct {
	LineItemID string `json:"transaction_item_id"`
	Quantity   int    `json:"quantity"`
}

type RefundRequest struct {
	Items      []RefundItemRequest `json:"items"`
	Reason     string              `json:"reason,omitempty"`
	ManagerPIN string              `json:"manager_pin"`
}

type RefundResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Sale    *Sale          `json:"sale,omitempty"`
	Refunds []RefundedItem `json:"refunds,omitempty"`
}

// SaleLine is a locked, priced line handed to the store at checkout.
type SaleLine struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// RefundLine is one validated line of a refund request.
type RefundLine struct {
	LineItemID string
	Quantity   int
}

type SaleFilter struct {
	Status string
	From   *time.Time
	To     *time.Time
	Limit  int
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}
