package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RepairStatusPending    = "pending"
	RepairStatusInProgress = "in_progress"
	RepairStatusCompleted  = "completed"
	RepairStatusClaimed    = "claimed"
	RepairStatusCancelled  = "cancelled"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
)

const (
	SettlementUnpaid   = "unpaid"
	SettlementPartial  = "partial"
	SettlementPaid     = "paid"
	SettlementOverpaid = "overpaid"
)

// RepairOrder is the aggregate root for repair work. TotalPrice is always
// derived from Services and their Parts; clients never set it.
type RepairOrder struct {
	ID             string               `json:"id"`
	CustomerID     int64                `json:"customer_id"`
	Device         string               `json:"device"`
	Issue          string               `json:"issue"`
	Status         string               `json:"status"`
	TotalPrice     decimal.Decimal      `json:"total_price"`
	CreatedBy      string               `json:"created_by,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
	Services       []RepairOrderService `json:"services"`
	Payments       []Payment            `json:"payments"`
	Reconciliation Reconciliation       `json:"reconciliation"`
}

type RepairOrderService struct {
	ID           string            `json:"id"`
	OrderID      string            `json:"order_id"`
	ServiceID    int64             `json:"service_id"`
	ServiceName  string            `json:"service_name"`
	ServicePrice decimal.Decimal   `json:"service_price"`
	CreatedAt    time.Time         `json:"created_at"`
	Parts        []RepairOrderPart `json:"parts"`
}

type RepairOrderPart struct {
	ID             string          `json:"id"`
	OrderServiceID string          `json:"order_service_id"`
	SparePartID    int64           `json:"spare_part_id"`
	PartName       string          `json:"part_name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Payment struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method"`
	Status       string          `json:"status"`
	Reference    string          `json:"reference,omitempty"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	RefundReason string          `json:"refund_reason,omitempty"`
	RefundedBy   string          `json:"refunded_by,omitempty"`
	RefundedAt   *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Reconciliation is computed on read from the order total and its payments.
type Reconciliation struct {
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	BalanceDue    decimal.Decimal `json:"balance_due"`
	PaymentStatus string          `json:"payment_status"`
}

type RepairPartRequest struct {
	SparePartID int64            `json:"spare_part_id"`
	Quantity    int              `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
}

type RepairServiceRequest struct {
	ServiceID int64               `json:"service_id"`
	Price     *decimal.Decimal    `json:"price,omitempty"`
	Parts     []RepairPartRequest `json:"parts,omitempty"`
}

type RepairOrderCreateRequest struct {
	CustomerID int64                  `json:"customer_id"`
	Device     string                 `json:"device"`
	Issue      string                 `json:"issue"`
	Services   []RepairServiceRequest `json:"services,omitempty"`
}

type RepairStatusRequest struct {
	Status string `json:"status"`
}

type PaymentCreateRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Status    string          `json:"status"`
	Reference string          `json:"reference,omitempty"`
}

type PaymentStatusRequest struct {
	Status string `json:"status"`
}

type PaymentRefundRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	ManagerPIN string          `json:"manager_pin"`
}

type PaymentResponse struct {
	Payment Payment     `json:"payment"`
	Order   RepairOrder `json:"order"`
}

// RepairOrderDraft is the store-facing shape of a new order: every catalog
// reference already resolved to a price snapshot.
type RepairOrderDraft struct {
	Order    RepairOrder
	Services []RepairServiceDraft
}

type RepairServiceDraft struct {
	Service RepairOrderService
	Parts   []RepairPartDraft
}

type RepairPartDraft struct {
	SparePartID int64
	Quantity    int
	UnitPrice   *decimal.Decimal
}

type RepairOrderFilter struct {
	Status     string
	CustomerID int64
	Limit      int
}

type RepairOrderListResponse struct {
	Orders []RepairOrder `json:"orders"`
}
