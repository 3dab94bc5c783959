package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"repairpos/backend/internal/domain"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidTransaction      = errors.New("invalid transaction")
	ErrAlreadyRefunded         = errors.New("sale already fully refunded")
	ErrRefundExceedsQuantity   = errors.New("refund exceeds refundable quantity")
	ErrUnknownLineItem         = errors.New("unknown line item")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrOrderClosed             = errors.New("repair order is closed")
	ErrDuplicateReference      = errors.New("duplicate sale reference")
	ErrConflict                = errors.New("concurrent update conflict, retry the request")
)

type Repository interface {
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	AdjustProductStock(ctx context.Context, id int64, delta int) (*domain.Product, error)

	CreateSparePart(ctx context.Context, part domain.SparePart) (*domain.SparePart, error)
	GetSparePart(ctx context.Context, id int64) (*domain.SparePart, error)
	ListSpareParts(ctx context.Context, includeInactive bool) ([]domain.SparePart, error)
	UpdateSparePart(ctx context.Context, part domain.SparePart) (*domain.SparePart, error)
	AdjustSparePartStock(ctx context.Context, id int64, delta int) (*domain.SparePart, error)

	CreateRepairService(ctx context.Context, svc domain.RepairService) (*domain.RepairService, error)
	GetRepairService(ctx context.Context, id int64) (*domain.RepairService, error)
	ListRepairServices(ctx context.Context, includeInactive bool) ([]domain.RepairService, error)
	UpdateRepairService(ctx context.Context, svc domain.RepairService) (*domain.RepairService, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)

	// CreateSale locks every referenced product, re-checks stock, writes the
	// sale with its line items and decrements stock as one unit.
	CreateSale(ctx context.Context, sale domain.Sale, lines []domain.SaleLine) (*domain.Sale, error)
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	// ApplySaleRefund locks the sale, validates every line against persisted
	// refunds, writes refunded items, restocks products and recomputes the
	// sale aggregates from persisted rows.
	ApplySaleRefund(ctx context.Context, saleID string, lines []domain.RefundLine, reason string, actor string, at time.Time) (*domain.Sale, []domain.RefundedItem, error)

	CreateRepairOrder(ctx context.Context, draft domain.RepairOrderDraft) (*domain.RepairOrder, error)
	GetRepairOrder(ctx context.Context, id string) (*domain.RepairOrder, error)
	ListRepairOrders(ctx context.Context, filter domain.RepairOrderFilter) ([]domain.RepairOrder, error)
	AddRepairService(ctx context.Context, orderID string, draft domain.RepairServiceDraft) (*domain.RepairOrder, error)
	AddRepairPart(ctx context.Context, orderID string, orderServiceID string, part domain.RepairPartDraft) (*domain.RepairOrder, error)
	RemoveRepairPart(ctx context.Context, orderID string, partID string) (*domain.RepairOrder, error)
	RecalculateRepairOrder(ctx context.Context, orderID string) (*domain.RepairOrder, error)
	UpdateRepairOrderStatus(ctx context.Context, orderID string, status string, at time.Time) (*domain.RepairOrder, error)

	// CreatePayment and UpdatePaymentStatus apply the paid => completed rule
	// inside the same unit of work as the payment write.
	CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id string, status string, at time.Time) (*domain.Payment, error)
	RefundPayment(ctx context.Context, id string, amount decimal.Decimal, reason string, actor string, at time.Time) (*domain.Payment, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error)
}
