package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newProduct(t *testing.T, s *Store, name string, price string, stock int) domain.Product {
	t.Helper()
	p, err := s.CreateProduct(context.Background(), domain.Product{Name: name, Price: dec(price), StockQty: stock, LowStockThreshold: 5})
	require.NoError(t, err)
	return *p
}

func cashSale(ref string, received string) domain.Sale {
	return domain.Sale{
		ReferenceNo:    ref,
		PaymentMethod:  domain.PaymentMethodCash,
		AmountReceived: dec(received),
	}
}

func TestCreateSaleIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := newProduct(t, s, "Tempered Glass", "100", 10)
	b := newProduct(t, s, "Charger", "450", 1)

	_, err := s.CreateSale(ctx, cashSale("TRX-1", "5000"), []domain.SaleLine{
		{ProductID: a.ID, Quantity: 2, UnitPrice: dec("100")},
		{ProductID: b.ID, Quantity: 2, UnitPrice: dec("450")},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	gotA, err := s.GetProduct(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, 10, gotA.StockQty)
	gotB, err := s.GetProduct(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 1, gotB.StockQty)

	sales, err := s.ListSales(ctx, domain.SaleFilter{})
	require.NoError(t, err)
	require.Empty(t, sales)
}

func TestCreateSaleDeductsStockAndRejectsDuplicateReference(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newProduct(t, s, "Tempered Glass", "100", 10)

	sale := cashSale("TRX-20261017090000-1234", "250")
	sale.Tax = dec("12")
	created, err := s.CreateSale(ctx, sale, []domain.SaleLine{{ProductID: p.ID, Quantity: 2, UnitPrice: dec("100")}})
	require.NoError(t, err)
	require.True(t, created.Total.Equal(dec("212")))
	require.True(t, created.Change.Equal(dec("38")))
	require.Equal(t, domain.SaleStatusCompleted, created.Status)
	require.Len(t, created.Items, 1)
	require.Equal(t, 2, created.Items[0].RefundableQuantity)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 8, got.StockQty)

	_, err = s.CreateSale(ctx, sale, []domain.SaleLine{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("100")}})
	require.ErrorIs(t, err, store.ErrDuplicateReference)
	got, err = s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 8, got.StockQty)
}

func TestCreateSaleReplaysIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newProduct(t, s, "Case", "250", 3)

	first := cashSale("TRX-A", "250")
	first.IdempotencyKey = "idem-1"
	created, err := s.CreateSale(ctx, first, []domain.SaleLine{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("250")}})
	require.NoError(t, err)

	replay := cashSale("TRX-B", "250")
	replay.IdempotencyKey = "idem-1"
	replay.ID = "sale-other"
	again, err := s.CreateSale(ctx, replay, []domain.SaleLine{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("250")}})
	require.NoError(t, err)
	require.Equal(t, created.ID, again.ID)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.StockQty)
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newProduct(t, s, "Last Unit", "100", 1)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateSale(ctx, cashSale(fmt.Sprintf("TRX-%d", i), "100"), []domain.SaleLine{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("100")}})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded, insufficient := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, insufficient)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.Zero(t, got.StockQty)
	require.Equal(t, domain.StockStatusOutOfStock, got.StockStatus)
}

func TestApplySaleRefundRestocksAndDerivesStatus(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newProduct(t, s, "Phone Case", "50", 5)

	sale, err := s.CreateSale(ctx, cashSale("TRX-R", "150"), []domain.SaleLine{{ProductID: p.ID, Quantity: 3, UnitPrice: dec("50")}})
	require.NoError(t, err)
	lineID := sale.Items[0].ID

	updated, rows, err := s.ApplySaleRefund(ctx, sale.ID, []domain.RefundLine{{LineItemID: lineID, Quantity: 2}}, "defective", "admin", time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Amount.Equal(dec("100")))
	require.Equal(t, "admin", rows[0].RefundedBy)
	require.Equal(t, domain.SaleStatusPartiallyRefunded, updated.Status)
	require.Equal(t, 1, updated.Items[0].RefundableQuantity)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 4, got.StockQty)

	_, _, err = s.ApplySaleRefund(ctx, sale.ID, []domain.RefundLine{{LineItemID: lineID, Quantity: 2}}, "", "admin", time.Now().UTC())
	require.ErrorIs(t, err, store.ErrRefundExceedsQuantity)
	got, err = s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 4, got.StockQty)

	final, _, err := s.ApplySaleRefund(ctx, sale.ID, []domain.RefundLine{{LineItemID: lineID, Quantity: 1}}, "", "admin", time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, domain.SaleStatusRefunded, final.Status)
	require.True(t, final.TotalRefunded.Equal(final.Total))

	_, _, err = s.ApplySaleRefund(ctx, sale.ID, []domain.RefundLine{{LineItemID: lineID, Quantity: 1}}, "", "admin", time.Now().UTC())
	require.ErrorIs(t, err, store.ErrAlreadyRefunded)
}

func TestConcurrentRefundsRestockEachUnitOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newProduct(t, s, "Phone Case", "50", 10)

	sale, err := s.CreateSale(ctx, cashSale("TRX-RACE-R", "150"), []domain.SaleLine{{ProductID: p.ID, Quantity: 3, UnitPrice: dec("50")}})
	require.NoError(t, err)
	lineID := sale.Items[0].ID

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.ApplySaleRefund(ctx, sale.ID, []domain.RefundLine{{LineItemID: lineID, Quantity: 1}}, "", "admin", time.Now().UTC())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrRefundExceedsQuantity), errors.Is(err, store.ErrAlreadyRefunded):
		default:
			t.Fatalf("unexpected refund error: %v", err)
		}
	}
	require.Equal(t, 3, succeeded)

	got, err := s.FindSaleByID(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, got.Refunds, 3)
	sum := decimal.Zero
	for _, r := range got.Refunds {
		sum = sum.Add(r.Amount)
	}
	require.True(t, got.TotalRefunded.Equal(sum), "total_refunded %s, rows %s", got.TotalRefunded, sum)
	require.True(t, got.TotalRefunded.Equal(dec("150")))
	require.Equal(t, domain.SaleStatusRefunded, got.Status)

	product, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 10, product.StockQty)
}

func newRepairFixture(t *testing.T) (*Store, domain.Customer, domain.SparePart) {
	t.Helper()
	ctx := context.Background()
	s := New()
	customer, err := s.CreateCustomer(ctx, domain.Customer{Name: "Ana"})
	require.NoError(t, err)
	part, err := s.CreateSparePart(ctx, domain.SparePart{Name: "LCD", Price: dec("75"), StockQty: 2})
	require.NoError(t, err)
	return s, *customer, *part
}

func screenService() domain.RepairOrderService {
	return domain.RepairOrderService{ServiceID: 1, ServiceName: "Screen Replacement", ServicePrice: dec("500")}
}

func TestRepairOrderScenarioTotalsAndPartStock(t *testing.T) {
	ctx := context.Background()
	s, customer, part := newRepairFixture(t)

	order, err := s.CreateRepairOrder(ctx, domain.RepairOrderDraft{
		Order:    domain.RepairOrder{CustomerID: customer.ID, Device: "Phone X", Issue: "cracked screen"},
		Services: []domain.RepairServiceDraft{{Service: screenService()}},
	})
	require.NoError(t, err)
	require.True(t, order.TotalPrice.Equal(dec("500")))

	order, err = s.AddRepairPart(ctx, order.ID, order.Services[0].ID, domain.RepairPartDraft{SparePartID: part.ID, Quantity: 2})
	require.NoError(t, err)
	require.True(t, order.TotalPrice.Equal(dec("650")), "total %s", order.TotalPrice)

	spare, err := s.GetSparePart(ctx, part.ID)
	require.NoError(t, err)
	require.Zero(t, spare.StockQty)

	_, err = s.AddRepairPart(ctx, order.ID, order.Services[0].ID, domain.RepairPartDraft{SparePartID: part.ID, Quantity: 1})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	again, err := s.RecalculateRepairOrder(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, again.TotalPrice.Equal(dec("650")))

	order, err = s.RemoveRepairPart(ctx, order.ID, order.Services[0].Parts[0].ID)
	require.NoError(t, err)
	require.True(t, order.TotalPrice.Equal(dec("500")))
	spare, err = s.GetSparePart(ctx, part.ID)
	require.NoError(t, err)
	require.Equal(t, 2, spare.StockQty)
}

func TestCreateRepairOrderAbortsOnShortPartStock(t *testing.T) {
	ctx := context.Background()
	s, customer, part := newRepairFixture(t)

	_, err := s.CreateRepairOrder(ctx, domain.RepairOrderDraft{
		Order: domain.RepairOrder{CustomerID: customer.ID, Device: "Phone X"},
		Services: []domain.RepairServiceDraft{
			{Service: screenService(), Parts: []domain.RepairPartDraft{{SparePartID: part.ID, Quantity: 1}}},
			{Service: screenService(), Parts: []domain.RepairPartDraft{{SparePartID: part.ID, Quantity: 2}}},
		},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	spare, err := s.GetSparePart(ctx, part.ID)
	require.NoError(t, err)
	require.Equal(t, 2, spare.StockQty)
	orders, err := s.ListRepairOrders(ctx, domain.RepairOrderFilter{})
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestPaidPaymentCompletesOrderAndReconciles(t *testing.T) {
	ctx := context.Background()
	s, customer, _ := newRepairFixture(t)
	order, err := s.CreateRepairOrder(ctx, domain.RepairOrderDraft{
		Order:    domain.RepairOrder{CustomerID: customer.ID, Device: "Tablet"},
		Services: []domain.RepairServiceDraft{{Service: screenService()}},
	})
	require.NoError(t, err)

	pending, err := s.CreatePayment(ctx, domain.Payment{OrderID: order.ID, Amount: dec("100"), Method: domain.PaymentMethodCash, Status: domain.PaymentStatusPending})
	require.NoError(t, err)
	got, err := s.GetRepairOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RepairStatusPending, got.Status)
	require.Equal(t, domain.SettlementUnpaid, got.Reconciliation.PaymentStatus)

	_, err = s.UpdatePaymentStatus(ctx, pending.ID, domain.PaymentStatusPaid, time.Now().UTC())
	require.NoError(t, err)
	got, err = s.GetRepairOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RepairStatusCompleted, got.Status)
	require.True(t, got.Reconciliation.AmountPaid.Equal(dec("100")))
	require.True(t, got.Reconciliation.BalanceDue.Equal(dec("400")))
	require.Equal(t, domain.SettlementPartial, got.Reconciliation.PaymentStatus)

	_, err = s.AddRepairService(ctx, order.ID, domain.RepairServiceDraft{Service: screenService()})
	require.ErrorIs(t, err, store.ErrOrderClosed)

	refunded, err := s.RefundPayment(ctx, pending.ID, dec("100"), "job cancelled", "admin", time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusRefunded, refunded.Status)
	_, err = s.UpdatePaymentStatus(ctx, pending.ID, domain.PaymentStatusPaid, time.Now().UTC())
	require.ErrorIs(t, err, store.ErrInvalidStatusTransition)
}

func TestDailyReportNetsRefunds(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newProduct(t, s, "Cable", "150", 10)

	sale, err := s.CreateSale(ctx, cashSale("TRX-D", "300"), []domain.SaleLine{{ProductID: p.ID, Quantity: 2, UnitPrice: dec("150")}})
	require.NoError(t, err)
	_, _, err = s.ApplySaleRefund(ctx, sale.ID, []domain.RefundLine{{LineItemID: sale.Items[0].ID, Quantity: 1}}, "", "admin", time.Now().UTC())
	require.NoError(t, err)

	from := time.Now().UTC().Add(-time.Hour)
	report, err := s.GetDailyReport(ctx, from, from.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), report.Sales)
	require.True(t, report.GrossSales.Equal(dec("300")))
	require.True(t, report.Refunds.Equal(dec("150")))
	require.True(t, report.NetSales.Equal(dec("150")))
	require.Len(t, report.ByPayment, 1)
}
