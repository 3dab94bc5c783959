package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestDeductStockFailsClosed(t *testing.T) {
	left, err := DeductStock(1, 2)
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	require.Equal(t, 1, left)

	left, err = DeductStock(5, 5)
	require.NoError(t, err)
	require.Equal(t, 0, left)

	_, err = ApplyStockDelta(3, 0)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	left, err = ApplyStockDelta(3, -3)
	require.NoError(t, err)
	require.Zero(t, left)
}

func TestStockStatus(t *testing.T) {
	require.Equal(t, domain.StockStatusOutOfStock, StockStatus(0, 5))
	require.Equal(t, domain.StockStatusLowStock, StockStatus(5, 5))
	require.Equal(t, domain.StockStatusInStock, StockStatus(6, 5))
}

func TestMergeCartItemsSumsAndOrders(t *testing.T) {
	lines, err := MergeCartItems([]domain.CheckoutItem{
		{ProductID: 9, Quantity: 1, Price: dec("10")},
		{ProductID: 2, Quantity: 2, Price: dec("5")},
		{ProductID: 9, Quantity: 3, Price: dec("10")},
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, int64(2), lines[0].ProductID)
	require.Equal(t, 4, lines[1].Quantity)

	_, err = MergeCartItems([]domain.CheckoutItem{{ProductID: 9, Quantity: 0, Price: dec("10")}})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestCheckoutScenarioCashChange(t *testing.T) {
	products := map[int64]domain.Product{
		1: {ID: 1, Name: "Tempered Glass", Price: dec("100"), StockQty: 10, Active: true},
	}
	items, subtotal, err := PlanCheckout([]domain.SaleLine{{ProductID: 1, Quantity: 2, UnitPrice: dec("100")}}, products)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, subtotal.Equal(dec("200")))

	sale := domain.Sale{Tax: dec("12"), PaymentMethod: domain.PaymentMethodCash, AmountReceived: dec("250")}
	require.NoError(t, FinalizeSale(&sale, subtotal))
	require.True(t, sale.Total.Equal(dec("212")), "total %s", sale.Total)
	require.True(t, sale.Change.Equal(dec("38")), "change %s", sale.Change)
}

func TestPlanCheckoutRejectsShortStockAndUnknownProduct(t *testing.T) {
	products := map[int64]domain.Product{
		1: {ID: 1, Name: "Charger", Price: dec("100"), StockQty: 1, Active: true},
	}
	_, _, err := PlanCheckout([]domain.SaleLine{{ProductID: 1, Quantity: 2, UnitPrice: dec("100")}}, products)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	_, _, err = PlanCheckout([]domain.SaleLine{{ProductID: 2, Quantity: 1, UnitPrice: dec("90")}}, products)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPlanCheckoutPricesStaleLineAtCatalogPrice(t *testing.T) {
	products := map[int64]domain.Product{
		1: {ID: 1, Name: "Glass", Price: dec("120"), StockQty: 5, Active: true},
	}
	items, subtotal, err := PlanCheckout([]domain.SaleLine{{ProductID: 1, Quantity: 2, UnitPrice: dec("100")}}, products)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, items[0].UnitPrice.Equal(dec("120")), "unit price %s", items[0].UnitPrice)
	require.True(t, items[0].Subtotal.Equal(dec("240")), "line subtotal %s", items[0].Subtotal)
	require.True(t, subtotal.Equal(dec("240")))
}

func TestFinalizeSalePaymentRules(t *testing.T) {
	short := domain.Sale{PaymentMethod: domain.PaymentMethodCash, AmountReceived: dec("99.99")}
	require.ErrorIs(t, FinalizeSale(&short, dec("100")), store.ErrInvalidTransaction)

	noRef := domain.Sale{PaymentMethod: domain.PaymentMethodGCash}
	require.ErrorIs(t, FinalizeSale(&noRef, dec("100")), store.ErrInvalidTransaction)

	gcash := domain.Sale{PaymentMethod: domain.PaymentMethodGCash, GCashReference: "GC-1", Discount: dec("10")}
	require.NoError(t, FinalizeSale(&gcash, dec("100")))
	require.True(t, gcash.AmountReceived.Equal(dec("90")))
	require.True(t, gcash.Change.IsZero())

	overDiscount := domain.Sale{PaymentMethod: domain.PaymentMethodCash, Discount: dec("101"), AmountReceived: dec("0")}
	require.ErrorIs(t, FinalizeSale(&overDiscount, dec("100")), store.ErrInvalidTransaction)
}

func TestPrepareSaleOverwritesClientAmounts(t *testing.T) {
	products := map[int64]domain.Product{
		1: {ID: 1, Name: "USB-C Cable", Price: dec("150"), StockQty: 4, Active: true},
	}
	lines := []domain.SaleLine{{ProductID: 1, Quantity: 2, UnitPrice: dec("140")}}

	sale := domain.Sale{PaymentMethod: domain.PaymentMethodCash, AmountReceived: dec("500"), Subtotal: dec("280"), Total: dec("280")}
	items, err := PrepareSale(&sale, lines, products)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, domain.SaleStatusCompleted, sale.Status)
	require.True(t, sale.Subtotal.Equal(dec("300")), "subtotal %s", sale.Subtotal)
	require.True(t, sale.Total.Equal(dec("300")), "total %s", sale.Total)
	require.True(t, sale.Change.Equal(dec("200")))

	short := domain.Sale{PaymentMethod: domain.PaymentMethodCash, AmountReceived: dec("280"), Total: dec("280")}
	_, err = PrepareSale(&short, lines, products)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestDeriveSaleStatus(t *testing.T) {
	cases := []struct {
		total, refunded string
		want            string
	}{
		{"150", "0", domain.SaleStatusCompleted},
		{"150", "100", domain.SaleStatusPartiallyRefunded},
		{"150", "150", domain.SaleStatusRefunded},
		{"0", "0", domain.SaleStatusCompleted},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, DeriveSaleStatus(dec(tc.total), dec(tc.refunded)), "total=%s refunded=%s", tc.total, tc.refunded)
	}
}

func sampleSale() *domain.Sale {
	return &domain.Sale{
		ID:          "sale-1",
		ReferenceNo: "TRX-20261017000000-1234",
		Total:       dec("150"),
		Status:      domain.SaleStatusCompleted,
		Items: []domain.SaleLineItem{
			{ID: "li-1", SaleID: "sale-1", ProductID: 7, ProductName: "Phone Case", Quantity: 3, UnitPrice: dec("50"), Subtotal: dec("150")},
		},
	}
}

func TestPlanRefundScenario(t *testing.T) {
	sale := sampleSale()
	at := time.Now().UTC()

	rows, err := PlanRefund(sale, []domain.RefundLine{{LineItemID: "li-1", Quantity: 2}}, "cracked", "admin", at)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Amount.Equal(dec("100")))

	ApplyRefundTotals(sale, append(sale.Refunds, rows...), at)
	require.Equal(t, domain.SaleStatusPartiallyRefunded, sale.Status)
	require.True(t, sale.TotalRefunded.Equal(dec("100")))
	require.Equal(t, 1, sale.Items[0].RefundableQuantity)

	_, err = PlanRefund(sale, []domain.RefundLine{{LineItemID: "li-1", Quantity: 2}}, "", "admin", at)
	require.ErrorIs(t, err, store.ErrRefundExceedsQuantity)

	_, err = PlanRefund(sale, []domain.RefundLine{{LineItemID: "li-404", Quantity: 1}}, "", "admin", at)
	require.ErrorIs(t, err, store.ErrUnknownLineItem)
}

func TestPlanRefundFoldsTaxIntoFinalRefund(t *testing.T) {
	sale := &domain.Sale{
		ID:     "sale-2",
		Total:  dec("212"),
		Status: domain.SaleStatusCompleted,
		Items: []domain.SaleLineItem{
			{ID: "li-1", Quantity: 2, UnitPrice: dec("100"), Subtotal: dec("200")},
		},
	}
	at := time.Now().UTC()

	first, err := PlanRefund(sale, []domain.RefundLine{{LineItemID: "li-1", Quantity: 1}}, "", "admin", at)
	require.NoError(t, err)
	ApplyRefundTotals(sale, first, at)
	require.Equal(t, domain.SaleStatusPartiallyRefunded, sale.Status)

	second, err := PlanRefund(sale, []domain.RefundLine{{LineItemID: "li-1", Quantity: 1}}, "", "admin", at)
	require.NoError(t, err)
	require.True(t, second[0].Amount.Equal(dec("112")), "got %s", second[0].Amount)
	ApplyRefundTotals(sale, append(sale.Refunds, second...), at)
	require.Equal(t, domain.SaleStatusRefunded, sale.Status)
	require.True(t, sale.TotalRefunded.Equal(sale.Total))

	_, err = PlanRefund(sale, []domain.RefundLine{{LineItemID: "li-1", Quantity: 1}}, "", "admin", at)
	require.ErrorIs(t, err, store.ErrAlreadyRefunded)
}

func TestPlanRefundCapsAtSaleTotalWhenDiscounted(t *testing.T) {
	sale := &domain.Sale{
		ID:     "sale-3",
		Total:  dec("80"),
		Status: domain.SaleStatusCompleted,
		Items: []domain.SaleLineItem{
			{ID: "a", Quantity: 1, UnitPrice: dec("60")},
			{ID: "b", Quantity: 1, UnitPrice: dec("40")},
		},
	}
	rows, err := PlanRefund(sale, []domain.RefundLine{{LineItemID: "a", Quantity: 1}, {LineItemID: "b", Quantity: 1}}, "", "admin", time.Now())
	require.NoError(t, err)
	require.True(t, SumRefunds(rows).Equal(dec("80")))
}

func TestMergeRefundLines(t *testing.T) {
	lines, err := MergeRefundLines([]domain.RefundItemRequest{
		{LineItemID: "b", Quantity: 1},
		{LineItemID: "a", Quantity: 1},
		{LineItemID: "b", Quantity: 2},
	})
	require.NoError(t, err)
	require.Equal(t, []domain.RefundLine{{LineItemID: "a", Quantity: 1}, {LineItemID: "b", Quantity: 3}}, lines)

	_, err = MergeRefundLines([]domain.RefundItemRequest{{LineItemID: "a", Quantity: 0}})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestRepairOrderTotalIsIdempotent(t *testing.T) {
	services := []domain.RepairOrderService{{
		ServicePrice: dec("500"),
		Parts:        []domain.RepairOrderPart{{Quantity: 2, UnitPrice: dec("75")}},
	}}
	first := RepairOrderTotal(services)
	second := RepairOrderTotal(services)
	require.True(t, first.Equal(dec("650")))
	require.True(t, first.Equal(second))
}

func TestPlanPartsSharesStockAcrossDrafts(t *testing.T) {
	spares := map[int64]domain.SparePart{
		4: {ID: 4, Name: "Back Glass", Price: dec("500"), StockQty: 3, Active: true},
		9: {ID: 9, Name: "Old Flex", Price: dec("50"), StockQty: 5},
	}
	override := dec("150")

	parts, remaining, err := PlanParts([]domain.RepairPartDraft{
		{SparePartID: 4, Quantity: 1, UnitPrice: &override},
		{SparePartID: 4, Quantity: 2},
	}, spares, time.Now())
	require.NoError(t, err)
	require.Len(t, parts, 2)
	require.True(t, parts[0].UnitPrice.Equal(dec("150")))
	require.True(t, parts[1].UnitPrice.Equal(dec("500")))
	require.Equal(t, 0, remaining[4])

	_, _, err = PlanParts([]domain.RepairPartDraft{
		{SparePartID: 4, Quantity: 2},
		{SparePartID: 4, Quantity: 2},
	}, spares, time.Now())
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	_, _, err = PlanParts([]domain.RepairPartDraft{{SparePartID: 9, Quantity: 1}}, spares, time.Now())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRepairTransitions(t *testing.T) {
	require.NoError(t, ValidateRepairTransition(domain.RepairStatusPending, domain.RepairStatusInProgress))
	require.NoError(t, ValidateRepairTransition(domain.RepairStatusCompleted, domain.RepairStatusClaimed))
	require.ErrorIs(t, ValidateRepairTransition(domain.RepairStatusCancelled, domain.RepairStatusPending), store.ErrInvalidStatusTransition)
	require.ErrorIs(t, ValidateRepairTransition(domain.RepairStatusClaimed, domain.RepairStatusCompleted), store.ErrInvalidStatusTransition)
	require.ErrorIs(t, ValidateRepairTransition(domain.RepairStatusPending, "done"), store.ErrInvalidTransaction)
}

func TestPaidPaymentForcesCompletionRegardlessOfAmount(t *testing.T) {
	order := &domain.RepairOrder{ID: "ro-1", Status: domain.RepairStatusCancelled, TotalPrice: dec("650")}
	changed := ApplyPaymentSideEffect(order, domain.Payment{Amount: dec("1"), Status: domain.PaymentStatusPaid}, time.Now())
	require.True(t, changed)
	require.Equal(t, domain.RepairStatusCompleted, order.Status)
	require.NotNil(t, order.CompletedAt)

	pending := &domain.RepairOrder{Status: domain.RepairStatusPending}
	require.False(t, ApplyPaymentSideEffect(pending, domain.Payment{Status: domain.PaymentStatusPending}, time.Now()))
	require.Equal(t, domain.RepairStatusPending, pending.Status)
}

func TestReconcilePayments(t *testing.T) {
	refundedAt := time.Now()
	rec := ReconcilePayments(dec("650"), []domain.Payment{
		{Amount: dec("200"), Status: domain.PaymentStatusPaid},
		{Amount: dec("100"), Status: domain.PaymentStatusPending},
		{Amount: dec("100"), Status: domain.PaymentStatusRefunded, RefundAmount: dec("60"), RefundedAt: &refundedAt},
	})
	require.True(t, rec.AmountPaid.Equal(dec("240")))
	require.True(t, rec.BalanceDue.Equal(dec("410")))
	require.Equal(t, domain.SettlementPartial, rec.PaymentStatus)

	require.Equal(t, domain.SettlementUnpaid, ReconcilePayments(dec("10"), nil).PaymentStatus)
	over := ReconcilePayments(dec("10"), []domain.Payment{{Amount: dec("15"), Status: domain.PaymentStatusPaid}})
	require.Equal(t, domain.SettlementOverpaid, over.PaymentStatus)
	require.True(t, over.BalanceDue.IsZero())
}

func TestApplyPaymentRefund(t *testing.T) {
	p := domain.Payment{Amount: dec("100"), Status: domain.PaymentStatusPending}
	require.ErrorIs(t, ApplyPaymentRefund(&p, dec("10"), "", "admin", time.Now()), store.ErrInvalidStatusTransition)

	p.Status = domain.PaymentStatusPaid
	require.ErrorIs(t, ApplyPaymentRefund(&p, dec("101"), "", "admin", time.Now()), store.ErrInvalidTransaction)
	require.NoError(t, ApplyPaymentRefund(&p, dec("100"), "cancelled job", "admin", time.Now()))
	require.Equal(t, domain.PaymentStatusRefunded, p.Status)
	require.Equal(t, "admin", p.RefundedBy)
}
