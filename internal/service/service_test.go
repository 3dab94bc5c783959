package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/store/memory"
)

type recordingCache struct {
	entries map[string]domain.Sale
	gets    int
	deletes []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[string]domain.Sale)}
}

func (c *recordingCache) Get(_ context.Context, saleID string) (*domain.Sale, bool, error) {
	c.gets++
	sale, ok := c.entries[saleID]
	if !ok {
		return nil, false, nil
	}
	return &sale, true, nil
}

func (c *recordingCache) Set(_ context.Context, sale *domain.Sale, _ time.Duration) error {
	c.entries[sale.ID] = *sale
	return nil
}

func (c *recordingCache) Delete(_ context.Context, saleID string) error {
	delete(c.entries, saleID)
	c.deletes = append(c.deletes, saleID)
	return nil
}

func newTestService() (*Service, *recordingCache) {
	c := newRecordingCache()
	return New(memory.NewSeeded(), Options{SaleCache: c}), c
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier-a", Role: domain.RoleCashier})
}

func techCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "tech-a", Role: domain.RoleTechnician})
}

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestCheckoutComputesTotalsAndChange(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items: []domain.CheckoutItem{
			{ProductID: 1, Quantity: 2, Price: money("100.00")},
		},
		Tax:            money("12.00"),
		PaymentMethod:  "cash",
		AmountReceived: money("250.00"),
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if !resp.Success || resp.Duplicate {
		t.Fatalf("expected fresh successful checkout, got %+v", resp)
	}
	if !resp.Sale.Total.Equal(money("212")) {
		t.Fatalf("expected total 212, got %s", resp.Sale.Total)
	}
	if !resp.Sale.Change.Equal(money("38")) {
		t.Fatalf("expected change 38, got %s", resp.Sale.Change)
	}
	if resp.Sale.CashierUsername != "cashier-a" {
		t.Fatalf("expected cashier to be recorded, got %q", resp.Sale.CashierUsername)
	}
	if !strings.HasPrefix(resp.Sale.ReferenceNo, "TRX-") {
		t.Fatalf("unexpected reference %q", resp.Sale.ReferenceNo)
	}

	product, err := svc.GetProduct(cashierCtx(), 1)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.StockQty != 38 {
		t.Fatalf("expected stock 38 after sale, got %d", product.StockQty)
	}
}

func TestCheckoutPricesStaleCartAtCatalogPrice(t *testing.T) {
	svc, _ := newTestService()
	newPrice := money("120.00")
	if _, err := svc.UpdateProduct(adminCtx(), 1, domain.ProductUpdateRequest{Price: &newPrice}); err != nil {
		t.Fatalf("reprice failed: %v", err)
	}

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: 1, Quantity: 2, Price: money("100.00")}},
		Subtotal:       money("200.00"),
		Total:          money("200.00"),
		PaymentMethod:  "cash",
		AmountReceived: money("300.00"),
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if !resp.Sale.Items[0].UnitPrice.Equal(money("120")) {
		t.Fatalf("expected unit price 120, got %s", resp.Sale.Items[0].UnitPrice)
	}
	if !resp.Sale.Total.Equal(money("240")) || !resp.Sale.Change.Equal(money("60")) {
		t.Fatalf("expected total 240 change 60, got %s / %s", resp.Sale.Total, resp.Sale.Change)
	}

	_, err = svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: 1, Quantity: 1, Price: money("100.00")}},
		PaymentMethod:  "cash",
		AmountReceived: money("100.00"),
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected cash short of the catalog total to fail, got %v", err)
	}

	product, _ := svc.GetProduct(cashierCtx(), 1)
	if product.StockQty != 38 {
		t.Fatalf("expected stock 38, got %d", product.StockQty)
	}
}

func TestCheckoutRejectsShortStockWithoutWrites(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items: []domain.CheckoutItem{
			{ProductID: 1, Quantity: 1, Price: money("100.00")},
			{ProductID: 3, Quantity: 5, Price: money("80.00")},
		},
		PaymentMethod:  "cash",
		AmountReceived: money("1000.00"),
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	first, _ := svc.GetProduct(cashierCtx(), 1)
	if first.StockQty != 40 {
		t.Fatalf("expected untouched stock for product 1, got %d", first.StockQty)
	}
	sales, err := svc.ListSales(adminCtx(), domain.SaleFilter{})
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales.Sales) != 0 {
		t.Fatalf("expected no sales, got %d", len(sales.Sales))
	}
}

func TestCheckoutIdempotencyReplay(t *testing.T) {
	svc, _ := newTestService()
	req := domain.CheckoutRequest{
		IdempotencyKey: "idem-001",
		Items:          []domain.CheckoutItem{{ProductID: 2, Quantity: 1, Price: money("250.00")}},
		PaymentMethod:  "gcash",
		GCashReference: "GC-123456",
	}

	first, err := svc.Checkout(cashierCtx(), req)
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}
	second, err := svc.Checkout(cashierCtx(), req)
	if err != nil {
		t.Fatalf("replayed checkout failed: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate flag on replay")
	}
	if second.Sale.ID != first.Sale.ID {
		t.Fatalf("expected replay to return %s, got %s", first.Sale.ID, second.Sale.ID)
	}

	product, _ := svc.GetProduct(cashierCtx(), 2)
	if product.StockQty != 24 {
		t.Fatalf("expected stock deducted once, got %d", product.StockQty)
	}

	lookup, err := svc.LookupCheckout(cashierCtx(), "idem-001")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if lookup.Sale.ID != first.Sale.ID {
		t.Fatalf("lookup returned wrong sale")
	}
}

func TestPaymentMethodIsRequired(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: 1, Quantity: 1, Price: money("100.00")}},
		AmountReceived: money("100.00"),
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected checkout without method to fail, got %v", err)
	}
	product, _ := svc.GetProduct(cashierCtx(), 1)
	if product.StockQty != 40 {
		t.Fatalf("rejected checkout must not move stock, got %d", product.StockQty)
	}

	order, err := svc.CreateRepairOrder(techCtx(), domain.RepairOrderCreateRequest{
		CustomerID: 1,
		Device:     "Redmi Note 11",
		Services:   []domain.RepairServiceRequest{{ServiceID: 4}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	_, err = svc.RecordPayment(cashierCtx(), order.ID, domain.PaymentCreateRequest{
		Amount: money("150.00"),
		Status: "paid",
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected payment without method to fail, got %v", err)
	}
	order, _ = svc.GetRepairOrder(techCtx(), order.ID)
	if order.Status != domain.RepairStatusPending {
		t.Fatalf("rejected payment must not complete the order, got %s", order.Status)
	}
}

func TestCheckoutGCashRequiresReference(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items:         []domain.CheckoutItem{{ProductID: 1, Quantity: 1, Price: money("100.00")}},
		PaymentMethod: "gcash",
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction, got %v", err)
	}
}

func TestCheckoutRejectsRetiredProduct(t *testing.T) {
	svc, _ := newTestService()
	inactive := false
	if _, err := svc.UpdateProduct(adminCtx(), 2, domain.ProductUpdateRequest{Active: &inactive}); err != nil {
		t.Fatalf("retire product failed: %v", err)
	}

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: 2, Quantity: 1, Price: money("250.00")}},
		PaymentMethod:  "cash",
		AmountReceived: money("250.00"),
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for retired product, got %v", err)
	}

	product, err := svc.GetProduct(adminCtx(), 2)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.StockQty != 25 {
		t.Fatalf("expected untouched stock 25, got %d", product.StockQty)
	}
}

func TestRefundRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()
	sale := checkoutTwoGlasses(t, svc)

	_, err := svc.Refund(cashierCtx(), sale.ID, domain.RefundRequest{
		Items: []domain.RefundItemRequest{{LineItemID: sale.Items[0].ID, Quantity: 1}},
	})
	if err == nil || !IsRoleError(err) {
		t.Fatalf("expected role error, got %v", err)
	}
}

func TestRefundRestocksAndInvalidatesCache(t *testing.T) {
	svc, c := newTestService()
	sale := checkoutTwoGlasses(t, svc)

	if _, err := svc.GetSale(adminCtx(), sale.ID); err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if _, ok := c.entries[sale.ID]; !ok {
		t.Fatalf("expected sale view to be cached")
	}

	resp, err := svc.Refund(adminCtx(), sale.ID, domain.RefundRequest{
		Items:  []domain.RefundItemRequest{{LineItemID: sale.Items[0].ID, Quantity: 1}},
		Reason: "cracked on install",
	})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if resp.Sale.Status != domain.SaleStatusPartiallyRefunded {
		t.Fatalf("expected partially_refunded, got %s", resp.Sale.Status)
	}
	if len(resp.Refunds) != 1 || resp.Refunds[0].RefundedBy != "admin" {
		t.Fatalf("expected one refund by admin, got %+v", resp.Refunds)
	}
	if len(c.deletes) != 1 || c.deletes[0] != sale.ID {
		t.Fatalf("expected cache invalidation for %s, got %v", sale.ID, c.deletes)
	}

	product, _ := svc.GetProduct(adminCtx(), 1)
	if product.StockQty != 39 {
		t.Fatalf("expected stock 39 after refunding one unit, got %d", product.StockQty)
	}

	view, err := svc.GetSale(adminCtx(), sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if view.Items[0].RefundableQuantity != 1 {
		t.Fatalf("expected one refundable unit left, got %d", view.Items[0].RefundableQuantity)
	}
}

func TestRefundBeyondQuantityIsRejected(t *testing.T) {
	svc, _ := newTestService()
	sale := checkoutTwoGlasses(t, svc)

	_, err := svc.Refund(adminCtx(), sale.ID, domain.RefundRequest{
		Items: []domain.RefundItemRequest{
			{LineItemID: sale.Items[0].ID, Quantity: 2},
			{LineItemID: sale.Items[0].ID, Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrRefundExceedsQuantity) {
		t.Fatalf("expected ErrRefundExceedsQuantity, got %v", err)
	}

	full, err := svc.Refund(adminCtx(), sale.ID, domain.RefundRequest{
		Items: []domain.RefundItemRequest{{LineItemID: sale.Items[0].ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("full refund failed: %v", err)
	}
	if full.Sale.Status != domain.SaleStatusRefunded {
		t.Fatalf("expected refunded, got %s", full.Sale.Status)
	}

	_, err = svc.Refund(adminCtx(), sale.ID, domain.RefundRequest{
		Items: []domain.RefundItemRequest{{LineItemID: sale.Items[0].ID, Quantity: 1}},
	})
	if !errors.Is(err, store.ErrAlreadyRefunded) {
		t.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}
}

func TestRepairOrderLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := techCtx()

	order, err := svc.CreateRepairOrder(ctx, domain.RepairOrderCreateRequest{
		CustomerID: 1,
		Device:     "iPhone 12",
		Issue:      "cracked screen",
		Services:   []domain.RepairServiceRequest{{ServiceID: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if !order.TotalPrice.Equal(money("500")) {
		t.Fatalf("expected total 500, got %s", order.TotalPrice)
	}

	order, err = svc.AddRepairPart(ctx, order.ID, order.Services[0].ID, domain.RepairPartRequest{
		SparePartID: 4,
		Quantity:    1,
		UnitPrice:   ptrDecimal(money("150.00")),
	})
	if err != nil {
		t.Fatalf("add part failed: %v", err)
	}
	if !order.TotalPrice.Equal(money("650")) {
		t.Fatalf("expected total 650, got %s", order.TotalPrice)
	}

	order, err = svc.UpdateRepairOrderStatus(ctx, order.ID, domain.RepairStatusRequest{Status: "in_progress"})
	if err != nil {
		t.Fatalf("status change failed: %v", err)
	}

	_, err = svc.UpdateRepairOrderStatus(ctx, order.ID, domain.RepairStatusRequest{Status: "pending"})
	if !errors.Is(err, store.ErrInvalidStatusTransition) {
		t.Fatalf("expected ErrInvalidStatusTransition, got %v", err)
	}

	resp, err := svc.RecordPayment(cashierCtx(), order.ID, domain.PaymentCreateRequest{
		Amount: money("240.00"),
		Method: "cash",
		Status: "paid",
	})
	if err != nil {
		t.Fatalf("record payment failed: %v", err)
	}
	if resp.Order.Status != domain.RepairStatusCompleted {
		t.Fatalf("expected paid payment to complete order, got %s", resp.Order.Status)
	}
	if !resp.Order.Reconciliation.BalanceDue.Equal(money("410")) {
		t.Fatalf("expected balance 410, got %s", resp.Order.Reconciliation.BalanceDue)
	}
	if resp.Order.Reconciliation.PaymentStatus != domain.SettlementPartial {
		t.Fatalf("expected partial settlement, got %s", resp.Order.Reconciliation.PaymentStatus)
	}

	_, err = svc.AddRepairService(ctx, order.ID, domain.RepairServiceRequest{ServiceID: 4})
	if !errors.Is(err, store.ErrOrderClosed) {
		t.Fatalf("expected ErrOrderClosed, got %v", err)
	}
}

func TestRefundPaymentRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	order, err := svc.CreateRepairOrder(techCtx(), domain.RepairOrderCreateRequest{
		CustomerID: 1,
		Device:     "Galaxy A52",
		Services:   []domain.RepairServiceRequest{{ServiceID: 2}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	paid, err := svc.RecordPayment(cashierCtx(), order.ID, domain.PaymentCreateRequest{
		Amount:    money("300.00"),
		Method:    "gcash",
		Status:    "paid",
		Reference: "GC-778899",
	})
	if err != nil {
		t.Fatalf("record payment failed: %v", err)
	}

	_, err = svc.RefundPayment(cashierCtx(), paid.Payment.ID, domain.PaymentRefundRequest{Amount: money("100")})
	if !IsRoleError(err) {
		t.Fatalf("expected role error, got %v", err)
	}

	fetched, err := svc.GetPayment(cashierCtx(), paid.Payment.ID)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if fetched.Order.ID != order.ID || fetched.Payment.Status != domain.PaymentStatusPaid {
		t.Fatalf("unexpected payment view %+v", fetched)
	}

	refunded, err := svc.RefundPayment(adminCtx(), paid.Payment.ID, domain.PaymentRefundRequest{
		Amount: money("100.00"),
		Reason: "battery reused",
	})
	if err != nil {
		t.Fatalf("refund payment failed: %v", err)
	}
	if refunded.Payment.Status != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded payment, got %s", refunded.Payment.Status)
	}
	if !refunded.Order.Reconciliation.AmountPaid.Equal(money("200")) {
		t.Fatalf("expected amount paid 200, got %s", refunded.Order.Reconciliation.AmountPaid)
	}
}

func TestCatalogWritesRequireAdmin(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{Name: "Earbuds", Price: money("99")})
	if !IsRoleError(err) {
		t.Fatalf("expected role error, got %v", err)
	}

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		SKU:          "aud-eb-01",
		Name:         "Earbuds",
		Price:        money("99.50"),
		InitialStock: 3,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if created.SKU != "AUD-EB-01" {
		t.Fatalf("expected normalised sku, got %s", created.SKU)
	}
	if created.StockStatus != domain.StockStatusLowStock {
		t.Fatalf("expected low_stock with default threshold, got %s", created.StockStatus)
	}

	adjusted, err := svc.AdjustProductStock(adminCtx(), created.ID, domain.StockAdjustmentRequest{Delta: -3, Reason: "damaged"})
	if err != nil {
		t.Fatalf("adjust stock failed: %v", err)
	}
	if adjusted.StockStatus != domain.StockStatusOutOfStock {
		t.Fatalf("expected out_of_stock, got %s", adjusted.StockStatus)
	}

	_, err = svc.AdjustProductStock(adminCtx(), created.ID, domain.StockAdjustmentRequest{Delta: -1, Reason: "damaged"})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestCheckoutAndRefundAreAudited(t *testing.T) {
	svc, _ := newTestService()
	sale := checkoutTwoGlasses(t, svc)

	if _, err := svc.Refund(adminCtx(), sale.ID, domain.RefundRequest{
		Items: []domain.RefundItemRequest{{LineItemID: sale.Items[0].ID, Quantity: 1}},
	}); err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), time.Now().UTC().Format("2006-01-02"), 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	actions := make(map[string]bool, len(logs))
	for _, entry := range logs {
		actions[entry.Action] = true
	}
	if !actions["sale_checkout"] || !actions["sale_refund"] {
		t.Fatalf("expected checkout and refund audit entries, got %+v", logs)
	}
}

func TestDailyReportNetsRefunds(t *testing.T) {
	svc, _ := newTestService()
	sale := checkoutTwoGlasses(t, svc)

	if _, err := svc.Refund(adminCtx(), sale.ID, domain.RefundRequest{
		Items: []domain.RefundItemRequest{{LineItemID: sale.Items[0].ID, Quantity: 1}},
	}); err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	report, err := svc.DailyReport(adminCtx(), "")
	if err != nil {
		t.Fatalf("daily report failed: %v", err)
	}
	if report.Sales != 1 {
		t.Fatalf("expected one sale, got %d", report.Sales)
	}
	if !report.NetSales.Equal(money("100")) {
		t.Fatalf("expected net sales 100, got %s", report.NetSales)
	}

	if _, err := svc.DailyReport(adminCtx(), "17-10-2026"); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected bad date to be rejected, got %v", err)
	}
}

func checkoutTwoGlasses(t *testing.T, svc *Service) *domain.Sale {
	t.Helper()
	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Items:          []domain.CheckoutItem{{ProductID: 1, Quantity: 2, Price: money("100.00")}},
		PaymentMethod:  "cash",
		AmountReceived: money("200.00"),
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	return resp.Sale
}

func ptrDecimal(v decimal.Decimal) *decimal.Decimal {
	return &v
}
