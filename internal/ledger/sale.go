package ledger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
)

// MergeCartItems sums quantities of repeated products and returns the cart
// ordered by product id, which is also the order rows are locked in.
func MergeCartItems(items []domain.CheckoutItem) ([]domain.SaleLine, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", store.ErrInvalidTransaction)
	}

	byID := make(map[int64]domain.SaleLine, len(items))
	for _, item := range items {
		if item.ProductID < 1 {
			return nil, fmt.Errorf("%w: product id is required", store.ErrInvalidTransaction)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for product %d must be at least 1", store.ErrInvalidTransaction, item.ProductID)
		}
		if item.Price.IsNegative() {
			return nil, fmt.Errorf("%w: price for product %d must not be negative", store.ErrInvalidTransaction, item.ProductID)
		}
		current := byID[item.ProductID]
		current.ProductID = item.ProductID
		current.UnitPrice = item.Price
		current.Quantity += item.Quantity
		byID[item.ProductID] = current
	}

	lines := make([]domain.SaleLine, 0, len(byID))
	for _, line := range byID {
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].ProductID < lines[j].ProductID
	})
	return lines, nil
}

// PlanCheckout prices each line from the (locked) product rows and checks
// stock. The catalog price wins over whatever price the client submitted.
func PlanCheckout(lines []domain.SaleLine, products map[int64]domain.Product) ([]domain.SaleLineItem, decimal.Decimal, error) {
	subtotal := decimal.Zero
	items := make([]domain.SaleLineItem, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok || !product.Active {
			return nil, decimal.Zero, fmt.Errorf("%w: product %d", store.ErrNotFound, line.ProductID)
		}
		if product.StockQty < line.Quantity {
			return nil, decimal.Zero, fmt.Errorf("%w: %s has %d left, requested %d", store.ErrInsufficientStock, product.Name, product.StockQty, line.Quantity)
		}
		lineSubtotal := product.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items = append(items, domain.SaleLineItem{
			ProductID:          product.ID,
			ProductName:        product.Name,
			Quantity:           line.Quantity,
			UnitPrice:          product.Price,
			Subtotal:           lineSubtotal,
			RefundableQuantity: line.Quantity,
		})
		subtotal = subtotal.Add(lineSubtotal)
	}
	return items, subtotal, nil
}

// FinalizeSale fills subtotal, total and change on sale and validates the
// payment against the computed total.
func FinalizeSale(sale *domain.Sale, subtotal decimal.Decimal) error {
	if sale.Tax.IsNegative() || sale.Discount.IsNegative() {
		return fmt.Errorf("%w: tax and discount must not be negative", store.ErrInvalidTransaction)
	}
	gross := subtotal.Add(sale.Tax)
	if sale.Discount.GreaterThan(gross) {
		return fmt.Errorf("%w: discount exceeds subtotal plus tax", store.ErrInvalidTransaction)
	}
	sale.Subtotal = subtotal
	sale.Total = gross.Sub(sale.Discount)

	switch sale.PaymentMethod {
	case domain.PaymentMethodCash:
		if sale.AmountReceived.LessThan(sale.Total) {
			return fmt.Errorf("%w: amount received %s is less than total %s", store.ErrInvalidTransaction, sale.AmountReceived.StringFixed(2), sale.Total.StringFixed(2))
		}
		sale.Change = sale.AmountReceived.Sub(sale.Total)
		sale.GCashReference = ""
	case domain.PaymentMethodGCash:
		if strings.TrimSpace(sale.GCashReference) == "" {
			return fmt.Errorf("%w: gcash reference is required", store.ErrInvalidTransaction)
		}
		sale.AmountReceived = sale.Total
		sale.Change = decimal.Zero
	default:
		return fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidTransaction, sale.PaymentMethod)
	}
	return nil
}

// PrepareSale prices lines against the locked products, fills the money
// fields of sale and returns the line items to persist. Subtotal and Total
// already on sale are the client's view of the cart and are overwritten.
func PrepareSale(sale *domain.Sale, lines []domain.SaleLine, products map[int64]domain.Product) ([]domain.SaleLineItem, error) {
	items, subtotal, err := PlanCheckout(lines, products)
	if err != nil {
		return nil, err
	}
	if err := FinalizeSale(sale, subtotal); err != nil {
		return nil, err
	}
	sale.Status = domain.SaleStatusCompleted
	sale.TotalRefunded = decimal.Zero
	return items, nil
}

// DeriveSaleStatus maps the refund aggregate to a lifecycle status. A sale
// with nothing refunded is completed, including zero-total sales.
func DeriveSaleStatus(total decimal.Decimal, totalRefunded decimal.Decimal) string {
	if !totalRefunded.IsPositive() {
		return domain.SaleStatusCompleted
	}
	if totalRefunded.GreaterThanOrEqual(total) {
		return domain.SaleStatusRefunded
	}
	return domain.SaleStatusPartiallyRefunded
}

// AnnotateRefunds fills refunded and refundable quantities on every line of
// sale from its persisted refunds.
func AnnotateRefunds(sale *domain.Sale) {
	refunded := RefundedQuantities(sale.Refunds)
	for i := range sale.Items {
		qty := refunded[sale.Items[i].ID]
		sale.Items[i].RefundedQuantity = qty
		sale.Items[i].RefundableQuantity = sale.Items[i].Quantity - qty
	}
}

func RefundedQuantities(refunds []domain.RefundedItem) map[string]int {
	out := make(map[string]int, len(refunds))
	for _, r := range refunds {
		out[r.LineItemID] += r.Quantity
	}
	return out
}

func SumRefunds(refunds []domain.RefundedItem) decimal.Decimal {
	total := decimal.Zero
	for _, r := range refunds {
		total = total.Add(r.Amount)
	}
	return total
}
