package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/xid"
)

// MergeRefundLines validates the shape of a refund request and folds repeated
// line ids together.
func MergeRefundLines(items []domain.RefundItemRequest) ([]domain.RefundLine, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items to refund", store.ErrInvalidTransaction)
	}
	byID := make(map[string]int, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.LineItemID)
		if id == "" {
			return nil, fmt.Errorf("%w: transaction_item_id is required", store.ErrInvalidTransaction)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: refund quantity for %s must be at least 1", store.ErrInvalidTransaction, id)
		}
		byID[id] += item.Quantity
	}
	lines := make([]domain.RefundLine, 0, len(byID))
	for id, qty := range byID {
		lines = append(lines, domain.RefundLine{LineItemID: id, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].LineItemID < lines[j].LineItemID
	})
	return lines, nil
}

// PlanRefund validates lines against sale (whose Refunds must hold every
// persisted refund) and returns the rows to write. Either every line is
// accepted or an error is returned and nothing should be applied.
//
// Each amount is quantity x original unit price, capped so the running
// total never passes the sale total. When the plan returns the last
// refundable unit of the sale, the remaining balance (tax, rounding) is
// folded into the final row so a fully returned sale reaches its total.
func PlanRefund(sale *domain.Sale, lines []domain.RefundLine, reason string, actor string, at time.Time) ([]domain.RefundedItem, error) {
	if sale.Status == domain.SaleStatusRefunded {
		return nil, fmt.Errorf("%w: %s", store.ErrAlreadyRefunded, sale.ReferenceNo)
	}

	itemsByID := make(map[string]domain.SaleLineItem, len(sale.Items))
	for _, item := range sale.Items {
		itemsByID[item.ID] = item
	}
	refunded := RefundedQuantities(sale.Refunds)

	planned := make([]domain.RefundedItem, 0, len(lines))
	for _, line := range lines {
		item, ok := itemsByID[line.LineItemID]
		if !ok {
			return nil, fmt.Errorf("%w: %s is not part of sale %s", store.ErrUnknownLineItem, line.LineItemID, sale.ReferenceNo)
		}
		refundable := item.Quantity - refunded[item.ID]
		if line.Quantity > refundable {
			return nil, fmt.Errorf("%w: %s has %d refundable, requested %d", store.ErrRefundExceedsQuantity, item.ProductName, refundable, line.Quantity)
		}
		planned = append(planned, domain.RefundedItem{
			ID:         xid.New("rfi"),
			SaleID:     sale.ID,
			LineItemID: item.ID,
			ProductID:  item.ProductID,
			Quantity:   line.Quantity,
			Amount:     item.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))),
			Reason:     strings.TrimSpace(reason),
			RefundedBy: actor,
			CreatedAt:  at,
		})
		refunded[item.ID] += line.Quantity
	}

	remaining := sale.Total.Sub(SumRefunds(sale.Refunds))
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	for i := range planned {
		if planned[i].Amount.GreaterThan(remaining) {
			planned[i].Amount = remaining
		}
		remaining = remaining.Sub(planned[i].Amount)
	}

	exhausted := true
	for _, item := range sale.Items {
		if refunded[item.ID] < item.Quantity {
			exhausted = false
			break
		}
	}
	if exhausted && remaining.IsPositive() && len(planned) > 0 {
		last := len(planned) - 1
		planned[last].Amount = planned[last].Amount.Add(remaining)
	}

	return planned, nil
}

// ApplyRefundTotals recomputes the sale aggregate from the full refund list;
// callers pass persisted rows, never an in-memory running total.
func ApplyRefundTotals(sale *domain.Sale, refunds []domain.RefundedItem, at time.Time) {
	sale.Refunds = refunds
	sale.TotalRefunded = SumRefunds(refunds)
	sale.Status = DeriveSaleStatus(sale.Total, sale.TotalRefunded)
	sale.UpdatedAt = at
	AnnotateRefunds(sale)
}
