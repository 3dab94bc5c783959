package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/xid"
)

// RepairOrderTotal is the single source of truth for an order total: every
// service price plus quantity x unit price of every part, recomputed in full.
func RepairOrderTotal(services []domain.RepairOrderService) decimal.Decimal {
	total := decimal.Zero
	for _, svc := range services {
		total = total.Add(svc.ServicePrice)
		for _, part := range svc.Parts {
			total = total.Add(part.UnitPrice.Mul(decimal.NewFromInt(int64(part.Quantity))))
		}
	}
	return total
}

// PlanParts prices each draft from the (locked) spare part rows and checks
// the combined quantity per part against stock. It returns the part rows to
// insert and the resulting on-hand quantity of every touched spare part.
// Nothing is deducted when an error is returned.
func PlanParts(drafts []domain.RepairPartDraft, spareParts map[int64]domain.SparePart, at time.Time) ([]domain.RepairOrderPart, map[int64]int, error) {
	remaining := make(map[int64]int, len(drafts))
	parts := make([]domain.RepairOrderPart, 0, len(drafts))
	for _, draft := range drafts {
		spare, ok := spareParts[draft.SparePartID]
		if !ok || !spare.Active {
			return nil, nil, fmt.Errorf("%w: spare part %d", store.ErrNotFound, draft.SparePartID)
		}
		if draft.UnitPrice != nil && draft.UnitPrice.IsNegative() {
			return nil, nil, fmt.Errorf("%w: unit price for %s must not be negative", store.ErrInvalidTransaction, spare.Name)
		}
		onHand, seen := remaining[spare.ID]
		if !seen {
			onHand = spare.StockQty
		}
		left, err := DeductStock(onHand, draft.Quantity)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", spare.Name, err)
		}
		remaining[spare.ID] = left

		price := spare.Price
		if draft.UnitPrice != nil {
			price = *draft.UnitPrice
		}
		parts = append(parts, domain.RepairOrderPart{
			ID:          xid.New("rop"),
			SparePartID: spare.ID,
			PartName:    spare.Name,
			Quantity:    draft.Quantity,
			UnitPrice:   price,
			CreatedAt:   at,
		})
	}
	return parts, remaining, nil
}

var repairTransitions = map[string][]string{
	domain.RepairStatusPending:    {domain.RepairStatusInProgress, domain.RepairStatusCompleted, domain.RepairStatusCancelled},
	domain.RepairStatusInProgress: {domain.RepairStatusCompleted, domain.RepairStatusCancelled},
	domain.RepairStatusCompleted:  {domain.RepairStatusClaimed},
}

func IsRepairStatus(status string) bool {
	switch status {
	case domain.RepairStatusPending, domain.RepairStatusInProgress, domain.RepairStatusCompleted,
		domain.RepairStatusClaimed, domain.RepairStatusCancelled:
		return true
	default:
		return false
	}
}

func ValidateRepairTransition(from string, to string) error {
	if !IsRepairStatus(to) {
		return fmt.Errorf("%w: unknown status %q", store.ErrInvalidTransaction, to)
	}
	for _, allowed := range repairTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", store.ErrInvalidStatusTransition, from, to)
}

// TransitionRepairOrder validates and applies a manual status change.
func TransitionRepairOrder(order *domain.RepairOrder, to string, at time.Time) error {
	if err := ValidateRepairTransition(order.Status, to); err != nil {
		return err
	}
	order.Status = to
	order.UpdatedAt = at
	if to == domain.RepairStatusCompleted {
		order.CompletedAt = &at
	}
	return nil
}

// EnsureOrderOpen rejects structural changes once work is finished or cancelled.
func EnsureOrderOpen(order *domain.RepairOrder) error {
	switch order.Status {
	case domain.RepairStatusPending, domain.RepairStatusInProgress:
		return nil
	default:
		return fmt.Errorf("%w: order %s is %s", store.ErrOrderClosed, order.ID, order.Status)
	}
}

// ApplyPaymentSideEffect marks the owning order completed whenever payment is
// paid. The rule does not compare the amount paid with the order total and
// does not look at the current order status. It reports whether order changed.
func ApplyPaymentSideEffect(order *domain.RepairOrder, payment domain.Payment, at time.Time) bool {
	if payment.Status != domain.PaymentStatusPaid || order.Status == domain.RepairStatusCompleted {
		return false
	}
	order.Status = domain.RepairStatusCompleted
	order.CompletedAt = &at
	order.UpdatedAt = at
	return true
}

func IsPaymentMethod(method string) bool {
	return method == domain.PaymentMethodCash || method == domain.PaymentMethodGCash
}

// ValidatePaymentStatusChange allows pending <-> paid. Refunded is reachable
// only through RefundPayment and is terminal.
func ValidatePaymentStatusChange(from string, to string) error {
	if to != domain.PaymentStatusPending && to != domain.PaymentStatusPaid {
		return fmt.Errorf("%w: payment status %q cannot be set directly", store.ErrInvalidTransaction, to)
	}
	if from == domain.PaymentStatusRefunded {
		return fmt.Errorf("%w: payment already refunded", store.ErrInvalidStatusTransition)
	}
	return nil
}

func ApplyPaymentRefund(payment *domain.Payment, amount decimal.Decimal, reason string, actor string, at time.Time) error {
	if payment.Status != domain.PaymentStatusPaid {
		return fmt.Errorf("%w: only paid payments can be refunded (status %s)", store.ErrInvalidStatusTransition, payment.Status)
	}
	if !amount.IsPositive() || amount.GreaterThan(payment.Amount) {
		return fmt.Errorf("%w: refund amount must be between 0 and %s", store.ErrInvalidTransaction, payment.Amount.StringFixed(2))
	}
	payment.Status = domain.PaymentStatusRefunded
	payment.RefundAmount = amount
	payment.RefundReason = reason
	payment.RefundedBy = actor
	payment.RefundedAt = &at
	payment.UpdatedAt = at
	return nil
}

// ReconcilePayments derives amount paid and balance due. Pending payments do
// not count; refunded payments count for whatever was not given back.
func ReconcilePayments(total decimal.Decimal, payments []domain.Payment) domain.Reconciliation {
	paid := decimal.Zero
	for _, p := range payments {
		switch p.Status {
		case domain.PaymentStatusPaid:
			paid = paid.Add(p.Amount)
		case domain.PaymentStatusRefunded:
			kept := p.Amount.Sub(p.RefundAmount)
			if kept.IsPositive() {
				paid = paid.Add(kept)
			}
		}
	}

	balance := total.Sub(paid)
	if balance.IsNegative() {
		balance = decimal.Zero
	}

	status := domain.SettlementPartial
	switch {
	case !paid.IsPositive():
		status = domain.SettlementUnpaid
	case paid.Equal(total):
		status = domain.SettlementPaid
	case paid.GreaterThan(total):
		status = domain.SettlementOverpaid
	}

	return domain.Reconciliation{AmountPaid: paid, BalanceDue: balance, PaymentStatus: status}
}

// FinalizeRepairOrder recomputes the derived fields of order from its
// current services, parts and payments.
func FinalizeRepairOrder(order *domain.RepairOrder) {
	order.TotalPrice = RepairOrderTotal(order.Services)
	order.Reconciliation = ReconcilePayments(order.TotalPrice, order.Payments)
}
