package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/ledger"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/xid"
)

// Checkout records a sale and decrements stock as one unit. A repeated
// idempotency key returns the original sale with Duplicate set and writes
// nothing.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if req.PaymentMethod == "" {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: payment_method is required", store.ErrInvalidTransaction)
	}
	if !ledger.IsPaymentMethod(req.PaymentMethod) {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidTransaction, req.PaymentMethod)
	}
	if req.AmountReceived.IsNegative() || req.Subtotal.IsNegative() || req.Total.IsNegative() {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: amounts must not be negative", store.ErrInvalidTransaction)
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	lines, err := ledger.MergeCartItems(req.Items)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey)
		if err == nil {
			return toCheckoutResponse(existing, true), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.CheckoutResponse{}, err
		}
	}

	// Reject unknown or retired products before any reference is minted.
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	known, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	for _, id := range ids {
		if product, ok := known[id]; !ok || !product.Active {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: product %d", store.ErrNotFound, id)
		}
	}

	var (
		sale    domain.Sale
		created *domain.Sale
	)
	for attempt := 1; ; attempt++ {
		now := time.Now().UTC()
		sale = domain.Sale{
			ID:              xid.New("sale"),
			ReferenceNo:     xid.Reference(now),
			IdempotencyKey:  req.IdempotencyKey,
			CashierUsername: actorName(ctx),
			Subtotal:        req.Subtotal,
			Tax:             req.Tax,
			Discount:        req.Discount,
			Total:           req.Total,
			PaymentMethod:   req.PaymentMethod,
			AmountReceived:  req.AmountReceived,
			GCashReference:  strings.TrimSpace(req.GCashReference),
			CreatedAt:       now,
		}

		created, err = s.repo.CreateSale(ctx, sale, lines)
		if err == nil {
			break
		}
		retryable := errors.Is(err, store.ErrDuplicateReference) || errors.Is(err, store.ErrConflict)
		if !retryable || attempt >= maxCheckoutAttempts {
			return domain.CheckoutResponse{}, err
		}
		log.Printf("[service] WARN: checkout attempt %d failed, retrying: %v", attempt, err)
	}

	// A concurrent request with the same key won the race.
	if created.ID != sale.ID {
		return toCheckoutResponse(created, true), nil
	}

	s.logAudit(ctx, "sale_checkout", "sale", created.ID, fmt.Sprintf(
		"reference=%s,total=%s,payment=%s,items=%d",
		created.ReferenceNo,
		created.Total.StringFixed(2),
		created.PaymentMethod,
		len(created.Items),
	))
	return toCheckoutResponse(created, false), nil
}

// LookupCheckout lets a client that lost a checkout response recover it.
func (s *Service) LookupCheckout(ctx context.Context, idempotencyKey string) (domain.CheckoutResponse, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: idempotency key is required", store.ErrInvalidTransaction)
	}
	sale, err := s.repo.FindSaleByIdempotency(ctx, idempotencyKey)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	return toCheckoutResponse(sale, true), nil
}

// GetSale serves the sale view from the cache when possible. Cache failures
// fall through to the repository.
func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, fmt.Errorf("%w: sale id is required", store.ErrInvalidTransaction)
	}

	cached, ok, err := s.sales.Get(ctx, id)
	if err != nil {
		log.Printf("[service] WARN: sale cache read failed sale=%s: %v", id, err)
	} else if ok {
		return *cached, nil
	}

	sale, err := s.repo.FindSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := s.sales.Set(ctx, sale, s.saleCacheTTL); err != nil {
		log.Printf("[service] WARN: sale cache write failed sale=%s: %v", id, err)
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) (domain.SaleListResponse, error) {
	if filter.Status != "" {
		switch filter.Status {
		case domain.SaleStatusCompleted, domain.SaleStatusPartiallyRefunded, domain.SaleStatusRefunded:
		default:
			return domain.SaleListResponse{}, fmt.Errorf("%w: unknown sale status %q", store.ErrInvalidTransaction, filter.Status)
		}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.SaleListResponse{}, fmt.Errorf("%w: to is before from", store.ErrInvalidTransaction)
	}
	if filter.Limit < 1 {
		filter.Limit = 50
	}

	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{Sales: sales}, nil
}

// Refund returns units of a completed sale. Every line is validated against
// the persisted refunds before anything is written; stock is restored for
// every refunded unit regardless of the reason.
func (s *Service) Refund(ctx context.Context, saleID string, req domain.RefundRequest) (domain.RefundResponse, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.RefundResponse{}, err
	}
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.RefundResponse{}, fmt.Errorf("%w: sale id is required", store.ErrInvalidTransaction)
	}
	lines, err := ledger.MergeRefundLines(req.Items)
	if err != nil {
		return domain.RefundResponse{}, err
	}
	reason := strings.TrimSpace(req.Reason)

	sale, refunds, err := s.repo.ApplySaleRefund(ctx, saleID, lines, reason, actor.Username, time.Now().UTC())
	if err != nil {
		return domain.RefundResponse{}, err
	}

	if err := s.sales.Delete(ctx, sale.ID); err != nil {
		log.Printf("[service] WARN: sale cache invalidation failed sale=%s: %v", sale.ID, err)
	}

	amount := ledger.SumRefunds(refunds)
	s.logAudit(ctx, "sale_refund", "sale", sale.ID, fmt.Sprintf(
		"reference=%s,amount=%s,lines=%d,status=%s,reason=%s",
		sale.ReferenceNo,
		amount.StringFixed(2),
		len(refunds),
		sale.Status,
		reason,
	))

	return domain.RefundResponse{
		Success: true,
		Message: fmt.Sprintf("refunded %s from sale %s", amount.StringFixed(2), sale.ReferenceNo),
		Sale:    sale,
		Refunds: refunds,
	}, nil
}

func toCheckoutResponse(sale *domain.Sale, duplicate bool) domain.CheckoutResponse {
	message := fmt.Sprintf("sale %s recorded", sale.ReferenceNo)
	if duplicate {
		message = fmt.Sprintf("sale %s already recorded for this idempotency key", sale.ReferenceNo)
	}
	return domain.CheckoutResponse{
		Success:   true,
		Message:   message,
		Duplicate: duplicate,
		Sale:      sale,
	}
}
