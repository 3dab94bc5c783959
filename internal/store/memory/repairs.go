package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/ledger"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/xid"
)

func (s *Store) CreateRepairOrder(_ context.Context, draft domain.RepairOrderDraft) (*domain.RepairOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := draft.Order
	if _, ok := s.customers[order.CustomerID]; !ok {
		return nil, fmt.Errorf("%w: customer %d", store.ErrNotFound, order.CustomerID)
	}
	if order.ID == "" {
		order.ID = xid.New("ro")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt
	order.Status = domain.RepairStatusPending
	order.Services = make([]domain.RepairOrderService, 0, len(draft.Services))
	order.Payments = nil

	var partDrafts []domain.RepairPartDraft
	for _, svc := range draft.Services {
		partDrafts = append(partDrafts, svc.Parts...)
	}
	parts, err := s.reserveParts(partDrafts, order.CreatedAt)
	if err != nil {
		return nil, err
	}

	next := 0
	for _, svcDraft := range draft.Services {
		svc := s.newOrderService(order.ID, svcDraft.Service, order.CreatedAt)
		for range svcDraft.Parts {
			part := parts[next]
			part.OrderServiceID = svc.ID
			svc.Parts = append(svc.Parts, part)
			next++
		}
		order.Services = append(order.Services, svc)
	}

	s.commitReservation(parts)
	order.TotalPrice = ledger.RepairOrderTotal(order.Services)
	s.ordersByID[order.ID] = cloneOrder(&order)
	return s.orderView(order.ID), nil
}

func (s *Store) GetRepairOrder(_ context.Context, id string) (*domain.RepairOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.ordersByID[id]; !ok {
		return nil, fmt.Errorf("%w: repair order %s", store.ErrNotFound, id)
	}
	return s.orderView(id), nil
}

func (s *Store) ListRepairOrders(_ context.Context, filter domain.RepairOrderFilter) ([]domain.RepairOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.RepairOrder, 0, 32)
	for id, order := range s.ordersByID {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.CustomerID != 0 && order.CustomerID != filter.CustomerID {
			continue
		}
		result = append(result, *s.orderView(id))
	}
	slices.SortFunc(result, func(a, b domain.RepairOrder) int {
		return compareNewest(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) AddRepairService(_ context.Context, orderID string, draft domain.RepairServiceDraft) (*domain.RepairOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.openOrder(orderID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	parts, err := s.reserveParts(draft.Parts, now)
	if err != nil {
		return nil, err
	}

	svc := s.newOrderService(order.ID, draft.Service, now)
	for _, part := range parts {
		part.OrderServiceID = svc.ID
		svc.Parts = append(svc.Parts, part)
	}
	s.commitReservation(parts)
	order.Services = append(order.Services, svc)
	s.recalculate(order, now)
	return s.orderView(orderID), nil
}

func (s *Store) AddRepairPart(_ context.Context, orderID string, orderServiceID string, draft domain.RepairPartDraft) (*domain.RepairOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.openOrder(orderID)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(order.Services, func(svc domain.RepairOrderService) bool {
		return svc.ID == orderServiceID
	})
	if idx < 0 {
		return nil, fmt.Errorf("%w: service %s on order %s", store.ErrNotFound, orderServiceID, orderID)
	}

	now := time.Now().UTC()
	parts, err := s.reserveParts([]domain.RepairPartDraft{draft}, now)
	if err != nil {
		return nil, err
	}
	part := parts[0]
	part.OrderServiceID = orderServiceID
	s.commitReservation(parts)
	order.Services[idx].Parts = append(order.Services[idx].Parts, part)
	s.recalculate(order, now)
	return s.orderView(orderID), nil
}

func (s *Store) RemoveRepairPart(_ context.Context, orderID string, partID string) (*domain.RepairOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.openOrder(orderID)
	if err != nil {
		return nil, err
	}
	for i := range order.Services {
		parts := order.Services[i].Parts
		j := slices.IndexFunc(parts, func(p domain.RepairOrderPart) bool { return p.ID == partID })
		if j < 0 {
			continue
		}
		removed := parts[j]
		now := time.Now().UTC()
		if spare, ok := s.spareParts[removed.SparePartID]; ok {
			qty, err := ledger.AddStock(spare.StockQty, removed.Quantity)
			if err != nil {
				return nil, err
			}
			spare.StockQty = qty
			spare.UpdatedAt = now
			s.spareParts[spare.ID] = spare
		}
		order.Services[i].Parts = slices.Delete(slices.Clone(parts), j, j+1)
		s.recalculate(order, now)
		return s.orderView(orderID), nil
	}
	return nil, fmt.Errorf("%w: part %s on order %s", store.ErrNotFound, partID, orderID)
}

func (s *Store) RecalculateRepairOrder(_ context.Context, orderID string) (*domain.RepairOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: repair order %s", store.ErrNotFound, orderID)
	}
	total := ledger.RepairOrderTotal(order.Services)
	if !total.Equal(order.TotalPrice) {
		s.recalculate(order, time.Now().UTC())
	}
	return s.orderView(orderID), nil
}

func (s *Store) UpdateRepairOrderStatus(_ context.Context, orderID string, status string, at time.Time) (*domain.RepairOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: repair order %s", store.ErrNotFound, orderID)
	}
	if err := ledger.TransitionRepairOrder(order, status, at); err != nil {
		return nil, err
	}
	return s.orderView(orderID), nil
}

func (s *Store) CreatePayment(_ context.Context, payment domain.Payment) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[payment.OrderID]
	if !ok {
		return nil, fmt.Errorf("%w: repair order %s", store.ErrNotFound, payment.OrderID)
	}
	if !payment.Amount.IsPositive() || !ledger.IsPaymentMethod(payment.Method) {
		return nil, store.ErrInvalidTransaction
	}
	if payment.Status != domain.PaymentStatusPending && payment.Status != domain.PaymentStatusPaid {
		return nil, fmt.Errorf("%w: payment status %q", store.ErrInvalidTransaction, payment.Status)
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	payment.UpdatedAt = payment.CreatedAt
	payment.RefundAmount = decimal.Zero

	ledger.ApplyPaymentSideEffect(order, payment, payment.CreatedAt)
	stored := payment
	s.paymentsByID[payment.ID] = &stored
	s.paymentsByOrder[order.ID] = append(s.paymentsByOrder[order.ID], payment.ID)
	return &payment, nil
}

func (s *Store) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, ok := s.paymentsByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment %s", store.ErrNotFound, id)
	}
	dup := *payment
	return &dup, nil
}

func (s *Store) UpdatePaymentStatus(_ context.Context, id string, status string, at time.Time) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.paymentsByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment %s", store.ErrNotFound, id)
	}
	order, ok := s.ordersByID[payment.OrderID]
	if !ok {
		return nil, fmt.Errorf("%w: repair order %s", store.ErrNotFound, payment.OrderID)
	}
	if err := ledger.ValidatePaymentStatusChange(payment.Status, status); err != nil {
		return nil, err
	}
	payment.Status = status
	payment.UpdatedAt = at
	ledger.ApplyPaymentSideEffect(order, *payment, at)
	dup := *payment
	return &dup, nil
}

func (s *Store) RefundPayment(_ context.Context, id string, amount decimal.Decimal, reason string, actor string, at time.Time) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.paymentsByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment %s", store.ErrNotFound, id)
	}
	working := *payment
	if err := ledger.ApplyPaymentRefund(&working, amount, reason, actor, at); err != nil {
		return nil, err
	}
	*payment = working
	return &working, nil
}

// openOrder returns the live order for mutation. Callers hold the write lock.
func (s *Store) openOrder(orderID string) (*domain.RepairOrder, error) {
	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: repair order %s", store.ErrNotFound, orderID)
	}
	if err := ledger.EnsureOrderOpen(order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) newOrderService(orderID string, svc domain.RepairOrderService, at time.Time) domain.RepairOrderService {
	svc.ID = xid.New("ros")
	svc.OrderID = orderID
	svc.CreatedAt = at
	svc.Parts = []domain.RepairOrderPart{}
	return svc
}

// reserveParts prices drafts and checks stock without deducting anything;
// commitReservation applies the deduction once the rest of the write is valid.
func (s *Store) reserveParts(drafts []domain.RepairPartDraft, at time.Time) ([]domain.RepairOrderPart, error) {
	parts, _, err := ledger.PlanParts(drafts, s.spareParts, at)
	return parts, err
}

func (s *Store) commitReservation(parts []domain.RepairOrderPart) {
	for _, part := range parts {
		spare := s.spareParts[part.SparePartID]
		spare.StockQty -= part.Quantity
		spare.UpdatedAt = part.CreatedAt
		s.spareParts[spare.ID] = spare
	}
}

func (s *Store) recalculate(order *domain.RepairOrder, at time.Time) {
	order.TotalPrice = ledger.RepairOrderTotal(order.Services)
	order.UpdatedAt = at
}

// orderView must be called with the lock held.
func (s *Store) orderView(id string) *domain.RepairOrder {
	order := cloneOrder(s.ordersByID[id])
	order.Payments = make([]domain.Payment, 0, len(s.paymentsByOrder[id]))
	for _, paymentID := range s.paymentsByOrder[id] {
		order.Payments = append(order.Payments, *s.paymentsByID[paymentID])
	}
	ledger.FinalizeRepairOrder(order)
	return order
}

func cloneOrder(src *domain.RepairOrder) *domain.RepairOrder {
	dup := *src
	dup.Services = make([]domain.RepairOrderService, len(src.Services))
	for i, svc := range src.Services {
		svc.Parts = slices.Clone(svc.Parts)
		if svc.Parts == nil {
			svc.Parts = []domain.RepairOrderPart{}
		}
		dup.Services[i] = svc
	}
	dup.Payments = slices.Clone(src.Payments)
	if src.CompletedAt != nil {
		completed := *src.CompletedAt
		dup.CompletedAt = &completed
	}
	return &dup
}
