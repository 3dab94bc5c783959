package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/ledger"
	"repairpos/backend/internal/store"
)

var staffRoles = []string{domain.RoleAdmin, domain.RoleCashier, domain.RoleTechnician}

func (s *Service) CreateRepairOrder(ctx context.Context, req domain.RepairOrderCreateRequest) (domain.RepairOrder, error) {
	actor, err := requireRole(ctx, staffRoles...)
	if err != nil {
		return domain.RepairOrder{}, err
	}

	req.Device = strings.TrimSpace(req.Device)
	if req.CustomerID < 1 {
		return domain.RepairOrder{}, fmt.Errorf("%w: customer_id is required", store.ErrInvalidTransaction)
	}
	if req.Device == "" {
		return domain.RepairOrder{}, fmt.Errorf("%w: device is required", store.ErrInvalidTransaction)
	}

	draft := domain.RepairOrderDraft{
		Order: domain.RepairOrder{
			CustomerID: req.CustomerID,
			Device:     req.Device,
			Issue:      strings.TrimSpace(req.Issue),
			CreatedBy:  actor.Username,
		},
		Services: make([]domain.RepairServiceDraft, 0, len(req.Services)),
	}
	for _, svcReq := range req.Services {
		svcDraft, err := s.resolveService(ctx, svcReq)
		if err != nil {
			return domain.RepairOrder{}, err
		}
		draft.Services = append(draft.Services, svcDraft)
	}

	order, err := s.repo.CreateRepairOrder(ctx, draft)
	if err != nil {
		return domain.RepairOrder{}, err
	}
	s.logAudit(ctx, "repair_order_create", "repair_order", order.ID, fmt.Sprintf(
		"customer=%d,device=%s,services=%d,total=%s",
		order.CustomerID,
		order.Device,
		len(order.Services),
		order.TotalPrice.StringFixed(2),
	))
	return *order, nil
}

func (s *Service) GetRepairOrder(ctx context.Context, id string) (domain.RepairOrder, error) {
	order, err := s.repo.GetRepairOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.RepairOrder{}, err
	}
	return *order, nil
}

func (s *Service) ListRepairOrders(ctx context.Context, filter domain.RepairOrderFilter) (domain.RepairOrderListResponse, error) {
	if filter.Status != "" && !ledger.IsRepairStatus(filter.Status) {
		return domain.RepairOrderListResponse{}, fmt.Errorf("%w: unknown repair status %q", store.ErrInvalidTransaction, filter.Status)
	}
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	orders, err := s.repo.ListRepairOrders(ctx, filter)
	if err != nil {
		return domain.RepairOrderListResponse{}, err
	}
	return domain.RepairOrderListResponse{Orders: orders}, nil
}

func (s *Service) AddRepairService(ctx context.Context, orderID string, req domain.RepairServiceRequest) (domain.RepairOrder, error) {
	if _, err := requireRole(ctx, staffRoles...); err != nil {
		return domain.RepairOrder{}, err
	}

	draft, err := s.resolveService(ctx, req)
	if err != nil {
		return domain.RepairOrder{}, err
	}
	order, err := s.repo.AddRepairService(ctx, orderID, draft)
	if err != nil {
		return domain.RepairOrder{}, err
	}
	s.logAudit(ctx, "repair_service_add", "repair_order", order.ID, fmt.Sprintf(
		"service=%d,price=%s,parts=%d,total=%s",
		draft.Service.ServiceID,
		draft.Service.ServicePrice.StringFixed(2),
		len(draft.Parts),
		order.TotalPrice.StringFixed(2),
	))
	return *order, nil
}

func (s *Service) AddRepairPart(ctx context.Context, orderID string, orderServiceID string, req domain.RepairPartRequest) (domain.RepairOrder, error) {
	if _, err := requireRole(ctx, staffRoles...); err != nil {
		return domain.RepairOrder{}, err
	}

	part, err := partDraft(req)
	if err != nil {
		return domain.RepairOrder{}, err
	}
	order, err := s.repo.AddRepairPart(ctx, orderID, strings.TrimSpace(orderServiceID), part)
	if err != nil {
		return domain.RepairOrder{}, err
	}
	s.logAudit(ctx, "repair_part_add", "repair_order", order.ID, fmt.Sprintf(
		"order_service=%s,spare_part=%d,qty=%d,total=%s",
		orderServiceID,
		part.SparePartID,
		part.Quantity,
		order.TotalPrice.StringFixed(2),
	))
	return *order, nil
}

func (s *Service) RemoveRepairPart(ctx context.Context, orderID string, partID string) (domain.RepairOrder, error) {
	if _, err := requireRole(ctx, staffRoles...); err != nil {
		return domain.RepairOrder{}, err
	}

	order, err := s.repo.RemoveRepairPart(ctx, orderID, strings.TrimSpace(partID))
	if err != nil {
		return domain.RepairOrder{}, err
	}
	s.logAudit(ctx, "repair_part_remove", "repair_order", order.ID, fmt.Sprintf("part=%s,total=%s", partID, order.TotalPrice.StringFixed(2)))
	return *order, nil
}

func (s *Service) RecalculateRepairOrder(ctx context.Context, orderID string) (domain.RepairOrder, error) {
	if _, err := requireRole(ctx, staffRoles...); err != nil {
		return domain.RepairOrder{}, err
	}
	order, err := s.repo.RecalculateRepairOrder(ctx, orderID)
	if err != nil {
		return domain.RepairOrder{}, err
	}
	return *order, nil
}

func (s *Service) UpdateRepairOrderStatus(ctx context.Context, orderID string, req domain.RepairStatusRequest) (domain.RepairOrder, error) {
	if _, err := requireRole(ctx, staffRoles...); err != nil {
		return domain.RepairOrder{}, err
	}

	status := strings.ToLower(strings.TrimSpace(req.Status))
	if !ledger.IsRepairStatus(status) {
		return domain.RepairOrder{}, fmt.Errorf("%w: unknown repair status %q", store.ErrInvalidTransaction, req.Status)
	}
	order, err := s.repo.UpdateRepairOrderStatus(ctx, orderID, status, time.Now().UTC())
	if err != nil {
		return domain.RepairOrder{}, err
	}
	s.logAudit(ctx, "repair_order_status", "repair_order", order.ID, "status="+order.Status)
	return *order, nil
}

// RecordPayment stores a payment against an order. A payment recorded as paid
// completes the order whatever the amount.
func (s *Service) RecordPayment(ctx context.Context, orderID string, req domain.PaymentCreateRequest) (domain.PaymentResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCashier); err != nil {
		return domain.PaymentResponse{}, err
	}

	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		return domain.PaymentResponse{}, fmt.Errorf("%w: payment method is required", store.ErrInvalidTransaction)
	}
	if !ledger.IsPaymentMethod(method) {
		return domain.PaymentResponse{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidTransaction, req.Method)
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status == "" {
		status = domain.PaymentStatusPending
	}
	if status != domain.PaymentStatusPending && status != domain.PaymentStatusPaid {
		return domain.PaymentResponse{}, fmt.Errorf("%w: payment status %q cannot be recorded", store.ErrInvalidTransaction, req.Status)
	}
	if !req.Amount.IsPositive() {
		return domain.PaymentResponse{}, fmt.Errorf("%w: payment amount must be greater than zero", store.ErrInvalidTransaction)
	}
	reference := strings.TrimSpace(req.Reference)
	if method == domain.PaymentMethodGCash && reference == "" {
		return domain.PaymentResponse{}, fmt.Errorf("%w: gcash reference is required", store.ErrInvalidTransaction)
	}

	payment, err := s.repo.CreatePayment(ctx, domain.Payment{
		OrderID:   strings.TrimSpace(orderID),
		Amount:    req.Amount.Round(2),
		Method:    method,
		Status:    status,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	s.logAudit(ctx, "payment_create", "payment", payment.ID, fmt.Sprintf(
		"order=%s,amount=%s,method=%s,status=%s",
		payment.OrderID,
		payment.Amount.StringFixed(2),
		payment.Method,
		payment.Status,
	))
	return s.paymentResponse(ctx, payment)
}

// GetPayment returns the payment together with its order's reconciliation.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (domain.PaymentResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCashier); err != nil {
		return domain.PaymentResponse{}, err
	}
	payment, err := s.repo.GetPayment(ctx, strings.TrimSpace(paymentID))
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	return s.paymentResponse(ctx, payment)
}

func (s *Service) UpdatePaymentStatus(ctx context.Context, paymentID string, req domain.PaymentStatusRequest) (domain.PaymentResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCashier); err != nil {
		return domain.PaymentResponse{}, err
	}

	status := strings.ToLower(strings.TrimSpace(req.Status))
	payment, err := s.repo.UpdatePaymentStatus(ctx, strings.TrimSpace(paymentID), status, time.Now().UTC())
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	s.logAudit(ctx, "payment_status", "payment", payment.ID, fmt.Sprintf("order=%s,status=%s", payment.OrderID, payment.Status))
	return s.paymentResponse(ctx, payment)
}

func (s *Service) RefundPayment(ctx context.Context, paymentID string, req domain.PaymentRefundRequest) (domain.PaymentResponse, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.PaymentResponse{}, fmt.Errorf("%w: refund amount must be greater than zero", store.ErrInvalidTransaction)
	}
	reason := strings.TrimSpace(req.Reason)

	payment, err := s.repo.RefundPayment(ctx, strings.TrimSpace(paymentID), req.Amount.Round(2), reason, actor.Username, time.Now().UTC())
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	s.logAudit(ctx, "payment_refund", "payment", payment.ID, fmt.Sprintf(
		"order=%s,amount=%s,reason=%s",
		payment.OrderID,
		payment.RefundAmount.StringFixed(2),
		reason,
	))
	return s.paymentResponse(ctx, payment)
}

func (s *Service) paymentResponse(ctx context.Context, payment *domain.Payment) (domain.PaymentResponse, error) {
	order, err := s.repo.GetRepairOrder(ctx, payment.OrderID)
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	return domain.PaymentResponse{Payment: *payment, Order: *order}, nil
}

// resolveService snapshots the catalog price unless the request overrides it.
func (s *Service) resolveService(ctx context.Context, req domain.RepairServiceRequest) (domain.RepairServiceDraft, error) {
	if req.ServiceID < 1 {
		return domain.RepairServiceDraft{}, fmt.Errorf("%w: service_id is required", store.ErrInvalidTransaction)
	}
	catalog, err := s.repo.GetRepairService(ctx, req.ServiceID)
	if err != nil {
		return domain.RepairServiceDraft{}, err
	}
	if !catalog.Active {
		return domain.RepairServiceDraft{}, fmt.Errorf("%w: repair service %d is inactive", store.ErrNotFound, req.ServiceID)
	}

	price := catalog.Price
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.RepairServiceDraft{}, fmt.Errorf("%w: service price must not be negative", store.ErrInvalidTransaction)
		}
		price = req.Price.Round(2)
	}

	draft := domain.RepairServiceDraft{
		Service: domain.RepairOrderService{
			ServiceID:    catalog.ID,
			ServiceName:  catalog.Name,
			ServicePrice: price,
		},
		Parts: make([]domain.RepairPartDraft, 0, len(req.Parts)),
	}
	for _, partReq := range req.Parts {
		part, err := partDraft(partReq)
		if err != nil {
			return domain.RepairServiceDraft{}, err
		}
		draft.Parts = append(draft.Parts, part)
	}
	return draft, nil
}

func partDraft(req domain.RepairPartRequest) (domain.RepairPartDraft, error) {
	if req.SparePartID < 1 {
		return domain.RepairPartDraft{}, fmt.Errorf("%w: spare_part_id is required", store.ErrInvalidTransaction)
	}
	if req.Quantity < 1 {
		return domain.RepairPartDraft{}, fmt.Errorf("%w: part quantity must be at least 1", store.ErrInvalidTransaction)
	}
	draft := domain.RepairPartDraft{SparePartID: req.SparePartID, Quantity: req.Quantity}
	if req.UnitPrice != nil {
		if req.UnitPrice.IsNegative() {
			return domain.RepairPartDraft{}, fmt.Errorf("%w: part price must not be negative", store.ErrInvalidTransaction)
		}
		price := req.UnitPrice.Round(2)
		draft.UnitPrice = &price
	}
	return draft, nil
}
