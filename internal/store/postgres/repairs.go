package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/ledger"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/xid"
)

const repairOrderColumns = `id, customer_id, device, issue, status, total_price, created_by, created_at, updated_at, completed_at`

func scanRepairOrder(row rowScanner) (domain.RepairOrder, error) {
	var order domain.RepairOrder
	var completedAt sql.NullTime
	err := row.Scan(&order.ID, &order.CustomerID, &order.Device, &order.Issue, &order.Status, &order.TotalPrice,
		&order.CreatedBy, &order.CreatedAt, &order.UpdatedAt, &completedAt)
	if err != nil {
		return order, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		order.CompletedAt = &at
	}
	return order, nil
}

func (s *Store) CreateRepairOrder(ctx context.Context, draft domain.RepairOrderDraft) (*domain.RepairOrder, error) {
	order := draft.Order
	if order.ID == "" {
		order.ID = xid.New("ro")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Status = domain.RepairStatusPending

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, order.CustomerID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: customer %d", store.ErrNotFound, order.CustomerID)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO repair_orders (id, customer_id, device, issue, status, total_price, created_by, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,0,$6,$7,$7)
		`, order.ID, order.CustomerID, order.Device, order.Issue, order.Status, order.CreatedBy, order.CreatedAt)
		if err != nil {
			return err
		}

		var partDrafts []domain.RepairPartDraft
		for _, svc := range draft.Services {
			partDrafts = append(partDrafts, svc.Parts...)
		}
		parts, err := s.reserveParts(ctx, tx, partDrafts, order.CreatedAt)
		if err != nil {
			return err
		}

		next := 0
		for _, svcDraft := range draft.Services {
			serviceID, err := s.insertOrderService(ctx, tx, order.ID, svcDraft.Service, order.CreatedAt)
			if err != nil {
				return err
			}
			for range svcDraft.Parts {
				if err := insertOrderPart(ctx, tx, serviceID, parts[next]); err != nil {
					return err
				}
				next++
			}
		}
		return s.recalculate(ctx, tx, order.ID, order.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return s.GetRepairOrder(ctx, order.ID)
}

func (s *Store) GetRepairOrder(ctx context.Context, id string) (*domain.RepairOrder, error) {
	order, err := scanRepairOrder(s.db.QueryRowContext(ctx, `SELECT `+repairOrderColumns+` FROM repair_orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: repair order %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	if err := s.loadOrderDetails(ctx, s.db, &order); err != nil {
		return nil, err
	}
	ledger.FinalizeRepairOrder(&order)
	return &order, nil
}

func (s *Store) ListRepairOrders(ctx context.Context, filter domain.RepairOrderFilter) ([]domain.RepairOrder, error) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CustomerID != 0 {
		args = append(args, filter.CustomerID)
		clauses = append(clauses, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM repair_orders %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, repairOrderColumns, where, len(args)), args...)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.RepairOrder, 0, limit)
	for rows.Next() {
		order, err := scanRepairOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range orders {
		if err := s.loadOrderDetails(ctx, s.db, &orders[i]); err != nil {
			return nil, err
		}
		ledger.FinalizeRepairOrder(&orders[i])
	}
	return orders, nil
}

func (s *Store) AddRepairService(ctx context.Context, orderID string, draft domain.RepairServiceDraft) (*domain.RepairOrder, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.lockOpenOrder(ctx, tx, orderID); err != nil {
			return err
		}
		now := time.Now().UTC()
		parts, err := s.reserveParts(ctx, tx, draft.Parts, now)
		if err != nil {
			return err
		}
		serviceID, err := s.insertOrderService(ctx, tx, orderID, draft.Service, now)
		if err != nil {
			return err
		}
		for _, part := range parts {
			if err := insertOrderPart(ctx, tx, serviceID, part); err != nil {
				return err
			}
		}
		return s.recalculate(ctx, tx, orderID, now)
	})
	if err != nil {
		return nil, err
	}
	return s.GetRepairOrder(ctx, orderID)
}

// AddRepairPart deducts spare part stock, inserts the part and recomputes the
// order total in one transaction.
func (s *Store) AddRepairPart(ctx context.Context, orderID string, orderServiceID string, draft domain.RepairPartDraft) (*domain.RepairOrder, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.lockOpenOrder(ctx, tx, orderID); err != nil {
			return err
		}
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM repair_order_services WHERE id = $1 AND order_id = $2)
		`, orderServiceID, orderID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: service %s on order %s", store.ErrNotFound, orderServiceID, orderID)
		}

		now := time.Now().UTC()
		parts, err := s.reserveParts(ctx, tx, []domain.RepairPartDraft{draft}, now)
		if err != nil {
			return err
		}
		if err := insertOrderPart(ctx, tx, orderServiceID, parts[0]); err != nil {
			return err
		}
		return s.recalculate(ctx, tx, orderID, now)
	})
	if err != nil {
		return nil, err
	}
	return s.GetRepairOrder(ctx, orderID)
}

func (s *Store) RemoveRepairPart(ctx context.Context, orderID string, partID string) (*domain.RepairOrder, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.lockOpenOrder(ctx, tx, orderID); err != nil {
			return err
		}
		var sparePartID int64
		var qty int
		err := tx.QueryRowContext(ctx, `
			SELECT p.spare_part_id, p.quantity
			FROM repair_order_parts p
			JOIN repair_order_services svc ON svc.id = p.order_service_id
			WHERE p.id = $1 AND svc.order_id = $2
		`, partID, orderID).Scan(&sparePartID, &qty)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: part %s on order %s", store.ErrNotFound, partID, orderID)
			}
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `DELETE FROM repair_order_parts WHERE id = $1`, partID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE spare_parts SET stock_qty = stock_qty + $2, updated_at = $3 WHERE id = $1
		`, sparePartID, qty, now)
		if err != nil {
			return err
		}
		return s.recalculate(ctx, tx, orderID, now)
	})
	if err != nil {
		return nil, err
	}
	return s.GetRepairOrder(ctx, orderID)
}

func (s *Store) RecalculateRepairOrder(ctx context.Context, orderID string) (*domain.RepairOrder, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.lockOrder(ctx, tx, orderID); err != nil {
			return err
		}
		return s.recalculate(ctx, tx, orderID, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}
	return s.GetRepairOrder(ctx, orderID)
}

func (s *Store) UpdateRepairOrderStatus(ctx context.Context, orderID string, status string, at time.Time) (*domain.RepairOrder, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		order, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := ledger.TransitionRepairOrder(order, status, at); err != nil {
			return err
		}
		return writeOrderStatus(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}
	return s.GetRepairOrder(ctx, orderID)
}

const paymentColumns = `id, order_id, amount, method, status, reference, refund_amount, refund_reason, refunded_by, refunded_at, created_at, updated_at`

func scanPayment(row rowScanner) (domain.Payment, error) {
	var p domain.Payment
	var refundedAt sql.NullTime
	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Status, &p.Reference, &p.RefundAmount,
		&p.RefundReason, &p.RefundedBy, &refundedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	if refundedAt.Valid {
		at := refundedAt.Time.UTC()
		p.RefundedAt = &at
	}
	return p, nil
}

// CreatePayment writes the payment and, when it is paid, completes the order
// in the same transaction.
func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
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

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		order, err := s.lockOrder(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payments (id, order_id, amount, method, status, reference, refund_amount, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,0,$7,$7)
		`, payment.ID, payment.OrderID, payment.Amount, payment.Method, payment.Status, payment.Reference, payment.CreatedAt)
		if err != nil {
			return err
		}
		if ledger.ApplyPaymentSideEffect(order, payment, payment.CreatedAt) {
			return writeOrderStatus(ctx, tx, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: payment %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, id string, status string, at time.Time) (*domain.Payment, error) {
	var updated domain.Payment
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var orderID string
		if err := tx.QueryRowContext(ctx, `SELECT order_id FROM payments WHERE id = $1`, id).Scan(&orderID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: payment %s", store.ErrNotFound, id)
			}
			return err
		}
		// Order before payment, the same order CreatePayment locks in.
		order, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		payment, err := scanPayment(tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := ledger.ValidatePaymentStatusChange(payment.Status, status); err != nil {
			return err
		}
		payment.Status = status
		payment.UpdatedAt = at
		_, err = tx.ExecContext(ctx, `UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1`, id, status, at)
		if err != nil {
			return err
		}
		updated = payment
		if ledger.ApplyPaymentSideEffect(order, payment, at) {
			return writeOrderStatus(ctx, tx, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) RefundPayment(ctx context.Context, id string, amount decimal.Decimal, reason string, actor string, at time.Time) (*domain.Payment, error) {
	var refunded domain.Payment
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		payment, err := scanPayment(tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: payment %s", store.ErrNotFound, id)
			}
			return err
		}
		if err := ledger.ApplyPaymentRefund(&payment, amount, reason, actor, at); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE payments
			SET status = $2, refund_amount = $3, refund_reason = $4, refunded_by = $5, refunded_at = $6, updated_at = $6
			WHERE id = $1
		`, id, payment.Status, payment.RefundAmount, payment.RefundReason, payment.RefundedBy, at)
		if err != nil {
			return err
		}
		refunded = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &refunded, nil
}

func (s *Store) lockOrder(ctx context.Context, tx *sql.Tx, orderID string) (*domain.RepairOrder, error) {
	order, err := scanRepairOrder(tx.QueryRowContext(ctx, `SELECT `+repairOrderColumns+` FROM repair_orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: repair order %s", store.ErrNotFound, orderID)
		}
		return nil, err
	}
	return &order, nil
}

func (s *Store) lockOpenOrder(ctx context.Context, tx *sql.Tx, orderID string) (*domain.RepairOrder, error) {
	order, err := s.lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := ledger.EnsureOrderOpen(order); err != nil {
		return nil, err
	}
	return order, nil
}

func writeOrderStatus(ctx context.Context, tx *sql.Tx, order *domain.RepairOrder) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE repair_orders SET status = $2, completed_at = $3, updated_at = $4 WHERE id = $1
	`, order.ID, order.Status, nullTime(order.CompletedAt), order.UpdatedAt)
	return err
}

func (s *Store) insertOrderService(ctx context.Context, tx *sql.Tx, orderID string, svc domain.RepairOrderService, at time.Time) (string, error) {
	id := xid.New("ros")
	_, err := tx.ExecContext(ctx, `
		INSERT INTO repair_order_services (id, order_id, service_id, service_name, service_price, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, id, orderID, svc.ServiceID, svc.ServiceName, svc.ServicePrice, at)
	if err != nil {
		if isForeignKeyViolation(err) {
			return "", fmt.Errorf("%w: repair service %d", store.ErrNotFound, svc.ServiceID)
		}
		return "", err
	}
	return id, nil
}

func insertOrderPart(ctx context.Context, tx *sql.Tx, orderServiceID string, part domain.RepairOrderPart) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO repair_order_parts (id, order_service_id, spare_part_id, part_name, quantity, unit_price, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, part.ID, orderServiceID, part.SparePartID, part.PartName, part.Quantity, part.UnitPrice, part.CreatedAt)
	return err
}

// reserveParts locks the referenced spare parts in id order, plans the
// deduction and writes the new stock levels.
func (s *Store) reserveParts(ctx context.Context, tx *sql.Tx, drafts []domain.RepairPartDraft, at time.Time) ([]domain.RepairOrderPart, error) {
	if len(drafts) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(drafts))
	for _, d := range drafts {
		if !slices.Contains(ids, d.SparePartID) {
			ids = append(ids, d.SparePartID)
		}
	}
	slices.Sort(ids)
	locked, err := s.sparePartsByIDs(ctx, tx, ids, true)
	if err != nil {
		return nil, err
	}
	parts, remaining, err := ledger.PlanParts(drafts, locked, at)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			UPDATE spare_parts SET stock_qty = $2, updated_at = $3 WHERE id = $1
		`, id, remaining[id], at)
		if err != nil {
			return nil, err
		}
	}
	return parts, nil
}

// recalculate reloads every service and part of the order inside tx and
// stores the total computed by ledger.RepairOrderTotal.
func (s *Store) recalculate(ctx context.Context, tx *sql.Tx, orderID string, at time.Time) error {
	order := domain.RepairOrder{ID: orderID}
	if err := s.loadOrderServices(ctx, tx, &order); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE repair_orders SET total_price = $2, updated_at = $3 WHERE id = $1
	`, orderID, ledger.RepairOrderTotal(order.Services), at)
	return err
}

func (s *Store) loadOrderDetails(ctx context.Context, q querier, order *domain.RepairOrder) error {
	if err := s.loadOrderServices(ctx, q, order); err != nil {
		return err
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at, id
	`, order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	order.Payments = make([]domain.Payment, 0, 4)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return err
		}
		order.Payments = append(order.Payments, p)
	}
	return rows.Err()
}

func (s *Store) loadOrderServices(ctx context.Context, q querier, order *domain.RepairOrder) error {
	rows, err := q.QueryContext(ctx, `
		SELECT id, service_id, service_name, service_price, created_at
		FROM repair_order_services
		WHERE order_id = $1
		ORDER BY created_at, id
	`, order.ID)
	if err != nil {
		return err
	}
	services := make([]domain.RepairOrderService, 0, 4)
	index := make(map[string]int, 4)
	for rows.Next() {
		svc := domain.RepairOrderService{OrderID: order.ID, Parts: []domain.RepairOrderPart{}}
		if err := rows.Scan(&svc.ID, &svc.ServiceID, &svc.ServiceName, &svc.ServicePrice, &svc.CreatedAt); err != nil {
			_ = rows.Close()
			return err
		}
		svc.CreatedAt = svc.CreatedAt.UTC()
		index[svc.ID] = len(services)
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	partRows, err := q.QueryContext(ctx, `
		SELECT p.id, p.order_service_id, p.spare_part_id, p.part_name, p.quantity, p.unit_price, p.created_at
		FROM repair_order_parts p
		JOIN repair_order_services svc ON svc.id = p.order_service_id
		WHERE svc.order_id = $1
		ORDER BY p.created_at, p.id
	`, order.ID)
	if err != nil {
		return err
	}
	defer partRows.Close()

	for partRows.Next() {
		var part domain.RepairOrderPart
		if err := partRows.Scan(&part.ID, &part.OrderServiceID, &part.SparePartID, &part.PartName, &part.Quantity, &part.UnitPrice, &part.CreatedAt); err != nil {
			return err
		}
		part.CreatedAt = part.CreatedAt.UTC()
		if i, ok := index[part.OrderServiceID]; ok {
			services[i].Parts = append(services[i].Parts, part)
		}
	}
	if err := partRows.Err(); err != nil {
		return err
	}
	order.Services = services
	return nil
}
