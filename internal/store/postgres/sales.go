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

var errIdempotentReplay = errors.New("idempotency key already used")

// CreateSale returns the stored sale, not an error, when the idempotency key
// was already used. Callers compare IDs to detect replays.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, lines []domain.SaleLine) (*domain.Sale, error) {
	if sale.ReferenceNo == "" || len(lines) == 0 {
		return nil, fmt.Errorf("%w: reference and lines are required", store.ErrInvalidTransaction)
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.UpdatedAt = sale.CreatedAt

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if sale.IdempotencyKey != "" {
			var existing string
			err := tx.QueryRowContext(ctx, `SELECT id FROM sales WHERE idempotency_key = $1`, sale.IdempotencyKey).Scan(&existing)
			if err == nil {
				return errIdempotentReplay
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		ids := make([]int64, 0, len(lines))
		for _, line := range lines {
			ids = append(ids, line.ProductID)
		}
		slices.Sort(ids)
		locked, err := s.productsByIDs(ctx, tx, ids, true)
		if err != nil {
			return err
		}

		items, err := ledger.PrepareSale(&sale, lines, locked)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sales (
				id, reference_no, idempotency_key, cashier_username, subtotal, tax, discount, total,
				payment_method, amount_received, change_amount, gcash_reference, status, total_refunded,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
		`, sale.ID, sale.ReferenceNo, nullIfEmpty(sale.IdempotencyKey), sale.CashierUsername,
			sale.Subtotal, sale.Tax, sale.Discount, sale.Total, sale.PaymentMethod, sale.AmountReceived,
			sale.Change, sale.GCashReference, sale.Status, decimal.Zero, sale.CreatedAt)
		if err != nil {
			switch {
			case isUniqueViolation(err, "sales_reference_no_key"):
				return fmt.Errorf("%w: %s", store.ErrDuplicateReference, sale.ReferenceNo)
			case isUniqueViolation(err, "sales_idempotency_key_key"):
				return errIdempotentReplay
			}
			return err
		}

		for i, item := range items {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO sale_items (id, sale_id, product_id, product_name, quantity, unit_price, subtotal, position)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`, xid.New("sli"), sale.ID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Subtotal, i)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE products
				SET stock_qty = stock_qty - $2, updated_at = $3
				WHERE id = $1 AND stock_qty >= $2
			`, item.ProductID, item.Quantity, sale.CreatedAt)
			if err != nil {
				if isCheckViolation(err) {
					return fmt.Errorf("%w: %s", store.ErrInsufficientStock, item.ProductName)
				}
				return err
			}
			if affected, _ := res.RowsAffected(); affected != 1 {
				return fmt.Errorf("%w: %s", store.ErrInsufficientStock, item.ProductName)
			}
		}
		return nil
	})
	if errors.Is(err, errIdempotentReplay) {
		return s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}
	return s.FindSaleByID(ctx, sale.ID)
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return s.loadSale(ctx, s.db, "id", id, false)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return s.loadSale(ctx, s.db, "idempotency_key", key, false)
}

const saleColumns = `id, reference_no, COALESCE(idempotency_key, ''), cashier_username, subtotal, tax, discount, total,
	payment_method, amount_received, change_amount, gcash_reference, status, total_refunded, created_at, updated_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(
		&sale.ID,
		&sale.ReferenceNo,
		&sale.IdempotencyKey,
		&sale.CashierUsername,
		&sale.Subtotal,
		&sale.Tax,
		&sale.Discount,
		&sale.Total,
		&sale.PaymentMethod,
		&sale.AmountReceived,
		&sale.Change,
		&sale.GCashReference,
		&sale.Status,
		&sale.TotalRefunded,
		&sale.CreatedAt,
		&sale.UpdatedAt,
	)
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return sale, err
}

func (s *Store) loadSale(ctx context.Context, q querier, column string, value string, forUpdate bool) (*domain.Sale, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}
	query := fmt.Sprintf(`SELECT %s FROM sales WHERE %s = $1`, saleColumns, column)
	if forUpdate {
		query += ` FOR UPDATE`
	}
	sale, err := scanSale(q.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, value)
		}
		return nil, err
	}
	if err := s.loadSaleLines(ctx, q, &sale); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) loadSaleLines(ctx context.Context, q querier, sale *domain.Sale) error {
	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, product_name, quantity, unit_price, subtotal
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY position
	`, sale.ID)
	if err != nil {
		return err
	}
	items := make([]domain.SaleLineItem, 0, 8)
	for rows.Next() {
		item := domain.SaleLineItem{SaleID: sale.ID}
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			_ = rows.Close()
			return err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	refundRows, err := q.QueryContext(ctx, `
		SELECT id, sale_item_id, product_id, quantity, amount, reason, refunded_by, created_at
		FROM refunded_items
		WHERE sale_id = $1
		ORDER BY created_at, id
	`, sale.ID)
	if err != nil {
		return err
	}
	defer refundRows.Close()

	var refunds []domain.RefundedItem
	for refundRows.Next() {
		r := domain.RefundedItem{SaleID: sale.ID}
		if err := refundRows.Scan(&r.ID, &r.LineItemID, &r.ProductID, &r.Quantity, &r.Amount, &r.Reason, &r.RefundedBy, &r.CreatedAt); err != nil {
			return err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		refunds = append(refunds, r)
	}
	if err := refundRows.Err(); err != nil {
		return err
	}

	sale.Items = items
	sale.Refunds = refunds
	ledger.AnnotateRefunds(sale)
	return nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
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
		SELECT %s FROM sales %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, saleColumns, where, len(args)), args...)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range sales {
		if err := s.loadSaleLines(ctx, s.db, &sales[i]); err != nil {
			return nil, err
		}
	}
	return sales, nil
}

// ApplySaleRefund holds the sale row lock for the whole validate, write and
// recompute sequence, so concurrent refunds of one sale run one at a time and
// each sees the rows the previous one committed.
func (s *Store) ApplySaleRefund(ctx context.Context, saleID string, lines []domain.RefundLine, reason string, actor string, at time.Time) (*domain.Sale, []domain.RefundedItem, error) {
	var planned []domain.RefundedItem
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sale, err := s.loadSale(ctx, tx, "id", saleID, true)
		if err != nil {
			return err
		}
		planned, err = ledger.PlanRefund(sale, lines, reason, actor, at)
		if err != nil {
			return err
		}

		restock := make(map[int64]int, len(planned))
		for _, row := range planned {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO refunded_items (id, sale_id, sale_item_id, product_id, quantity, amount, reason, refunded_by, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, row.ID, row.SaleID, row.LineItemID, row.ProductID, row.Quantity, row.Amount, row.Reason, row.RefundedBy, row.CreatedAt)
			if err != nil {
				return err
			}
			restock[row.ProductID] += row.Quantity
		}

		productIDs := make([]int64, 0, len(restock))
		for id := range restock {
			productIDs = append(productIDs, id)
		}
		slices.Sort(productIDs)
		for _, id := range productIDs {
			_, err := tx.ExecContext(ctx, `
				UPDATE products SET stock_qty = stock_qty + $2, updated_at = $3 WHERE id = $1
			`, id, restock[id], at)
			if err != nil {
				return err
			}
		}

		var totalRefunded decimal.Decimal
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(amount), 0) FROM refunded_items WHERE sale_id = $1
		`, saleID).Scan(&totalRefunded)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sales SET total_refunded = $2, status = $3, updated_at = $4 WHERE id = $1
		`, saleID, totalRefunded, ledger.DeriveSaleStatus(sale.Total, totalRefunded), at)
		if err != nil && isCheckViolation(err) {
			return fmt.Errorf("%w: refunds would exceed sale total", store.ErrInvalidTransaction)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	sale, err := s.FindSaleByID(ctx, saleID)
	if err != nil {
		return nil, nil, err
	}
	return sale, planned, nil
}
