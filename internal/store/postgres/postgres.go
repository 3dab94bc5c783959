package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/ledger"
	"repairpos/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx so read helpers can run
// inside or outside a unit of work.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// inTx runs fn in a serializable transaction and maps lock and serialization
// failures to store.ErrConflict.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit())
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.Name == "" {
		return nil, fmt.Errorf("%w: category name is required", store.ErrInvalidTransaction)
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (name, description)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, category.Name, category.Description).Scan(&category.ID, &category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return nil, fmt.Errorf("%w: category %q already exists", store.ErrInvalidTransaction, category.Name)
		}
		return nil, err
	}
	category.CreatedAt = category.CreatedAt.UTC()
	return &category, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at
		FROM categories
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		result = append(result, c)
	}
	return result, rows.Err()
}

const productColumns = `id, category_id, sku, name, price, stock_qty, low_stock_threshold, active, created_at, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var categoryID sql.NullInt64
	var sku sql.NullString
	if err := row.Scan(&p.ID, &categoryID, &sku, &p.Name, &p.Price, &p.StockQty, &p.LowStockThreshold, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	p.CategoryID = categoryID.Int64
	p.SKU = sku.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	p.StockStatus = ledger.StockStatus(p.StockQty, p.LowStockThreshold)
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || !product.Price.IsPositive() || product.StockQty < 0 {
		return nil, store.ErrInvalidTransaction
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO products (category_id, sku, name, price, stock_qty, low_stock_threshold, active)
		VALUES ($1, $2, $3, $4, $5, $6, true)
		RETURNING `+productColumns,
		nullInt64(product.CategoryID), nullIfEmpty(product.SKU), product.Name, product.Price, product.StockQty, product.LowStockThreshold)
	created, err := scanProduct(row)
	if err != nil {
		if isUniqueViolation(err, "") {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrInvalidTransaction, product.SKU)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: category %d", store.ErrNotFound, product.CategoryID)
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	return s.productsByIDs(ctx, s.db, ids, false)
}

// productsByIDs locks rows in ascending id order when forUpdate is set, so
// two checkouts touching the same products always queue instead of deadlocking.
func (s *Store) productsByIDs(ctx context.Context, q querier, ids []int64, forUpdate bool) (map[int64]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64]domain.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active OR $1
		ORDER BY category_id NULLS FIRST, name
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalidTransaction
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET category_id = $2, name = $3, price = $4, low_stock_threshold = $5, active = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, nullInt64(product.CategoryID), product.Name, product.Price, product.LowStockThreshold, product.Active)
	updated, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, product.ID)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: category %d", store.ErrNotFound, product.CategoryID)
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) AdjustProductStock(ctx context.Context, id int64, delta int) (*domain.Product, error) {
	var adjusted domain.Product
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		locked, err := s.productsByIDs(ctx, tx, []int64{id}, true)
		if err != nil {
			return err
		}
		product, ok := locked[id]
		if !ok {
			return fmt.Errorf("%w: product %d", store.ErrNotFound, id)
		}
		qty, err := ledger.ApplyStockDelta(product.StockQty, delta)
		if err != nil {
			return fmt.Errorf("%s: %w", product.Name, err)
		}
		adjusted, err = scanProduct(tx.QueryRowContext(ctx, `
			UPDATE products SET stock_qty = $2, updated_at = now()
			WHERE id = $1
			RETURNING `+productColumns, id, qty))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &adjusted, nil
}

const sparePartColumns = `id, name, price, stock_qty, low_stock_threshold, active, created_at, updated_at`

func scanSparePart(row rowScanner) (domain.SparePart, error) {
	var p domain.SparePart
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.StockQty, &p.LowStockThreshold, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	p.StockStatus = ledger.StockStatus(p.StockQty, p.LowStockThreshold)
	return p, nil
}

func (s *Store) CreateSparePart(ctx context.Context, part domain.SparePart) (*domain.SparePart, error) {
	if part.Name == "" || part.Price.IsNegative() || part.StockQty < 0 {
		return nil, store.ErrInvalidTransaction
	}
	created, err := scanSparePart(s.db.QueryRowContext(ctx, `
		INSERT INTO spare_parts (name, price, stock_qty, low_stock_threshold, active)
		VALUES ($1, $2, $3, $4, true)
		RETURNING `+sparePartColumns, part.Name, part.Price, part.StockQty, part.LowStockThreshold))
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) GetSparePart(ctx context.Context, id int64) (*domain.SparePart, error) {
	p, err := scanSparePart(s.db.QueryRowContext(ctx, `SELECT `+sparePartColumns+` FROM spare_parts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: spare part %d", store.ErrNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) sparePartsByIDs(ctx context.Context, q querier, ids []int64, forUpdate bool) (map[int64]domain.SparePart, error) {
	query := `SELECT ` + sparePartColumns + ` FROM spare_parts WHERE id = ANY($1) ORDER BY id`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64]domain.SparePart, len(ids))
	for rows.Next() {
		p, err := scanSparePart(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) ListSpareParts(ctx context.Context, includeInactive bool) ([]domain.SparePart, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sparePartColumns+`
		FROM spare_parts
		WHERE active OR $1
		ORDER BY name
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.SparePart, 0, 64)
	for rows.Next() {
		p, err := scanSparePart(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) UpdateSparePart(ctx context.Context, part domain.SparePart) (*domain.SparePart, error) {
	if part.Name == "" || part.Price.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	updated, err := scanSparePart(s.db.QueryRowContext(ctx, `
		UPDATE spare_parts
		SET name = $2, price = $3, low_stock_threshold = $4, active = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+sparePartColumns, part.ID, part.Name, part.Price, part.LowStockThreshold, part.Active))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: spare part %d", store.ErrNotFound, part.ID)
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) AdjustSparePartStock(ctx context.Context, id int64, delta int) (*domain.SparePart, error) {
	var adjusted domain.SparePart
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		locked, err := s.sparePartsByIDs(ctx, tx, []int64{id}, true)
		if err != nil {
			return err
		}
		part, ok := locked[id]
		if !ok {
			return fmt.Errorf("%w: spare part %d", store.ErrNotFound, id)
		}
		qty, err := ledger.ApplyStockDelta(part.StockQty, delta)
		if err != nil {
			return fmt.Errorf("%s: %w", part.Name, err)
		}
		adjusted, err = scanSparePart(tx.QueryRowContext(ctx, `
			UPDATE spare_parts SET stock_qty = $2, updated_at = now()
			WHERE id = $1
			RETURNING `+sparePartColumns, id, qty))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &adjusted, nil
}

const repairServiceColumns = `id, name, description, price, active, created_at`

func scanRepairService(row rowScanner) (domain.RepairService, error) {
	var svc domain.RepairService
	if err := row.Scan(&svc.ID, &svc.Name, &svc.Description, &svc.Price, &svc.Active, &svc.CreatedAt); err != nil {
		return svc, err
	}
	svc.CreatedAt = svc.CreatedAt.UTC()
	return svc, nil
}

func (s *Store) CreateRepairService(ctx context.Context, svc domain.RepairService) (*domain.RepairService, error) {
	if svc.Name == "" || svc.Price.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	created, err := scanRepairService(s.db.QueryRowContext(ctx, `
		INSERT INTO repair_services (name, description, price, active)
		VALUES ($1, $2, $3, true)
		RETURNING `+repairServiceColumns, svc.Name, svc.Description, svc.Price))
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) GetRepairService(ctx context.Context, id int64) (*domain.RepairService, error) {
	svc, err := scanRepairService(s.db.QueryRowContext(ctx, `SELECT `+repairServiceColumns+` FROM repair_services WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: repair service %d", store.ErrNotFound, id)
		}
		return nil, err
	}
	return &svc, nil
}

func (s *Store) ListRepairServices(ctx context.Context, includeInactive bool) ([]domain.RepairService, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+repairServiceColumns+`
		FROM repair_services
		WHERE active OR $1
		ORDER BY name
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.RepairService, 0, 16)
	for rows.Next() {
		svc, err := scanRepairService(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, svc)
	}
	return result, rows.Err()
}

func (s *Store) UpdateRepairService(ctx context.Context, svc domain.RepairService) (*domain.RepairService, error) {
	if svc.Name == "" || svc.Price.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	updated, err := scanRepairService(s.db.QueryRowContext(ctx, `
		UPDATE repair_services
		SET name = $2, description = $3, price = $4, active = $5
		WHERE id = $1
		RETURNING `+repairServiceColumns, svc.ID, svc.Name, svc.Description, svc.Price, svc.Active))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: repair service %d", store.ErrNotFound, svc.ID)
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, fmt.Errorf("%w: customer name is required", store.ErrInvalidTransaction)
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (name, phone, email)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, customer.Name, customer.Phone, customer.Email).Scan(&customer.ID, &customer.CreatedAt)
	if err != nil {
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, created_at FROM customers WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: customer %d", store.ErrNotFound, id)
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, email, created_at FROM customers ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		result = append(result, c)
	}
	return result, rows.Err()
}

// isUniqueViolation reports a 23505; a non-empty constraint narrows the match.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}

// mapError turns serialization failures, deadlocks and lock timeouts into
// store.ErrConflict. Everything else passes through untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		}
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt64(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
