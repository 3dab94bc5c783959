package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/ledger"
	"repairpos/backend/internal/store"
)

type Store struct {
	mu sync.RWMutex

	ids map[string]int64

	categories     map[int64]domain.Category
	products       map[int64]domain.Product
	spareParts     map[int64]domain.SparePart
	repairServices map[int64]domain.RepairService
	customers      map[int64]domain.Customer

	salesByID   map[string]*domain.Sale
	salesByIdem map[string]string
	salesByRef  map[string]string

	ordersByID      map[string]*domain.RepairOrder
	paymentsByID    map[string]*domain.Payment
	paymentsByOrder map[string][]string

	auditLogs []domain.AuditLog
}

func New() *Store {
	return &Store{
		ids:             make(map[string]int64),
		categories:      make(map[int64]domain.Category),
		products:        make(map[int64]domain.Product),
		spareParts:      make(map[int64]domain.SparePart),
		repairServices:  make(map[int64]domain.RepairService),
		customers:       make(map[int64]domain.Customer),
		salesByID:       make(map[string]*domain.Sale),
		salesByIdem:     make(map[string]string),
		salesByRef:      make(map[string]string),
		ordersByID:      make(map[string]*domain.RepairOrder),
		paymentsByID:    make(map[string]*domain.Payment),
		paymentsByOrder: make(map[string][]string),
		auditLogs:       make([]domain.AuditLog, 0, 128),
	}
}

// NewSeeded returns a store with a small demo catalog for local runs.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	accessories := s.seedCategory("Accessories", now)
	chargers := s.seedCategory("Chargers & Cables", now)

	for _, p := range []struct {
		category int64
		sku      string
		name     string
		price    string
		stock    int
	}{
		{accessories, "ACC-TG-01", "Tempered Glass", "100.00", 40},
		{accessories, "ACC-CASE-01", "Silicone Phone Case", "250.00", 25},
		{accessories, "ACC-RING-01", "Phone Ring Holder", "80.00", 4},
		{chargers, "CHG-USBC-01", "USB-C Cable 1m", "150.00", 30},
		{chargers, "CHG-20W-01", "20W Wall Charger", "450.00", 12},
	} {
		id := s.nextID("product")
		s.products[id] = domain.Product{
			ID:                id,
			CategoryID:        p.category,
			SKU:               p.sku,
			Name:              p.name,
			Price:             decimal.RequireFromString(p.price),
			StockQty:          p.stock,
			LowStockThreshold: ledger.DefaultLowStockThreshold,
			Active:            true,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
	}

	for _, p := range []struct {
		name  string
		price string
		stock int
	}{
		{"LCD Assembly (generic 6.1\")", "1800.00", 6},
		{"Battery 3000mAh", "650.00", 10},
		{"Charging Port Flex", "300.00", 8},
		{"Back Glass", "500.00", 3},
	} {
		id := s.nextID("spare_part")
		s.spareParts[id] = domain.SparePart{
			ID:                id,
			Name:              p.name,
			Price:             decimal.RequireFromString(p.price),
			StockQty:          p.stock,
			LowStockThreshold: ledger.DefaultLowStockThreshold,
			Active:            true,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
	}

	for _, svc := range []struct {
		name  string
		price string
	}{
		{"Screen Replacement", "500.00"},
		{"Battery Replacement", "300.00"},
		{"Charging Port Repair", "350.00"},
		{"Diagnostics", "150.00"},
	} {
		id := s.nextID("repair_service")
		s.repairServices[id] = domain.RepairService{
			ID:        id,
			Name:      svc.name,
			Price:     decimal.RequireFromString(svc.price),
			Active:    true,
			CreatedAt: now,
		}
	}

	id := s.nextID("customer")
	s.customers[id] = domain.Customer{ID: id, Name: "Walk-in Customer", CreatedAt: now}

	return s
}

func (s *Store) seedCategory(name string, at time.Time) int64 {
	id := s.nextID("category")
	s.categories[id] = domain.Category{ID: id, Name: name, CreatedAt: at}
	return id
}

// nextID must be called with the write lock held.
func (s *Store) nextID(kind string) int64 {
	s.ids[kind]++
	return s.ids[kind]
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return nil, fmt.Errorf("%w: category name is required", store.ErrInvalidTransaction)
	}
	for _, existing := range s.categories {
		if strings.EqualFold(existing.Name, category.Name) {
			return nil, fmt.Errorf("%w: category %q already exists", store.ErrInvalidTransaction, category.Name)
		}
	}
	category.ID = s.nextID("category")
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	s.categories[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.Category) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || !product.Price.IsPositive() || product.StockQty < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if product.CategoryID != 0 {
		if _, ok := s.categories[product.CategoryID]; !ok {
			return nil, fmt.Errorf("%w: category %d", store.ErrNotFound, product.CategoryID)
		}
	}
	if product.SKU != "" {
		for _, existing := range s.products {
			if existing.SKU == product.SKU {
				return nil, fmt.Errorf("%w: sku %s already exists", store.ErrInvalidTransaction, product.SKU)
			}
		}
	}

	now := time.Now().UTC()
	product.ID = s.nextID("product")
	product.Active = true
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product
	return productView(product), nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, id)
	}
	return productView(product), nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = *productView(p)
		}
	}
	return result, nil
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active && !includeInactive {
			continue
		}
		result = append(result, *productView(p))
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		if a.CategoryID == b.CategoryID {
			return strings.Compare(a.Name, b.Name)
		}
		return compareInt64(a.CategoryID, b.CategoryID)
	})
	return result, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, product.ID)
	}
	if product.Name == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalidTransaction
	}
	if product.CategoryID != 0 {
		if _, ok := s.categories[product.CategoryID]; !ok {
			return nil, fmt.Errorf("%w: category %d", store.ErrNotFound, product.CategoryID)
		}
	}

	// Stock only moves through sales, refunds and adjustments.
	product.StockQty = current.StockQty
	product.SKU = current.SKU
	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	return productView(product), nil
}

func (s *Store) AdjustProductStock(_ context.Context, id int64, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, id)
	}
	qty, err := ledger.ApplyStockDelta(product.StockQty, delta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", product.Name, err)
	}
	product.StockQty = qty
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product
	return productView(product), nil
}

func (s *Store) CreateSparePart(_ context.Context, part domain.SparePart) (*domain.SparePart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if part.Name == "" || part.Price.IsNegative() || part.StockQty < 0 {
		return nil, store.ErrInvalidTransaction
	}
	now := time.Now().UTC()
	part.ID = s.nextID("spare_part")
	part.Active = true
	part.CreatedAt = now
	part.UpdatedAt = now
	s.spareParts[part.ID] = part
	return sparePartView(part), nil
}

func (s *Store) GetSparePart(_ context.Context, id int64) (*domain.SparePart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part, ok := s.spareParts[id]
	if !ok {
		return nil, fmt.Errorf("%w: spare part %d", store.ErrNotFound, id)
	}
	return sparePartView(part), nil
}

func (s *Store) ListSpareParts(_ context.Context, includeInactive bool) ([]domain.SparePart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SparePart, 0, len(s.spareParts))
	for _, p := range s.spareParts {
		if !p.Active && !includeInactive {
			continue
		}
		result = append(result, *sparePartView(p))
	}
	slices.SortFunc(result, func(a, b domain.SparePart) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) UpdateSparePart(_ context.Context, part domain.SparePart) (*domain.SparePart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.spareParts[part.ID]
	if !ok {
		return nil, fmt.Errorf("%w: spare part %d", store.ErrNotFound, part.ID)
	}
	if part.Name == "" || part.Price.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	part.StockQty = current.StockQty
	part.CreatedAt = current.CreatedAt
	part.UpdatedAt = time.Now().UTC()
	s.spareParts[part.ID] = part
	return sparePartView(part), nil
}

func (s *Store) AdjustSparePartStock(_ context.Context, id int64, delta int) (*domain.SparePart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.spareParts[id]
	if !ok {
		return nil, fmt.Errorf("%w: spare part %d", store.ErrNotFound, id)
	}
	qty, err := ledger.ApplyStockDelta(part.StockQty, delta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", part.Name, err)
	}
	part.StockQty = qty
	part.UpdatedAt = time.Now().UTC()
	s.spareParts[id] = part
	return sparePartView(part), nil
}

func (s *Store) CreateRepairService(_ context.Context, svc domain.RepairService) (*domain.RepairService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc.Name == "" || svc.Price.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	svc.ID = s.nextID("repair_service")
	svc.Active = true
	svc.CreatedAt = time.Now().UTC()
	s.repairServices[svc.ID] = svc
	created := svc
	return &created, nil
}

func (s *Store) GetRepairService(_ context.Context, id int64) (*domain.RepairService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.repairServices[id]
	if !ok {
		return nil, fmt.Errorf("%w: repair service %d", store.ErrNotFound, id)
	}
	return &svc, nil
}

func (s *Store) ListRepairServices(_ context.Context, includeInactive bool) ([]domain.RepairService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.RepairService, 0, len(s.repairServices))
	for _, svc := range s.repairServices {
		if !svc.Active && !includeInactive {
			continue
		}
		result = append(result, svc)
	}
	slices.SortFunc(result, func(a, b domain.RepairService) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) UpdateRepairService(_ context.Context, svc domain.RepairService) (*domain.RepairService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.repairServices[svc.ID]
	if !ok {
		return nil, fmt.Errorf("%w: repair service %d", store.ErrNotFound, svc.ID)
	}
	if svc.Name == "" || svc.Price.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	svc.CreatedAt = current.CreatedAt
	s.repairServices[svc.ID] = svc
	updated := svc
	return &updated, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(customer.Name) == "" {
		return nil, fmt.Errorf("%w: customer name is required", store.ErrInvalidTransaction)
	}
	customer.ID = s.nextID("customer")
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id int64) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, fmt.Errorf("%w: customer %d", store.ErrNotFound, id)
	}
	return &customer, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		return compareInt64(a.ID, b.ID)
	})
	return result, nil
}

func productView(p domain.Product) *domain.Product {
	p.StockStatus = ledger.StockStatus(p.StockQty, p.LowStockThreshold)
	return &p
}

func sparePartView(p domain.SparePart) *domain.SparePart {
	p.StockStatus = ledger.StockStatus(p.StockQty, p.LowStockThreshold)
	return &p
}

func compareInt64(a int64, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareNewest(a time.Time, b time.Time, aID string, bID string) int {
	if a.Equal(b) {
		return strings.Compare(bID, aID)
	}
	if a.After(b) {
		return -1
	}
	return 1
}
