package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
)

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Category{}, err
	}

	created, err := s.repo.CreateCategory(ctx, domain.Category{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		return domain.Category{}, err
	}
	s.logAudit(ctx, "category_create", "category", strconv.FormatInt(created.ID, 10), created.Name)
	return *created, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeInactive)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: product name is required", store.ErrInvalidTransaction)
	}
	if !req.Price.IsPositive() {
		return domain.Product{}, fmt.Errorf("%w: price must be greater than zero", store.ErrInvalidTransaction)
	}
	if req.InitialStock < 0 {
		return domain.Product{}, fmt.Errorf("%w: initial stock must not be negative", store.ErrInvalidTransaction)
	}
	threshold, err := s.threshold(req.LowStockThreshold)
	if err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		CategoryID:        req.CategoryID,
		SKU:               req.SKU,
		Name:              req.Name,
		Price:             req.Price.Round(2),
		StockQty:          req.InitialStock,
		LowStockThreshold: threshold,
		Active:            true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", strconv.FormatInt(created.ID, 10), fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.Price.StringFixed(2), created.StockQty))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: product name is required", store.ErrInvalidTransaction)
		}
		updated.Name = name
	}
	if req.CategoryID != nil {
		updated.CategoryID = *req.CategoryID
	}
	if req.Price != nil {
		if !req.Price.IsPositive() {
			return domain.Product{}, fmt.Errorf("%w: price must be greater than zero", store.ErrInvalidTransaction)
		}
		updated.Price = req.Price.Round(2)
	}
	if req.LowStockThreshold != nil {
		if *req.LowStockThreshold < 0 {
			return domain.Product{}, fmt.Errorf("%w: low stock threshold must not be negative", store.ErrInvalidTransaction)
		}
		updated.LowStockThreshold = *req.LowStockThreshold
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", strconv.FormatInt(saved.ID, 10), fmt.Sprintf("active=%t,price=%s,threshold=%d", saved.Active, saved.Price.StringFixed(2), saved.LowStockThreshold))
	return *saved, nil
}

func (s *Service) AdjustProductStock(ctx context.Context, id int64, req domain.StockAdjustmentRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}
	reason, err := validateAdjustment(req)
	if err != nil {
		return domain.Product{}, err
	}

	product, err := s.repo.AdjustProductStock(ctx, id, req.Delta)
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "product_stock_adjust", "product", strconv.FormatInt(id, 10), fmt.Sprintf("delta=%d,stock=%d,reason=%s", req.Delta, product.StockQty, reason))
	return *product, nil
}

func (s *Service) ListSpareParts(ctx context.Context, includeInactive bool) ([]domain.SparePart, error) {
	return s.repo.ListSpareParts(ctx, includeInactive)
}

func (s *Service) GetSparePart(ctx context.Context, id int64) (domain.SparePart, error) {
	part, err := s.repo.GetSparePart(ctx, id)
	if err != nil {
		return domain.SparePart{}, err
	}
	return *part, nil
}

func (s *Service) CreateSparePart(ctx context.Context, req domain.SparePartCreateRequest) (domain.SparePart, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.SparePart{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.SparePart{}, fmt.Errorf("%w: spare part name is required", store.ErrInvalidTransaction)
	}
	if req.Price.IsNegative() {
		return domain.SparePart{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidTransaction)
	}
	if req.InitialStock < 0 {
		return domain.SparePart{}, fmt.Errorf("%w: initial stock must not be negative", store.ErrInvalidTransaction)
	}
	threshold, err := s.threshold(req.LowStockThreshold)
	if err != nil {
		return domain.SparePart{}, err
	}

	created, err := s.repo.CreateSparePart(ctx, domain.SparePart{
		Name:              req.Name,
		Price:             req.Price.Round(2),
		StockQty:          req.InitialStock,
		LowStockThreshold: threshold,
		Active:            true,
	})
	if err != nil {
		return domain.SparePart{}, err
	}
	s.logAudit(ctx, "spare_part_create", "spare_part", strconv.FormatInt(created.ID, 10), fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.Price.StringFixed(2), created.StockQty))
	return *created, nil
}

func (s *Service) UpdateSparePart(ctx context.Context, id int64, req domain.SparePartUpdateRequest) (domain.SparePart, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.SparePart{}, err
	}

	existing, err := s.repo.GetSparePart(ctx, id)
	if err != nil {
		return domain.SparePart{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.SparePart{}, fmt.Errorf("%w: spare part name is required", store.ErrInvalidTransaction)
		}
		updated.Name = name
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.SparePart{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidTransaction)
		}
		updated.Price = req.Price.Round(2)
	}
	if req.LowStockThreshold != nil {
		if *req.LowStockThreshold < 0 {
			return domain.SparePart{}, fmt.Errorf("%w: low stock threshold must not be negative", store.ErrInvalidTransaction)
		}
		updated.LowStockThreshold = *req.LowStockThreshold
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateSparePart(ctx, updated)
	if err != nil {
		return domain.SparePart{}, err
	}
	s.logAudit(ctx, "spare_part_update", "spare_part", strconv.FormatInt(saved.ID, 10), fmt.Sprintf("active=%t,price=%s", saved.Active, saved.Price.StringFixed(2)))
	return *saved, nil
}

func (s *Service) AdjustSparePartStock(ctx context.Context, id int64, req domain.StockAdjustmentRequest) (domain.SparePart, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleTechnician); err != nil {
		return domain.SparePart{}, err
	}
	reason, err := validateAdjustment(req)
	if err != nil {
		return domain.SparePart{}, err
	}

	part, err := s.repo.AdjustSparePartStock(ctx, id, req.Delta)
	if err != nil {
		return domain.SparePart{}, err
	}
	s.logAudit(ctx, "spare_part_stock_adjust", "spare_part", strconv.FormatInt(id, 10), fmt.Sprintf("delta=%d,stock=%d,reason=%s", req.Delta, part.StockQty, reason))
	return *part, nil
}

func (s *Service) ListRepairServices(ctx context.Context, includeInactive bool) ([]domain.RepairService, error) {
	return s.repo.ListRepairServices(ctx, includeInactive)
}

func (s *Service) CreateRepairService(ctx context.Context, req domain.RepairServiceCreateRequest) (domain.RepairService, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.RepairService{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.RepairService{}, fmt.Errorf("%w: service name is required", store.ErrInvalidTransaction)
	}
	if req.Price.IsNegative() {
		return domain.RepairService{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidTransaction)
	}

	created, err := s.repo.CreateRepairService(ctx, domain.RepairService{
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Price:       req.Price.Round(2),
		Active:      true,
	})
	if err != nil {
		return domain.RepairService{}, err
	}
	s.logAudit(ctx, "repair_service_create", "repair_service", strconv.FormatInt(created.ID, 10), fmt.Sprintf("name=%s,price=%s", created.Name, created.Price.StringFixed(2)))
	return *created, nil
}

func (s *Service) UpdateRepairService(ctx context.Context, id int64, req domain.RepairServiceUpdateRequest) (domain.RepairService, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.RepairService{}, err
	}

	existing, err := s.repo.GetRepairService(ctx, id)
	if err != nil {
		return domain.RepairService{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.RepairService{}, fmt.Errorf("%w: service name is required", store.ErrInvalidTransaction)
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.RepairService{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidTransaction)
		}
		updated.Price = req.Price.Round(2)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateRepairService(ctx, updated)
	if err != nil {
		return domain.RepairService{}, err
	}
	s.logAudit(ctx, "repair_service_update", "repair_service", strconv.FormatInt(saved.ID, 10), fmt.Sprintf("active=%t,price=%s", saved.Active, saved.Price.StringFixed(2)))
	return *saved, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id int64) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name is required", store.ErrInvalidTransaction)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:  req.Name,
		Phone: strings.TrimSpace(req.Phone),
		Email: strings.ToLower(strings.TrimSpace(req.Email)),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", strconv.FormatInt(created.ID, 10), created.Name)
	return *created, nil
}

func (s *Service) threshold(requested *int) (int, error) {
	if requested == nil {
		return s.lowStockThreshold, nil
	}
	if *requested < 0 {
		return 0, fmt.Errorf("%w: low stock threshold must not be negative", store.ErrInvalidTransaction)
	}
	return *requested, nil
}

func validateAdjustment(req domain.StockAdjustmentRequest) (string, error) {
	if req.Delta == 0 {
		return "", fmt.Errorf("%w: delta must not be zero", store.ErrInvalidTransaction)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return "", fmt.Errorf("%w: reason is required for stock adjustments", store.ErrInvalidTransaction)
	}
	return reason, nil
}
