package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/ledger"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/xid"
)

// CreateSale returns the previously stored sale, not an error, when the
// idempotency key was already used. Callers compare IDs to detect replays.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale, lines []domain.SaleLine) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.IdempotencyKey != "" {
		if existingID, ok := s.salesByIdem[sale.IdempotencyKey]; ok {
			return s.saleView(existingID), nil
		}
	}
	if sale.ReferenceNo == "" {
		return nil, fmt.Errorf("%w: reference is required", store.ErrInvalidTransaction)
	}
	if _, taken := s.salesByRef[sale.ReferenceNo]; taken {
		return nil, fmt.Errorf("%w: %s", store.ErrDuplicateReference, sale.ReferenceNo)
	}

	locked := make(map[int64]domain.Product, len(lines))
	for _, line := range lines {
		if p, ok := s.products[line.ProductID]; ok {
			locked[line.ProductID] = p
		}
	}
	items, err := ledger.PrepareSale(&sale, lines, locked)
	if err != nil {
		return nil, err
	}

	// Every line was checked against stock above; nothing below can fail.
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.UpdatedAt = sale.CreatedAt
	for i := range items {
		items[i].ID = xid.New("sli")
		items[i].SaleID = sale.ID

		product := locked[items[i].ProductID]
		product.StockQty -= items[i].Quantity
		product.UpdatedAt = sale.CreatedAt
		s.products[product.ID] = product
	}
	sale.Items = items
	sale.Refunds = nil

	stored := cloneSale(&sale)
	s.salesByID[sale.ID] = stored
	s.salesByRef[sale.ReferenceNo] = sale.ID
	if sale.IdempotencyKey != "" {
		s.salesByIdem[sale.IdempotencyKey] = sale.ID
	}
	return s.saleView(sale.ID), nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.salesByID[id]; !ok {
		return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, id)
	}
	return s.saleView(id), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.saleView(id), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 64)
	for id, sale := range s.salesByID {
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !sale.CreatedAt.Before(*filter.To) {
			continue
		}
		result = append(result, *s.saleView(id))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		return compareNewest(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ApplySaleRefund(_ context.Context, saleID string, lines []domain.RefundLine, reason string, actor string, at time.Time) (*domain.Sale, []domain.RefundedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.salesByID[saleID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, saleID)
	}
	working := cloneSale(stored)

	rows, err := ledger.PlanRefund(working, lines, reason, actor, at)
	if err != nil {
		return nil, nil, err
	}

	restock := make(map[int64]int, len(rows))
	for _, row := range rows {
		if _, ok := s.products[row.ProductID]; !ok {
			return nil, nil, fmt.Errorf("%w: product %d", store.ErrNotFound, row.ProductID)
		}
		restock[row.ProductID] += row.Quantity
	}
	for productID, qty := range restock {
		product := s.products[productID]
		next, err := ledger.AddStock(product.StockQty, qty)
		if err != nil {
			return nil, nil, err
		}
		product.StockQty = next
		product.UpdatedAt = at
		s.products[productID] = product
	}

	ledger.ApplyRefundTotals(working, append(working.Refunds, rows...), at)
	s.salesByID[saleID] = cloneSale(working)

	return s.saleView(saleID), slices.Clone(rows), nil
}

// saleView must be called with the lock held.
func (s *Store) saleView(id string) *domain.Sale {
	sale := cloneSale(s.salesByID[id])
	ledger.AnnotateRefunds(sale)
	return sale
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = slices.Clone(src.Items)
	dup.Refunds = slices.Clone(src.Refunds)
	if dup.Items == nil {
		dup.Items = []domain.SaleLineItem{}
	}
	return &dup
}
