package cache

import (
	"context"
	"time"

	"repairpos/backend/internal/domain"
)

// SaleCache holds rendered sale views. Entries are dropped whenever a refund
// changes the sale, so a hit never shows stale refundable quantities.
type SaleCache interface {
	Get(ctx context.Context, saleID string) (*domain.Sale, bool, error)
	Set(ctx context.Context, sale *domain.Sale, ttl time.Duration) error
	Delete(ctx context.Context, saleID string) error
}

func SaleKey(saleID string) string {
	return "repairpos:sale:" + saleID
}

type NoopSaleCache struct{}

func (NoopSaleCache) Get(_ context.Context, _ string) (*domain.Sale, bool, error) {
	return nil, false, nil
}

func (NoopSaleCache) Set(_ context.Context, _ *domain.Sale, _ time.Duration) error {
	return nil
}

func (NoopSaleCache) Delete(_ context.Context, _ string) error {
	return nil
}
