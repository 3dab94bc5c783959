// Package ledger holds the sale, refund, repair and payment rules that every
// repository applies inside its own unit of work. Nothing here performs I/O.
package ledger

import (
	"fmt"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
)

const DefaultLowStockThreshold = 5

// DeductStock fails closed: the on-hand quantity is returned unchanged with
// ErrInsufficientStock when qty exceeds it.
func DeductStock(onHand int, qty int) (int, error) {
	if qty < 1 {
		return onHand, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidTransaction)
	}
	if onHand < qty {
		return onHand, fmt.Errorf("%w: have %d, requested %d", store.ErrInsufficientStock, onHand, qty)
	}
	return onHand - qty, nil
}

func AddStock(onHand int, qty int) (int, error) {
	if qty < 1 {
		return onHand, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidTransaction)
	}
	return onHand + qty, nil
}

// ApplyStockDelta routes a signed manual adjustment to AddStock or DeductStock.
func ApplyStockDelta(onHand int, delta int) (int, error) {
	switch {
	case delta > 0:
		return AddStock(onHand, delta)
	case delta < 0:
		return DeductStock(onHand, -delta)
	default:
		return onHand, fmt.Errorf("%w: stock delta must not be zero", store.ErrInvalidTransaction)
	}
}

func StockStatus(qty int, threshold int) string {
	switch {
	case qty <= 0:
		return domain.StockStatusOutOfStock
	case qty <= threshold:
		return domain.StockStatusLowStock
	default:
		return domain.StockStatusInStock
	}
}
