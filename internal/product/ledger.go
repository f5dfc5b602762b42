package product

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

// Ledger is the single write path for product stock. Order logic never
// touches product quantity except through Decrement and Increment, one
// product row mutation per call.
//
// The postgres repository backs both operations with a single-statement
// conditional UPDATE, so concurrent callers for the same product cannot
// lose a decrement. A read-then-write store behind the same Repository
// interface would reopen that window between its read and its write; any
// such fallback is best-effort only.
type Ledger struct {
	repo Repository
}

func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// normalizeQty treats absent or non-positive quantities as 1.
func normalizeQty(qty int) int {
	if qty < 1 {
		return 1
	}
	return qty
}

// Decrement subtracts qty from the product's available quantity, clamping
// at zero. Over-decrement does not fail: stock accounting here is best
// effort, not strict reservation.
func (l *Ledger) Decrement(ctx context.Context, productID uuid.UUID, qty int) (*Product, error) {
	qty = normalizeQty(qty)

	p, err := l.repo.DecrementQuantity(ctx, productID, qty)
	if err != nil {
		log.Error().Err(err).Stringer("product_id", productID).Int("qty", qty).Msg("ledger: failed to decrement stock")
		return nil, err
	}

	log.Debug().Stringer("product_id", productID).Int("qty", qty).Int("remaining", p.Quantity).Msg("ledger: stock decremented")
	return p, nil
}

// Increment adds qty back to the product's available quantity. Used for
// restocking on cancellation and reservation expiry.
func (l *Ledger) Increment(ctx context.Context, productID uuid.UUID, qty int) (*Product, error) {
	qty = normalizeQty(qty)

	p, err := l.repo.IncrementQuantity(ctx, productID, qty)
	if err != nil {
		log.Error().Err(err).Stringer("product_id", productID).Int("qty", qty).Msg("ledger: failed to increment stock")
		return nil, err
	}

	log.Debug().Stringer("product_id", productID).Int("qty", qty).Int("remaining", p.Quantity).Msg("ledger: stock incremented")
	return p, nil
}
