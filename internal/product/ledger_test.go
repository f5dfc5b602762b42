package product

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStockRepo mimics the postgres clamp-at-zero semantics in memory.
type fakeStockRepo struct {
	stock map[uuid.UUID]int
}

func (f *fakeStockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	qty, ok := f.stock[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &Product{ID: id, Quantity: qty}, nil
}

func (f *fakeStockRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	out := make(map[uuid.UUID]Product)
	for _, id := range ids {
		if qty, ok := f.stock[id]; ok {
			out[id] = Product{ID: id, Quantity: qty}
		}
	}
	return out, nil
}

func (f *fakeStockRepo) DecrementQuantity(ctx context.Context, id uuid.UUID, qty int) (*Product, error) {
	current, ok := f.stock[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	next := current - qty
	if next < 0 {
		next = 0
	}
	f.stock[id] = next
	return &Product{ID: id, Quantity: next}, nil
}

func (f *fakeStockRepo) IncrementQuantity(ctx context.Context, id uuid.UUID, qty int) (*Product, error) {
	current, ok := f.stock[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	f.stock[id] = current + qty
	return &Product{ID: id, Quantity: current + qty}, nil
}

func TestLedger_Decrement_NormalizesQuantity(t *testing.T) {
	tests := []struct {
		name     string
		qty      int
		wantLeft int
	}{
		{name: "zero_becomes_one", qty: 0, wantLeft: 4},
		{name: "negative_becomes_one", qty: -3, wantLeft: 4},
		{name: "positive_passes_through", qty: 2, wantLeft: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := uuid.Must(uuid.NewV4())
			repo := &fakeStockRepo{stock: map[uuid.UUID]int{id: 5}}
			ledger := NewLedger(repo)

			p, err := ledger.Decrement(context.Background(), id, tt.qty)

			require.NoError(t, err)
			assert.Equal(t, tt.wantLeft, p.Quantity)
		})
	}
}

func TestLedger_Decrement_ClampsAtZero(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	repo := &fakeStockRepo{stock: map[uuid.UUID]int{id: 3}}
	ledger := NewLedger(repo)

	p, err := ledger.Decrement(context.Background(), id, 10)

	require.NoError(t, err, "over-decrement is clamped, not rejected")
	assert.Zero(t, p.Quantity)

	// Further decrements stay at zero.
	p, err = ledger.Decrement(context.Background(), id, 1)
	require.NoError(t, err)
	assert.Zero(t, p.Quantity)
}

func TestLedger_IncrementAfterClamp(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	repo := &fakeStockRepo{stock: map[uuid.UUID]int{id: 1}}
	ledger := NewLedger(repo)

	_, err := ledger.Decrement(context.Background(), id, 5)
	require.NoError(t, err)

	p, err := ledger.Increment(context.Background(), id, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Quantity, "restock starts from the clamped floor, not a negative balance")
}

func TestLedger_UnknownProduct(t *testing.T) {
	repo := &fakeStockRepo{stock: map[uuid.UUID]int{}}
	ledger := NewLedger(repo)

	_, err := ledger.Decrement(context.Background(), uuid.Must(uuid.NewV4()), 1)
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = ledger.Increment(context.Background(), uuid.Must(uuid.NewV4()), 1)
	assert.ErrorIs(t, err, ErrProductNotFound)
}
