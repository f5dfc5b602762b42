package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrProductNotFound = errors.New("product not found")

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error)
	// DecrementQuantity subtracts qty from the product's quantity, clamping
	// at zero, and returns the updated product.
	DecrementQuantity(ctx context.Context, id uuid.UUID, qty int) (*Product, error)
	// IncrementQuantity adds qty to the product's quantity and returns the
	// updated product.
	IncrementQuantity(ctx context.Context, id uuid.UUID, qty int) (*Product, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const productColumns = `id, title, price, quantity, brand_segment, category_slug, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Price,
		&p.Quantity,
		&p.BrandSegment,
		&p.CategorySlug,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = $1
	`

	p, err := scanProduct(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product by id %s: %w", id, err)
	}
	return p, nil
}

func (r *postgresRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to select products by ids: %w", err)
	}
	defer rows.Close()

	products := make(map[uuid.UUID]Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan product: %w", err)
		}
		products[p.ID] = *p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating products: %w", err)
	}

	return products, nil
}

// DecrementQuantity uses a single conditional UPDATE so that concurrent
// decrements against the same product never interleave a stale read. The
// GREATEST clamp means an over-decrement floors the quantity at zero
// instead of failing.
func (r *postgresRepository) DecrementQuantity(ctx context.Context, id uuid.UUID, qty int) (*Product, error) {
	query := `
		UPDATE products
		SET quantity = GREATEST(0, quantity - $2), updated_at = $3
		WHERE id = $1
		RETURNING ` + productColumns + `
	`

	p, err := scanProduct(r.db.QueryRow(ctx, query, id, qty, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to decrement quantity for product %s: %w", id, err)
	}
	return p, nil
}

func (r *postgresRepository) IncrementQuantity(ctx context.Context, id uuid.UUID, qty int) (*Product, error) {
	query := `
		UPDATE products
		SET quantity = quantity + $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + productColumns + `
	`

	p, err := scanProduct(r.db.QueryRow(ctx, query, id, qty, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to increment quantity for product %s: %w", id, err)
	}
	return p, nil
}
