package product

import (
	"time"

	"github.com/gofrs/uuid"
)

type Product struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Title        string    `json:"title" db:"title"`
	Price        float64   `json:"price" db:"price"`
	Quantity     int       `json:"quantity" db:"quantity"`
	BrandSegment string    `json:"brand_segment" db:"brand_segment"`
	CategorySlug string    `json:"category_slug" db:"category_slug"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
