package order

import (
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrProductNotFound         = errors.New("product not found")
	ErrValidation              = errors.New("invalid order input")
	ErrNotOrderOwner           = errors.New("caller does not own this order")
	ErrOrderNotCancelable      = errors.New("only pending orders can be canceled")
	ErrInvalidStatus           = errors.New("invalid order status")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrTooManyOpenHolds        = errors.New("too many open pickup reservations")
	ErrInsufficientPoints      = errors.New("not enough loyalty points")
)

// StockConflictError names the product whose requested quantity exceeds the
// available stock on the pickup path.
type StockConflictError struct {
	ProductID uuid.UUID
	Title     string
	Requested int
	Available int
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("insufficient stock for product %q (%s): requested %d, available %d",
		e.Title, e.ProductID, e.Requested, e.Available)
}
