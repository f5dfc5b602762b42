package order

import (
	"time"

	"github.com/gofrs/uuid"
)

type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusShipped        OrderStatus = "shipped"
	StatusDelivered      OrderStatus = "delivered"
	StatusCanceled       OrderStatus = "canceled"
	StatusAwaitingPickup OrderStatus = "awaiting_pickup"
	StatusPickedUp       OrderStatus = "picked_up"
)

func (os OrderStatus) String() string {
	return string(os)
}

// adminSettable is the fixed set an admin status update may choose from.
var adminSettable = map[OrderStatus]bool{
	StatusPending:   true,
	StatusShipped:   true,
	StatusDelivered: true,
	StatusCanceled:  true,
}

const (
	ShippingMethodStandard    = "standard"
	ShippingMethodLocalPickup = "local_pickup"
)

const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
)

// TrackingCodePickup is the tracking placeholder for local-pickup orders.
const TrackingCodePickup = "Pickup"

type PaymentInfo struct {
	Method    string `json:"method,omitempty"`
	Status    string `json:"status,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// PickupInfo is the pickup sub-state of a local-pickup order. ExpiredAt is
// stamped by expiry reconciliation for audit.
type PickupInfo struct {
	ReservationExpiresAt *time.Time `json:"reservation_expires_at,omitempty"`
	Window               string     `json:"window,omitempty"`
	Contact              string     `json:"contact,omitempty"`
	Notes                string     `json:"notes,omitempty"`
	ProofURL             string     `json:"proof_url,omitempty"`
	ProofStatus          string     `json:"proof_status,omitempty"`
	ExpiredAt            *time.Time `json:"expired_at,omitempty"`
	PickedUpAt           *time.Time `json:"picked_up_at,omitempty"`
}

// ShippingInfo is the order's metadata bag. It is a typed structure in code
// but serialized to a single jsonb column, so new sub-state needs no
// migration.
type ShippingInfo struct {
	Method      string       `json:"shipping_method"`
	ShippingFee float64      `json:"shipping_fee"`
	Carrier     string       `json:"carrier,omitempty"`
	Address     string       `json:"address,omitempty"`
	Payment     *PaymentInfo `json:"payment,omitempty"`
	Pickup      *PickupInfo  `json:"pickup,omitempty"`
}

func (si ShippingInfo) IsLocalPickup() bool {
	return si.Method == ShippingMethodLocalPickup
}

func (si ShippingInfo) IsPaid() bool {
	return si.Payment != nil && si.Payment.Status == PaymentStatusPaid
}

// OrderItem carries a snapshot of unit price and brand segment taken at
// order time. Later product edits must never alter these.
type OrderItem struct {
	ID           uuid.UUID `json:"id" db:"id"`
	OrderID      uuid.UUID `json:"order_id" db:"order_id"`
	ProductID    uuid.UUID `json:"product_id" db:"product_id"`
	Quantity     int       `json:"quantity" db:"quantity"`
	PricePerUnit float64   `json:"price_per_unit" db:"price_per_unit"`
	BrandSegment string    `json:"brand_segment" db:"brand_segment"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type Order struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	UserID       uuid.UUID    `json:"user_id" db:"user_id"`
	Email        string       `json:"email" db:"email"`
	Status       OrderStatus  `json:"status" db:"status"`
	TotalAmount  float64      `json:"total_amount" db:"total_amount"`
	TrackingCode string       `json:"tracking_code" db:"tracking_code"`
	PointsUsed   int          `json:"points_used" db:"points_used"`
	ShippingInfo ShippingInfo `json:"shipping_info" db:"shipping_info"`
	OrderItems   []OrderItem  `json:"order_items" db:"-"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

// IsOpenHold reports whether the order counts against the per-user limit
// on concurrent pickup reservations.
func (o *Order) IsOpenHold() bool {
	if !o.ShippingInfo.IsLocalPickup() {
		return false
	}
	return o.Status == StatusAwaitingPickup || o.Status == StatusPending
}
