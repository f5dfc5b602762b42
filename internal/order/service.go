package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront-orders/internal/auth"
	"github.com/vasiliy-maslov/storefront-orders/internal/product"
	"github.com/vasiliy-maslov/storefront-orders/internal/user"
)

// Points redemption tiers: spending at least the tier's points takes the
// tier's share off the order subtotal.
const (
	pointsTierSmall     = 50
	pointsTierLarge     = 100
	discountRateSmall   = 0.05
	discountRateLarge   = 0.10
	maxOpenHoldsPerUser = 2

	defaultPickupHoldTTL = 48 * time.Hour
)

// Mailer accepts an email for background delivery. Enqueue must never
// block the caller's request.
type Mailer interface {
	Enqueue(to, subject, htmlBody string)
}

// CancelNoticeGuard suppresses duplicate cancellation emails for the same
// order. FirstNotice reports whether this is the first notice within the
// suppression window.
type CancelNoticeGuard interface {
	FirstNotice(ctx context.Context, orderID uuid.UUID) bool
}

type CreateOrderItemInput struct {
	ProductID    uuid.UUID
	Quantity     int
	PricePerUnit float64
	BrandSegment string
}

type CreateOrderInput struct {
	UserID       uuid.UUID
	Email        string
	Items        []CreateOrderItemInput
	PointsUsed   int
	TotalAmount  float64 // subtotal as charged by the payment processor
	ShippingFee  float64
	ShippingInfo ShippingInfo
}

type CreateOrderResult struct {
	Order      *Order
	Discount   float64
	PointsUsed int
}

type CreatePickupInput struct {
	UserID  uuid.UUID
	Email   string
	Items   []CreateOrderItemInput
	Window  string
	Contact string
	Notes   string
}

type CreatePickupResult struct {
	Order     *Order
	ExpiresAt time.Time
}

// CancelResult tallies per-item restock outcomes. Failed restocks do not
// block the cancellation itself.
type CancelResult struct {
	Order          *Order
	ItemsRestocked int
	ItemsFailed    int
}

type ReconcileResult struct {
	OrdersCanceled int
	ItemsRestocked int
}

type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error)
	CreatePickupOrder(ctx context.Context, input CreatePickupInput) (*CreatePickupResult, error)
	GetOrderByID(ctx context.Context, caller auth.Identity, orderID uuid.UUID) (*Order, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]Order, error)
	CancelOrder(ctx context.Context, caller auth.Identity, orderID uuid.UUID) (*CancelResult, error)
	SetOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus OrderStatus, trackingCode string) error
	MarkPaid(ctx context.Context, orderID uuid.UUID, proofURL string) error
	MarkPickedUp(ctx context.Context, orderID uuid.UUID) error
	CancelExpiredPickups(ctx context.Context) (*ReconcileResult, error)
	DeleteOrder(ctx context.Context, orderID uuid.UUID) error
}

// Deps carries the service's collaborators. Now and HoldTTL default to
// time.Now and 48 hours when zero.
type Deps struct {
	Orders     Repository
	Products   product.Repository
	Ledger     *product.Ledger
	Users      user.Repository
	Mailer     Mailer
	Guard      CancelNoticeGuard
	AdminEmail string
	HoldTTL    time.Duration
	Now        func() time.Time
}

type service struct {
	orders     Repository
	products   product.Repository
	ledger     *product.Ledger
	users      user.Repository
	mailer     Mailer
	guard      CancelNoticeGuard
	adminEmail string
	holdTTL    time.Duration
	now        func() time.Time
}

func NewService(d Deps) Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.HoldTTL <= 0 {
		d.HoldTTL = defaultPickupHoldTTL
	}
	return &service{
		orders:     d.Orders,
		products:   d.Products,
		ledger:     d.Ledger,
		users:      d.Users,
		mailer:     d.Mailer,
		guard:      d.Guard,
		adminEmail: d.AdminEmail,
		holdTTL:    d.HoldTTL,
		now:        d.Now,
	}
}

// discountFor maps the redeemed points to the tier's share of the subtotal.
func discountFor(pointsUsed int, subtotal float64) float64 {
	switch {
	case pointsUsed >= pointsTierLarge:
		return subtotal * discountRateLarge
	case pointsUsed >= pointsTierSmall:
		return subtotal * discountRateSmall
	default:
		return 0
	}
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	if input.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if input.Email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}
	if input.ShippingInfo.Method == "" {
		return nil, fmt.Errorf("%w: shipping info is required", ErrValidation)
	}
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %s must be positive", ErrValidation, item.ProductID)
		}
		if item.PricePerUnit < 0 {
			return nil, fmt.Errorf("%w: price for product %s cannot be negative", ErrValidation, item.ProductID)
		}
	}

	buyer, err := s.users.GetByID(ctx, input.UserID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, user.ErrUserNotFound
		}
		return nil, fmt.Errorf("service: failed to load buyer %s: %w", input.UserID, err)
	}
	if input.PointsUsed > buyer.Points {
		return nil, fmt.Errorf("%w: requested %d, balance %d", ErrInsufficientPoints, input.PointsUsed, buyer.Points)
	}

	discount := discountFor(input.PointsUsed, input.TotalAmount)
	shippingFee := input.ShippingFee
	if input.ShippingInfo.IsLocalPickup() {
		shippingFee = 0
	}
	finalTotal := math.Max(0, input.TotalAmount-discount+shippingFee)

	info := input.ShippingInfo
	info.ShippingFee = shippingFee

	o := &Order{
		UserID:       input.UserID,
		Email:        input.Email,
		Status:       StatusPending,
		TotalAmount:  finalTotal,
		PointsUsed:   input.PointsUsed,
		ShippingInfo: info,
	}

	items, err := s.buildOrderItems(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	if err := s.orders.CreateOrder(ctx, o); err != nil {
		log.Error().Err(err).Stringer("user_id", input.UserID).Msg("service: failed to create order")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	if err := s.orders.CreateOrderItems(ctx, o.ID, items); err != nil {
		// Compensating rollback: the order row exists without its items, so
		// best-effort delete it before surfacing the failure.
		if delErr := s.orders.DeleteOrder(ctx, o.ID); delErr != nil {
			log.Error().Err(delErr).Stringer("order_id", o.ID).Msg("service: failed to delete order after item insert failure; orphan order remains")
		}
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to create order items")
		if errors.Is(err, ErrProductNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service: failed to create order items: %w", err)
	}
	o.OrderItems = items

	s.decrementStock(ctx, o)

	newPoints := buyer.Points - input.PointsUsed + int(math.Floor(finalTotal))
	if err := s.users.UpdatePoints(ctx, buyer.ID, newPoints); err != nil {
		// The order is already committed; a points hiccup must not undo it.
		log.Error().Err(err).Stringer("user_id", buyer.ID).Int("points", newPoints).Msg("service: failed to update loyalty points")
	}

	s.sendOrderEmails(o, discount)

	log.Info().Stringer("order_id", o.ID).Stringer("user_id", o.UserID).Float64("total", finalTotal).Msg("service: order created")

	return &CreateOrderResult{Order: o, Discount: discount, PointsUsed: input.PointsUsed}, nil
}

// buildOrderItems snapshots unit price and brand segment per item,
// resolving the brand segment from the live product when the caller did
// not supply one.
func (s *service) buildOrderItems(ctx context.Context, inputs []CreateOrderItemInput) ([]OrderItem, error) {
	var missing []uuid.UUID
	for _, in := range inputs {
		if in.BrandSegment == "" {
			missing = append(missing, in.ProductID)
		}
	}

	segments := make(map[uuid.UUID]string)
	if len(missing) > 0 {
		products, err := s.products.GetByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("service: failed to resolve brand segments: %w", err)
		}
		for id, p := range products {
			segments[id] = p.BrandSegment
		}
	}

	items := make([]OrderItem, 0, len(inputs))
	for _, in := range inputs {
		segment := in.BrandSegment
		if segment == "" {
			segment = segments[in.ProductID]
		}
		items = append(items, OrderItem{
			ProductID:    in.ProductID,
			Quantity:     in.Quantity,
			PricePerUnit: in.PricePerUnit,
			BrandSegment: segment,
		})
	}

	return items, nil
}

// decrementStock applies the ledger decrement per item. Failures are
// logged, never fatal: the order is already committed, and a missing
// decrement is preferred over losing the order.
func (s *service) decrementStock(ctx context.Context, o *Order) {
	for _, item := range o.OrderItems {
		if _, err := s.ledger.Decrement(ctx, item.ProductID, item.Quantity); err != nil {
			log.Warn().Err(err).
				Stringer("order_id", o.ID).
				Stringer("product_id", item.ProductID).
				Int("qty", item.Quantity).
				Msg("service: stock decrement failed for committed order")
		}
	}
}

func (s *service) GetOrderByID(ctx context.Context, caller auth.Identity, orderID uuid.UUID) (*Order, error) {
	o, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	if !caller.IsAdmin() && o.UserID != caller.UserID {
		return nil, ErrNotOrderOwner
	}

	return o, nil
}

func (s *service) GetOrdersByUserID(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]Order, error) {
	orders, err := s.orders.GetOrdersByUserID(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}
	return orders, nil
}

func (s *service) CancelOrder(ctx context.Context, caller auth.Identity, orderID uuid.UUID) (*CancelResult, error) {
	o, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order for cancel: %w", err)
	}

	if !caller.IsAdmin() && o.UserID != caller.UserID {
		return nil, ErrNotOrderOwner
	}
	if o.Status != StatusPending {
		return nil, ErrOrderNotCancelable
	}

	restocked, failed := s.restockItems(ctx, o)

	if err := s.orders.UpdateOrderStatus(ctx, orderID, StatusCanceled); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to set order %s canceled: %w", orderID, err)
	}
	o.Status = StatusCanceled

	s.sendCancelEmails(ctx, o)

	log.Info().Stringer("order_id", orderID).Int("restocked", restocked).Int("failed", failed).Msg("service: order canceled")

	return &CancelResult{Order: o, ItemsRestocked: restocked, ItemsFailed: failed}, nil
}

// restockItems increments stock for every item, tallying per-item
// outcomes. A failed increment never blocks the cancellation.
func (s *service) restockItems(ctx context.Context, o *Order) (restocked, failed int) {
	for _, item := range o.OrderItems {
		if _, err := s.ledger.Increment(ctx, item.ProductID, item.Quantity); err != nil {
			failed++
			log.Warn().Err(err).
				Stringer("order_id", o.ID).
				Stringer("product_id", item.ProductID).
				Int("qty", item.Quantity).
				Msg("service: restock failed")
			continue
		}
		restocked++
	}
	return restocked, failed
}

// SetOrderStatus is the admin path: any of the fixed statuses may be set
// directly, without the customer path's pending-only restriction. It does
// not restock on cancellation; restocking is wired only into CancelOrder.
func (s *service) SetOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus OrderStatus, trackingCode string) error {
	if !adminSettable[newStatus] {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	o, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("service: failed to fetch order for status update: %w", err)
	}

	oldStatus := o.Status
	if oldStatus == newStatus && trackingCode == "" {
		log.Info().Stringer("order_id", orderID).Stringer("status", newStatus).Msg("service: order status already set, no update needed")
		return nil
	}

	if newStatus == StatusShipped && trackingCode != "" {
		if err := s.orders.UpdateTrackingCode(ctx, orderID, trackingCode); err != nil {
			return fmt.Errorf("service: failed to set tracking code: %w", err)
		}
		o.TrackingCode = trackingCode
	}

	if err := s.orders.UpdateOrderStatus(ctx, orderID, newStatus); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("service: failed to update order status: %w", err)
	}

	switch newStatus {
	case StatusShipped:
		s.sendShippedEmail(o)
	case StatusCanceled:
		s.sendCancelEmails(ctx, o)
	default:
		s.sendStatusEmail(o, newStatus)
	}

	log.Info().Stringer("order_id", orderID).Stringer("old_status", oldStatus).Stringer("new_status", newStatus).Msg("service: order status updated")
	return nil
}

func (s *service) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	if err := s.orders.DeleteOrder(ctx, orderID); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("service: failed to delete order %s: %w", orderID, err)
	}
	log.Info().Stringer("order_id", orderID).Msg("service: order deleted")
	return nil
}
