package order

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

// CreatePickupOrder places a time-boxed local-pickup hold. Unlike standard
// checkout, the pickup path rejects insufficient stock up front: nothing is
// charged yet, so there is no reason to accept an order the shelf cannot
// cover.
func (s *service) CreatePickupOrder(ctx context.Context, input CreatePickupInput) (*CreatePickupResult, error) {
	if input.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if input.Email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("%w: reservation must contain at least one item", ErrValidation)
	}

	openHolds, err := s.orders.CountOpenPickupHolds(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to count open pickup holds: %w", err)
	}
	if openHolds >= maxOpenHoldsPerUser {
		return nil, ErrTooManyOpenHolds
	}

	ids := make([]uuid.UUID, 0, len(input.Items))
	for _, item := range input.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("service: failed to resolve products for pickup hold: %w", err)
	}

	// Deterministic item order so the first conflict reported is stable.
	sort.Slice(input.Items, func(i, j int) bool {
		return input.Items[i].ProductID.String() < input.Items[j].ProductID.String()
	})

	var subtotal float64
	items := make([]OrderItem, 0, len(input.Items))
	for _, in := range input.Items {
		p, ok := products[in.ProductID]
		if !ok {
			return nil, fmt.Errorf("service: unknown product %s: %w", in.ProductID, ErrProductNotFound)
		}
		if in.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %q must be positive", ErrValidation, p.Title)
		}
		if in.Quantity > p.Quantity {
			return nil, &StockConflictError{
				ProductID: p.ID,
				Title:     p.Title,
				Requested: in.Quantity,
				Available: p.Quantity,
			}
		}
		// Pricing comes from the authoritative product record, never the
		// client payload.
		subtotal += p.Price * float64(in.Quantity)
		items = append(items, OrderItem{
			ProductID:    p.ID,
			Quantity:     in.Quantity,
			PricePerUnit: p.Price,
			BrandSegment: p.BrandSegment,
		})
	}

	expiresAt := s.now().Add(s.holdTTL).UTC()
	o := &Order{
		UserID:       input.UserID,
		Email:        input.Email,
		Status:       StatusAwaitingPickup,
		TotalAmount:  subtotal,
		TrackingCode: TrackingCodePickup,
		ShippingInfo: ShippingInfo{
			Method:      ShippingMethodLocalPickup,
			ShippingFee: 0,
			Payment: &PaymentInfo{
				Method: "pay_at_pickup",
				Status: PaymentStatusPending,
			},
			Pickup: &PickupInfo{
				ReservationExpiresAt: &expiresAt,
				Window:               input.Window,
				Contact:              input.Contact,
				Notes:                input.Notes,
			},
		},
	}

	if err := s.orders.CreateOrder(ctx, o); err != nil {
		log.Error().Err(err).Stringer("user_id", input.UserID).Msg("service: failed to create pickup hold")
		return nil, fmt.Errorf("service: failed to create pickup hold: %w", err)
	}

	if err := s.orders.CreateOrderItems(ctx, o.ID, items); err != nil {
		if delErr := s.orders.DeleteOrder(ctx, o.ID); delErr != nil {
			log.Error().Err(delErr).Stringer("order_id", o.ID).Msg("service: failed to delete pickup hold after item insert failure; orphan order remains")
		}
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to create pickup hold items")
		return nil, fmt.Errorf("service: failed to create pickup hold items: %w", err)
	}
	o.OrderItems = items

	// Stock is reserved eagerly at hold creation, not at payment time.
	s.decrementStock(ctx, o)

	s.sendPickupEmails(o, expiresAt)

	log.Info().Stringer("order_id", o.ID).Stringer("user_id", o.UserID).Time("expires_at", expiresAt).Msg("service: pickup hold created")

	return &CreatePickupResult{Order: o, ExpiresAt: expiresAt}, nil
}

// MarkPaid records in-person payment on a pickup hold. A paid hold is
// never auto-canceled by expiry reconciliation.
func (s *service) MarkPaid(ctx context.Context, orderID uuid.UUID, proofURL string) error {
	o, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("service: failed to fetch order for mark-paid: %w", err)
	}

	info := o.ShippingInfo
	if info.Payment == nil {
		info.Payment = &PaymentInfo{}
	}
	info.Payment.Status = PaymentStatusPaid
	if proofURL != "" && info.Pickup != nil {
		info.Pickup.ProofURL = proofURL
		info.Pickup.ProofStatus = "approved"
	}

	if err := s.orders.UpdateShippingInfo(ctx, orderID, info); err != nil {
		return fmt.Errorf("service: failed to mark order %s paid: %w", orderID, err)
	}

	log.Info().Stringer("order_id", orderID).Msg("service: order marked paid")
	return nil
}

func (s *service) MarkPickedUp(ctx context.Context, orderID uuid.UUID) error {
	o, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("service: failed to fetch order for mark-picked-up: %w", err)
	}

	if o.Status != StatusAwaitingPickup {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, o.Status, StatusPickedUp)
	}

	if err := s.orders.UpdateOrderStatus(ctx, orderID, StatusPickedUp); err != nil {
		return fmt.Errorf("service: failed to mark order %s picked up: %w", orderID, err)
	}

	if o.ShippingInfo.Pickup != nil {
		info := o.ShippingInfo
		pickedUpAt := s.now().UTC()
		info.Pickup.PickedUpAt = &pickedUpAt
		if err := s.orders.UpdateShippingInfo(ctx, orderID, info); err != nil {
			log.Warn().Err(err).Stringer("order_id", orderID).Msg("service: failed to stamp picked_up_at")
		}
	}

	log.Info().Stringer("order_id", orderID).Msg("service: order picked up")
	return nil
}

// CancelExpiredPickups reconciles expired, unpaid pickup holds: restock
// every item, cancel the order, and stamp expired_at for audit. It is
// driven by an external trigger and safe to run repeatedly: the status
// filter excludes already-canceled orders, so a re-run is a no-op for
// them.
func (s *service) CancelExpiredPickups(ctx context.Context) (*ReconcileResult, error) {
	holds, err := s.orders.ListPickupOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list pickup holds: %w", err)
	}

	now := s.now()
	result := &ReconcileResult{}

	for i := range holds {
		o := &holds[i]

		pickup := o.ShippingInfo.Pickup
		if pickup == nil || pickup.ReservationExpiresAt == nil {
			continue
		}
		if !now.After(*pickup.ReservationExpiresAt) {
			continue
		}
		if o.ShippingInfo.IsPaid() {
			// Payment landed before pickup; the hold stays open however old
			// it is.
			continue
		}

		restocked, failed := s.restockItems(ctx, o)
		result.ItemsRestocked += restocked
		if failed > 0 {
			log.Warn().Stringer("order_id", o.ID).Int("failed", failed).Msg("service: some items failed to restock during expiry reconciliation")
		}

		if err := s.orders.UpdateOrderStatus(ctx, o.ID, StatusCanceled); err != nil {
			log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to cancel expired pickup hold")
			continue
		}
		result.OrdersCanceled++

		info := o.ShippingInfo
		expiredAt := now.UTC()
		info.Pickup.ExpiredAt = &expiredAt
		if err := s.orders.UpdateShippingInfo(ctx, o.ID, info); err != nil {
			log.Warn().Err(err).Stringer("order_id", o.ID).Msg("service: failed to stamp expired_at")
		}

		log.Info().Stringer("order_id", o.ID).Time("expired_at", expiredAt).Int("restocked", restocked).Msg("service: expired pickup hold canceled")
	}

	return result, nil
}
