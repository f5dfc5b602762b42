package order_test

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/storefront-orders/internal/order"
	"github.com/vasiliy-maslov/storefront-orders/internal/product"
)

func pickupCatalog() map[uuid.UUID]product.Product {
	return map[uuid.UUID]product.Product{
		productP1: {ID: productP1, Title: "Gel polish - coral", Price: 12.50, Quantity: 5, BrandSegment: "gel"},
		productP2: {ID: productP2, Title: "Plush dino", Price: 8.00, Quantity: 1, BrandSegment: "kids"},
	}
}

func pickupInput() order.CreatePickupInput {
	return order.CreatePickupInput{
		UserID:  buyerID,
		Email:   "buyer@example.com",
		Items:   []order.CreateOrderItemInput{{ProductID: productP1, Quantity: 2}},
		Window:  "Sat 10:00-12:00",
		Contact: "+1 555 0100",
	}
}

func TestService_CreatePickupOrder_HoldCap(t *testing.T) {
	env := newServiceEnv()
	env.orders.countOpenHoldsFunc = func(ctx context.Context, userID uuid.UUID) (int, error) {
		return 2, nil
	}
	created := false
	env.orders.createOrderFunc = func(ctx context.Context, o *order.Order) error {
		created = true
		return nil
	}
	svc := env.build()

	_, err := svc.CreatePickupOrder(context.Background(), pickupInput())

	assert.ErrorIs(t, err, order.ErrTooManyOpenHolds)
	assert.False(t, created, "a third open hold must not reach the database")
}

func TestService_CreatePickupOrder_UnknownProduct(t *testing.T) {
	env := newServiceEnv()
	env.products.getByIDsFunc = func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]product.Product, error) {
		return map[uuid.UUID]product.Product{}, nil
	}
	svc := env.build()

	_, err := svc.CreatePickupOrder(context.Background(), pickupInput())

	assert.ErrorIs(t, err, order.ErrProductNotFound)
}

func TestService_CreatePickupOrder_StockConflict(t *testing.T) {
	env := newServiceEnv()
	env.products.getByIDsFunc = func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]product.Product, error) {
		return pickupCatalog(), nil
	}
	created := false
	env.orders.createOrderFunc = func(ctx context.Context, o *order.Order) error {
		created = true
		return nil
	}
	svc := env.build()

	input := pickupInput()
	input.Items = []order.CreateOrderItemInput{{ProductID: productP2, Quantity: 2}}

	_, err := svc.CreatePickupOrder(context.Background(), input)

	var conflict *order.StockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, productP2, conflict.ProductID)
	assert.Equal(t, "Plush dino", conflict.Title)
	assert.Equal(t, 2, conflict.Requested)
	assert.Equal(t, 1, conflict.Available)
	assert.False(t, created, "no rows are written when stock cannot cover the hold")
}

func TestService_CreatePickupOrder_Success(t *testing.T) {
	fixedNow := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	env := newServiceEnv()
	env.now = func() time.Time { return fixedNow }
	env.products.getByIDsFunc = func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]product.Product, error) {
		return pickupCatalog(), nil
	}

	var decremented []uuid.UUID
	env.products.decrementFunc = func(ctx context.Context, id uuid.UUID, qty int) (*product.Product, error) {
		decremented = append(decremented, id)
		return &product.Product{ID: id}, nil
	}

	svc := env.build()

	input := pickupInput()
	// Client-supplied prices are ignored on the pickup path.
	input.Items[0].PricePerUnit = 0.01

	result, err := svc.CreatePickupOrder(context.Background(), input)
	require.NoError(t, err)

	o := result.Order
	assert.Equal(t, order.StatusAwaitingPickup, o.Status)
	assert.Equal(t, order.TrackingCodePickup, o.TrackingCode)
	assert.InDelta(t, 25.00, o.TotalAmount, 1e-9, "subtotal comes from the catalog price")
	assert.Equal(t, order.ShippingMethodLocalPickup, o.ShippingInfo.Method)

	require.NotNil(t, o.ShippingInfo.Payment)
	assert.Equal(t, order.PaymentStatusPending, o.ShippingInfo.Payment.Status)

	require.NotNil(t, o.ShippingInfo.Pickup)
	require.NotNil(t, o.ShippingInfo.Pickup.ReservationExpiresAt)
	assert.Equal(t, fixedNow.Add(48*time.Hour), *o.ShippingInfo.Pickup.ReservationExpiresAt)
	assert.Equal(t, fixedNow.Add(48*time.Hour), result.ExpiresAt)
	assert.Equal(t, "Sat 10:00-12:00", o.ShippingInfo.Pickup.Window)

	assert.Equal(t, []uuid.UUID{productP1}, decremented, "stock is reserved at hold creation")
	assert.Equal(t, 2, env.mailer.count())
}

func TestService_MarkPaid(t *testing.T) {
	env := newServiceEnv()
	expiry := time.Now().Add(24 * time.Hour)
	o := &order.Order{
		ID:     uuid.Must(uuid.NewV4()),
		UserID: buyerID,
		Status: order.StatusAwaitingPickup,
		ShippingInfo: order.ShippingInfo{
			Method:  order.ShippingMethodLocalPickup,
			Payment: &order.PaymentInfo{Method: "pay_at_pickup", Status: order.PaymentStatusPending},
			Pickup:  &order.PickupInfo{ReservationExpiresAt: &expiry},
		},
	}
	env.orders.getOrderByIDFunc = func(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
		return o, nil
	}
	var saved order.ShippingInfo
	env.orders.updateShippingFunc = func(ctx context.Context, orderID uuid.UUID, info order.ShippingInfo) error {
		saved = info
		return nil
	}
	svc := env.build()

	err := svc.MarkPaid(context.Background(), o.ID, "https://proofs.example/123.jpg")
	require.NoError(t, err)

	require.NotNil(t, saved.Payment)
	assert.Equal(t, order.PaymentStatusPaid, saved.Payment.Status)
	require.NotNil(t, saved.Pickup)
	assert.Equal(t, "https://proofs.example/123.jpg", saved.Pickup.ProofURL)
	assert.Equal(t, "approved", saved.Pickup.ProofStatus)
}

func TestService_MarkPickedUp(t *testing.T) {
	t.Run("requires_awaiting_pickup", func(t *testing.T) {
		env := newServiceEnv()
		env.orders.getOrderByIDFunc = func(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
			return &order.Order{ID: orderID, Status: order.StatusPending}, nil
		}
		svc := env.build()

		err := svc.MarkPickedUp(context.Background(), uuid.Must(uuid.NewV4()))

		assert.ErrorIs(t, err, order.ErrInvalidStatusTransition)
	})

	t.Run("stamps_picked_up_at", func(t *testing.T) {
		fixedNow := time.Date(2025, 6, 2, 15, 30, 0, 0, time.UTC)
		env := newServiceEnv()
		env.now = func() time.Time { return fixedNow }
		env.orders.getOrderByIDFunc = func(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
			return &order.Order{
				ID:     orderID,
				Status: order.StatusAwaitingPickup,
				ShippingInfo: order.ShippingInfo{
					Method: order.ShippingMethodLocalPickup,
					Pickup: &order.PickupInfo{},
				},
			}, nil
		}
		var statusSet order.OrderStatus
		env.orders.updateStatusFunc = func(ctx context.Context, orderID uuid.UUID, newStatus order.OrderStatus) error {
			statusSet = newStatus
			return nil
		}
		var saved order.ShippingInfo
		env.orders.updateShippingFunc = func(ctx context.Context, orderID uuid.UUID, info order.ShippingInfo) error {
			saved = info
			return nil
		}
		svc := env.build()

		err := svc.MarkPickedUp(context.Background(), uuid.Must(uuid.NewV4()))

		require.NoError(t, err)
		assert.Equal(t, order.StatusPickedUp, statusSet)
		require.NotNil(t, saved.Pickup)
		require.NotNil(t, saved.Pickup.PickedUpAt)
		assert.Equal(t, fixedNow, *saved.Pickup.PickedUpAt)
	})
}

func expiringHold(id uuid.UUID, expiresAt time.Time, paid bool) order.Order {
	status := order.PaymentStatusPending
	if paid {
		status = order.PaymentStatusPaid
	}
	return order.Order{
		ID:     id,
		UserID: buyerID,
		Email:  "buyer@example.com",
		Status: order.StatusAwaitingPickup,
		ShippingInfo: order.ShippingInfo{
			Method:  order.ShippingMethodLocalPickup,
			Payment: &order.PaymentInfo{Method: "pay_at_pickup", Status: status},
			Pickup:  &order.PickupInfo{ReservationExpiresAt: &expiresAt},
		},
		OrderItems: []order.OrderItem{{ProductID: productP1, Quantity: 2, PricePerUnit: 12.50}},
	}
}

func TestService_CancelExpiredPickups(t *testing.T) {
	placedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	expiry := placedAt.Add(48 * time.Hour)

	expiredID := uuid.Must(uuid.NewV4())
	freshID := uuid.Must(uuid.NewV4())
	paidID := uuid.Must(uuid.NewV4())
	noExpiryID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name          string
		now           time.Time
		wantCanceled  int
		wantRestocked int
	}{
		{
			name:          "just_before_expiry",
			now:           expiry.Add(-time.Minute),
			wantCanceled:  0,
			wantRestocked: 0,
		},
		{
			name:          "just_after_expiry",
			now:           expiry.Add(time.Minute),
			wantCanceled:  1,
			wantRestocked: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newServiceEnv()
			env.now = func() time.Time { return tt.now }
			env.orders.listPickupOrdersFunc = func(ctx context.Context) ([]order.Order, error) {
				noExpiry := expiringHold(noExpiryID, expiry, false)
				noExpiry.ShippingInfo.Pickup.ReservationExpiresAt = nil
				return []order.Order{
					expiringHold(expiredID, expiry, false),
					expiringHold(freshID, expiry.Add(72*time.Hour), false),
					expiringHold(paidID, expiry, true),
					noExpiry,
				}, nil
			}

			var canceled []uuid.UUID
			env.orders.updateStatusFunc = func(ctx context.Context, orderID uuid.UUID, newStatus order.OrderStatus) error {
				if newStatus == order.StatusCanceled {
					canceled = append(canceled, orderID)
				}
				return nil
			}

			var stamped order.ShippingInfo
			env.orders.updateShippingFunc = func(ctx context.Context, orderID uuid.UUID, info order.ShippingInfo) error {
				stamped = info
				return nil
			}

			svc := env.build()

			result, err := svc.CancelExpiredPickups(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.wantCanceled, result.OrdersCanceled)
			assert.Equal(t, tt.wantRestocked, result.ItemsRestocked)

			if tt.wantCanceled == 0 {
				assert.Empty(t, canceled)
				return
			}
			assert.Equal(t, []uuid.UUID{expiredID}, canceled, "only the expired unpaid hold is released")
			require.NotNil(t, stamped.Pickup)
			require.NotNil(t, stamped.Pickup.ExpiredAt)
			assert.Equal(t, tt.now.UTC(), *stamped.Pickup.ExpiredAt)

			// A second pass no longer sees the canceled hold, so the re-run is
			// a no-op.
			env.orders.listPickupOrdersFunc = func(ctx context.Context) ([]order.Order, error) {
				return []order.Order{
					expiringHold(freshID, expiry.Add(72*time.Hour), false),
					expiringHold(paidID, expiry, true),
				}, nil
			}
			rerun, err := svc.CancelExpiredPickups(context.Background())
			require.NoError(t, err)
			assert.Zero(t, rerun.OrdersCanceled)
			assert.Zero(t, rerun.ItemsRestocked)
		})
	}
}
