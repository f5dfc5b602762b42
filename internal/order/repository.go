package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ListFilter narrows GetOrdersByUserID. A nil Status means all statuses.
type ListFilter struct {
	Status *OrderStatus
	Limit  int
	Offset int
}

// Repository persists orders and their items.
//
// CreateOrder and CreateOrderItems are deliberately separate writes with no
// shared transaction: the engine persists the order first, then the items,
// and compensates with DeleteOrder when the item write fails. Collapsing
// them into one transaction would change the engine's failure semantics.
type Repository interface {
	CreateOrder(ctx context.Context, o *Order) error
	CreateOrderItems(ctx context.Context, orderID uuid.UUID, items []OrderItem) error
	DeleteOrder(ctx context.Context, orderID uuid.UUID) error
	GetOrderByID(ctx context.Context, orderID uuid.UUID) (*Order, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus OrderStatus) error
	UpdateTrackingCode(ctx context.Context, orderID uuid.UUID, trackingCode string) error
	UpdateShippingInfo(ctx context.Context, orderID uuid.UUID, info ShippingInfo) error
	// ListPickupOrders returns awaiting_pickup orders whose metadata marks
	// local pickup, oldest first, items included.
	ListPickupOrders(ctx context.Context) ([]Order, error)
	// CountOpenPickupHolds counts the user's pickup orders still in an open
	// status (awaiting_pickup or pending).
	CountOpenPickupHolds(ctx context.Context, userID uuid.UUID) (int, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) CreateOrder(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		genID, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		o.ID = genID
	}

	infoJSON, err := json.Marshal(o.ShippingInfo)
	if err != nil {
		return fmt.Errorf("repository: failed to marshal shipping info: %w", err)
	}

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	query := `
		INSERT INTO orders (id, user_id, email, status, total_amount, tracking_code, points_used, shipping_info, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.Exec(ctx, query,
		o.ID,
		o.UserID,
		o.Email,
		string(o.Status),
		o.TotalAmount,
		o.TrackingCode,
		o.PointsUsed,
		infoJSON,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	return nil
}

func (r *postgresRepository) CreateOrderItems(ctx context.Context, orderID uuid.UUID, items []OrderItem) error {
	query := `
		INSERT INTO order_items (id, order_id, product_id, quantity, price_per_unit, brand_segment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	for i := range items {
		item := &items[i]

		itemID, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order item ID: %w", err)
		}
		item.ID = itemID
		item.OrderID = orderID
		item.CreatedAt = time.Now().UTC()

		_, err = r.db.Exec(ctx, query,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.Quantity,
			item.PricePerUnit,
			item.BrandSegment,
			item.CreatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
				return fmt.Errorf("repository: order item references unknown product %s: %w", item.ProductID, ErrProductNotFound)
			}
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", orderID, err)
		}
	}

	return nil
}

func (r *postgresRepository) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	// order_items cascade on delete
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to delete order %s: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}

const orderColumns = `id, user_id, email, status, total_amount, tracking_code, points_used, shipping_info, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var infoJSON []byte
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Email,
		&o.Status,
		&o.TotalAmount,
		&o.TrackingCode,
		&o.PointsUsed,
		&infoJSON,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(infoJSON) > 0 {
		if err := json.Unmarshal(infoJSON, &o.ShippingInfo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal shipping info for order %s: %w", o.ID, err)
		}
	}
	return &o, nil
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1
	`

	o, err := scanOrder(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", orderID, err)
	}

	items, err := r.getOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.OrderItems = items

	return o, nil
}

func (r *postgresRepository) getOrderItems(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, quantity, price_per_unit, brand_segment, created_at
		FROM order_items
		WHERE order_id = $1
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order %s: %w", orderID, err)
	}
	defer rows.Close()

	items := make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.PricePerUnit,
			&item.BrandSegment,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for order %s: %w", orderID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for order %s: %w", orderID, err)
	}

	return items, nil
}

func (r *postgresRepository) GetOrdersByUserID(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
	`
	args := []any{userID}

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return r.queryOrdersWithItems(ctx, query, args...)
}

func (r *postgresRepository) queryOrdersWithItems(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		o.OrderItems = make([]OrderItem, 0)
		ordersMap[o.ID] = o
		orderIDs = append(orderIDs, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders: %w", err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	itemsQuery := `
		SELECT id, order_id, product_id, quantity, price_per_unit, brand_segment, created_at
		FROM order_items
		WHERE order_id = ANY($1)
	`
	itemRows, err := r.db.Query(ctx, itemsQuery, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item OrderItem
		err := itemRows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.PricePerUnit,
			&item.BrandSegment,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		if o, ok := ordersMap[item.OrderID]; ok {
			o.OrderItems = append(o.OrderItems, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items: %w", err)
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		if o, ok := ordersMap[id]; ok {
			result = append(result, *o)
		}
	}

	return result, nil
}

func (r *postgresRepository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus OrderStatus) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3
	`

	cmdTag, err := r.db.Exec(ctx, query, string(newStatus), time.Now().UTC(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("new_status", newStatus).Msg("repository: failed to update order status")
		return fmt.Errorf("repository: failed to update order status for %s: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}

func (r *postgresRepository) UpdateTrackingCode(ctx context.Context, orderID uuid.UUID, trackingCode string) error {
	query := `
		UPDATE orders
		SET tracking_code = $1, updated_at = $2
		WHERE id = $3
	`

	cmdTag, err := r.db.Exec(ctx, query, trackingCode, time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to update tracking code for %s: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}

func (r *postgresRepository) UpdateShippingInfo(ctx context.Context, orderID uuid.UUID, info ShippingInfo) error {
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("repository: failed to marshal shipping info: %w", err)
	}

	query := `
		UPDATE orders
		SET shipping_info = $1, updated_at = $2
		WHERE id = $3
	`

	cmdTag, err := r.db.Exec(ctx, query, infoJSON, time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to update shipping info for %s: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}

func (r *postgresRepository) ListPickupOrders(ctx context.Context) ([]Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1
		  AND shipping_info @> $2
		ORDER BY created_at ASC
	`

	return r.queryOrdersWithItems(ctx, query,
		string(StatusAwaitingPickup),
		[]byte(`{"shipping_method":"local_pickup"}`),
	)
}

func (r *postgresRepository) CountOpenPickupHolds(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM orders
		WHERE user_id = $1
		  AND status = ANY($2)
		  AND shipping_info @> $3
	`

	var n int
	err := r.db.QueryRow(ctx, query,
		userID,
		[]string{string(StatusAwaitingPickup), string(StatusPending)},
		[]byte(`{"shipping_method":"local_pickup"}`),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to count open pickup holds for user %s: %w", userID, err)
	}

	return n, nil
}
