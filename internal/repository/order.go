package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/ordergenie-engine/internal/domain/order"
)

const (
	nextOrderNumberSQL = `INSERT INTO order_sequences (restaurant_id, day, seq) VALUES ($1, $2, 1)
		ON CONFLICT (restaurant_id, day) DO UPDATE SET seq = order_sequences.seq + 1
		RETURNING seq`

	createOrderSQL = `INSERT INTO orders (id, restaurant_id, order_number, customer_id, type, status, payment_status,
		customer, delivery_address, subtotal, tax_amount, delivery_fee, discount_amount, total, refunded_amount,
		promo_code_id, promo_code, notes, stock_reserved, pickup_time, estimated_ready_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		NULLIF($16, ''), $17, $18, $19, $20, $21, $22, $23)`

	createOrderItemSQL = `INSERT INTO order_items (id, order_id, position, menu_item_id, name, quantity,
		unit_price, line_total, customizations, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	selectOrderSQL = `SELECT id, restaurant_id, order_number, customer_id, type, status, payment_status,
		customer, delivery_address, subtotal, tax_amount, delivery_fee, discount_amount, total, refunded_amount,
		COALESCE(promo_code_id, ''), promo_code, notes, refund_reason, payment_reference, stock_reserved,
		pickup_time, estimated_ready_at, created_at, updated_at, completed_at
		FROM orders WHERE id = $1`

	getOrderSQL          = selectOrderSQL
	getOrderForUpdateSQL = selectOrderSQL + ` FOR UPDATE`

	getOrderItemsSQL = `SELECT id, menu_item_id, name, quantity, unit_price, line_total, customizations, notes
		FROM order_items WHERE order_id = $1 ORDER BY position`

	updateOrderSQL = `UPDATE orders SET status = $2, payment_status = $3, refunded_amount = $4,
		refund_reason = $5, payment_reference = $6, updated_at = $7, completed_at = $8
		WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	q DBTX
}

// NewOrderRepository returns an OrderRepository that uses q.
func NewOrderRepository(q DBTX) *OrderRepository {
	return &OrderRepository{q: q}
}

// NextNumber advances the per-day sequence of a restaurant with a single
// upsert.
func (r *OrderRepository) NextNumber(ctx context.Context, restaurantID string, day time.Time) (int, error) {
	y, m, d := day.UTC().Date()
	var seq int
	err := r.q.QueryRow(ctx, nextOrderNumberSQL, restaurantID, time.Date(y, m, d, 0, 0, 0, 0, time.UTC)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("advancing order sequence of %q: %w", restaurantID, err)
	}
	return seq, nil
}

// Create persists a new order and its line items.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	contact, err := json.Marshal(o.Customer)
	if err != nil {
		return fmt.Errorf("marshaling customer of order %q: %w", o.ID, err)
	}
	var address []byte
	if o.DeliveryAddress != nil {
		if address, err = json.Marshal(o.DeliveryAddress); err != nil {
			return fmt.Errorf("marshaling address of order %q: %w", o.ID, err)
		}
	}

	b := &pgx.Batch{}
	b.Queue(createOrderSQL,
		o.ID, o.RestaurantID, o.Number, o.CustomerID, string(o.Type), string(o.Status), string(o.PaymentStatus),
		contact, address, o.Subtotal, o.TaxAmount, o.DeliveryFee, o.DiscountAmount, o.Total, o.RefundedAmount,
		o.PromoCodeID, o.PromoCode, o.Notes, o.StockReserved, o.PickupTime, o.EstimatedReadyAt, o.CreatedAt, o.UpdatedAt,
	)
	for i, it := range o.Items {
		customizations := it.Customizations
		if customizations == nil {
			customizations = []order.Customization{}
		}
		mods, err := json.Marshal(customizations)
		if err != nil {
			return fmt.Errorf("marshaling customizations of order %q: %w", o.ID, err)
		}
		b.Queue(createOrderItemSQL,
			it.ID, o.ID, i, it.MenuItemID, it.Name, it.Quantity, it.UnitPrice, it.LineTotal, mods, it.Notes,
		)
	}

	if err := r.q.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns an order with its line items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderSQL, id)
}

// GetForUpdate is Get holding the order row lock until the transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) get(ctx context.Context, sql, id string) (*order.Order, error) {
	rows, err := r.q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	rows, err = r.q.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	if o.Items, err = pgx.CollectRows(rows, scanOrderItem); err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	return &o, nil
}

// Update persists statuses, refund and payment details and timestamps.
// stock_reserved is owned by StockRepository.ClaimRelease.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	tag, err := r.q.Exec(ctx, updateOrderSQL,
		o.ID, string(o.Status), string(o.PaymentStatus), o.RefundedAmount,
		o.RefundReason, o.PaymentReference, o.UpdatedAt, o.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                    order.Order
		typ, status, payment string
		contact, address     []byte
	)
	err := row.Scan(
		&o.ID, &o.RestaurantID, &o.Number, &o.CustomerID, &typ, &status, &payment,
		&contact, &address, &o.Subtotal, &o.TaxAmount, &o.DeliveryFee, &o.DiscountAmount, &o.Total, &o.RefundedAmount,
		&o.PromoCodeID, &o.PromoCode, &o.Notes, &o.RefundReason, &o.PaymentReference, &o.StockReserved,
		&o.PickupTime, &o.EstimatedReadyAt, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt,
	)
	if err != nil {
		return o, err
	}
	o.Type = order.Type(typ)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(payment)
	if err := json.Unmarshal(contact, &o.Customer); err != nil {
		return o, fmt.Errorf("decoding customer: %w", err)
	}
	if len(address) > 0 {
		o.DeliveryAddress = new(order.Address)
		if err := json.Unmarshal(address, o.DeliveryAddress); err != nil {
			return o, fmt.Errorf("decoding delivery address: %w", err)
		}
	}
	return o, nil
}

func scanOrderItem(row pgx.CollectableRow) (order.LineItem, error) {
	var (
		it   order.LineItem
		mods []byte
	)
	if err := row.Scan(&it.ID, &it.MenuItemID, &it.Name, &it.Quantity, &it.UnitPrice, &it.LineTotal, &mods, &it.Notes); err != nil {
		return it, err
	}
	if err := json.Unmarshal(mods, &it.Customizations); err != nil {
		return it, fmt.Errorf("decoding customizations: %w", err)
	}
	if len(it.Customizations) == 0 {
		it.Customizations = nil
	}
	return it, nil
}
