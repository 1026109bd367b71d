package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/ordergenie-engine/internal/domain/promo"
)

const (
	findActivePromoSQL = `SELECT id, restaurant_id, code, description, discount_type, value,
		min_order_amount, max_discount_amount, max_uses, max_uses_per_customer, current_uses,
		valid_from, valid_until, is_active
		FROM promo_codes WHERE restaurant_id = $1 AND code = UPPER($2) AND is_active = TRUE`

	countCustomerPromoUsesSQL = `SELECT COUNT(*) FROM orders
		WHERE promo_code_id = $1 AND customer_id = $2`

	// The usage cap is enforced by the WHERE clause, so concurrent orders can
	// never push current_uses past max_uses.
	incrementPromoUsesSQL = `UPDATE promo_codes SET current_uses = current_uses + 1
		WHERE id = $1 AND (max_uses IS NULL OR current_uses < max_uses)`

	upsertPromoSQL = `INSERT INTO promo_codes (id, restaurant_id, code, description, discount_type, value,
		min_order_amount, max_discount_amount, max_uses, max_uses_per_customer, valid_from, valid_until, is_active)
		VALUES ($1, $2, UPPER($3), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (restaurant_id, code) DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			min_order_amount = EXCLUDED.min_order_amount,
			max_discount_amount = EXCLUDED.max_discount_amount,
			max_uses = EXCLUDED.max_uses,
			max_uses_per_customer = EXCLUDED.max_uses_per_customer,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			is_active = EXCLUDED.is_active`
)

var _ promo.Repository = (*PromoRepository)(nil)

// PromoRepository implements promo.Repository backed by PostgreSQL.
type PromoRepository struct {
	q DBTX
}

// NewPromoRepository returns a PromoRepository that uses q.
func NewPromoRepository(q DBTX) *PromoRepository {
	return &PromoRepository{q: q}
}

// FindActive looks up an active code of a restaurant case-insensitively.
// Returns promo.ErrInvalidOrExpiredCode when no matching active code exists.
func (r *PromoRepository) FindActive(ctx context.Context, restaurantID, code string) (*promo.Code, error) {
	rows, err := r.q.Query(ctx, findActivePromoSQL, restaurantID, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("finding promo code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanPromoCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrInvalidOrExpiredCode
		}
		return nil, fmt.Errorf("finding promo code %q: %w", code, err)
	}
	return &c, nil
}

// CountCustomerUses returns how many orders of customerID used the code.
func (r *PromoRepository) CountCustomerUses(ctx context.Context, promoCodeID, customerID string) (int, error) {
	var n int
	if err := r.q.QueryRow(ctx, countCustomerPromoUsesSQL, promoCodeID, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting uses of promo code %q: %w", promoCodeID, err)
	}
	return n, nil
}

// IncrementUses atomically takes one use of the code.
func (r *PromoRepository) IncrementUses(ctx context.Context, promoCodeID string) error {
	tag, err := r.q.Exec(ctx, incrementPromoUsesSQL, promoCodeID)
	if err != nil {
		return fmt.Errorf("incrementing uses of promo code %q: %w", promoCodeID, err)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrCodeExhausted
	}
	return nil
}

// Upsert creates or replaces a code. Usage counters are kept on update.
func (r *PromoRepository) Upsert(ctx context.Context, c promo.Code) error {
	if _, err := r.q.Exec(ctx, upsertPromoSQL, promoArgs(c)...); err != nil {
		return fmt.Errorf("upserting promo code %q: %w", c.Code, err)
	}
	return nil
}

// UpsertBatch upserts codes in one round trip.
func (r *PromoRepository) UpsertBatch(ctx context.Context, codes []promo.Code) error {
	b := &pgx.Batch{}
	for _, c := range codes {
		b.Queue(upsertPromoSQL, promoArgs(c)...)
	}
	if err := r.q.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upserting %d promo codes: %w", len(codes), err)
	}
	return nil
}

func promoArgs(c promo.Code) []any {
	return []any{
		c.ID, c.RestaurantID, c.Code, c.Description, string(c.DiscountType), c.Value,
		c.MinOrderAmount, c.MaxDiscountAmount, c.MaxUses, c.MaxUsesPerCustomer,
		c.ValidFrom, c.ValidUntil, c.IsActive,
	}
}

func scanPromoCode(row pgx.CollectableRow) (promo.Code, error) {
	var (
		c            promo.Code
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.RestaurantID, &c.Code, &c.Description, &discountType, &c.Value,
		&c.MinOrderAmount, &c.MaxDiscountAmount, &c.MaxUses, &c.MaxUsesPerCustomer, &c.CurrentUses,
		&c.ValidFrom, &c.ValidUntil, &c.IsActive,
	)
	c.DiscountType = promo.DiscountType(discountType)
	return c, err
}
