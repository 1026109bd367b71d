package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported promo discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order amount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount, capped at the order amount.
	DiscountFixed DiscountType = "fixed_amount"
	// DiscountFreeDelivery waives the delivery fee.
	DiscountFreeDelivery DiscountType = "free_delivery"
)

var (
	// ErrInvalidOrExpiredCode is returned when no active code matches or the
	// code is outside its validity window.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired promo code")
	// ErrCodeExhausted is returned when the code reached its usage cap.
	ErrCodeExhausted = errors.New("promo code usage limit reached")
	// ErrCustomerLimitReached is returned when the customer already used the
	// code as often as allowed.
	ErrCustomerLimitReached = errors.New("promo code already used by customer")
	// ErrMinimumNotMet is returned when the order amount is below the code's
	// minimum.
	ErrMinimumNotMet = errors.New("minimum order amount not met")
)

// Code is a restaurant promo code with its eligibility rules.
type Code struct {
	ID                 string
	RestaurantID       string
	Code               string
	Description        string
	DiscountType       DiscountType
	Value              decimal.Decimal
	MinOrderAmount     *decimal.Decimal
	MaxDiscountAmount  *decimal.Decimal
	MaxUses            *int
	MaxUsesPerCustomer *int
	CurrentUses        int
	ValidFrom          time.Time
	ValidUntil         time.Time
	IsActive           bool
}

// Exhausted reports whether the global usage cap has been reached.
func (c *Code) Exhausted() bool {
	return c.MaxUses != nil && c.CurrentUses >= *c.MaxUses
}

// Discount is the result of a successful validation.
type Discount struct {
	PromoCodeID        string
	Code               string
	Amount             decimal.Decimal
	// MaxUsesPerCustomer is copied from the code for Redeem.
	MaxUsesPerCustomer *int
}

// Repository provides lookup and usage accounting of promo codes.
type Repository interface {
	// FindActive returns the active code of restaurantID matching code
	// case-insensitively, or ErrInvalidOrExpiredCode.
	FindActive(ctx context.Context, restaurantID, code string) (*Code, error)
	// CountCustomerUses returns how many orders of customerID used the code.
	CountCustomerUses(ctx context.Context, promoCodeID, customerID string) (int, error)
	// IncrementUses adds one use only while the cap is not reached. It
	// returns ErrCodeExhausted when the conditional update matched no row.
	IncrementUses(ctx context.Context, promoCodeID string) error
}
