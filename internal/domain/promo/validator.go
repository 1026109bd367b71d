package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Request describes the order a code is applied to.
type Request struct {
	RestaurantID string
	Code         string
	// Amount is the order subtotal after pricing.
	Amount      decimal.Decimal
	DeliveryFee decimal.Decimal
	// CustomerID enables per-customer limits when set.
	CustomerID string
}

// Validator checks promo eligibility and computes discounts. Only Redeem
// changes usage counters.
type Validator struct {
	repo Repository
	now  func() time.Time
}

// NewValidator creates a Validator backed by repo.
func NewValidator(repo Repository, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{repo: repo, now: now}
}

// Validate looks up the code, checks its window, usage caps and minimum
// amount, and returns the discount it grants.
func (v *Validator) Validate(ctx context.Context, req Request) (*Discount, error) {
	c, err := v.repo.FindActive(ctx, req.RestaurantID, req.Code)
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredCode) {
			return nil, ErrInvalidOrExpiredCode
		}
		return nil, errors.Wrap(err, "lookup promo code")
	}

	now := v.now()
	if !c.IsActive || now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return nil, ErrInvalidOrExpiredCode
	}

	if c.Exhausted() {
		return nil, ErrCodeExhausted
	}

	if c.MaxUsesPerCustomer != nil && req.CustomerID != "" {
		used, err := v.repo.CountCustomerUses(ctx, c.ID, req.CustomerID)
		if err != nil {
			return nil, errors.Wrap(err, "count customer uses")
		}
		if used >= *c.MaxUsesPerCustomer {
			return nil, ErrCustomerLimitReached
		}
	}

	if c.MinOrderAmount != nil && req.Amount.LessThan(*c.MinOrderAmount) {
		return nil, ErrMinimumNotMet
	}

	amount, err := Apply(c, req.Amount, req.DeliveryFee)
	if err != nil {
		return nil, err
	}

	return &Discount{
		PromoCodeID:        c.ID,
		Code:               c.Code,
		Amount:             amount,
		MaxUsesPerCustomer: c.MaxUsesPerCustomer,
	}, nil
}

// Redeem takes one use of the validated code for customerID. It must run in
// the transaction that records the order. The conditional increment locks the
// code row until commit, so the per-customer count taken after it sees every
// order that redeemed the code before this one. The count in Validate only
// rejects early.
func (v *Validator) Redeem(ctx context.Context, d *Discount, customerID string) error {
	if err := v.repo.IncrementUses(ctx, d.PromoCodeID); err != nil {
		return err
	}
	if d.MaxUsesPerCustomer == nil || customerID == "" {
		return nil
	}
	used, err := v.repo.CountCustomerUses(ctx, d.PromoCodeID, customerID)
	if err != nil {
		return errors.Wrap(err, "count customer uses")
	}
	if used >= *d.MaxUsesPerCustomer {
		return ErrCustomerLimitReached
	}
	return nil
}
