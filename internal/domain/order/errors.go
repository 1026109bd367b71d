package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/ordergenie-engine/internal/domain/menu"
	"github.com/xenking/ordergenie-engine/internal/domain/pricing"
	"github.com/xenking/ordergenie-engine/internal/domain/promo"
	"github.com/xenking/ordergenie-engine/internal/domain/restaurant"
	"github.com/xenking/ordergenie-engine/internal/domain/stock"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrConcurrentUpdate is returned when the database aborted the
	// transaction because of a conflicting concurrent write.
	ErrConcurrentUpdate = errors.New("concurrent update")
	// ErrNotPaid is returned when refunding an order without a completed
	// payment.
	ErrNotPaid = errors.New("order has no completed payment")
	// ErrUnavailable marks failures to reach a dependency, such as a lost
	// database connection. Storage implementations wrap transport errors
	// with it.
	ErrUnavailable = errors.New("dependency unavailable")
)

// Kind classifies failures by how a caller should react to them.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindConcurrency
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindConcurrency:
		return "concurrency"
	case KindDependency:
		return "dependency"
	default:
		return "unknown"
	}
}

// Error is returned by every Service operation that fails.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ValidationError indicates malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError indicates a status change the lifecycle forbids.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// MinimumOrderError indicates a subtotal below the restaurant minimum.
type MinimumOrderError struct {
	Minimum  decimal.Decimal
	Subtotal decimal.Decimal
}

func (e *MinimumOrderError) Error() string {
	return fmt.Sprintf("minimum order amount is %s, got %s", e.Minimum, e.Subtotal)
}

// KindOf returns the kind of err. Errors not produced by Service are
// classified by their cause.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return classify(err)
}

// Retryable reports whether repeating the operation may succeed.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	k := KindOf(err)
	return k == KindConcurrency || k == KindDependency
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) Kind {
	var (
		validation  *ValidationError
		quantity    *pricing.InvalidQuantityError
		missingItem *menu.ItemNotFoundError
		transition  *InvalidTransitionError
		unavailable *pricing.MenuItemUnavailableError
		outOfStock  *stock.OutOfStockError
		minimum     *MinimumOrderError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &quantity):
		return KindValidation
	case errors.Is(err, ErrNotFound), errors.Is(err, restaurant.ErrNotFound), errors.As(err, &missingItem):
		return KindNotFound
	case errors.As(err, &transition),
		errors.As(err, &unavailable),
		errors.As(err, &outOfStock),
		errors.As(err, &minimum),
		errors.Is(err, ErrNotPaid),
		errors.Is(err, restaurant.ErrNotAcceptingOrders),
		errors.Is(err, restaurant.ErrDeliveryDisabled),
		errors.Is(err, promo.ErrInvalidOrExpiredCode),
		errors.Is(err, promo.ErrCodeExhausted),
		errors.Is(err, promo.ErrCustomerLimitReached),
		errors.Is(err, promo.ErrMinimumNotMet):
		return KindConflict
	case errors.Is(err, ErrConcurrentUpdate):
		return KindConcurrency
	case errors.Is(err, ErrUnavailable):
		return KindDependency
	default:
		return KindUnknown
	}
}
