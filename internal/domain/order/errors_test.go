package order

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/ordergenie-engine/internal/domain/menu"
	"github.com/xenking/ordergenie-engine/internal/domain/pricing"
	"github.com/xenking/ordergenie-engine/internal/domain/promo"
	"github.com/xenking/ordergenie-engine/internal/domain/restaurant"
	"github.com/xenking/ordergenie-engine/internal/domain/stock"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindUnknown},
		{name: "validation", err: &ValidationError{Field: "items", Reason: "required"}, want: KindValidation},
		{name: "invalid quantity", err: &pricing.InvalidQuantityError{MenuItemID: "a", Quantity: -1}, want: KindValidation},
		{name: "order not found", err: ErrNotFound, want: KindNotFound},
		{name: "restaurant not found", err: errors.Wrap(restaurant.ErrNotFound, "get restaurant"), want: KindNotFound},
		{name: "menu item not found", err: &menu.ItemNotFoundError{ItemID: "a"}, want: KindNotFound},
		{name: "out of stock", err: &stock.OutOfStockError{MenuItemID: "a"}, want: KindConflict},
		{name: "unavailable", err: &pricing.MenuItemUnavailableError{MenuItemID: "a"}, want: KindConflict},
		{name: "transition", err: &InvalidTransitionError{From: StatusReady, To: StatusConfirmed}, want: KindConflict},
		{name: "promo exhausted", err: promo.ErrCodeExhausted, want: KindConflict},
		{name: "promo minimum", err: promo.ErrMinimumNotMet, want: KindConflict},
		{name: "not accepting", err: restaurant.ErrNotAcceptingOrders, want: KindConflict},
		{name: "not paid", err: ErrNotPaid, want: KindConflict},
		{name: "concurrent", err: errors.Wrap(ErrConcurrentUpdate, "update order"), want: KindConcurrency},
		{name: "dependency", err: errors.Wrap(ErrUnavailable, "query menu"), want: KindDependency},
		{name: "unclassified", err: errors.New("unsupported discount type"), want: KindUnknown},
		{name: "explicit kind wins", err: &Error{Kind: KindConflict, Op: "x", Err: errors.New("boom")}, want: KindConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrConcurrentUpdate))
	assert.True(t, Retryable(errors.Wrap(ErrUnavailable, "begin")))
	assert.False(t, Retryable(errors.New("json: unsupported value")))
	assert.False(t, Retryable(&ValidationError{Field: "f", Reason: "r"}))
	assert.False(t, Retryable(promo.ErrCodeExhausted))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(errors.Wrap(context.DeadlineExceeded, "query")))
	assert.False(t, Retryable(nil))
}

func TestWrap(t *testing.T) {
	err := wrap("cancel order", ErrNotFound)

	var e *Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, "cancel order", e.Op)
	assert.Equal(t, KindNotFound, e.Kind)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "cancel order: order not found", err.Error())

	assert.Same(t, e, wrap("other", err))
	assert.NoError(t, wrap("noop", nil))
}
