package restaurant

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when a restaurant does not exist.
	ErrNotFound = errors.New("restaurant not found")
	// ErrNotAcceptingOrders is returned when a restaurant has paused ordering.
	ErrNotAcceptingOrders = errors.New("restaurant is not accepting orders")
	// ErrDeliveryDisabled is returned for delivery orders at a restaurant
	// that only serves pickup or dine-in.
	ErrDeliveryDisabled = errors.New("restaurant does not deliver")
)

// Restaurant is the owner of menus, promo codes and orders.
type Restaurant struct {
	ID              string
	Name            string
	AcceptingOrders bool
	Settings        Settings
}

// Repository provides read access to restaurants.
type Repository interface {
	Get(ctx context.Context, id string) (*Restaurant, error)
}
