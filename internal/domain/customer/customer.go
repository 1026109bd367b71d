package customer

import (
	"context"
	"strings"
)

// Contact is the name, email and phone a customer gives at checkout.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Customer is identified by its email within one restaurant.
type Customer struct {
	ID           string
	RestaurantID string
	Contact      Contact
}

// NormalizeEmail returns the canonical form of an email used as identity key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Repository persists customers.
type Repository interface {
	// Upsert creates the customer keyed by (restaurantID, email) or updates
	// the existing record with the latest name and phone.
	Upsert(ctx context.Context, restaurantID string, c Contact) (*Customer, error)
}
