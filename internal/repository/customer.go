package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/xenking/ordergenie-engine/internal/domain/customer"
)

const upsertCustomerSQL = `INSERT INTO customers (id, restaurant_id, email, name, phone)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (restaurant_id, email) DO UPDATE SET
		name = EXCLUDED.name,
		phone = EXCLUDED.phone,
		updated_at = now()
	RETURNING id`

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	q DBTX
}

// NewCustomerRepository returns a CustomerRepository that uses q.
func NewCustomerRepository(q DBTX) *CustomerRepository {
	return &CustomerRepository{q: q}
}

// Upsert creates or refreshes the customer keyed by restaurant and email in a
// single statement.
func (r *CustomerRepository) Upsert(ctx context.Context, restaurantID string, c customer.Contact) (*customer.Customer, error) {
	c.Email = customer.NormalizeEmail(c.Email)
	cust := &customer.Customer{RestaurantID: restaurantID, Contact: c}
	err := r.q.QueryRow(ctx, upsertCustomerSQL, uuid.NewString(), restaurantID, c.Email, c.Name, c.Phone).Scan(&cust.ID)
	if err != nil {
		return nil, fmt.Errorf("upserting customer %q: %w", c.Email, err)
	}
	return cust, nil
}
