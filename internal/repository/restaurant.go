package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/ordergenie-engine/internal/domain/restaurant"
)

const (
	getRestaurantSQL = `SELECT id, name, accepting_orders, settings FROM restaurants WHERE id = $1`

	upsertRestaurantSQL = `INSERT INTO restaurants (id, name, accepting_orders, settings)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			accepting_orders = EXCLUDED.accepting_orders,
			settings = EXCLUDED.settings,
			updated_at = now()`
)

var _ restaurant.Repository = (*RestaurantRepository)(nil)

// RestaurantRepository implements restaurant.Repository backed by PostgreSQL.
type RestaurantRepository struct {
	q DBTX
}

// NewRestaurantRepository returns a RestaurantRepository that uses q.
func NewRestaurantRepository(q DBTX) *RestaurantRepository {
	return &RestaurantRepository{q: q}
}

// Get returns a restaurant with its settings upgraded to the current version.
func (r *RestaurantRepository) Get(ctx context.Context, id string) (*restaurant.Restaurant, error) {
	rows, err := r.q.Query(ctx, getRestaurantSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting restaurant %q: %w", id, err)
	}

	rest, err := pgx.CollectExactlyOneRow(rows, scanRestaurant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, restaurant.ErrNotFound
		}
		return nil, fmt.Errorf("getting restaurant %q: %w", id, err)
	}
	return &rest, nil
}

// Upsert creates or replaces a restaurant.
func (r *RestaurantRepository) Upsert(ctx context.Context, rest restaurant.Restaurant) error {
	settings, err := json.Marshal(rest.Settings.Normalize())
	if err != nil {
		return fmt.Errorf("marshaling settings of %q: %w", rest.ID, err)
	}
	if _, err := r.q.Exec(ctx, upsertRestaurantSQL, rest.ID, rest.Name, rest.AcceptingOrders, settings); err != nil {
		return fmt.Errorf("upserting restaurant %q: %w", rest.ID, err)
	}
	return nil
}

func scanRestaurant(row pgx.CollectableRow) (restaurant.Restaurant, error) {
	var (
		rest     restaurant.Restaurant
		settings []byte
	)
	if err := row.Scan(&rest.ID, &rest.Name, &rest.AcceptingOrders, &settings); err != nil {
		return rest, err
	}
	if err := json.Unmarshal(settings, &rest.Settings); err != nil {
		return rest, fmt.Errorf("decoding settings: %w", err)
	}
	rest.Settings = rest.Settings.Normalize()
	return rest, nil
}
