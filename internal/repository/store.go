package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/ordergenie-engine/internal/domain/customer"
	"github.com/xenking/ordergenie-engine/internal/domain/menu"
	"github.com/xenking/ordergenie-engine/internal/domain/order"
	"github.com/xenking/ordergenie-engine/internal/domain/promo"
	"github.com/xenking/ordergenie-engine/internal/domain/restaurant"
	"github.com/xenking/ordergenie-engine/internal/domain/stock"
)

var _ order.UnitOfWork = (*Store)(nil)

// Store runs order operations in READ COMMITTED transactions. Row locks and
// conditional updates provide the isolation each operation needs.
type Store struct {
	pool   *pgxpool.Pool
	routes map[string][]string
}

// NewStore returns a Store over pool. routes maps event types to the outbox
// subscribers that receive them.
func NewStore(pool *pgxpool.Pool, routes map[string][]string) *Store {
	return &Store{pool: pool, routes: routes}
}

// InTx runs fn in a transaction that commits when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", mapError(err))
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, txRepos{q: tx, routes: s.routes}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", mapError(err))
	}
	return nil
}

type txRepos struct {
	q      DBTX
	routes map[string][]string
}

func (t txRepos) Restaurants() restaurant.Repository { return NewRestaurantRepository(t.q) }
func (t txRepos) Menu() menu.Repository              { return NewMenuRepository(t.q) }
func (t txRepos) Customers() customer.Repository     { return NewCustomerRepository(t.q) }
func (t txRepos) Promos() promo.Repository           { return NewPromoRepository(t.q) }
func (t txRepos) Stock() stock.Store                 { return NewStockRepository(t.q) }
func (t txRepos) Orders() order.Repository           { return NewOrderRepository(t.q) }
func (t txRepos) Events() order.EventWriter          { return NewOutboxWriter(t.q, t.routes) }
