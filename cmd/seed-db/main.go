package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/ordergenie-engine/internal/domain/menu"
	"github.com/xenking/ordergenie-engine/internal/domain/promo"
	"github.com/xenking/ordergenie-engine/internal/domain/restaurant"
	"github.com/xenking/ordergenie-engine/internal/repository"
)

type seedFile struct {
	Restaurants []restaurantJSON `json:"restaurants"`
}

type restaurantJSON struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	AcceptingOrders bool                 `json:"acceptingOrders"`
	Settings        *restaurant.Settings `json:"settings"`
	Menu            []menuItemJSON       `json:"menu"`
	Promos          []promoJSON          `json:"promoCodes"`
}

type menuItemJSON struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Price         decimal.Decimal `json:"price"`
	IsAvailable   bool            `json:"isAvailable"`
	StockCount    *int            `json:"stockCount"`
	LowStockAlert *int            `json:"lowStockAlert"`
}

type promoJSON struct {
	Code               string             `json:"code"`
	Description        string             `json:"description"`
	DiscountType       promo.DiscountType `json:"discountType"`
	Value              decimal.Decimal    `json:"value"`
	MinOrderAmount     *decimal.Decimal   `json:"minOrderAmount"`
	MaxDiscountAmount  *decimal.Decimal   `json:"maxDiscountAmount"`
	MaxUses            *int               `json:"maxUses"`
	MaxUsesPerCustomer *int               `json:"maxUsesPerCustomer"`
	ValidDays          int                `json:"validDays"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/seed.json", "path to seed JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath string) error {
	slog.Info("reading seed file", slog.String("path", seedPath))

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL, repository.PoolOptions{})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	var (
		restaurants = repository.NewRestaurantRepository(pool)
		items       = repository.NewMenuRepository(pool)
		promos      = repository.NewPromoRepository(pool)
		now         = time.Now().UTC()
	)
	for _, r := range seed.Restaurants {
		if err := seedRestaurant(ctx, restaurants, r); err != nil {
			return errors.Wrapf(err, "seed restaurant %s", r.ID)
		}
		if err := seedMenu(ctx, items, r); err != nil {
			return errors.Wrapf(err, "seed menu of %s", r.ID)
		}
		if err := seedPromos(ctx, promos, r, now); err != nil {
			return errors.Wrapf(err, "seed promo codes of %s", r.ID)
		}
	}

	return nil
}

func seedRestaurant(ctx context.Context, repo *repository.RestaurantRepository, r restaurantJSON) error {
	settings := restaurant.DefaultSettings()
	if r.Settings != nil {
		settings = *r.Settings
	}
	settings = settings.Normalize()

	if err := repo.Upsert(ctx, restaurant.Restaurant{
		ID:              r.ID,
		Name:            r.Name,
		AcceptingOrders: r.AcceptingOrders,
		Settings:        settings,
	}); err != nil {
		return err
	}

	slog.Info("upserted restaurant", slog.String("id", r.ID), slog.String("name", r.Name))
	return nil
}

func seedMenu(ctx context.Context, repo *repository.MenuRepository, r restaurantJSON) error {
	slog.Info("upserting menu items", slog.Int("count", len(r.Menu)))

	for _, it := range r.Menu {
		if err := repo.Upsert(ctx, menu.Item{
			ID:            it.ID,
			RestaurantID:  r.ID,
			Name:          it.Name,
			Category:      it.Category,
			Price:         it.Price,
			IsAvailable:   it.IsAvailable,
			StockCount:    it.StockCount,
			LowStockAlert: it.LowStockAlert,
		}); err != nil {
			return errors.Wrapf(err, "upsert menu item %s", it.ID)
		}

		slog.Info("upserted menu item", slog.String("id", it.ID), slog.String("name", it.Name))
	}

	return nil
}

func seedPromos(ctx context.Context, repo *repository.PromoRepository, r restaurantJSON, now time.Time) error {
	for _, p := range r.Promos {
		days := p.ValidDays
		if days <= 0 {
			days = 365
		}
		if err := repo.Upsert(ctx, promo.Code{
			ID:                 uuid.NewString(),
			RestaurantID:       r.ID,
			Code:               p.Code,
			Description:        p.Description,
			DiscountType:       p.DiscountType,
			Value:              p.Value,
			MinOrderAmount:     p.MinOrderAmount,
			MaxDiscountAmount:  p.MaxDiscountAmount,
			MaxUses:            p.MaxUses,
			MaxUsesPerCustomer: p.MaxUsesPerCustomer,
			ValidFrom:          now,
			ValidUntil:         now.AddDate(0, 0, days),
			IsActive:           true,
		}); err != nil {
			return errors.Wrapf(err, "upsert promo code %s", p.Code)
		}

		slog.Info("upserted promo code", slog.String("code", p.Code), slog.String("description", p.Description))
	}

	return nil
}
