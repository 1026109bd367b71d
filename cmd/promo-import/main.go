package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/ordergenie-engine/internal/repository"
)

func main() {
	var (
		databaseURL  string
		restaurantID string
		opts         importOptions
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&restaurantID, "restaurant", "", "restaurant id the codes belong to")
	flag.UintVar(&opts.bloomCapacity, "bloom-capacity", 10_000_000, "expected codes per file")
	flag.Float64Var(&opts.bloomFPR, "bloom-fpr", 0.001, "bloom filter false positive rate")
	flag.IntVar(&opts.batchSize, "batch-size", 1000, "codes per database batch")
	flag.IntVar(&opts.validDays, "valid-days", 90, "validity of codes without valid_days")
	flag.Parse()

	files := flag.Args()
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if restaurantID == "" {
		slog.Error("restaurant is required: set --restaurant")
		os.Exit(1)
	}
	if len(files) == 0 || len(files) > maxFiles {
		slog.Error("pass between 1 and 64 gzipped CSV files", slog.Int("got", len(files)))
		os.Exit(1)
	}
	opts.restaurantID = restaurantID
	opts.now = time.Now().UTC()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files, opts); err != nil {
		slog.Error("promo import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promo import completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string, opts importOptions) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	// Pass 1: Build bloom filters concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files, opts)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: Confirm codes that appear in more than one file.
	slog.Info("pass 2: finding codes shared between files")

	duplicates, err := findDuplicates(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find duplicates")
	}

	slog.Info("duplicate codes rejected", slog.Int("count", len(duplicates)))

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL, repository.PoolOptions{})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	// Pass 3: Upsert everything else.
	written, err := importCodes(ctx, files, duplicates, repository.NewPromoRepository(pool), opts)
	if err != nil {
		return errors.Wrap(err, "write promo codes")
	}

	slog.Info("promo codes written", slog.Int("count", written))
	return nil
}
