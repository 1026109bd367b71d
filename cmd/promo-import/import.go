package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/ordergenie-engine/internal/domain/promo"
)

const (
	// maxFiles is bounded by the width of the per-code file bitmask.
	maxFiles      = bits.UintSize
	progressEvery = 1_000_000
	minCodeLen    = 3
	maxCodeLen    = 32
)

// Columns of a promo code CSV row. Only code is required.
const (
	colCode = iota
	colDiscountType
	colValue
	colMinOrder
	colMaxDiscount
	colMaxUses
	colMaxUsesPerCustomer
	colValidDays
)

type importOptions struct {
	restaurantID  string
	bloomCapacity uint
	bloomFPR      float64
	batchSize     int
	validDays     int
	now           time.Time
}

// promoWriter persists promo codes in batches.
type promoWriter interface {
	UpsertBatch(ctx context.Context, codes []promo.Code) error
}

// fileResult holds codes of one file that another file's filter matched.
type fileResult struct {
	candidates map[string]uint
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, opts importOptions) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.bloomCapacity, opts.bloomFPR)
			var count uint64

			if err := scanCodes(ctx, path, opts, func(c promo.Code) error {
				filter.AddString(c.Code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("codes", count))
				}
				return nil
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}

			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findDuplicates re-streams each file and checks codes against the other
// files' filters. A filter hit only marks the file the code was read from, so
// a code is confirmed as shared once two files have marked it. Filter false
// positives never produce a second mark.
func findDuplicates(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]struct{}, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)

			err := scanCodes(ctx, path, importOptions{}, func(c promo.Code) error {
				for j, f := range filters {
					if j != i && f.TestString(c.Code) {
						candidates[c.Code] |= fileBit
						break
					}
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "scan file %d for duplicates", i+1)
			}

			slog.Info("pass 2 complete", slog.Int("file", i+1), slog.Int("candidates", len(candidates)))
			results[i] = fileResult{candidates: candidates}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	duplicates := make(map[string]struct{})
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			duplicates[code] = struct{}{}
		}
	}
	return duplicates, nil
}

// importCodes upserts every code that is not in duplicates, one goroutine per
// file. It returns the number of codes written.
func importCodes(ctx context.Context, files []string, duplicates map[string]struct{}, w promoWriter, opts importOptions) (int, error) {
	var written atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			batch := make([]promo.Code, 0, opts.batchSize)
			flush := func() error {
				if len(batch) == 0 {
					return nil
				}
				if err := w.UpsertBatch(ctx, batch); err != nil {
					return err
				}
				n := written.Add(int64(len(batch)))
				slog.Info("write progress", slog.Int("file", i+1), slog.Int64("written", n))
				batch = batch[:0]
				return nil
			}

			err := scanCodes(ctx, path, opts, func(c promo.Code) error {
				if _, dup := duplicates[c.Code]; dup {
					return nil
				}
				batch = append(batch, c)
				if len(batch) >= opts.batchSize {
					return flush()
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "import file %d", i+1)
			}
			return flush()
		})
	}

	if err := g.Wait(); err != nil {
		return int(written.Load()), err
	}
	return int(written.Load()), nil
}

// scanCodes opens a gzip-compressed CSV file and calls fn for each code. A
// first row starting with "code" is treated as a header.
func scanCodes(ctx context.Context, path string, opts importOptions, fn func(c promo.Code) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.ReuseRecord = true

	for first := true; ; first = false {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		if first && strings.EqualFold(strings.TrimSpace(rec[colCode]), "code") {
			continue
		}

		c, err := parseRecord(rec, opts)
		if err != nil {
			line, _ := r.FieldPos(0)
			return errors.Wrapf(err, "%s:%d", path, line)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
}

// parseRecord builds a promo code from a CSV row. Missing columns take the
// defaults of a 10% code with no limits.
func parseRecord(rec []string, opts importOptions) (promo.Code, error) {
	field := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	code := strings.ToUpper(field(colCode))
	if err := validateCode(code); err != nil {
		return promo.Code{}, err
	}

	c := promo.Code{
		ID:           uuid.NewString(),
		RestaurantID: opts.restaurantID,
		Code:         code,
		DiscountType: promo.DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		IsActive:     true,
	}

	if v := field(colDiscountType); v != "" {
		c.DiscountType = promo.DiscountType(strings.ToLower(v))
		switch c.DiscountType {
		case promo.DiscountPercentage, promo.DiscountFixed, promo.DiscountFreeDelivery:
		default:
			return promo.Code{}, errors.Errorf("unknown discount type %q", v)
		}
	}
	if c.DiscountType == promo.DiscountFreeDelivery {
		c.Value = decimal.Zero
	}

	var err error
	if v := field(colValue); v != "" {
		if c.Value, err = decimal.NewFromString(v); err != nil {
			return promo.Code{}, errors.Wrap(err, "value")
		}
	}
	if c.Value.IsNegative() || (c.DiscountType == promo.DiscountPercentage && c.Value.GreaterThan(decimal.NewFromInt(100))) {
		return promo.Code{}, errors.Errorf("value %s out of range", c.Value)
	}
	if c.MinOrderAmount, err = optionalDecimal(field(colMinOrder)); err != nil {
		return promo.Code{}, errors.Wrap(err, "min order amount")
	}
	if c.MaxDiscountAmount, err = optionalDecimal(field(colMaxDiscount)); err != nil {
		return promo.Code{}, errors.Wrap(err, "max discount amount")
	}
	if c.MaxUses, err = optionalInt(field(colMaxUses)); err != nil {
		return promo.Code{}, errors.Wrap(err, "max uses")
	}
	if c.MaxUsesPerCustomer, err = optionalInt(field(colMaxUsesPerCustomer)); err != nil {
		return promo.Code{}, errors.Wrap(err, "max uses per customer")
	}

	days := opts.validDays
	if v := field(colValidDays); v != "" {
		if days, err = strconv.Atoi(v); err != nil || days <= 0 {
			return promo.Code{}, errors.Errorf("invalid valid days %q", v)
		}
	}
	c.ValidFrom = opts.now
	c.ValidUntil = opts.now.AddDate(0, 0, days)

	return c, nil
}

func validateCode(code string) error {
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return errors.Errorf("code %q must be %d to %d characters", code, minCodeLen, maxCodeLen)
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return errors.Errorf("code %q contains %q", code, r)
		}
	}
	return nil
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, errors.Errorf("negative amount %s", s)
	}
	return &d, nil
}

func optionalInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, errors.Errorf("must be positive, got %d", n)
	}
	return &n, nil
}
