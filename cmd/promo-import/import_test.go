package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/ordergenie-engine/internal/domain/promo"
)

// --- Mock implementations ---

type mockWriter struct {
	batches [][]promo.Code
	err     error
}

func (w *mockWriter) UpsertBatch(_ context.Context, codes []promo.Code) error {
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, append([]promo.Code(nil), codes...))
	return nil
}

func (w *mockWriter) codes() []string {
	var out []string
	for _, b := range w.batches {
		for _, c := range b {
			out = append(out, c.Code)
		}
	}
	return out
}

// --- Helpers ---

var testNow = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func testOptions() importOptions {
	return importOptions{
		restaurantID:  "royal-spice",
		bloomCapacity: 1000,
		bloomFPR:      0.001,
		batchSize:     2,
		validDays:     30,
		now:           testNow,
	}
}

func writeGz(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codes.csv.gz")
	f, err := os.Create(path)
	require.NoError(t, err)

	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

// --- parseRecord ---

func TestParseRecord(t *testing.T) {
	tests := []struct {
		name    string
		rec     []string
		check   func(t *testing.T, c promo.Code)
		wantErr string
	}{
		{
			name: "code only takes defaults",
			rec:  []string{" welcome10 "},
			check: func(t *testing.T, c promo.Code) {
				assert.Equal(t, "WELCOME10", c.Code)
				assert.Equal(t, promo.DiscountPercentage, c.DiscountType)
				assert.Equal(t, "10", c.Value.String())
				assert.Equal(t, testNow.AddDate(0, 0, 30), c.ValidUntil)
				assert.Nil(t, c.MaxUses)
				assert.True(t, c.IsActive)
				assert.Equal(t, "royal-spice", c.RestaurantID)
				assert.NotEmpty(t, c.ID)
			},
		},
		{
			name: "all columns",
			rec:  []string{"SAVE5", "fixed_amount", "5.00", "20", "5", "100", "1", "7"},
			check: func(t *testing.T, c promo.Code) {
				assert.Equal(t, promo.DiscountFixed, c.DiscountType)
				assert.Equal(t, "5", c.Value.String())
				require.NotNil(t, c.MinOrderAmount)
				assert.Equal(t, "20", c.MinOrderAmount.String())
				require.NotNil(t, c.MaxUses)
				assert.Equal(t, 100, *c.MaxUses)
				require.NotNil(t, c.MaxUsesPerCustomer)
				assert.Equal(t, 1, *c.MaxUsesPerCustomer)
				assert.Equal(t, testNow.AddDate(0, 0, 7), c.ValidUntil)
			},
		},
		{
			name: "free delivery has zero value",
			rec:  []string{"FREEDEL", "FREE_DELIVERY"},
			check: func(t *testing.T, c promo.Code) {
				assert.Equal(t, promo.DiscountFreeDelivery, c.DiscountType)
				assert.True(t, c.Value.IsZero())
			},
		},
		{name: "too short", rec: []string{"AB"}, wantErr: "must be 3 to 32 characters"},
		{name: "bad character", rec: []string{"HALF OFF"}, wantErr: "contains"},
		{name: "unknown type", rec: []string{"BOGO1", "bogo"}, wantErr: "unknown discount type"},
		{name: "percentage over 100", rec: []string{"MAX", "percentage", "120"}, wantErr: "out of range"},
		{name: "negative minimum", rec: []string{"NEG", "fixed_amount", "1", "-5"}, wantErr: "min order amount"},
		{name: "zero max uses", rec: []string{"ZERO", "", "", "", "", "0"}, wantErr: "max uses"},
		{name: "bad valid days", rec: []string{"DAYS", "", "", "", "", "", "", "x"}, wantErr: "invalid valid days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := parseRecord(tt.rec, testOptions())
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

// --- Passes ---

func TestScanCodes_SkipsHeaderAndReportsLine(t *testing.T) {
	path := writeGz(t, "code,discount_type,value", "ALPHA,percentage,10", "BETA,fixed_amount,2")

	var got []string
	require.NoError(t, scanCodes(context.Background(), path, testOptions(), func(c promo.Code) error {
		got = append(got, c.Code)
		return nil
	}))
	assert.Equal(t, []string{"ALPHA", "BETA"}, got)

	bad := writeGz(t, "ALPHA", "X")
	err := scanCodes(context.Background(), bad, testOptions(), func(promo.Code) error { return nil })
	require.ErrorContains(t, err, ":2")
}

func TestFindDuplicates(t *testing.T) {
	files := []string{
		writeGz(t, "code", "ALPHA", "BETA", "GAMMA"),
		writeGz(t, "BETA", "DELTA"),
		writeGz(t, "GAMMA", "EPSILON"),
	}
	ctx := context.Background()

	filters, err := buildBloomFilters(ctx, files, testOptions())
	require.NoError(t, err)
	require.Len(t, filters, 3)

	dups, err := findDuplicates(ctx, files, filters)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"BETA": {}, "GAMMA": {}}, dups)
}

func TestImportCodes(t *testing.T) {
	files := []string{writeGz(t, "ALPHA", "BETA", "GAMMA", "DELTA", "EPSILON")}
	w := &mockWriter{}

	n, err := importCodes(context.Background(), files, map[string]struct{}{"GAMMA": {}}, w, testOptions())
	require.NoError(t, err)

	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"ALPHA", "BETA", "DELTA", "EPSILON"}, w.codes())
	assert.Len(t, w.batches, 2)
}

func TestImportCodes_WriteError(t *testing.T) {
	files := []string{writeGz(t, "ALPHA")}
	_, err := importCodes(context.Background(), files, nil, &mockWriter{err: errors.New("conn reset")}, testOptions())
	require.ErrorContains(t, err, "conn reset")
}
