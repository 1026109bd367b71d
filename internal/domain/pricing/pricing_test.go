package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/ordergenie-engine/internal/domain/menu"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func ptr(v decimal.Decimal) *decimal.Decimal {
	return &v
}

func item(id, price string) menu.Item {
	return menu.Item{ID: id, Name: "item " + id, Price: d(price), IsAvailable: true}
}

func TestCalculate(t *testing.T) {
	cfg := Config{
		TaxRate:             d("0.20"),
		DeliveryFee:         d("2.50"),
		FreeDeliveryMinimum: ptr(d("50")),
	}

	tests := []struct {
		name     string
		lines    []Line
		delivery bool
		cfg      Config
		want     Quote
	}{
		{
			name: "delivery below free threshold",
			lines: []Line{
				{Item: item("curry", "12.99"), Quantity: 2},
				{Item: item("naan", "4.95"), Quantity: 1},
			},
			delivery: true,
			cfg:      cfg,
			want: Quote{
				Subtotal:         d("30.93"),
				TaxAmount:        d("6.186"),
				DeliveryFee:      d("2.50"),
				PreDiscountTotal: d("39.616"),
			},
		},
		{
			name: "pickup never pays delivery",
			lines: []Line{
				{Item: item("curry", "12.99"), Quantity: 2},
				{Item: item("naan", "4.95"), Quantity: 1},
			},
			delivery: false,
			cfg:      cfg,
			want: Quote{
				Subtotal:         d("30.93"),
				TaxAmount:        d("6.186"),
				DeliveryFee:      d("0"),
				PreDiscountTotal: d("37.116"),
			},
		},
		{
			name:     "delivery at free threshold is waived",
			lines:    []Line{{Item: item("feast", "25"), Quantity: 2}},
			delivery: true,
			cfg:      cfg,
			want: Quote{
				Subtotal:         d("50"),
				TaxAmount:        d("10"),
				DeliveryFee:      d("0"),
				PreDiscountTotal: d("60"),
			},
		},
		{
			name:     "no free threshold configured",
			lines:    []Line{{Item: item("feast", "100"), Quantity: 1}},
			delivery: true,
			cfg:      Config{TaxRate: d("0"), DeliveryFee: d("3")},
			want: Quote{
				Subtotal:         d("100"),
				TaxAmount:        d("0"),
				DeliveryFee:      d("3"),
				PreDiscountTotal: d("103"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Calculate(tt.lines, tt.delivery, tt.cfg)
			require.NoError(t, err)
			assert.True(t, tt.want.Subtotal.Equal(got.Subtotal), "subtotal: want %s, got %s", tt.want.Subtotal, got.Subtotal)
			assert.True(t, tt.want.TaxAmount.Equal(got.TaxAmount), "tax: want %s, got %s", tt.want.TaxAmount, got.TaxAmount)
			assert.True(t, tt.want.DeliveryFee.Equal(got.DeliveryFee), "fee: want %s, got %s", tt.want.DeliveryFee, got.DeliveryFee)
			assert.True(t, tt.want.PreDiscountTotal.Equal(got.PreDiscountTotal), "total: want %s, got %s", tt.want.PreDiscountTotal, got.PreDiscountTotal)
		})
	}
}

func TestCalculate_Deterministic(t *testing.T) {
	lines := []Line{{Item: item("a", "3.33"), Quantity: 3}}
	cfg := Config{TaxRate: DefaultTaxRate, DeliveryFee: d("1.99")}

	first, err := Calculate(lines, true, cfg)
	require.NoError(t, err)
	second, err := Calculate(lines, true, cfg)
	require.NoError(t, err)

	assert.Equal(t, first.Subtotal.String(), second.Subtotal.String())
	assert.Equal(t, first.TaxAmount.String(), second.TaxAmount.String())
	assert.Equal(t, first.PreDiscountTotal.String(), second.PreDiscountTotal.String())
}

func TestCalculate_InvalidQuantity(t *testing.T) {
	_, err := Calculate([]Line{{Item: item("a", "1"), Quantity: 0}}, false, Config{})

	var qErr *InvalidQuantityError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, "a", qErr.MenuItemID)
}

func TestCalculate_Unavailable(t *testing.T) {
	sold := item("b", "2")
	sold.IsAvailable = false

	_, err := Calculate([]Line{{Item: item("a", "1"), Quantity: 1}, {Item: sold, Quantity: 1}}, false, Config{})

	var uErr *MenuItemUnavailableError
	require.ErrorAs(t, err, &uErr)
	assert.Equal(t, "b", uErr.MenuItemID)
}
