package restaurant

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/ordergenie-engine/internal/domain/pricing"
)

func TestNormalize_LegacyDocument(t *testing.T) {
	raw := `{"delivery":{"isEnabled":true,"fee":2.5,"freeDeliveryMinimum":25}}`

	var s Settings
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	s = s.Normalize()

	assert.Equal(t, SettingsVersion, s.Version)
	assert.True(t, s.Ordering.KitchenPrinting)
	assert.Equal(t, DefaultDeliveryMinutes, s.Delivery.EstimatedMinutes)
	assert.Equal(t, "GBP", s.Currency)
	require.NotNil(t, s.TaxRate)
	assert.True(t, pricing.DefaultTaxRate.Equal(*s.TaxRate))
}

func TestNormalize_KeepsExplicitValues(t *testing.T) {
	rate := decimal.RequireFromString("0.08")
	s := Settings{
		Version:  SettingsVersion,
		TaxRate:  &rate,
		Currency: "USD",
		Delivery: DeliverySettings{EstimatedMinutes: 20},
	}.Normalize()

	assert.False(t, s.Ordering.KitchenPrinting)
	assert.Equal(t, 20, s.Delivery.EstimatedMinutes)
	assert.Equal(t, "USD", s.Currency)
	assert.True(t, rate.Equal(*s.TaxRate))
}

func TestPricing(t *testing.T) {
	minimum := decimal.NewFromInt(30)
	s := DefaultSettings()
	s.Delivery.FreeDeliveryMinimum = &minimum

	cfg := s.Pricing()

	assert.True(t, decimal.RequireFromString("0.20").Equal(cfg.TaxRate))
	assert.True(t, decimal.RequireFromString("2.50").Equal(cfg.DeliveryFee))
	require.NotNil(t, cfg.FreeDeliveryMinimum)
	assert.True(t, minimum.Equal(*cfg.FreeDeliveryMinimum))
}
