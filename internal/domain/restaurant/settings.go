package restaurant

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/ordergenie-engine/internal/domain/pricing"
)

// SettingsVersion is the current layout of Settings. Documents stored with an
// older version are upgraded by Normalize.
const SettingsVersion = 1

// DefaultDeliveryMinutes is the delivery estimate used when none is set.
const DefaultDeliveryMinutes = 45

// Settings is the typed per-restaurant configuration, stored as a JSON
// document next to the restaurant row.
type Settings struct {
	Version int `json:"version"`
	// TaxRate is a fraction, 0.20 for 20%. Nil means pricing.DefaultTaxRate.
	TaxRate  *decimal.Decimal `json:"taxRate,omitempty"`
	Currency string           `json:"currency"`
	Delivery DeliverySettings `json:"delivery"`
	Payment  PaymentSettings  `json:"payment"`
	Ordering OrderingSettings `json:"ordering"`
}

// DeliverySettings controls delivery fees and estimates.
type DeliverySettings struct {
	Enabled             bool             `json:"isEnabled"`
	Fee                 decimal.Decimal  `json:"fee"`
	FreeDeliveryMinimum *decimal.Decimal `json:"freeDeliveryMinimum,omitempty"`
	EstimatedMinutes    int              `json:"estimatedTime"`
}

// PaymentSettings holds payment-related limits.
type PaymentSettings struct {
	MinimumOrderAmount decimal.Decimal `json:"minimumOrderAmount"`
}

// OrderingSettings controls kitchen behaviour.
type OrderingSettings struct {
	KitchenPrinting bool `json:"kitchenPrintingEnabled"`
	// ConfirmationRequired delays the kitchen ticket until staff confirm
	// the order.
	ConfirmationRequired bool `json:"orderConfirmationRequired"`
}

// DefaultSettings returns the settings of a newly created restaurant.
func DefaultSettings() Settings {
	rate := pricing.DefaultTaxRate
	return Settings{
		Version:  SettingsVersion,
		TaxRate:  &rate,
		Currency: "GBP",
		Delivery: DeliverySettings{
			Enabled:          true,
			Fee:              decimal.RequireFromString("2.50"),
			EstimatedMinutes: DefaultDeliveryMinutes,
		},
		Ordering: OrderingSettings{KitchenPrinting: true},
	}
}

// Normalize upgrades s to SettingsVersion and fills unset values with their
// defaults.
func (s Settings) Normalize() Settings {
	if s.Version < 1 {
		// Version 0 documents predate per-restaurant tax and always
		// printed kitchen tickets.
		s.Ordering.KitchenPrinting = true
		s.Version = 1
	}
	if s.TaxRate == nil {
		rate := pricing.DefaultTaxRate
		s.TaxRate = &rate
	}
	if s.Currency == "" {
		s.Currency = "GBP"
	}
	if s.Delivery.EstimatedMinutes <= 0 {
		s.Delivery.EstimatedMinutes = DefaultDeliveryMinutes
	}
	return s
}

// Pricing returns the calculator configuration for these settings.
func (s Settings) Pricing() pricing.Config {
	s = s.Normalize()
	return pricing.Config{
		TaxRate:             *s.TaxRate,
		DeliveryFee:         s.Delivery.Fee,
		FreeDeliveryMinimum: s.Delivery.FreeDeliveryMinimum,
	}
}
