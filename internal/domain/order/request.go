package order

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/ordergenie-engine/internal/domain/customer"
)

const (
	minPhoneDigits = 10
	defaultCountry = "GB"

	pickupMinutes = 25
	dineInMinutes = 30
)

// ItemRequest is one requested menu item.
type ItemRequest struct {
	MenuItemID     string
	Quantity       int
	Customizations []Customization
	Notes          string
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	Type            Type
	Customer        customer.Contact
	DeliveryAddress *Address
	Items           []ItemRequest
	PromoCode       string
	Notes           string
	PickupTime      *time.Time
}

// Validate checks the request shape. It performs no lookups.
func (r CreateRequest) Validate() error {
	if !r.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown order type %q", r.Type)}
	}
	if len(r.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	for i, it := range r.Items {
		if strings.TrimSpace(it.MenuItemID) == "" {
			return &ValidationError{Field: fmt.Sprintf("items[%d].menuItemId", i), Reason: "required"}
		}
		if it.Quantity <= 0 {
			return &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be positive"}
		}
	}
	if err := validateContact(r.Customer); err != nil {
		return err
	}
	if r.Type == TypeDelivery {
		if r.DeliveryAddress == nil {
			return &ValidationError{Field: "deliveryAddress", Reason: "required for delivery orders"}
		}
		a := r.DeliveryAddress
		switch {
		case strings.TrimSpace(a.Street) == "":
			return &ValidationError{Field: "deliveryAddress.street", Reason: "required"}
		case strings.TrimSpace(a.City) == "":
			return &ValidationError{Field: "deliveryAddress.city", Reason: "required"}
		case strings.TrimSpace(a.Postcode) == "":
			return &ValidationError{Field: "deliveryAddress.postcode", Reason: "required"}
		}
	}
	return nil
}

func validateContact(c customer.Contact) error {
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Field: "customer.name", Reason: "required"}
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(c.Email))
	if err != nil || addr.Name != "" {
		return &ValidationError{Field: "customer.email", Reason: "must be a valid email address"}
	}
	digits := 0
	for _, r := range c.Phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < minPhoneDigits {
		return &ValidationError{Field: "customer.phone", Reason: fmt.Sprintf("must contain at least %d digits", minPhoneDigits)}
	}
	return nil
}

func (r CreateRequest) itemIDs() []string {
	seen := make(map[string]struct{}, len(r.Items))
	ids := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		if _, ok := seen[it.MenuItemID]; ok {
			continue
		}
		seen[it.MenuItemID] = struct{}{}
		ids = append(ids, it.MenuItemID)
	}
	return ids
}

func (r CreateRequest) contact() customer.Contact {
	return customer.Contact{
		Name:  strings.TrimSpace(r.Customer.Name),
		Email: customer.NormalizeEmail(r.Customer.Email),
		Phone: strings.TrimSpace(r.Customer.Phone),
	}
}

func (r CreateRequest) address() *Address {
	if r.Type != TypeDelivery || r.DeliveryAddress == nil {
		return nil
	}
	a := *r.DeliveryAddress
	a.Street = strings.TrimSpace(a.Street)
	a.City = strings.TrimSpace(a.City)
	a.Postcode = strings.ToUpper(strings.TrimSpace(a.Postcode))
	if a.Country == "" {
		a.Country = defaultCountry
	}
	return &a
}

// RefundRequest holds the input for a refund.
type RefundRequest struct {
	Amount decimal.Decimal
	Reason string
}

// RestockPolicy decides whether a full refund returns stock.
type RestockPolicy string

const (
	// RestockUnprepared restocks only orders the kitchen had not started.
	RestockUnprepared RestockPolicy = "unprepared"
	RestockAlways     RestockPolicy = "always"
	RestockNever      RestockPolicy = "never"
)

// ParseRestockPolicy parses a configured policy name.
func ParseRestockPolicy(s string) (RestockPolicy, error) {
	switch p := RestockPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case RestockUnprepared, RestockAlways, RestockNever:
		return p, nil
	case "":
		return RestockUnprepared, nil
	default:
		return "", fmt.Errorf("unknown restock policy %q", s)
	}
}

func (p RestockPolicy) restocks(from Status) bool {
	switch p {
	case RestockAlways:
		return true
	case RestockNever:
		return false
	default:
		return from == StatusPending || from == StatusConfirmed
	}
}
