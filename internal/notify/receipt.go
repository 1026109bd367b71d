package notify

import (
	"strconv"
	"strings"
	"time"

	"github.com/xenking/ordergenie-engine/internal/domain/order"
)

// ReceiptWidth is the character width of an 80mm thermal roll.
const ReceiptWidth = 32

const receiptTime = "02/01/2006, 15:04:05"

var (
	doubleRule = strings.Repeat("=", ReceiptWidth) + "\n"
	singleRule = strings.Repeat("-", ReceiptWidth) + "\n"
)

// Receipt renders the kitchen ticket of o in plain text for a thermal
// printer. Times are shown in loc, UTC when nil.
func Receipt(o order.Order, restaurant string, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	b.WriteString(doubleRule)
	b.WriteString(center(strings.ToUpper(restaurant), ReceiptWidth) + "\n")
	b.WriteString(doubleRule)
	b.WriteString("Order: " + o.Number + "\n")
	b.WriteString("Type: " + string(o.Type) + "\n")
	b.WriteString("Time: " + o.CreatedAt.In(loc).Format(receiptTime) + "\n")
	if o.PickupTime != nil {
		b.WriteString("Pickup: " + o.PickupTime.In(loc).Format(receiptTime) + "\n")
	}
	b.WriteString(singleRule)
	b.WriteString("Customer: " + o.Customer.Name + "\n")
	b.WriteString("Phone: " + o.Customer.Phone + "\n")
	if o.Type == order.TypeDelivery && o.DeliveryAddress != nil {
		b.WriteString("Address: " + o.DeliveryAddress.String() + "\n")
		if o.DeliveryAddress.Instructions != "" {
			b.WriteString("Driver: " + o.DeliveryAddress.Instructions + "\n")
		}
	}
	b.WriteString(singleRule)
	b.WriteString("ITEMS:\n")
	b.WriteString(singleRule)

	for _, it := range o.Items {
		b.WriteString(strconv.Itoa(it.Quantity) + "x " + it.Name + "\n")
		if len(it.Customizations) > 0 {
			mods := make([]string, len(it.Customizations))
			for i, c := range it.Customizations {
				mods[i] = c.Group + ": " + c.Choice
			}
			b.WriteString("   Mods: " + strings.Join(mods, ", ") + "\n")
		}
		if it.Notes != "" {
			b.WriteString("   Notes: " + it.Notes + "\n")
		}
		b.WriteString("   £" + it.LineTotal.StringFixed(2) + "\n\n")
	}

	b.WriteString(singleRule)
	b.WriteString("TOTAL: £" + o.Total.StringFixed(2) + "\n")
	b.WriteString(doubleRule)

	if o.Notes != "" {
		b.WriteString("SPECIAL INSTRUCTIONS:\n")
		b.WriteString(o.Notes + "\n")
		b.WriteString(doubleRule)
	}

	// Paper feed.
	b.WriteString("\n\n\n")
	return b.String()
}

func center(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	left := (width - n) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-n-left)
}
