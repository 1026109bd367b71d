package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/ordergenie-engine/internal/domain/customer"
	"github.com/xenking/ordergenie-engine/internal/domain/order"
	"github.com/xenking/ordergenie-engine/internal/domain/stock"
	"github.com/xenking/ordergenie-engine/internal/outbox"
)

// --- Mock implementations ---

type mockPublisher struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (p *mockPublisher) PublishNotification(_ context.Context, msg any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg.(Message))
	return nil
}

type mockMailer struct {
	sent []Email
	err  error
}

func (m *mockMailer) Send(_ context.Context, e Email) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, e)
	return nil
}

type mockPrinter struct {
	tickets []Ticket
	err     error
}

func (p *mockPrinter) PrintTicket(_ context.Context, t Ticket) error {
	if p.err != nil {
		return p.err
	}
	p.tickets = append(p.tickets, t)
	return nil
}

// --- Helpers ---

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testOrder() order.Order {
	created := time.Date(2026, 10, 17, 18, 30, 5, 0, time.UTC)
	return order.Order{
		ID:            "o1",
		RestaurantID:  "r1",
		Number:        "20261017007",
		Type:          order.TypeDelivery,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		Customer:      customer.Contact{Name: "Ada Lovelace", Email: "ada@example.com", Phone: "07700900123"},
		DeliveryAddress: &order.Address{
			Street:   "1 Analytical Way",
			City:     "London",
			Postcode: "N1 9GU",
			Country:  "GB",
		},
		Items: []order.LineItem{
			{
				MenuItemID:     "curry",
				Name:           "Chicken Curry",
				Quantity:       2,
				UnitPrice:      d("12.99"),
				LineTotal:      d("25.98"),
				Customizations: []order.Customization{{Group: "Spice", Choice: "Hot"}},
			},
			{MenuItemID: "naan", Name: "Garlic Naan", Quantity: 1, UnitPrice: d("4.95"), LineTotal: d("4.95"), Notes: "extra garlic"},
		},
		Subtotal:         d("30.93"),
		TaxAmount:        d("6.186"),
		DeliveryFee:      d("2.50"),
		DiscountAmount:   decimal.Zero,
		Total:            d("39.616"),
		Notes:            "Ring the bell twice",
		CreatedAt:        created,
		EstimatedReadyAt: created.Add(45 * time.Minute),
	}
}

func message(t *testing.T, ev order.Event) outbox.Message {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	return outbox.Message{ID: "m1", EventType: ev.EventType(), AggregateID: ev.AggregateID(), Payload: payload}
}

// --- Receipt ---

func TestReceipt_Layout(t *testing.T) {
	got := Receipt(testOrder(), "Royal Spice Kitchen", time.UTC)

	want := "" +
		"================================\n" +
		"      ROYAL SPICE KITCHEN       \n" +
		"================================\n" +
		"Order: 20261017007\n" +
		"Type: DELIVERY\n" +
		"Time: 17/10/2026, 18:30:05\n" +
		"--------------------------------\n" +
		"Customer: Ada Lovelace\n" +
		"Phone: 07700900123\n" +
		"Address: 1 Analytical Way, London N1 9GU, GB\n" +
		"--------------------------------\n" +
		"ITEMS:\n" +
		"--------------------------------\n" +
		"2x Chicken Curry\n" +
		"   Mods: Spice: Hot\n" +
		"   £25.98\n" +
		"\n" +
		"1x Garlic Naan\n" +
		"   Notes: extra garlic\n" +
		"   £4.95\n" +
		"\n" +
		"--------------------------------\n" +
		"TOTAL: £39.62\n" +
		"================================\n" +
		"SPECIAL INSTRUCTIONS:\n" +
		"Ring the bell twice\n" +
		"================================\n" +
		"\n\n\n"
	assert.Equal(t, want, got)
}

func TestReceipt_PickupOmitsAddress(t *testing.T) {
	o := testOrder()
	o.Type = order.TypePickup
	o.Notes = ""
	pickup := o.CreatedAt.Add(time.Hour)
	o.PickupTime = &pickup

	got := Receipt(o, "Curry House", nil)
	assert.NotContains(t, got, "Address:")
	assert.NotContains(t, got, "SPECIAL INSTRUCTIONS")
	assert.Contains(t, got, "Pickup: 17/10/2026, 19:30:05\n")
	assert.True(t, strings.HasSuffix(got, "================================\n\n\n\n"))
}

func TestCenter(t *testing.T) {
	assert.Equal(t, "  ab  ", center("ab", 6))
	assert.Equal(t, " abc  ", center("abc", 6))
	assert.Equal(t, "toolong", center("toolong", 4))
}

// --- Broadcaster ---

func TestBroadcaster_Messages(t *testing.T) {
	pub := &mockPublisher{}
	b := NewBroadcaster(pub)
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	ctx := context.Background()
	o := testOrder()

	require.NoError(t, b.NotifyOrderCreated(ctx, o))
	o.Status = order.StatusConfirmed
	require.NoError(t, b.NotifyStatusChanged(ctx, o, order.StatusPending))
	require.NoError(t, b.NotifyLowStock(ctx, "r1", stock.LowStock{MenuItemID: "curry", Name: "Chicken Curry", Count: 2, Threshold: 3}))
	require.NoError(t, b.Send(ctx, Email{To: "kitchen@example.com", Subject: "s", Text: "t"}))

	require.Len(t, pub.msgs, 4)

	created := pub.msgs[0]
	assert.Equal(t, TypeOrderCreated, created.Type)
	assert.Equal(t, "20261017007", created.OrderNumber)
	require.NotNil(t, created.Total)
	assert.Equal(t, "39.616", created.Total.String())
	assert.Equal(t, now, created.Timestamp)

	changed := pub.msgs[1]
	assert.Equal(t, TypeStatusChanged, changed.Type)
	assert.Equal(t, order.StatusConfirmed, changed.Status)
	assert.Equal(t, order.StatusPending, changed.FromStatus)

	low := pub.msgs[2]
	assert.Equal(t, TypeLowStock, low.Type)
	assert.Equal(t, "r1", low.RestaurantID)
	require.NotNil(t, low.Item)
	assert.Equal(t, 2, low.Item.Count)

	mail := pub.msgs[3]
	assert.Equal(t, TypeEmail, mail.Type)
	require.NotNil(t, mail.Email)
	assert.Equal(t, "kitchen@example.com", mail.Email.To)
}

func TestBroadcaster_Errors(t *testing.T) {
	pub := &mockPublisher{err: errors.New("channel closed")}
	b := NewBroadcaster(pub)

	err := b.NotifyOrderCreated(context.Background(), testOrder())
	require.ErrorContains(t, err, "publish order_created")

	err = NewBroadcaster(&mockPublisher{}).Send(context.Background(), Email{Subject: "no one"})
	require.Error(t, err)
}

// --- PrintNode ---

func TestPrintNodeClient_PrintTicket(t *testing.T) {
	var (
		gotJob  printJob
		gotUser string
		gotPath string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotJob)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("12345"))
	}))
	defer srv.Close()

	c, err := NewPrintNodeClient(PrintNodeConfig{BaseURL: srv.URL + "/", APIKey: "key", PrinterID: 42})
	require.NoError(t, err)

	err = c.PrintTicket(context.Background(), Ticket{OrderID: "o1", Title: "Order 1", Content: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "/printjobs", gotPath)
	assert.Equal(t, "key", gotUser)
	assert.Equal(t, int64(42), gotJob.PrinterID)
	assert.Equal(t, "Order 1", gotJob.Title)
	assert.Equal(t, "raw_base64", gotJob.ContentType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("hello")), gotJob.Content)
	assert.Equal(t, "ordergenie", gotJob.Source)
}

func TestPrintNodeClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "printer offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewPrintNodeClient(PrintNodeConfig{BaseURL: srv.URL, APIKey: "key", PrinterID: 1})
	require.NoError(t, err)

	err = c.PrintTicket(context.Background(), Ticket{Title: "Order 1", Content: "x"})
	var pnErr *PrintNodeError
	require.ErrorAs(t, err, &pnErr)
	assert.Equal(t, http.StatusServiceUnavailable, pnErr.StatusCode)
	assert.Equal(t, "printer offline", pnErr.Message)
}

func TestNewPrintNodeClient_RequiresCredentials(t *testing.T) {
	_, err := NewPrintNodeClient(PrintNodeConfig{PrinterID: 1})
	require.Error(t, err)
	_, err = NewPrintNodeClient(PrintNodeConfig{APIKey: "key"})
	require.Error(t, err)
}

// --- FallbackPrinter ---

func TestFallbackPrinter(t *testing.T) {
	ticket := Ticket{OrderID: "o1", Title: "Order 20261017007", Content: "receipt"}

	tests := []struct {
		name      string
		primary   *mockPrinter
		mailErr   error
		wantErr   bool
		wantPrint int
		wantMails int
	}{
		{name: "printer succeeds", primary: &mockPrinter{}, wantPrint: 1},
		{name: "printer fails", primary: &mockPrinter{err: errors.New("offline")}, wantMails: 1},
		{name: "no printer", wantMails: 1},
		{name: "both fail", primary: &mockPrinter{err: errors.New("offline")}, mailErr: errors.New("smtp down"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer := &mockMailer{err: tt.mailErr}
			var primary Printer
			if tt.primary != nil {
				primary = tt.primary
			}
			p := NewFallbackPrinter(primary, mailer, "kitchen@example.com")

			err := p.PrintTicket(context.Background(), ticket)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.primary != nil {
				assert.Len(t, tt.primary.tickets, tt.wantPrint)
			}
			require.Len(t, mailer.sent, tt.wantMails)
			if tt.wantMails > 0 {
				assert.Equal(t, "kitchen@example.com", mailer.sent[0].To)
				assert.Equal(t, "Kitchen Order 20261017007", mailer.sent[0].Subject)
				assert.Equal(t, "receipt", mailer.sent[0].Text)
				assert.True(t, mailer.sent[0].Preformatted)
			}
		})
	}
}

// --- Subscribers ---

func TestKitchenSubscriber(t *testing.T) {
	o := testOrder()

	tests := []struct {
		name      string
		event     order.Event
		wantPrint bool
	}{
		{name: "created with ticket", event: order.OrderCreated{Order: o, Restaurant: "Curry House", PrintTicket: true}, wantPrint: true},
		{name: "created awaiting confirmation", event: order.OrderCreated{Order: o, Restaurant: "Curry House"}},
		{name: "confirmed with ticket", event: order.StatusChanged{Order: o, Restaurant: "Curry House", From: order.StatusPending, PrintTicket: true}, wantPrint: true},
		{name: "other transition", event: order.StatusChanged{Order: o, Restaurant: "Curry House", From: order.StatusConfirmed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockPrinter{}
			sub := KitchenSubscriber(p, time.UTC)

			require.NoError(t, sub.Handler.Handle(context.Background(), message(t, tt.event)))
			if !tt.wantPrint {
				assert.Empty(t, p.tickets)
				return
			}
			require.Len(t, p.tickets, 1)
			assert.Equal(t, "Order 20261017007", p.tickets[0].Title)
			assert.Contains(t, p.tickets[0].Content, "CURRY HOUSE")
		})
	}
}

func TestSubscribers_UndecodablePayloadIsPermanent(t *testing.T) {
	msg := outbox.Message{ID: "m1", EventType: order.EventOrderCreated, Payload: []byte("{")}

	for _, sub := range []outbox.Subscriber{
		KitchenSubscriber(&mockPrinter{}, nil),
		RestaurantSubscriber(NewBroadcaster(&mockPublisher{})),
		CustomerSubscriber(&mockMailer{}),
	} {
		err := sub.Handler.Handle(context.Background(), msg)
		assert.True(t, outbox.IsPermanent(err), sub.Name)
	}
}

func TestRestaurantSubscriber(t *testing.T) {
	pub := &mockPublisher{}
	sub := RestaurantSubscriber(NewBroadcaster(pub))
	ctx := context.Background()
	o := testOrder()

	require.NoError(t, sub.Handler.Handle(ctx, message(t, order.OrderCreated{Order: o})))
	require.NoError(t, sub.Handler.Handle(ctx, message(t, order.StatusChanged{Order: o, From: order.StatusPending})))
	require.NoError(t, sub.Handler.Handle(ctx, message(t, order.LowStockReached{
		RestaurantID: "r1",
		OrderID:      "o1",
		Item:         stock.LowStock{MenuItemID: "curry", Name: "Chicken Curry", Count: 1, Threshold: 3},
	})))

	require.Len(t, pub.msgs, 3)
	assert.Equal(t, TypeOrderCreated, pub.msgs[0].Type)
	assert.Equal(t, TypeStatusChanged, pub.msgs[1].Type)
	assert.Equal(t, TypeLowStock, pub.msgs[2].Type)
}

func TestRestaurantSubscriber_CancelAndRefund(t *testing.T) {
	cancelled := testOrder()
	cancelled.Status = order.StatusCancelled
	refunded := testOrder()
	refunded.Status = order.StatusRefunded
	partial := testOrder()
	partial.Status = order.StatusCompleted

	tests := []struct {
		name     string
		event    order.Event
		wantFrom order.Status
		wantTo   order.Status
		silent   bool
	}{
		{
			name:     "cancellation",
			event:    order.Cancelled{Order: cancelled, From: order.StatusConfirmed},
			wantFrom: order.StatusConfirmed,
			wantTo:   order.StatusCancelled,
		},
		{
			name:     "full refund",
			event:    order.Refunded{Order: refunded, From: order.StatusReady, Amount: decimal.RequireFromString("39.616")},
			wantFrom: order.StatusReady,
			wantTo:   order.StatusRefunded,
		},
		{
			name:   "partial refund",
			event:  order.Refunded{Order: partial, From: order.StatusCompleted, Amount: decimal.NewFromInt(5), Partial: true},
			silent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{}
			sub := RestaurantSubscriber(NewBroadcaster(pub))
			assert.Contains(t, sub.Events, tt.event.EventType())

			require.NoError(t, sub.Handler.Handle(context.Background(), message(t, tt.event)))
			if tt.silent {
				assert.Empty(t, pub.msgs)
				return
			}
			require.Len(t, pub.msgs, 1)
			assert.Equal(t, TypeStatusChanged, pub.msgs[0].Type)
			assert.Equal(t, tt.wantFrom, pub.msgs[0].FromStatus)
			assert.Equal(t, tt.wantTo, pub.msgs[0].Status)
		})
	}
}

func TestCustomerSubscriber(t *testing.T) {
	m := &mockMailer{}
	sub := CustomerSubscriber(m)

	require.NoError(t, sub.Handler.Handle(context.Background(), message(t, order.OrderCreated{Order: testOrder(), Restaurant: "Curry House"})))
	require.Len(t, m.sent, 1)

	mail := m.sent[0]
	assert.Equal(t, "ada@example.com", mail.To)
	assert.Equal(t, "Order Confirmation - 20261017007", mail.Subject)
	assert.Contains(t, mail.Text, "Thanks for your order with Curry House.")
	assert.Contains(t, mail.Text, "2x Chicken Curry £25.98")
	assert.Contains(t, mail.Text, "Delivery: £2.50")
	assert.NotContains(t, mail.Text, "Discount")
	assert.Contains(t, mail.Text, "Total: £39.62")
	assert.Contains(t, mail.Text, "Estimated ready at 19:15 UTC.")
}
