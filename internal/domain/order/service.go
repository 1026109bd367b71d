package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/ordergenie-engine/internal/domain/menu"
	"github.com/xenking/ordergenie-engine/internal/domain/pricing"
	"github.com/xenking/ordergenie-engine/internal/domain/promo"
	"github.com/xenking/ordergenie-engine/internal/domain/restaurant"
	"github.com/xenking/ordergenie-engine/internal/domain/stock"
)

const instrumentationName = "github.com/xenking/ordergenie-engine/internal/domain/order"

// Service runs the order lifecycle. Every operation executes in a single
// transaction of its UnitOfWork and is retried on concurrency and
// dependency failures.
type Service struct {
	uow     UnitOfWork
	now     func() time.Time
	newID   func() string
	retry   RetryPolicy
	restock RestockPolicy

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer

	created     metric.Int64Counter
	transitions metric.Int64Counter
	failures    metric.Int64Counter
	refunded    metric.Float64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator sets the generator of order and line item ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithRetryPolicy sets the retry policy of all operations.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithRefundRestock sets whether full refunds return stock.
func WithRefundRestock(p RestockPolicy) Option {
	return func(s *Service) { s.restock = p }
}

// WithMeterProvider sets the metric provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithTracerProvider sets the trace provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// NewService creates an order Service over uow.
func NewService(uow UnitOfWork, opts ...Option) (*Service, error) {
	s := &Service{
		uow:            uow,
		now:            time.Now,
		newID:          uuid.NewString,
		retry:          DefaultRetryPolicy(),
		restock:        RestockUnprepared,
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	for _, o := range opts {
		o(s)
	}
	s.tracer = s.tracerProvider.Tracer(instrumentationName)

	meter := s.meterProvider.Meter(instrumentationName)
	var err error
	if s.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders accepted"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created")
	}
	if s.transitions, err = meter.Int64Counter("orders.transitions",
		metric.WithDescription("Order status transitions"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.transitions")
	}
	if s.failures, err = meter.Int64Counter("orders.errors",
		metric.WithDescription("Failed order operations by error kind"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.errors")
	}
	if s.refunded, err = meter.Float64Counter("orders.refunded.amount",
		metric.WithDescription("Refunded amount"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.refunded.amount")
	}
	return s, nil
}

// run executes fn under a span and the retry policy and classifies its error.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "order."+op)
	defer span.End()

	err := s.retry.Do(ctx, fn)
	if err == nil {
		return nil
	}
	err = wrap(strings.ReplaceAll(op, "_", " "), err)
	kind := KindOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("kind", kind.String()),
	))
	if kind == KindDependency || kind == KindConcurrency || kind == KindUnknown {
		zctx.From(ctx).Error("Order operation failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (s *Service) countTransition(ctx context.Context, from, to Status) {
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

// CreateOrder validates and prices the request and persists the order with
// its stock reservation, promo usage and events.
func (s *Service) CreateOrder(ctx context.Context, restaurantID string, req CreateRequest) (*Order, error) {
	var created *Order
	err := s.run(ctx, "create_order", func(ctx context.Context) error {
		if err := req.Validate(); err != nil {
			return err
		}
		return s.uow.InTx(ctx, func(ctx context.Context, tx Tx) error {
			o, err := s.create(ctx, tx, restaurantID, req)
			if err != nil {
				return err
			}
			created = o
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(created.Type))))
	s.countTransition(ctx, "", StatusPending)
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", created.ID),
		zap.String("order_number", created.Number),
		zap.String("restaurant_id", created.RestaurantID),
		zap.String("total", created.Total.String()),
	)
	return created, nil
}

func (s *Service) create(ctx context.Context, tx Tx, restaurantID string, req CreateRequest) (*Order, error) {
	rest, err := tx.Restaurants().Get(ctx, restaurantID)
	if err != nil {
		return nil, errors.Wrap(err, "get restaurant")
	}
	if !rest.AcceptingOrders {
		return nil, restaurant.ErrNotAcceptingOrders
	}
	settings := rest.Settings.Normalize()
	if req.Type == TypeDelivery && !settings.Delivery.Enabled {
		return nil, restaurant.ErrDeliveryDisabled
	}

	items, err := tx.Menu().GetByIDs(ctx, restaurantID, req.itemIDs())
	if err != nil {
		return nil, errors.Wrap(err, "get menu items")
	}
	byID := make(map[string]menu.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	lines := make([]pricing.Line, len(req.Items))
	for i, it := range req.Items {
		mi, ok := byID[it.MenuItemID]
		if !ok {
			return nil, &menu.ItemNotFoundError{ItemID: it.MenuItemID}
		}
		lines[i] = pricing.Line{Item: mi, Quantity: it.Quantity}
	}

	quote, err := pricing.Calculate(lines, req.Type == TypeDelivery, settings.Pricing())
	if err != nil {
		return nil, err
	}
	if minimum := settings.Payment.MinimumOrderAmount; minimum.IsPositive() && quote.Subtotal.LessThan(minimum) {
		return nil, &MinimumOrderError{Minimum: minimum, Subtotal: quote.Subtotal}
	}

	cust, err := tx.Customers().Upsert(ctx, restaurantID, req.contact())
	if err != nil {
		return nil, errors.Wrap(err, "upsert customer")
	}

	discount := decimal.Zero
	var applied *promo.Discount
	if code := strings.TrimSpace(req.PromoCode); code != "" {
		validator := promo.NewValidator(tx.Promos(), s.now)
		applied, err = validator.Validate(ctx, promo.Request{
			RestaurantID: restaurantID,
			Code:         code,
			Amount:       quote.Subtotal,
			DeliveryFee:  quote.DeliveryFee,
			CustomerID:   cust.ID,
		})
		if err != nil {
			return nil, err
		}
		if err := validator.Redeem(ctx, applied, cust.ID); err != nil {
			return nil, err
		}
		discount = decimal.Min(applied.Amount, quote.PreDiscountTotal)
	}

	now := s.now().UTC()
	o := &Order{
		ID:               s.newID(),
		RestaurantID:     restaurantID,
		CustomerID:       cust.ID,
		Type:             req.Type,
		Status:           StatusPending,
		PaymentStatus:    PaymentPending,
		Customer:         req.contact(),
		DeliveryAddress:  req.address(),
		Items:            make([]LineItem, len(req.Items)),
		Subtotal:         quote.Subtotal,
		TaxAmount:        quote.TaxAmount,
		DeliveryFee:      quote.DeliveryFee,
		DiscountAmount:   discount,
		Total:            quote.PreDiscountTotal.Sub(discount),
		RefundedAmount:   decimal.Zero,
		Notes:            strings.TrimSpace(req.Notes),
		PickupTime:       req.PickupTime,
		EstimatedReadyAt: now.Add(estimatedDuration(req.Type, settings.Delivery.EstimatedMinutes)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if applied != nil {
		o.PromoCodeID = applied.PromoCodeID
		o.PromoCode = applied.Code
	}
	for i, l := range lines {
		o.Items[i] = LineItem{
			ID:             s.newID(),
			MenuItemID:     l.Item.ID,
			Name:           l.Item.Name,
			Quantity:       l.Quantity,
			UnitPrice:      l.Item.Price,
			LineTotal:      l.Total(),
			Customizations: req.Items[i].Customizations,
			Notes:          strings.TrimSpace(req.Items[i].Notes),
		}
	}

	alerts, err := stock.NewLedger(tx.Stock()).Reserve(ctx, o.StockLines())
	if err != nil {
		return nil, err
	}
	o.StockReserved = true

	seq, err := tx.Orders().NextNumber(ctx, restaurantID, now)
	if err != nil {
		return nil, errors.Wrap(err, "next order number")
	}
	o.Number = FormatNumber(now, seq)

	if err := tx.Orders().Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	events := []Event{OrderCreated{
		Order:       *o,
		Restaurant:  rest.Name,
		PrintTicket: settings.Ordering.KitchenPrinting && !settings.Ordering.ConfirmationRequired,
	}}
	for _, a := range alerts {
		events = append(events, LowStockReached{RestaurantID: restaurantID, OrderID: o.ID, Item: a})
	}
	if err := tx.Events().Append(ctx, events...); err != nil {
		return nil, errors.Wrap(err, "append events")
	}
	return o, nil
}

func estimatedDuration(t Type, deliveryMinutes int) time.Duration {
	switch t {
	case TypePickup:
		return pickupMinutes * time.Minute
	case TypeDineIn:
		return dineInMinutes * time.Minute
	default:
		return time.Duration(deliveryMinutes) * time.Minute
	}
}

// GetOrder returns the order with the given id.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var o *Order
	err := s.run(ctx, "get_order", func(ctx context.Context) error {
		return s.uow.InTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			o, err = tx.Orders().Get(ctx, orderID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateStatus moves an order forward in its lifecycle. CANCELLED is handled
// by CancelOrder; REFUNDED requires RefundOrder.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status) (*Order, error) {
	switch {
	case to == StatusCancelled:
		return s.CancelOrder(ctx, orderID)
	case to == StatusRefunded:
		return nil, wrap("update status", &ValidationError{Field: "status", Reason: "refunds are issued with an amount"})
	case !to.Valid():
		return nil, wrap("update status", &ValidationError{Field: "status", Reason: "unknown status " + string(to)})
	}

	var (
		updated *Order
		from    Status
	)
	err := s.run(ctx, "update_status", func(ctx context.Context) error {
		return s.uow.InTx(ctx, func(ctx context.Context, tx Tx) error {
			o, err := tx.Orders().GetForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			from = o.Status
			if err := o.transition(to, s.now().UTC()); err != nil {
				return err
			}
			ev, err := s.statusChanged(ctx, tx, o, from)
			if err != nil {
				return err
			}
			if err := tx.Orders().Update(ctx, o); err != nil {
				return errors.Wrap(err, "update order")
			}
			if err := tx.Events().Append(ctx, ev); err != nil {
				return errors.Wrap(err, "append events")
			}
			updated = o
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.countTransition(ctx, from, to)
	zctx.From(ctx).Info("Order status updated",
		zap.String("order_id", updated.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return updated, nil
}

// statusChanged builds the event for a completed transition. The kitchen
// ticket is due on confirmation when the restaurant holds tickets until then.
func (s *Service) statusChanged(ctx context.Context, tx Tx, o *Order, from Status) (StatusChanged, error) {
	ev := StatusChanged{Order: *o, From: from}
	rest, err := tx.Restaurants().Get(ctx, o.RestaurantID)
	if err != nil {
		return ev, errors.Wrap(err, "get restaurant")
	}
	ev.Restaurant = rest.Name
	if o.Status == StatusConfirmed {
		settings := rest.Settings.Normalize()
		ev.PrintTicket = settings.Ordering.KitchenPrinting && settings.Ordering.ConfirmationRequired
	}
	return ev, nil
}

// CancelOrder cancels a non-terminal order and returns its stock.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	var (
		cancelled *Order
		from      Status
		restocked bool
	)
	err := s.run(ctx, "cancel_order", func(ctx context.Context) error {
		return s.uow.InTx(ctx, func(ctx context.Context, tx Tx) error {
			o, err := tx.Orders().GetForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			from = o.Status
			if err := o.transition(StatusCancelled, s.now().UTC()); err != nil {
				return err
			}
			if o.PaymentStatus == PaymentPending || o.PaymentStatus == PaymentProcessing {
				o.PaymentStatus = PaymentCancelled
			}

			restocked, err = stock.NewLedger(tx.Stock()).Release(ctx, o.ID, o.StockLines())
			if err != nil {
				return err
			}
			if restocked {
				o.StockReserved = false
			}

			if err := tx.Orders().Update(ctx, o); err != nil {
				return errors.Wrap(err, "update order")
			}
			if err := tx.Events().Append(ctx, Cancelled{Order: *o, From: from, Restocked: restocked}); err != nil {
				return errors.Wrap(err, "append events")
			}
			cancelled = o
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.countTransition(ctx, from, StatusCancelled)
	zctx.From(ctx).Info("Order cancelled",
		zap.String("order_id", cancelled.ID),
		zap.String("from", string(from)),
		zap.Bool("restocked", restocked),
	)
	return cancelled, nil
}

// RefundOrder refunds part or all of a paid order. A refund reaching the
// order total moves it to REFUNDED; smaller refunds only change the payment
// status.
func (s *Service) RefundOrder(ctx context.Context, orderID string, req RefundRequest) (*Order, error) {
	var (
		refunded *Order
		event    Refunded
	)
	err := s.run(ctx, "refund_order", func(ctx context.Context) error {
		if !req.Amount.IsPositive() {
			return &ValidationError{Field: "amount", Reason: "must be positive"}
		}
		return s.uow.InTx(ctx, func(ctx context.Context, tx Tx) error {
			o, err := tx.Orders().GetForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o.Status == StatusCancelled || o.Status == StatusRefunded {
				return &InvalidTransitionError{From: o.Status, To: StatusRefunded}
			}
			if o.PaymentStatus != PaymentCompleted && o.PaymentStatus != PaymentPartialRefund {
				return ErrNotPaid
			}
			if remaining := o.Refundable(); req.Amount.GreaterThan(remaining) {
				return &ValidationError{Field: "amount", Reason: "exceeds refundable amount " + remaining.String()}
			}

			now := s.now().UTC()
			ev := Refunded{From: o.Status, Amount: req.Amount, Reason: strings.TrimSpace(req.Reason)}
			o.RefundedAmount = o.RefundedAmount.Add(req.Amount)
			o.RefundReason = ev.Reason
			ev.Partial = o.RefundedAmount.LessThan(o.Total)

			if ev.Partial {
				o.PaymentStatus = PaymentPartialRefund
				o.UpdatedAt = now
			} else {
				if err := o.transition(StatusRefunded, now); err != nil {
					return err
				}
				o.PaymentStatus = PaymentRefunded
				if s.restock.restocks(ev.From) {
					ev.Restocked, err = stock.NewLedger(tx.Stock()).Release(ctx, o.ID, o.StockLines())
					if err != nil {
						return err
					}
					if ev.Restocked {
						o.StockReserved = false
					}
				}
			}

			if err := tx.Orders().Update(ctx, o); err != nil {
				return errors.Wrap(err, "update order")
			}
			ev.Order = *o
			if err := tx.Events().Append(ctx, ev); err != nil {
				return errors.Wrap(err, "append events")
			}
			refunded, event = o, ev
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	amount, _ := event.Amount.Float64()
	s.refunded.Add(ctx, amount, metric.WithAttributes(attribute.Bool("partial", event.Partial)))
	if !event.Partial {
		s.countTransition(ctx, event.From, StatusRefunded)
	}
	zctx.From(ctx).Info("Order refunded",
		zap.String("order_id", refunded.ID),
		zap.String("amount", event.Amount.String()),
		zap.Bool("partial", event.Partial),
		zap.Bool("restocked", event.Restocked),
	)
	return refunded, nil
}

// MarkPaid records a successful payment. PENDING orders are confirmed.
// Repeated calls for an already paid order change nothing.
func (s *Service) MarkPaid(ctx context.Context, orderID, reference string) (*Order, error) {
	var (
		paid    *Order
		from    Status
		changed bool
	)
	err := s.run(ctx, "mark_paid", func(ctx context.Context) error {
		changed = false
		return s.uow.InTx(ctx, func(ctx context.Context, tx Tx) error {
			o, err := tx.Orders().GetForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			paid, from = o, o.Status
			switch o.PaymentStatus {
			case PaymentCompleted, PaymentPartialRefund, PaymentRefunded:
				return nil
			}

			now := s.now().UTC()
			o.PaymentStatus = PaymentCompleted
			o.PaymentReference = reference
			o.UpdatedAt = now

			var confirmed *StatusChanged
			if o.Status == StatusPending {
				if err := o.transition(StatusConfirmed, now); err != nil {
					return err
				}
				ev, err := s.statusChanged(ctx, tx, o, from)
				if err != nil {
					return err
				}
				confirmed = &ev
			}
			events := []Event{PaymentSucceeded{Order: *o, Reference: reference}}
			if confirmed != nil {
				events = append(events, *confirmed)
			}

			if err := tx.Orders().Update(ctx, o); err != nil {
				return errors.Wrap(err, "update order")
			}
			if err := tx.Events().Append(ctx, events...); err != nil {
				return errors.Wrap(err, "append events")
			}
			changed = true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(zap.String("order_id", paid.ID), zap.String("reference", reference))
	switch {
	case !changed:
		lg.Debug("Payment already recorded")
	case from.Terminal():
		lg.Warn("Payment received for closed order", zap.String("status", string(from)))
	default:
		if from != paid.Status {
			s.countTransition(ctx, from, paid.Status)
		}
		lg.Info("Payment recorded")
	}
	return paid, nil
}
