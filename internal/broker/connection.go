// Package broker connects the engine to RabbitMQ.
//
// Domain events are relayed from the outbox to the orders topic exchange,
// notifications go to a fanout exchange, and payment results are consumed
// from a durable queue bound to the topic exchange.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Exchanges declared on connect.
const (
	ExchangeOrders        = "orders_topic"
	ExchangeNotifications = "notifications_fanout"
)

// Queues declared on connect.
const (
	QueueNotifications = "notifications_queue"
	QueuePayments      = "payment_results_queue"
)

// RoutingKeyPaymentSucceeded is the key payment providers publish under.
const RoutingKeyPaymentSucceeded = "payment.succeeded"

// Binding attaches a queue to an exchange.
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

// DefaultBindings returns the queues the engine relies on.
func DefaultBindings(paymentsQueue string) []Binding {
	if paymentsQueue == "" {
		paymentsQueue = QueuePayments
	}
	return []Binding{
		{Queue: QueueNotifications, Exchange: ExchangeNotifications},
		{Queue: paymentsQueue, Exchange: ExchangeOrders, RoutingKey: RoutingKeyPaymentSucceeded},
	}
}

// Options configures a Connection.
type Options struct {
	// DialAttempts bounds connection attempts per (re)connect.
	DialAttempts int
	// DialBackoff is multiplied by the attempt number between attempts.
	DialBackoff time.Duration
	Bindings    []Binding
}

func (o *Options) setDefaults() {
	if o.DialAttempts <= 0 {
		o.DialAttempts = 5
	}
	if o.DialBackoff <= 0 {
		o.DialBackoff = 2 * time.Second
	}
	if o.Bindings == nil {
		o.Bindings = DefaultBindings("")
	}
}

// Connection is a RabbitMQ connection that redials when it drops.
type Connection struct {
	url  string
	opts Options

	mu   sync.Mutex
	conn *amqp.Connection
}

// Dial connects to url and declares the topology.
func Dial(ctx context.Context, url string, opts Options) (*Connection, error) {
	opts.setDefaults()
	c := &Connection{url: url, opts: opts}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		return nil, errors.Wrap(err, "establish initial connection")
	}
	return c, nil
}

// connect dials with retries. Must be called with mu held.
func (c *Connection) connect(ctx context.Context) error {
	lg := zctx.From(ctx)

	var err error
	for attempt := 1; attempt <= c.opts.DialAttempts; attempt++ {
		if err = c.dial(); err == nil {
			return nil
		}
		if attempt == c.opts.DialAttempts {
			break
		}

		wait := time.Duration(attempt) * c.opts.DialBackoff
		lg.Warn("RabbitMQ connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return errors.Wrapf(err, "connect after %d attempts", c.opts.DialAttempts)
}

func (c *Connection) dial() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "open channel")
	}
	defer func() { _ = ch.Close() }()

	if err := declareTopology(ch, c.opts.Bindings); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "declare topology")
	}
	c.conn = conn
	return nil
}

func declareTopology(ch *amqp.Channel, bindings []Binding) error {
	exchanges := []struct{ name, kind string }{
		{ExchangeOrders, amqp.ExchangeTopic},
		{ExchangeNotifications, amqp.ExchangeFanout},
	}
	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "declare exchange %s", ex.name)
		}
	}
	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "declare queue %s", b.Queue)
		}
		if err := ch.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false, nil); err != nil {
			return errors.Wrapf(err, "bind queue %s to %s", b.Queue, b.Exchange)
		}
	}
	return nil
}

// Channel opens a channel, reconnecting first if the connection dropped.
func (c *Connection) Channel(ctx context.Context) (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		zctx.From(ctx).Warn("RabbitMQ connection lost, reconnecting")
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	return ch, nil
}

// Check reports an error when the connection is down. It suits readiness
// checks.
func (c *Connection) Check(context.Context) error {
	if c.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// IsClosed reports whether the underlying connection is gone.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == nil || c.conn.IsClosed()
}

// Close closes the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}
