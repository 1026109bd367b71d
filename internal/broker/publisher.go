package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// publishChannel is the part of *amqp.Channel the publisher uses.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// Publisher publishes persistent JSON messages. It keeps one channel and
// reopens it when it closes.
type Publisher struct {
	open    func(ctx context.Context) (publishChannel, error)
	timeout time.Duration
	now     func() time.Time

	mu sync.Mutex
	ch publishChannel
}

// NewPublisher creates a Publisher over conn.
func NewPublisher(conn *Connection) *Publisher {
	return &Publisher{
		open: func(ctx context.Context) (publishChannel, error) {
			return conn.Channel(ctx)
		},
		timeout: 10 * time.Second,
		now:     time.Now,
	}
}

// PublishEvent publishes a serialized domain event to the orders exchange
// under its event type. The event id becomes the message id so consumers can
// drop duplicates.
func (p *Publisher) PublishEvent(ctx context.Context, eventType, eventID string, payload []byte) error {
	return p.publish(ctx, ExchangeOrders, eventType, amqp.Publishing{
		MessageId: eventID,
		Type:      eventType,
		Body:      payload,
	})
}

// PublishNotification marshals msg to JSON and publishes it to the
// notifications exchange.
func (p *Publisher) PublishNotification(ctx context.Context, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	return p.publish(ctx, ExchangeNotifications, "", amqp.Publishing{Body: body})
}

func (p *Publisher) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	msg.ContentType = "application/json"
	msg.DeliveryMode = amqp.Persistent
	msg.Timestamp = p.now()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		ch, err := p.open(ctx)
		if err != nil {
			return errors.Wrap(err, "open publish channel")
		}
		p.ch = ch
	}

	if err := p.ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		return errors.Wrapf(err, "publish to %s", exchange)
	}
	zctx.From(ctx).Debug("Message published",
		zap.String("exchange", exchange),
		zap.String("routing_key", key),
		zap.Int("size", len(msg.Body)),
	)
	return nil
}

// Close closes the publish channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		return nil
	}
	return p.ch.Close()
}
