package broker

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xenking/ordergenie-engine/internal/outbox"
)

// Handler processes one message body. Errors marked with outbox.Permanent
// drop the message. Other errors requeue it.
type Handler func(ctx context.Context, body []byte) error

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	Queue    string
	Tag      string
	Prefetch int
	// Timeout bounds one handler call.
	Timeout time.Duration
	// RetryDelay is the pause before resubscribing after the channel closes.
	RetryDelay time.Duration
}

// Consumer reads messages from a queue with manual acknowledgement.
type Consumer struct {
	conn *Connection
	opts ConsumerOptions
}

// NewConsumer creates a Consumer reading opts.Queue over conn.
func NewConsumer(conn *Connection, opts ConsumerOptions) *Consumer {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	return &Consumer{conn: conn, opts: opts}
}

// Run consumes until ctx is done, resubscribing when the channel drops.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	lg := zctx.From(ctx).With(zap.String("queue", c.opts.Queue))
	ctx = zctx.Base(ctx, lg)

	for {
		err := c.consume(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		lg.Warn("Consumer interrupted, resubscribing",
			zap.Duration("delay", c.opts.RetryDelay),
			zap.Error(err),
		)
		t := time.NewTimer(c.opts.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (c *Consumer) consume(ctx context.Context, h Handler) error {
	ch, err := c.conn.Channel(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return errors.Wrap(err, "set qos")
	}
	deliveries, err := ch.Consume(c.opts.Queue, c.opts.Tag, false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "register consumer")
	}
	zctx.From(ctx).Info("Consumer started", zap.Int("prefetch", c.opts.Prefetch))

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(c.opts.Tag, false)
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.process(ctx, d, h)
		}
	}
}

// process runs h and settles the delivery.
func (c *Consumer) process(ctx context.Context, d amqp.Delivery, h Handler) {
	lg := zctx.From(ctx).With(
		zap.String("message_id", d.MessageId),
		zap.String("routing_key", d.RoutingKey),
		zap.Bool("redelivered", d.Redelivered),
	)
	hctx, cancel := context.WithTimeout(zctx.Base(ctx, lg), c.opts.Timeout)
	defer cancel()

	start := time.Now()
	err := h(hctx, d.Body)
	took := time.Since(start)

	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			lg.Error("Ack failed", zap.Error(ackErr))
		}
		lg.Debug("Message processed", zap.Duration("took", took))
	case outbox.IsPermanent(err):
		lg.Error("Message rejected", zap.Error(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			lg.Error("Nack failed", zap.Error(nackErr))
		}
	default:
		lg.Warn("Message processing failed, requeueing", zap.Duration("took", took), zap.Error(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			lg.Error("Nack failed", zap.Error(nackErr))
		}
	}
}
