package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/xenking/ordergenie-engine/internal/outbox"

// Options tunes a Worker. Zero values select the defaults.
type Options struct {
	BatchSize    int
	PollInterval time.Duration
	Lease        time.Duration
	Concurrency  int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration

	MeterProvider metric.MeterProvider
	// Backlog reports the number of undelivered messages for the backlog
	// gauge. Nil disables the gauge.
	Backlog func(ctx context.Context) (int64, error)
	Now     func() time.Time
}

func (o *Options) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Lease <= 0 {
		o.Lease = time.Minute
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Minute
	}
	if o.MeterProvider == nil {
		o.MeterProvider = metricnoop.NewMeterProvider()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Worker polls the Queue and hands each message to its subscriber.
type Worker struct {
	queue    Queue
	handlers map[string]Handler
	opts     Options

	delivered metric.Int64Counter
	failed    metric.Int64Counter
	buried    metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewWorker creates a Worker delivering to subs.
func NewWorker(queue Queue, subs []Subscriber, opts Options) (*Worker, error) {
	opts.setDefaults()
	w := &Worker{
		queue:    queue,
		handlers: make(map[string]Handler, len(subs)),
		opts:     opts,
	}
	for _, s := range subs {
		if _, dup := w.handlers[s.Name]; dup {
			return nil, errors.Errorf("duplicate subscriber %q", s.Name)
		}
		w.handlers[s.Name] = s.Handler
	}

	meter := opts.MeterProvider.Meter(instrumentationName)
	var err error
	if w.delivered, err = meter.Int64Counter("outbox.delivered",
		metric.WithDescription("Messages delivered to subscribers"),
	); err != nil {
		return nil, errors.Wrap(err, "outbox.delivered")
	}
	if w.failed, err = meter.Int64Counter("outbox.failed",
		metric.WithDescription("Failed delivery attempts"),
	); err != nil {
		return nil, errors.Wrap(err, "outbox.failed")
	}
	if w.buried, err = meter.Int64Counter("outbox.buried",
		metric.WithDescription("Messages given up on"),
	); err != nil {
		return nil, errors.Wrap(err, "outbox.buried")
	}
	if w.duration, err = meter.Float64Histogram("outbox.delivery.duration",
		metric.WithDescription("Delivery duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "outbox.delivery.duration")
	}
	if opts.Backlog != nil {
		if _, err := meter.Int64ObservableGauge("outbox.backlog",
			metric.WithDescription("Undelivered messages"),
			metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
				n, err := opts.Backlog(ctx)
				if err != nil {
					return err
				}
				o.Observe(n)
				return nil
			}),
		); err != nil {
			return nil, errors.Wrap(err, "outbox.backlog")
		}
	}
	return w, nil
}

// Run polls until ctx is done. A full batch is followed by another poll
// without waiting.
func (w *Worker) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	lg.Info("Outbox worker started",
		zap.Int("batch", w.opts.BatchSize),
		zap.Int("concurrency", w.opts.Concurrency),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			lg.Info("Outbox worker stopped")
			return nil
		case <-timer.C:
		}

		n, err := w.Poll(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			lg.Error("Outbox poll failed", zap.Error(err))
			timer.Reset(w.opts.PollInterval)
		case n == w.opts.BatchSize:
			timer.Reset(0)
		default:
			timer.Reset(w.opts.PollInterval)
		}
	}
}

// Poll claims one batch and delivers it. It returns the number of claimed
// messages.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	msgs, err := w.queue.Claim(ctx, w.opts.BatchSize, w.opts.Lease)
	if err != nil {
		return 0, errors.Wrap(err, "claim")
	}

	var g errgroup.Group
	g.SetLimit(w.opts.Concurrency)
	for _, m := range msgs {
		g.Go(func() error {
			return w.deliver(ctx, m)
		})
	}
	return len(msgs), g.Wait()
}

func (w *Worker) deliver(ctx context.Context, m Message) error {
	ctx = zctx.With(ctx,
		zap.String("outbox_id", m.ID),
		zap.String("event_type", m.EventType),
		zap.String("subscriber", m.Subscriber),
		zap.Int("attempt", m.Attempts),
	)
	lg := zctx.From(ctx)
	attrs := metric.WithAttributes(
		attribute.String("subscriber", m.Subscriber),
		attribute.String("event_type", m.EventType),
	)

	h, ok := w.handlers[m.Subscriber]
	if !ok {
		lg.Error("No handler for subscriber")
		w.buried.Add(ctx, 1, attrs)
		return w.queue.Bury(ctx, m.ID, "no handler for subscriber "+m.Subscriber)
	}

	start := w.opts.Now()
	err := h.Handle(ctx, m)
	w.duration.Record(ctx, w.opts.Now().Sub(start).Seconds(), attrs)

	switch {
	case err == nil:
		w.delivered.Add(ctx, 1, attrs)
		return w.queue.Complete(ctx, m.ID)
	case IsPermanent(err) || m.Attempts >= w.opts.MaxAttempts:
		lg.Error("Outbox message buried", zap.Error(err))
		w.buried.Add(ctx, 1, attrs)
		return w.queue.Bury(ctx, m.ID, err.Error())
	default:
		wait := w.backoff(m.Attempts)
		lg.Warn("Outbox delivery failed", zap.Error(err), zap.Duration("retry_in", wait))
		w.failed.Add(ctx, 1, attrs)
		return w.queue.Retry(ctx, m.ID, w.opts.Now().Add(wait), err.Error())
	}
}

// backoff doubles the base delay for every attempt made so far.
func (w *Worker) backoff(attempts int) time.Duration {
	d := w.opts.BaseBackoff << max(attempts-1, 0)
	if d <= 0 || d > w.opts.MaxBackoff {
		return w.opts.MaxBackoff
	}
	return d
}
