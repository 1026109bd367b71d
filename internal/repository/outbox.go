package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/ordergenie-engine/internal/domain/order"
	"github.com/xenking/ordergenie-engine/internal/outbox"
)

const (
	insertOutboxSQL = `INSERT INTO outbox (id, event_id, event_type, aggregate_id, subscriber, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`

	// Claimed rows are leased by pushing available_at forward, so a worker
	// that dies mid-delivery releases its messages when the lease expires.
	claimOutboxSQL = `UPDATE outbox SET attempts = attempts + 1,
			available_at = now() + ($2::bigint * interval '1 millisecond')
		WHERE id IN (
			SELECT id FROM outbox
			WHERE delivered_at IS NULL AND buried_at IS NULL AND available_at <= now()
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_id, event_type, aggregate_id, subscriber, payload, attempts, created_at`

	completeOutboxSQL = `UPDATE outbox SET delivered_at = now(), last_error = '' WHERE id = $1`

	retryOutboxSQL = `UPDATE outbox SET available_at = $2, last_error = $3 WHERE id = $1`

	buryOutboxSQL = `UPDATE outbox SET buried_at = now(), last_error = $2 WHERE id = $1`

	outboxBacklogSQL = `SELECT COUNT(*) FROM outbox WHERE delivered_at IS NULL AND buried_at IS NULL`
)

var _ order.EventWriter = (*OutboxWriter)(nil)

// OutboxWriter stores events as one outbox row per subscriber.
type OutboxWriter struct {
	q      DBTX
	routes map[string][]string
}

// NewOutboxWriter returns an OutboxWriter that routes events by type.
func NewOutboxWriter(q DBTX, routes map[string][]string) *OutboxWriter {
	return &OutboxWriter{q: q, routes: routes}
}

// Append stores events. Events without subscribers are dropped.
func (w *OutboxWriter) Append(ctx context.Context, events ...order.Event) error {
	b := &pgx.Batch{}
	for _, ev := range events {
		subs := w.routes[ev.EventType()]
		if len(subs) == 0 {
			continue
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshaling %s event: %w", ev.EventType(), err)
		}
		eventID := uuid.NewString()
		for _, sub := range subs {
			b.Queue(insertOutboxSQL, uuid.NewString(), eventID, ev.EventType(), ev.AggregateID(), sub, payload)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	if err := w.q.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("appending outbox events: %w", err)
	}
	return nil
}

var _ outbox.Queue = (*OutboxRepository)(nil)

// OutboxRepository implements outbox.Queue backed by PostgreSQL.
type OutboxRepository struct {
	q DBTX
}

// NewOutboxRepository returns an OutboxRepository that uses q.
func NewOutboxRepository(q DBTX) *OutboxRepository {
	return &OutboxRepository{q: q}
}

// Claim leases up to limit due messages. Rows locked by another worker are
// skipped.
func (r *OutboxRepository) Claim(ctx context.Context, limit int, lease time.Duration) ([]outbox.Message, error) {
	rows, err := r.q.Query(ctx, claimOutboxSQL, limit, lease.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("claiming outbox messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, scanOutboxMessage)
	if err != nil {
		return nil, fmt.Errorf("claiming outbox messages: %w", err)
	}
	return msgs, nil
}

// Complete marks a message delivered.
func (r *OutboxRepository) Complete(ctx context.Context, id string) error {
	if _, err := r.q.Exec(ctx, completeOutboxSQL, id); err != nil {
		return fmt.Errorf("completing outbox message %q: %w", id, err)
	}
	return nil
}

// Retry schedules another delivery attempt.
func (r *OutboxRepository) Retry(ctx context.Context, id string, at time.Time, cause string) error {
	if _, err := r.q.Exec(ctx, retryOutboxSQL, id, at, cause); err != nil {
		return fmt.Errorf("rescheduling outbox message %q: %w", id, err)
	}
	return nil
}

// Bury stops delivery of a message.
func (r *OutboxRepository) Bury(ctx context.Context, id string, cause string) error {
	if _, err := r.q.Exec(ctx, buryOutboxSQL, id, cause); err != nil {
		return fmt.Errorf("burying outbox message %q: %w", id, err)
	}
	return nil
}

// Backlog returns the number of undelivered messages.
func (r *OutboxRepository) Backlog(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, outboxBacklogSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting outbox backlog: %w", err)
	}
	return n, nil
}

func scanOutboxMessage(row pgx.CollectableRow) (outbox.Message, error) {
	var m outbox.Message
	err := row.Scan(&m.ID, &m.EventID, &m.EventType, &m.AggregateID, &m.Subscriber, &m.Payload, &m.Attempts, &m.CreatedAt)
	return m, err
}
