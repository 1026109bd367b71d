package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type retryCall struct {
	at    time.Time
	cause string
}

type mockQueue struct {
	mu        sync.Mutex
	pending   []Message
	claimErr  error
	completed []string
	retried   map[string]retryCall
	buried    map[string]string
}

func newMockQueue(msgs ...Message) *mockQueue {
	return &mockQueue{
		pending: msgs,
		retried: map[string]retryCall{},
		buried:  map[string]string{},
	}
}

func (q *mockQueue) Claim(_ context.Context, limit int, _ time.Duration) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	n := min(limit, len(q.pending))
	out := q.pending[:n]
	q.pending = q.pending[n:]
	return out, nil
}

func (q *mockQueue) Complete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, id)
	return nil
}

func (q *mockQueue) Retry(_ context.Context, id string, at time.Time, cause string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried[id] = retryCall{at: at, cause: cause}
	return nil
}

func (q *mockQueue) Bury(_ context.Context, id string, cause string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buried[id] = cause
	return nil
}

// --- Helpers ---

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func newTestWorker(t *testing.T, q Queue, subs ...Subscriber) *Worker {
	t.Helper()
	w, err := NewWorker(q, subs, Options{
		BatchSize:   10,
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
		Now:         func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return w
}

func TestWorker_Poll(t *testing.T) {
	boom := errors.New("printer offline")
	q := newMockQueue(
		Message{ID: "ok", Subscriber: "notify", Attempts: 1},
		Message{ID: "flaky", Subscriber: "kitchen", Attempts: 2},
		Message{ID: "exhausted", Subscriber: "kitchen", Attempts: 3},
		Message{ID: "poison", Subscriber: "audit", Attempts: 1},
		Message{ID: "orphan", Subscriber: "gone", Attempts: 1},
	)
	w := newTestWorker(t, q,
		Subscriber{Name: "notify", Handler: HandlerFunc(func(context.Context, Message) error { return nil })},
		Subscriber{Name: "kitchen", Handler: HandlerFunc(func(context.Context, Message) error { return boom })},
		Subscriber{Name: "audit", Handler: HandlerFunc(func(context.Context, Message) error {
			return Permanent(errors.New("unknown event type"))
		})},
	)

	n, err := w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.Equal(t, []string{"ok"}, q.completed)

	require.Contains(t, q.retried, "flaky")
	assert.Equal(t, testNow.Add(2*time.Second), q.retried["flaky"].at)
	assert.Equal(t, "printer offline", q.retried["flaky"].cause)

	assert.Equal(t, "printer offline", q.buried["exhausted"])
	assert.Equal(t, "unknown event type", q.buried["poison"])
	assert.Contains(t, q.buried["orphan"], "no handler")
}

func TestWorker_PollClaimError(t *testing.T) {
	q := newMockQueue()
	q.claimErr = errors.New("connection reset")
	w := newTestWorker(t, q)

	n, err := w.Poll(context.Background())

	require.ErrorIs(t, err, q.claimErr)
	assert.Zero(t, n)
}

func TestWorker_Backoff(t *testing.T) {
	w := newTestWorker(t, newMockQueue())

	assert.Equal(t, time.Second, w.backoff(1))
	assert.Equal(t, 2*time.Second, w.backoff(2))
	assert.Equal(t, 32*time.Second, w.backoff(6))
	assert.Equal(t, time.Minute, w.backoff(7))
	assert.Equal(t, time.Minute, w.backoff(100))
}

func TestWorker_RunDrainsUntilCanceled(t *testing.T) {
	var msgs []Message
	for i := range 25 {
		msgs = append(msgs, Message{ID: string(rune('a' + i)), Subscriber: "notify", Attempts: 1})
	}
	q := newMockQueue(msgs...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen int
	)
	w := newTestWorker(t, q, Subscriber{Name: "notify", Handler: HandlerFunc(func(context.Context, Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen++
		if seen == 25 {
			cancel()
		}
		return nil
	})})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Len(t, q.completed, 25)
}

func TestNewWorker_DuplicateSubscriber(t *testing.T) {
	h := HandlerFunc(func(context.Context, Message) error { return nil })

	_, err := NewWorker(newMockQueue(), []Subscriber{{Name: "a", Handler: h}, {Name: "a", Handler: h}}, Options{})

	require.Error(t, err)
}

func TestRoutes(t *testing.T) {
	routes := Routes(
		Subscriber{Name: "audit", Events: []string{"order.created", "order.cancelled"}},
		Subscriber{Name: "notify", Events: []string{"order.created"}},
	)

	assert.Equal(t, []string{"audit", "notify"}, routes["order.created"])
	assert.Equal(t, []string{"audit"}, routes["order.cancelled"])
}
