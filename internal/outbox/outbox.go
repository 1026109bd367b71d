// Package outbox delivers events recorded in the transactional outbox to
// their subscribers.
//
// Every event is stored once per subscriber that listens to its type, so each
// (event, subscriber) pair is retried and buried independently.
package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Message is one event awaiting delivery to one subscriber.
type Message struct {
	ID          string
	EventID     string
	EventType   string
	AggregateID string
	Subscriber  string
	Payload     []byte
	// Attempts counts deliveries including the current one.
	Attempts  int
	CreatedAt time.Time
}

// Queue is the persistent store of pending messages.
type Queue interface {
	// Claim leases up to limit due messages for lease. A claimed message is
	// invisible to other workers until the lease expires.
	Claim(ctx context.Context, limit int, lease time.Duration) ([]Message, error)
	Complete(ctx context.Context, id string) error
	// Retry makes the message due again at the given time.
	Retry(ctx context.Context, id string, at time.Time, cause string) error
	// Bury stops delivery of the message for good.
	Bury(ctx context.Context, id string, cause string) error
}

// Handler delivers a message to a subscriber.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Subscriber is a named consumer of a set of event types.
type Subscriber struct {
	Name    string
	Events  []string
	Handler Handler
}

// Routes maps each event type to the names of its subscribers.
func Routes(subs ...Subscriber) map[string][]string {
	routes := make(map[string][]string)
	for _, s := range subs {
		for _, ev := range s.Events {
			routes[ev] = append(routes[ev], s.Name)
		}
	}
	return routes
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The message is buried at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
