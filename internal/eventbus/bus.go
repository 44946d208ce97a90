package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/ntmd/ntmd/internal/model"
)

// ErrStaleCursor is returned by Subscribe when the requested cursor is
// older than both the ring and the store's retained history.
var ErrStaleCursor = errors.New("eventbus: stale cursor")

// ErrBackpressure is the reason a Subscription's channel is closed when its
// bounded queue could not keep up with publish volume.
var ErrBackpressure = errors.New("eventbus: subscriber backpressure")

const (
	maxBatchEvents = 200
	maxBatchBytes  = 64 * 1024
	subscriberQueueDepth = 64
)

// EventStore is the subset of the store the bus needs for durable replay
// and publish.
type EventStore interface {
	InsertEvents(ctx context.Context, events []model.Event) ([]model.Event, error)
	ReadEventsSince(ctx context.Context, sinceID int64, limit int) ([]model.Event, error)
	OldestEventID(ctx context.Context) (int64, error)
}

// Batch is one bounded push of events, carrying the cursor a client should
// resume from on its next subscribe call.
type Batch struct {
	Events      []model.Event
	NextEventID int64
}

// Subscription is a live, ordered event channel for one client.
type Subscription struct {
	ID     string
	Events <-chan Batch
	Closed <-chan error // receives the close reason, then is closed itself

	bus    *Bus
	in     chan Batch
	closed chan error
	once   sync.Once
}

// Close detaches the subscription from the bus's fan-out.
func (s *Subscription) Close() {
	s.bus.removeSubscriber(s.ID)
	s.once.Do(func() { close(s.closed) })
}

func (s *Subscription) closeWithReason(err error) {
	s.once.Do(func() {
		s.closed <- err
		close(s.closed)
	})
}

// Bus is the event log: a ring of recent events plus a pointer to the store
// as authoritative backing, fan-out to subscribers, and replay-from-cursor.
// Modeled on the teacher's ws.Broadcaster fan-out/backpressure handling,
// generalized from "disconnect the socket" to "close the subscription,
// client resumes via snapshot.get + subscribe(sinceEventId)".
type Bus struct {
	store EventStore
	ring  *ring

	mu   sync.Mutex
	subs map[string]*Subscription
}

func New(store EventStore, ringSize int) *Bus {
	return &Bus{store: store, ring: newRing(ringSize), subs: make(map[string]*Subscription)}
}

// Publish persists events durably (assigning cursors) and fans the
// resulting batch out to every live subscriber.
//
// The store insert, the ring push and the subscriber snapshot happen under
// the same lock Subscribe uses to capture its backlog and register itself, so a
// subscription started concurrently with a publish sees each event exactly
// once: either the event is already in the ring and store when Subscribe
// captures its backlog (and the subscriber snapshot for this Publish was taken before
// registration, so it's excluded from fan-out), or it isn't yet (and the
// subscriber snapshot, taken after registration, includes it for fan-out).
func (b *Bus) Publish(ctx context.Context, events []model.Event) error {
	b.mu.Lock()
	inserted, err := b.store.InsertEvents(ctx, events)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if len(inserted) == 0 {
		b.mu.Unlock()
		return nil
	}

	for _, ev := range inserted {
		b.ring.push(ev)
	}
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, batch := range chunkBatches(inserted) {
		for _, s := range subs {
			select {
			case s.in <- batch:
			default:
				// Bounded queue full: close rather than drop silently,
				// per the spec's backpressure rule.
				go b.disconnect(s, ErrBackpressure)
			}
		}
	}
	return nil
}

func (b *Bus) disconnect(s *Subscription, reason error) {
	b.removeSubscriber(s.ID)
	s.closeWithReason(reason)
}

func (b *Bus) removeSubscriber(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Subscribe attaches a new live subscription starting after sinceEventID.
// Replay policy: ring if the cursor is within the ring's window, else the
// store if the cursor is no older than one before the store's oldest
// retained event (so nothing after the cursor has been pruned), else
// ErrStaleCursor.
func (b *Bus) Subscribe(ctx context.Context, id string, sinceEventID int64) (*Subscription, []model.Event, error) {
	// Backlog capture and subscriber registration are serialized against
	// Publish's ring-push-plus-fan-out-snapshot under the same lock, so no
	// event can land in neither the backlog nor a fan-out batch (lost) or
	// in both (duplicate). See the note on Publish.
	b.mu.Lock()
	defer b.mu.Unlock()

	var backlog []model.Event

	if ringOldest := b.ring.oldestID(); ringOldest != 0 && sinceEventID >= ringOldest-1 {
		backlog = b.ring.since(sinceEventID)
	} else {
		storeOldest, err := b.store.OldestEventID(ctx)
		if err != nil {
			return nil, nil, err
		}
		if storeOldest != 0 && sinceEventID >= storeOldest-1 {
			rows, err := b.store.ReadEventsSince(ctx, sinceEventID, 100000)
			if err != nil {
				return nil, nil, err
			}
			backlog = rows
		} else if sinceEventID > 0 {
			return nil, nil, ErrStaleCursor
		}
	}

	sub := &Subscription{
		ID:     id,
		bus:    b,
		in:     make(chan Batch, subscriberQueueDepth),
		closed: make(chan error, 1),
	}
	sub.Events = sub.in
	sub.Closed = sub.closed

	b.subs[id] = sub

	return sub, backlog, nil
}

func chunkBatches(events []model.Event) []Batch {
	var batches []Batch
	var current []model.Event
	size := 0
	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, Batch{Events: current, NextEventID: current[len(current)-1].ID + 1})
		current = nil
		size = 0
	}
	for _, ev := range events {
		approx := len(ev.Message) + len(ev.SessionID) + len(ev.PaneID) + 128
		if len(current) >= maxBatchEvents || size+approx > maxBatchBytes {
			flush()
		}
		current = append(current, ev)
		size += approx
	}
	flush()
	return batches
}

// LatestEventID is a thin accessor used by snapshot.get to populate
// lastEventId without round-tripping to the store when the ring has data.
func (b *Bus) LatestEventID(ctx context.Context, fallback func(context.Context) (int64, error)) (int64, error) {
	if id := b.ring.oldestID(); id != 0 {
		since := b.ring.since(0)
		if len(since) > 0 {
			return since[len(since)-1].ID, nil
		}
	}
	return fallback(ctx)
}
