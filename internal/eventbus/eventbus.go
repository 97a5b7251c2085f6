// Package eventbus fans domain events (queue changes, booking
// verifications, connection state transitions) out to interested sinks
// through a bounded, worker-pooled dispatcher, built the same way the
// platform's contract-event dispatcher is.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/louaj-station/local-node/internal/logging"
)

// EventType names a domain occurrence a sink can subscribe to.
type EventType string

const (
	EventQueueEntered         EventType = "queue.entered"
	EventQueueExited          EventType = "queue.exited"
	EventQueueStatusChanged   EventType = "queue.statusChanged"
	EventQueueSeatsChanged    EventType = "queue.seatsChanged"
	EventBookingCreated       EventType = "booking.created"
	EventBookingVerified      EventType = "booking.verified"
	EventBookingCancelled     EventType = "booking.cancelled"
	EventTripCreated          EventType = "trip.created"
	EventStaffUpdated         EventType = "staff.updated"
	EventCentralLinkConnected EventType = "CENTRAL_LINK_CONNECTED"
	EventCentralLinkDropped   EventType = "CENTRAL_LINK_DROPPED"
	EventVehicleSynced        EventType = "VEHICLE_SYNCED"
)

// Event is a single occurrence placed on the bus.
type Event struct {
	Type    EventType
	Payload any
}

// Sink receives events it has subscribed to. Handlers should be quick;
// long-running work belongs in the handler's own goroutine.
type Sink interface {
	HandleEvent(ctx context.Context, ev Event) error
	SupportedEvents() []EventType
}

type registration struct {
	id   string
	sink Sink
	want map[EventType]struct{}
}

func (r *registration) matches(t EventType) bool {
	if len(r.want) == 0 {
		return true
	}
	_, ok := r.want[t]
	return ok
}

// Bus routes events to registered sinks through one bounded queue shared by
// all sinks, dropping the oldest queued event when that queue is full rather
// than blocking the publisher.
type Bus struct {
	log *logging.Logger

	mu   sync.RWMutex
	subs map[string]*registration

	queue   chan Event
	workers int

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	statsMu   sync.Mutex
	delivered int64
	dropped   int64
	failed    int64
}

// Config tunes the bus's internal queue and worker pool.
type Config struct {
	QueueSize   int
	WorkerCount int
	Logger      *logging.Logger
}

// New builds a Bus. Call Start to begin processing.
func New(cfg Config) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Bus{
		log:     cfg.Logger,
		subs:    make(map[string]*registration),
		queue:   make(chan Event, cfg.QueueSize),
		workers: cfg.WorkerCount,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Subscribe registers a sink under id, replacing any prior registration
// with the same id.
func (b *Bus) Subscribe(id string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	want := make(map[EventType]struct{})
	for _, t := range sink.SupportedEvents() {
		want[t] = struct{}{}
	}
	b.subs[id] = &registration{id: id, sink: sink, want: want}
}

// Unsubscribe removes a sink.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Start launches the worker pool. ctx cancellation stops all workers.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("eventbus already running")
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			b.worker(ctx, id)
		}(i)
	}
	go func() {
		wg.Wait()
		close(b.doneCh)
	}()

	b.log.With(ctx).WithField("workers", b.workers).Info("eventbus started")
	return nil
}

// Stop halts processing and waits for in-flight events to drain.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	<-b.doneCh
}

// Publish enqueues an event. If the queue is full the oldest queued event is
// dropped and counted to make room, rather than blocking the caller
// (spec.md's bounded-buffer requirement).
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	if !running {
		return
	}

	select {
	case b.queue <- ev:
		return
	default:
	}

	// Queue full: discard the oldest queued event to make room for ev.
	select {
	case old := <-b.queue:
		b.statsMu.Lock()
		b.dropped++
		b.statsMu.Unlock()
		b.log.WithFields(nil).WithField("event_type", old.Type).Warn("eventbus queue full, oldest event dropped")
	default:
	}

	select {
	case b.queue <- ev:
	default:
		b.statsMu.Lock()
		b.dropped++
		b.statsMu.Unlock()
		b.log.WithFields(nil).WithField("event_type", ev.Type).Warn("eventbus queue full, event dropped")
	}
}

func (b *Bus) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case ev := <-b.queue:
			b.deliver(ctx, ev)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, ev Event) {
	b.mu.RLock()
	targets := make([]*registration, 0, len(b.subs))
	for _, r := range b.subs {
		if r.matches(ev.Type) {
			targets = append(targets, r)
		}
	}
	b.mu.RUnlock()

	for _, r := range targets {
		if err := r.sink.HandleEvent(ctx, ev); err != nil {
			b.statsMu.Lock()
			b.failed++
			b.statsMu.Unlock()
			b.log.WithError(err).WithField("sink_id", r.id).WithField("event_type", ev.Type).Error("eventbus sink failed")
			continue
		}
		b.statsMu.Lock()
		b.delivered++
		b.statsMu.Unlock()
	}
}

// Stats reports counters for the metrics package.
type Stats struct {
	Delivered int64
	Dropped   int64
	Failed    int64
	QueueLen  int
	QueueCap  int
}

// Stats snapshots the bus's counters.
func (b *Bus) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return Stats{
		Delivered: b.delivered,
		Dropped:   b.dropped,
		Failed:    b.failed,
		QueueLen:  len(b.queue),
		QueueCap:  cap(b.queue),
	}
}
