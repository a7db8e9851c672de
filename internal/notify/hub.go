package notify

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/text/message"

	"github.com/oshokin/flatstore/internal/domain/install"
	"github.com/oshokin/flatstore/internal/logger"
)

const (
	// DefaultSubscriberBuffer is the channel capacity of a subscription.
	DefaultSubscriberBuffer = 256

	// DefaultReplaySize is how many recent notifications new subscribers receive.
	DefaultReplaySize = 64
)

// ErrHubClosed is returned when publishing to a closed hub.
var ErrHubClosed = errors.New("notification hub is closed")

// Hub is a broadcast notification sink.
type Hub struct {
	// mu guards every field below.
	mu sync.Mutex
	// subscribers are the live subscriptions.
	subscribers map[*Subscription]struct{}
	// replay holds the most recent notifications, oldest first.
	replay []*install.Event
	// replaySize bounds replay.
	replaySize int
	// printer renders drop notices.
	printer *message.Printer
	// closed is set once Close has been called.
	closed bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithReplaySize sets how many recent notifications are replayed to new subscribers.
func WithReplaySize(size int) Option {
	return func(h *Hub) {
		if size >= 0 {
			h.replaySize = size
		}
	}
}

// WithLocale selects the language of drop notices ("es" or "en").
func WithLocale(locale string) Option {
	return func(h *Hub) {
		h.printer = install.NewPrinter(locale)
	}
}

// NewHub creates an open hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subscribers: make(map[*Subscription]struct{}),
		replaySize:  DefaultReplaySize,
		printer:     install.NewPrinter(""),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Notify publishes an event to every subscriber.
// It never blocks on subscribers; the context is only used for logging.
func (h *Hub) Notify(ctx context.Context, event *install.Event) error {
	if event == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	logger.DebugKV(ctx, "Notification",
		"event", event.Name(), "payload", event.Payload(),
		"package", event.Package, "session", event.Session)

	if h.replaySize > 0 {
		if len(h.replay) == h.replaySize {
			h.replay = h.replay[1:]
		}

		h.replay = append(h.replay, event)
	}

	for sub := range h.subscribers {
		if discarded := sub.deliver(event); discarded > 0 {
			logger.WarnKV(ctx, "Subscriber is lagging, notifications dropped",
				"discarded", discarded, "dropped_total", sub.dropped)
		}
	}

	return nil
}

// Subscribe registers a new subscriber. When replay is true the subscriber
// first receives the buffered recent notifications.
func (h *Hub) Subscribe(buffer int, replay bool) (*Subscription, error) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	sub := &Subscription{
		hub:    h,
		events: make(chan *install.Event, buffer),
	}

	if replay {
		for _, event := range h.replay {
			sub.deliver(event)
		}
	}

	h.subscribers[sub] = struct{}{}

	return sub, nil
}

// Close closes the hub and every subscription. Further Notify calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true

	for sub := range h.subscribers {
		sub.close()
	}

	h.subscribers = nil
	h.replay = nil
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subscribers)
}

// unsubscribe removes a subscription; called with h.mu not held.
func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub]; !ok {
		return
	}

	delete(h.subscribers, sub)
	sub.close()
}

// Subscription is one reader of the hub.
type Subscription struct {
	// hub is the owner of this subscription.
	hub *Hub
	// events receives notifications until the subscription or hub closes.
	events chan *install.Event
	// dropped counts notifications discarded because the buffer was full.
	dropped int
	// unreported counts dropped notifications no queued notice accounts for.
	unreported int
	// closed is set once events has been closed. Guarded by hub.mu.
	closed bool
}

// Events returns the channel notifications are delivered on.
// It is closed by Cancel or when the hub closes.
func (s *Subscription) Events() <-chan *install.Event {
	return s.events
}

// Dropped returns how many notifications this subscriber lost.
func (s *Subscription) Dropped() int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	return s.dropped
}

// Cancel unsubscribes and closes the events channel.
func (s *Subscription) Cancel() {
	s.hub.unsubscribe(s)
}

// deliver enqueues an event and returns how many regular notifications it discarded.
// On a full buffer the oldest entries give way to a drop notice followed by
// the event; a buffer of one only keeps the event. Discarding an older notice
// carries its count over to the new one. Called with hub.mu held, so there is
// a single producer.
func (s *Subscription) deliver(event *install.Event) int {
	select {
	case s.events <- event:
		return 0
	default:
	}

	var (
		discarded int
		room      = min(2, cap(s.events))
	)

	for cap(s.events)-len(s.events) < room {
		select {
		case old := <-s.events:
			if old.Dropped > 0 {
				s.unreported += old.Dropped
				continue
			}

			discarded++
			s.dropped++
			s.unreported++
		default:
		}
	}

	if room > 1 && s.unreported > 0 {
		s.events <- &install.Event{
			Kind:    install.KindError,
			Text:    s.hub.printer.Sprintf(install.MsgDropped, s.unreported),
			Package: event.Package,
			Session: event.Session,
			Time:    event.Time,
			Dropped: s.unreported,
		}

		s.unreported = 0
	}

	s.events <- event

	return discarded
}

// close closes the events channel once. Called with hub.mu held.
func (s *Subscription) close() {
	if s.closed {
		return
	}

	s.closed = true
	close(s.events)
}
