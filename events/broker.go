package events

import (
	"errors"
	"log/slog"
	"sync"
)

// Broker fans database notifications out to SSE subscribers. Delivery is
// at-most-once per live subscriber: a subscriber that connects after an
// event was published does not receive it, and a slow subscriber whose
// queue is full has the event dropped rather than blocking the listener.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscriber]struct{}
	cap    int
	logger *slog.Logger
}

// ErrChannelFull is returned when a channel is at its subscriber cap.
var ErrChannelFull = errors.New("subscriber limit reached for channel")

// subscriberQueueSize bounds each subscriber's pending events.
const subscriberQueueSize = 16

// defaultSubscriberCap is the soft per-channel subscriber limit.
const defaultSubscriberCap = 100

// Event is one outbound SSE message.
type Event struct {
	Channel string
	Payload string
}

// Subscriber is one connected SSE client.
type Subscriber struct {
	channel string
	events  chan Event
}

// Events returns the subscriber's delivery queue. Closed on Unsubscribe.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithSubscriberCap overrides the per-channel subscriber limit.
func WithSubscriberCap(n int) BrokerOption {
	return func(b *Broker) {
		b.cap = n
	}
}

// NewBroker creates an event broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		subs:   make(map[string]map[*Subscriber]struct{}),
		cap:    defaultSubscriberCap,
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a client on a channel. Returns ErrChannelFull at the
// subscriber cap.
func (b *Broker) Subscribe(channel string) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subs[channel]) >= b.cap {
		return nil, ErrChannelFull
	}

	sub := &Subscriber{
		channel: channel,
		events:  make(chan Event, subscriberQueueSize),
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*Subscriber]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	return sub, nil
}

// Unsubscribe removes a client and closes its queue.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[sub.channel]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.events)
	if len(set) == 0 {
		delete(b.subs, sub.channel)
	}
}

// Publish pushes an event to every live subscriber of the channel,
// non-blocking. Full queues drop.
func (b *Broker) Publish(channel, payload string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[channel] {
		select {
		case sub.events <- Event{Channel: channel, Payload: payload}:
		default:
			b.logger.Warn("Dropping event for slow subscriber", "channel", channel)
		}
	}
}

// SubscriberCount reports live subscribers on a channel.
func (b *Broker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}
