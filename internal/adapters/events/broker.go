package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/eleven-am/researchflow/internal/domain"
)

const defaultBufferSize = 32

// Broker fans flow events out to channel subscribers and callback handlers.
// Publish never blocks: a subscriber whose buffer is full loses its oldest
// pending event. Every event carries a full flow snapshot, so a slow reader
// still converges on current state.
type Broker struct {
	logger     *slog.Logger
	bufferSize int

	mu            sync.RWMutex
	subscriptions map[string]*subscription
	handlers      []handlerSubscription
	closed        bool
	dropped       int64
}

type subscription struct {
	id      string
	flowID  string
	channel chan domain.FlowEvent
	// send serializes delivery and close for this subscriber.
	send sync.Mutex
	done bool
}

type handlerSubscription struct {
	id      string
	flowID  string
	handler func(domain.FlowEvent)
}

func NewBroker(bufferSize int, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	return &Broker{
		logger:        logger.With("component", "event-broker"),
		bufferSize:    bufferSize,
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe returns events for flowID, or for every flow when flowID is
// empty. The channel is closed by the returned cancel func, by Close, or
// after the flow's deletion event has been delivered.
func (b *Broker) Subscribe(flowID string) (<-chan domain.FlowEvent, func()) {
	sub := &subscription{
		id:      uuid.New().String(),
		flowID:  flowID,
		channel: make(chan domain.FlowEvent, b.bufferSize),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.channel)
		return sub.channel, func() {}
	}
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "subscription_id", sub.id, "flow_id", flowID)

	var once sync.Once
	return sub.channel, func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

// OnEvent registers a callback for events matching flowID ("" for all).
// Handlers run on their own goroutine; a panicking handler is logged.
func (b *Broker) OnEvent(flowID string, handler func(domain.FlowEvent)) func() {
	id := uuid.New().String()

	b.mu.Lock()
	b.handlers = append(b.handlers, handlerSubscription{id: id, flowID: flowID, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		filtered := b.handlers[:0]
		for _, h := range b.handlers {
			if h.id != id {
				filtered = append(filtered, h)
			}
		}
		b.handlers = filtered
	}
}

func (b *Broker) Publish(event domain.FlowEvent) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	var targets []*subscription
	for _, sub := range b.subscriptions {
		if matches(sub.flowID, event.FlowID) {
			targets = append(targets, sub)
		}
	}
	var handlers []func(domain.FlowEvent)
	for _, h := range b.handlers {
		if matches(h.flowID, event.FlowID) {
			handlers = append(handlers, h.handler)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(sub, event)
	}
	for _, handler := range handlers {
		go b.safeCall(func() { handler(event) })
	}

	if event.Type == domain.EventFlowDeleted {
		for _, sub := range targets {
			if sub.flowID == event.FlowID {
				b.remove(sub.id)
			}
		}
	}
}

func (b *Broker) deliver(sub *subscription, event domain.FlowEvent) {
	sub.send.Lock()
	defer sub.send.Unlock()

	if sub.done {
		return
	}

	for {
		select {
		case sub.channel <- event:
			return
		default:
		}

		select {
		case <-sub.channel:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
			b.logger.Debug("subscriber buffer full, dropped oldest event",
				"subscription_id", sub.id, "flow_id", event.FlowID)
		default:
		}
	}
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	sub, ok := b.subscriptions[id]
	delete(b.subscriptions, id)
	b.mu.Unlock()

	if !ok {
		return
	}

	sub.send.Lock()
	if !sub.done {
		sub.done = true
		close(sub.channel)
	}
	sub.send.Unlock()

	b.logger.Debug("subscriber removed", "subscription_id", id)
}

// Close ends every subscription. Later publishes are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.subscriptions = make(map[string]*subscription)
	b.handlers = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.send.Lock()
		if !sub.done {
			sub.done = true
			close(sub.channel)
		}
		sub.send.Unlock()
	}
	b.logger.Debug("event broker closed", "subscribers", len(subs))
}

func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

func (b *Broker) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

func matches(pattern, flowID string) bool {
	return pattern == "" || pattern == "*" || pattern == flowID
}

func (b *Broker) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "panic", r)
		}
	}()
	fn()
}
