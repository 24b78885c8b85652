package events

import (
	"sync"

	"github.com/exyconn/platform/internal/observability"
)

// subscriberBuffer is the per-listener channel capacity. Events beyond this
// backlog are dropped rather than blocking the publisher.
const subscriberBuffer = 16

// Compile-time check to verify that MemoryBroker implements Broker.
var _ Broker = (*MemoryBroker)(nil)

// MemoryBroker is the in-process Broker implementation: a mutex-guarded map
// of tenant -> subscriber set. Registration and deregistration are safe under
// concurrent connect/disconnect of any number of listeners per tenant.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs: make(map[string]map[chan Event]struct{}),
	}
}

// Publish fans the event out to every subscriber of the tenant. Sends are
// non-blocking: a full subscriber channel drops the event for that listener
// only.
func (b *MemoryBroker) Publish(orgID string, evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[orgID] {
		select {
		case ch <- evt:
		default:
			observability.EventsDropped.Inc()
		}
	}
}

// Subscribe registers a new listener for the tenant.
func (b *MemoryBroker) Subscribe(orgID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	set, ok := b.subs[orgID]
	if !ok {
		set = make(map[chan Event]struct{})
		b.subs[orgID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	observability.StreamSubscribers.Inc()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[orgID], ch)
			if len(b.subs[orgID]) == 0 {
				delete(b.subs, orgID)
			}
			b.mu.Unlock()

			close(ch)
			observability.StreamSubscribers.Dec()
		})
	}

	return ch, cancel
}

// SubscriberCount reports the number of active listeners for a tenant.
// Used by tests and diagnostics.
func (b *MemoryBroker) SubscriberCount(orgID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[orgID])
}
