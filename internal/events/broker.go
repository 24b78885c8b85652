// Package events provides the fire-and-forget notification fan-out used by
// the job subsystem. Listeners (SSE connections) register per tenant; a
// listener that is not connected when an event fires simply misses it. There
// is no delivery guarantee, buffering beyond a small per-listener channel, or
// backpressure.
package events

import (
	"encoding/json"
	"time"
)

// Event names emitted on the per-tenant stream.
const (
	JobCreated           = "job:created"
	JobUpdated           = "job:updated"
	JobToggled           = "job:toggled"
	JobDeleted           = "job:deleted"
	JobExecutionStart    = "job:execution:start"
	JobExecutionComplete = "job:execution:complete"
)

// Event is a named JSON payload. Every payload carries at least "timestamp".
type Event struct {
	Name    string
	Payload json.RawMessage
}

// New builds an event, stamping the payload with the current time. A nil
// fields map yields a payload containing only the timestamp.
func New(name string, fields map[string]any) Event {
	if fields == nil {
		fields = make(map[string]any, 1)
	}
	fields["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	// The fields map only ever holds strings, numbers and bools, so
	// marshalling cannot fail in practice.
	payload, _ := json.Marshal(fields)

	return Event{Name: name, Payload: payload}
}

// Broker is the pub/sub collaborator the job components depend on. It is an
// explicit injected dependency, never package-level state, so tests can swap
// in a recording fake.
type Broker interface {
	// Publish delivers the event to all current subscribers of the tenant.
	// It never blocks: slow subscribers drop events.
	Publish(orgID string, evt Event)

	// Subscribe registers a listener for the tenant. The returned cancel
	// function deregisters it and closes the channel; it is safe to call
	// more than once.
	Subscribe(orgID string) (<-chan Event, func())
}
