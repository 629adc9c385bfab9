// Package events carries lifecycle events from engines and the worker.
package events

import (
	"context"
	"sync"
)

// Event represents a lifecycle event: name, model and optional fields.
type Event struct {
	Name   string
	Model  string
	Fields map[string]any
}

// Publisher receives events. Implementations should be lightweight and
// non-blocking; Publish must not panic.
type Publisher interface {
	Publish(Event)
}

// Noop drops events.
type Noop struct{}

func (Noop) Publish(Event) {}

// OrNoop returns p, or Noop when p is nil.
func OrNoop(p Publisher) Publisher {
	if p == nil {
		return Noop{}
	}
	return p
}

type ctxKey struct{}

// NewContext returns ctx carrying p, for engines that spawn processes
// during Load.
func NewContext(ctx context.Context, p Publisher) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the publisher in ctx, or Noop.
func FromContext(ctx context.Context) Publisher {
	p, _ := ctx.Value(ctxKey{}).(Publisher)
	return OrNoop(p)
}

// Memory stores events in-memory for tests and the status endpoint.
type Memory struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewMemory keeps at most limit events (0 keeps everything).
func NewMemory(limit int) *Memory { return &Memory{limit: limit} }

func (p *Memory) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	if p.limit > 0 && len(p.events) > p.limit {
		p.events = p.events[len(p.events)-p.limit:]
	}
	p.mu.Unlock()
}

// Events returns a snapshot.
func (p *Memory) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Names returns the event names in order, handy in tests.
func (p *Memory) Names() []string {
	evs := p.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Name
	}
	return out
}

// Multi fans out to several publishers.
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}
