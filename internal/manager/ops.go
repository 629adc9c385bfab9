package manager

import (
	"context"

	"github.com/google/uuid"

	"modelcore/internal/events"
	"modelcore/internal/params"
)

// Warm starts loading name in the background and returns an operation id.
// Progress is visible through Status and the warm_done / warm_error events,
// which carry the id.
func (m *Manager) Warm(name string) (string, error) {
	name, d, err := m.deployment(name)
	if err != nil {
		return "", err
	}
	op := uuid.NewString()
	go func() {
		var err error
		if d.Base().Worker() == params.WorkerText2Vec {
			_, err = m.ensureEmbedder(context.Background(), name)
		} else {
			_, err = m.EnsureInstance(context.Background(), name)
		}
		if err != nil {
			m.publisher.Publish(events.Event{Name: "warm_error", Model: name, Fields: map[string]any{"op": op, "error": err.Error()}})
			return
		}
		m.publisher.Publish(events.Event{Name: "warm_done", Model: name, Fields: map[string]any{"op": op}})
	}()
	return op, nil
}
