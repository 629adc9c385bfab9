package manager

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"modelcore/internal/errdefs"
	"modelcore/internal/events"
	"modelcore/internal/logging"
	"modelcore/internal/metrics"
)

// Stop drains the named instance and releases its engine resources.
//   - New requests are rejected with TooBusy while draining.
//   - In-flight and queued requests get up to the drain timeout to finish.
//   - The model handle is closed, which stops child engine processes and
//     frees their device memory.
func (m *Manager) Stop(name string) error {
	if name == "" {
		return errdefs.ModelNotFound("(unspecified)")
	}
	m.mu.Lock()
	inst := m.instances[name]
	if inst == nil {
		emb := m.embedders[name]
		delete(m.embedders, name)
		m.mu.Unlock()
		if emb == nil {
			return errdefs.ModelNotFound(name)
		}
		m.publisher.Publish(events.Event{Name: "unload_done", Model: name})
		return emb.embedder.Close()
	}
	inst.State = StateDraining
	m.mu.Unlock()
	m.publisher.Publish(events.Event{Name: "unload_start", Model: name})

	m.waitDrained(inst)

	m.mu.Lock()
	m.detachLocked(inst)
	m.mu.Unlock()
	err := m.closeInstance(inst)

	fields := map[string]any{}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.publisher.Publish(events.Event{Name: "unload_done", Model: name, Fields: fields})
	return err
}

func (m *Manager) waitDrained(inst *Instance) {
	deadline := time.Now().Add(m.drainTimeout)
	for {
		qlen, inflight := len(inst.queueCh), len(inst.genCh)
		if qlen == 0 && inflight == 0 {
			return
		}
		if time.Now().After(deadline) {
			m.publisher.Publish(events.Event{Name: "unload_timeout", Model: inst.Name, Fields: map[string]any{"inflight": inflight, "queue": qlen}})
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// detachLocked removes inst from the table and its estimate from the budget.
func (m *Manager) detachLocked(inst *Instance) {
	if m.instances[inst.Name] == inst {
		delete(m.instances, inst.Name)
	}
	m.usedEstMB = max(m.usedEstMB-inst.EstVRAMMB, 0)
}

func (m *Manager) closeInstance(inst *Instance) error {
	m.mu.RLock()
	n := m.readyCountLocked()
	m.mu.RUnlock()
	metrics.SetLoadedModels(n)
	if inst.Model == nil {
		return nil
	}
	if err := inst.Model.Close(); err != nil {
		return fmt.Errorf("close %s: %w", inst.Name, err)
	}
	return nil
}

// Close stops every instance and embedding model. Later loads fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	names := make([]string, 0, len(m.instances)+len(m.embedders))
	for name := range m.instances {
		names = append(names, name)
	}
	for name := range m.embedders {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Stop(name); err != nil && !errdefs.IsModelNotFound(err) {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	l := logging.For("manager")
	l.Info().Int("instances", len(names)).Msg("worker closed")
	return result.ErrorOrNil()
}
