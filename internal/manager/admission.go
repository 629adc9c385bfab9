package manager

import (
	"context"
	"time"

	"modelcore/internal/errdefs"
)

// beginGeneration reserves a queue slot and then a generation slot on inst.
// Either wait is bounded by maxWait and ends in a TooBusy error. The
// returned release func must be called exactly once.
func (m *Manager) beginGeneration(ctx context.Context, inst *Instance) (func(), error) {
	m.mu.RLock()
	draining := inst.State == StateDraining
	m.mu.RUnlock()
	if draining {
		return nil, errdefs.TooBusy(inst.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case inst.queueCh <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errdefs.TooBusy(inst.Name)
	}

	acquired := false
	defer func() {
		if !acquired {
			<-inst.queueCh
		}
	}()
	select {
	case inst.genCh <- struct{}{}:
		acquired = true
		m.mu.Lock()
		inst.LastUsed = time.Now()
		m.mu.Unlock()
		return func() { <-inst.genCh; <-inst.queueCh }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errdefs.TooBusy(inst.Name)
	}
}
