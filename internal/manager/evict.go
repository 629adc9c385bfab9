package manager

import (
	"modelcore/internal/events"
	"modelcore/internal/logging"
)

// evictUntilFits releases least recently used idle instances until
// requiredMB fits the budget with margin. Busy instances and keep are never
// evicted; when nothing is left to evict the load proceeds over budget.
func (m *Manager) evictUntilFits(keep string, requiredMB int) {
	l := logging.For("manager")
	for {
		m.mu.Lock()
		if m.usedEstMB+requiredMB+m.marginMB <= m.budgetMB {
			m.mu.Unlock()
			return
		}
		var lru *Instance
		for _, inst := range m.instances {
			if inst.Name == keep || inst.State != StateReady || inst.EstVRAMMB == 0 {
				continue
			}
			if len(inst.genCh) > 0 || len(inst.queueCh) > 0 {
				continue
			}
			if lru == nil || inst.LastUsed.Before(lru.LastUsed) {
				lru = inst
			}
		}
		if lru == nil {
			used := m.usedEstMB
			m.mu.Unlock()
			l.Warn().Str("model", keep).Int("required_mb", requiredMB).Int("used_mb", used).
				Int("budget_mb", m.budgetMB).Msg("budget exceeded with nothing idle to evict")
			return
		}
		m.detachLocked(lru)
		m.mu.Unlock()

		l.Info().Str("event", "evict").Str("model", lru.Name).Int("freed_mb", lru.EstVRAMMB).Msg("evicted idle instance")
		m.publisher.Publish(events.Event{Name: "evict", Model: lru.Name, Fields: map[string]any{"freed_mb": lru.EstVRAMMB}})
		if err := m.closeInstance(lru); err != nil {
			l.Warn().Err(err).Str("model", lru.Name).Msg("close evicted instance")
		}
	}
}
