package manager

// evictUntilFits retires LRU idle instances until requiredMB fits the budget
// plus margin. Instances with in-flight or queued work are never evicted.
func (m *Manager) evictUntilFits(requiredMB int) error {
	for {
		m.mu.Lock()
		if m.usedEstMB+requiredMB+m.marginMB <= m.budgetMB {
			m.mu.Unlock()
			return nil
		}
		var lru *Instance
		for _, inst := range m.instances {
			if inst.State != StateReady || !inst.idle() {
				continue
			}
			if lru == nil || inst.LastUsed.Before(lru.LastUsed) {
				lru = inst
			}
		}
		if lru == nil {
			err := budgetExceededError{requiredMB: requiredMB, usedMB: m.usedEstMB, budgetMB: m.budgetMB, marginMB: m.marginMB}
			m.mu.Unlock()
			return err
		}
		lru.State = StateDraining
		delete(m.instances, lru.ID)
		m.usedEstMB -= lru.EstVRAMMB
		if m.cur != nil && m.cur.ID == lru.ID {
			m.cur = nil
		}
		m.mu.Unlock()

		m.evictionsTotal.Add(1)
		evictionsTotal.WithLabelValues(lru.ID).Inc()
		m.publish("evict", lru.ID, map[string]any{"est_mb": lru.EstVRAMMB})
		m.retire(lru)
	}
}
