package manager

import (
	"time"
)

// Unload initiates a graceful drain of a model instance and removes it.
//   - Sets instance state to draining to reject new enqueues.
//   - Waits up to drainTimeout for in-flight and queued requests to finish,
//     then aborts whatever is still generating.
//   - Persists the context state (when a state dir is set) and closes the
//     session, releasing its model cache reference.
func (m *Manager) Unload(modelID string) error {
	if modelID == "" {
		return ErrModelNotFound("(unspecified)")
	}
	m.mu.Lock()
	inst := m.instances[modelID]
	if inst == nil {
		m.mu.Unlock()
		return ErrModelNotFound(modelID)
	}
	if inst.State == StateLoading {
		m.mu.Unlock()
		return tooBusyError{modelID: modelID}
	}
	inst.State = StateDraining
	m.mu.Unlock()
	m.publish("unload_start", modelID, nil)

	deadline := time.Now().Add(m.drainTimeout)
	for {
		qlen, inflight := len(inst.queueCh), len(inst.genCh)
		if inflight == 0 && qlen == 0 {
			break
		}
		if time.Now().After(deadline) {
			m.publish("unload_timeout", modelID, map[string]any{"inflight": inflight, "queue": qlen})
			inst.abort()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	m.mu.Lock()
	if m.instances[modelID] == inst {
		m.usedEstMB -= inst.EstVRAMMB
		if m.usedEstMB < 0 {
			m.usedEstMB = 0
		}
		delete(m.instances, modelID)
	}
	if m.cur != nil && m.cur.ID == modelID {
		m.cur = nil
	}
	m.mu.Unlock()

	m.retire(inst)
	m.publish("unload_done", modelID, nil)
	return nil
}
