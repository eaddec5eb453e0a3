package manager

import (
	"inferd/internal/common/fsutil"
)

// retire waits for exclusive use of a removed instance, persists its state
// and closes its session.
func (m *Manager) retire(inst *Instance) {
	inst.genCh <- struct{}{}
	defer func() { <-inst.genCh }()
	defer inst.abort()
	if inst.Session == nil {
		return
	}
	m.persistState(inst)
	if err := inst.Session.Close(); err != nil {
		m.publish("session_close_error", inst.ID, map[string]any{"error": err.Error()})
	}
	inst.Session = nil
}

// persistState writes the session's context memory to the state dir. An
// empty context removes any stale file instead.
func (m *Manager) persistState(inst *Instance) {
	ss, ok := inst.Session.(StatefulSession)
	path := m.statePath(inst.ID)
	if !ok || path == "" {
		return
	}
	n := ss.CachedTokens()
	if n == 0 {
		_ = fsutil.RemoveIfExists(path)
		return
	}
	if err := ss.SaveState(path); err != nil {
		m.publish("state_save_error", inst.ID, map[string]any{"error": err.Error(), "path": path})
		return
	}
	statesSaved.Inc()
	m.publish("state_saved", inst.ID, map[string]any{"path": path, "tokens": n})
}
