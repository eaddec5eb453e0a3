package manager

import (
	"context"
	"time"

	"inferd/internal/common/fsutil"
)

// EnsureInstance loads modelID through the adapter unless an instance is
// already ready. Concurrent callers for the same model share one load.
func (m *Manager) EnsureInstance(ctx context.Context, modelID string) error {
	startTs := time.Now()
	if modelID == "" {
		modelID = m.defaultModel
		if modelID == "" {
			return nil
		}
	}

	for {
		m.mu.Lock()
		inst := m.instances[modelID]
		if inst == nil {
			m.mu.Unlock()
			break
		}
		switch inst.State {
		case StateReady:
			inst.LastUsed = time.Now()
			m.mu.Unlock()
			return nil
		case StateDraining:
			m.mu.Unlock()
			return tooBusyError{modelID: modelID}
		}
		loaded := inst.loaded
		m.mu.Unlock()
		select {
		case <-loaded:
		case <-ctx.Done():
			return ctx.Err()
		}
		if inst.loadErr != nil {
			return inst.loadErr
		}
	}

	m.publish("ensure_start", modelID, nil)
	mdl, ok := m.getModelByID(modelID)
	if !ok {
		m.publish("ensure_model_not_found", modelID, nil)
		return ErrModelNotFound(modelID)
	}
	reqMB := m.estimateVRAMMB(mdl)

	if m.budgetMB > 0 {
		if err := m.evictUntilFits(reqMB); err != nil {
			m.publish("ensure_budget_fail", modelID, map[string]any{"error": err.Error()})
			return err
		}
	}

	m.mu.Lock()
	if m.instances[modelID] != nil {
		// Lost the race to another loader; wait on theirs.
		m.mu.Unlock()
		return m.EnsureInstance(ctx, modelID)
	}
	inst := newInstance(modelID, mdl.Path, reqMB, m.maxQueueDepth)
	m.instances[modelID] = inst
	m.usedEstMB += reqMB
	m.state = StateLoading
	m.err = ""
	m.mu.Unlock()

	sess, err := m.adapter.Load(ctx, mdl)
	if err != nil {
		m.mu.Lock()
		delete(m.instances, modelID)
		m.usedEstMB -= reqMB
		m.state = StateError
		m.err = err.Error()
		inst.loadErr = err
		close(inst.loaded)
		m.mu.Unlock()
		inst.abort()
		loadFailures.WithLabelValues(modelID).Inc()
		m.publish("ensure_load_error", modelID, map[string]any{"error": err.Error()})
		return err
	}

	restored, cached := m.restoreState(modelID, sess)

	m.mu.Lock()
	inst.Session = sess
	inst.Restored = restored
	inst.cachedTokens = cached
	inst.State = StateReady
	inst.LastUsed = time.Now()
	m.cur = &ModelInfo{ID: mdl.ID, Name: mdl.Name, Path: mdl.Path, Quant: mdl.Quant, Format: mdl.Format}
	m.state = StateReady
	m.err = ""
	close(inst.loaded)
	m.mu.Unlock()

	m.loadsTotal.Add(1)
	loadsTotal.WithLabelValues(modelID).Inc()
	dur := time.Since(startTs)
	loadDuration.WithLabelValues(m.adapter.Name()).Observe(dur.Seconds())
	m.publish("ensure_ready", modelID, map[string]any{
		"dur_ms":   int(dur / time.Millisecond),
		"restored": restored,
		"est_mb":   reqMB,
	})
	return nil
}

// restoreState seeds a fresh session from its persisted state file. A file
// that cannot be restored is removed so the next load starts clean.
func (m *Manager) restoreState(modelID string, sess InferSession) (bool, int) {
	ss, ok := sess.(StatefulSession)
	path := m.statePath(modelID)
	if !ok || path == "" || !fsutil.FileExists(path) {
		return false, 0
	}
	if err := ss.LoadState(path); err != nil {
		m.publish("state_restore_error", modelID, map[string]any{"error": err.Error(), "path": path})
		_ = fsutil.RemoveIfExists(path)
		return false, 0
	}
	n := ss.CachedTokens()
	m.publish("state_restored", modelID, map[string]any{"path": path, "tokens": n})
	return true, n
}
