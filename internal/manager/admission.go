package manager

import (
	"context"
	"time"
)

// beginGeneration reserves a queue slot and then the single in-flight slot.
// Returns the admitted instance and a release func to be deferred.
func (m *Manager) beginGeneration(ctx context.Context, modelID string) (*Instance, func(), error) {
	noop := func() {}
	m.mu.RLock()
	inst := m.instances[modelID]
	var st State
	if inst != nil {
		st = inst.State
	}
	m.mu.RUnlock()
	if inst == nil {
		return nil, noop, modelNotFoundError{id: modelID}
	}
	// Draining instances reject new work so unload can finish.
	if st == StateDraining {
		return nil, noop, tooBusyError{modelID: modelID}
	}
	if err := ctx.Err(); err != nil {
		return nil, noop, err
	}

	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case inst.queueCh <- struct{}{}:
	case <-ctx.Done():
		return nil, noop, ctx.Err()
	case <-timer.C:
		queueRejections.WithLabelValues(modelID, "queue_full").Inc()
		return nil, noop, tooBusyError{modelID: modelID}
	}

	acquired := false
	defer func() {
		if !acquired {
			<-inst.queueCh
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, noop, err
	}
	timer2 := time.NewTimer(m.maxWait)
	defer timer2.Stop()
	select {
	case inst.genCh <- struct{}{}:
	case <-ctx.Done():
		return nil, noop, ctx.Err()
	case <-timer2.C:
		queueRejections.WithLabelValues(modelID, "wait_timeout").Inc()
		return nil, noop, tooBusyError{modelID: modelID}
	}

	// The instance may have been evicted or drained while we waited.
	m.mu.Lock()
	if inst.State != StateReady || m.instances[modelID] != inst {
		m.mu.Unlock()
		<-inst.genCh
		return nil, noop, tooBusyError{modelID: modelID}
	}
	acquired = true
	inst.LastUsed = time.Now()
	m.mu.Unlock()
	return inst, func() { <-inst.genCh; <-inst.queueCh }, nil
}
