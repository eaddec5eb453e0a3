package manager

import (
	"context"

	"github.com/google/uuid"
)

// Switch starts loading modelID in the background and returns an operation
// ID. The load is detached from ctx; progress is visible through Status and
// the switch_done / switch_error events carrying the same op_id.
func (m *Manager) Switch(ctx context.Context, modelID string) (string, error) {
	id, err := m.resolveModelID(modelID)
	if err != nil {
		return "", err
	}
	if _, ok := m.getModelByID(id); !ok {
		return "", ErrModelNotFound(id)
	}
	op := uuid.NewString()
	m.publish("switch_start", id, map[string]any{"op_id": op})
	go func() {
		if err := m.EnsureInstance(context.WithoutCancel(ctx), id); err != nil {
			m.publish("switch_error", id, map[string]any{"op_id": op, "error": err.Error()})
			return
		}
		m.publish("switch_done", id, map[string]any{"op_id": op})
	}()
	return op, nil
}
