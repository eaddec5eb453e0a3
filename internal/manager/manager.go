package manager

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/llm"
	"inferd/pkg/types"
)

// Manager owns model instances: loading them through an adapter, admitting
// requests, evicting to a VRAM budget and persisting context state.
type Manager struct {
	mu           sync.RWMutex
	state        State
	cur          *ModelInfo
	err          string
	registry     []types.Model
	budgetMB     int
	marginMB     int
	defaultModel string
	instances    map[string]*Instance
	usedEstMB    int

	// Queue config
	maxQueueDepth int
	maxWait       time.Duration
	drainTimeout  time.Duration

	adapter  InferenceAdapter
	stateDir string

	// Request defaults
	sampler     llm.SamplerParams
	maxTokens   int32
	prefixCache bool

	log       zerolog.Logger
	publisher EventPublisher
	startTime time.Time

	loadsTotal     atomic.Uint64
	evictionsTotal atomic.Uint64
}

// New builds a Manager over the engine runtime with default limits.
func New(reg []types.Model, budgetMB, marginMB int, defaultModel string) *Manager {
	cfg := DefaultManagerConfig()
	cfg.Registry = reg
	cfg.BudgetMB = budgetMB
	cfg.MarginMB = marginMB
	cfg.DefaultModel = defaultModel
	return NewWithConfig(cfg)
}

// SetEventPublisher replaces the event sink; nil drops events.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p == nil {
		p = noopPublisher{}
	}
	m.publisher = p
}

func (m *Manager) publish(name, modelID string, fields map[string]any) {
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	if fields == nil {
		fields = map[string]any{}
	}
	p.Publish(Event{Name: name, ModelID: modelID, Fields: fields})
}

// Ready reports whether at least one instance can serve requests.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateError {
		return false
	}
	for _, inst := range m.instances {
		if inst.State == StateReady {
			return true
		}
	}
	return false
}

// ListModels returns a copy of the registry.
func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// Runtime names the adapter serving inference.
func (m *Manager) Runtime() string { return m.adapter.Name() }

// Close unloads every instance (persisting state when configured) and
// releases adapter-wide resources.
func (m *Manager) Close() error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	var errs []error
	for _, id := range ids {
		if err := m.Unload(id); err != nil && !IsModelNotFound(err) {
			errs = append(errs, err)
		}
	}
	if c, ok := m.adapter.(closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
