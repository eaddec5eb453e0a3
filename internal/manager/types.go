package manager

import (
	"context"
	"time"
)

// State represents lifecycle state of the manager/instances.
type State string

const (
	StateReady    State = "ready"
	StateLoading  State = "loading"
	StateError    State = "error"
	StateDraining State = "draining"
)

// ModelInfo is a minimal view of the most recently loaded model.
type ModelInfo struct {
	ID     string
	Name   string
	Path   string
	Quant  string
	Format string
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State        State
	CurrentModel *ModelInfo
	Err          string
}

// Instance represents a live model session (one per model id).
type Instance struct {
	ID        string
	Path      string
	State     State
	LastUsed  time.Time
	EstVRAMMB int
	// Queueing primitives
	genCh   chan struct{} // size 1: single in-flight generation
	queueCh chan struct{} // buffered: queue slots

	Session InferSession
	// Restored is set when the session was seeded from a state file.
	Restored bool
	// cachedTokens mirrors the session's memory after the last request.
	cachedTokens int

	// loaded is closed once loading finishes; loadErr is valid after that.
	loaded  chan struct{}
	loadErr error

	// ctx is canceled when the instance is torn down, aborting generation.
	ctx   context.Context
	abort context.CancelFunc
}

func newInstance(id, path string, estMB, queueDepth int) *Instance {
	ctx, cancel := context.WithCancel(context.Background())
	return &Instance{
		ID:        id,
		Path:      path,
		State:     StateLoading,
		LastUsed:  time.Now(),
		EstVRAMMB: estMB,
		genCh:     make(chan struct{}, 1),
		queueCh:   make(chan struct{}, queueDepth),
		loaded:    make(chan struct{}),
		ctx:       ctx,
		abort:     cancel,
	}
}

func (i *Instance) idle() bool { return len(i.genCh) == 0 && len(i.queueCh) == 0 }
