package manager

import (
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/engine"
	"inferd/internal/engine/ngram"
	"inferd/internal/llm"
	"inferd/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 10 * time.Second
)

// Runtime names accepted by ManagerConfig.Runtime.
const (
	RuntimeEngine = "engine"
	RuntimeLlama  = "llama"
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Registry      []types.Model
	BudgetMB      int
	MarginMB      int
	DefaultModel  string
	MaxQueueDepth int
	MaxWait       time.Duration
	DrainTimeout  time.Duration

	// Runtime selects the adapter when Adapter is nil: "engine" (default)
	// or "llama".
	Runtime string
	// Adapter overrides Runtime.
	Adapter InferenceAdapter
	// Backend serves the engine runtime; nil uses the ngram engine.
	Backend       engine.Backend
	ModelParams   llm.ModelParams
	ContextParams llm.ContextParams

	// StateDir receives <model>.state files on unload; empty disables
	// persistence.
	StateDir string

	// Sampler holds request defaults; fields a request sets win.
	Sampler     llm.SamplerParams
	MaxTokens   int32
	PrefixCache bool

	Logger    zerolog.Logger
	Publisher EventPublisher
}

// DefaultManagerConfig returns a config with the llm defaults filled in.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Runtime:       RuntimeEngine,
		ModelParams:   llm.DefaultModelParams(),
		ContextParams: llm.DefaultContextParams(),
		Sampler:       llm.DefaultSamplerParams(),
		MaxTokens:     llm.DefaultCompletionOptions().MaxTokens,
		Logger:        zerolog.Nop(),
	}
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	def := DefaultManagerConfig()
	m := &Manager{
		state:        StateLoading,
		registry:     append([]types.Model(nil), cfg.Registry...),
		budgetMB:     cfg.BudgetMB,
		marginMB:     cfg.MarginMB,
		defaultModel: cfg.DefaultModel,
		instances:    make(map[string]*Instance),
		stateDir:     cfg.StateDir,
		sampler:      cfg.Sampler,
		maxTokens:    cfg.MaxTokens,
		prefixCache:  cfg.PrefixCache,
		log:          cfg.Logger,
		startTime:    time.Now(),
	}
	// Apply defaults if unset
	if cfg.MaxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	} else {
		m.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		m.maxWait = defaultMaxWait
	} else {
		m.maxWait = cfg.MaxWait
	}
	if cfg.DrainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	} else {
		m.drainTimeout = cfg.DrainTimeout
	}
	if cfg.Sampler == (llm.SamplerParams{}) {
		m.sampler = def.Sampler
	}
	if cfg.ModelParams == (llm.ModelParams{}) {
		cfg.ModelParams = def.ModelParams
	}
	if cfg.ContextParams == (llm.ContextParams{}) {
		cfg.ContextParams = def.ContextParams
	}
	// an unset budget is capped at a quarter of the context
	if m.maxTokens <= 0 {
		m.maxTokens = def.MaxTokens
		if n := cfg.ContextParams.NCtx / 4; n > 0 {
			m.maxTokens = min(m.maxTokens, int32(n))
		}
	}
	m.publisher = cfg.Publisher
	if m.publisher == nil {
		m.publisher = NewLogPublisher(m.log)
	}

	m.adapter = cfg.Adapter
	if m.adapter == nil {
		switch cfg.Runtime {
		case RuntimeLlama:
			m.adapter = NewLlamaAdapter(cfg.ModelParams, cfg.ContextParams, m.log)
		default:
			backend := cfg.Backend
			if backend == nil {
				backend = ngram.Backend{}
			}
			m.adapter = NewEngineAdapter(backend, cfg.ModelParams, cfg.ContextParams, m.log)
		}
	}
	return m
}
