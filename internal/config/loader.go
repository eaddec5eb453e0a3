package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"inferd/internal/common/fsutil"
	"inferd/internal/llm"
)

// Runtimes selectable with the runtime key.
const (
	RuntimeEngine = "engine"
	RuntimeLlama  = "llama"
)

// Duration is a time.Duration that decodes from strings like "30s" in every
// supported format.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// CORSConfig enables the CORS middleware on the HTTP API.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// SamplerConfig holds server-wide sampler defaults. Nil fields keep the
// built-in defaults so an explicit zero (temperature 0 = greedy) survives.
type SamplerConfig struct {
	Seed             *uint32  `json:"seed" yaml:"seed" toml:"seed"`
	Temperature      *float32 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopK             *int32   `json:"top_k" yaml:"top_k" toml:"top_k"`
	TopP             *float32 `json:"top_p" yaml:"top_p" toml:"top_p"`
	MinP             *float32 `json:"min_p" yaml:"min_p" toml:"min_p"`
	RepeatPenalty    *float32 `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`
	RepeatLastN      *int32   `json:"repeat_last_n" yaml:"repeat_last_n" toml:"repeat_last_n"`
	FrequencyPenalty *float32 `json:"frequency_penalty" yaml:"frequency_penalty" toml:"frequency_penalty"`
	PresencePenalty  *float32 `json:"presence_penalty" yaml:"presence_penalty" toml:"presence_penalty"`
	MaxTokens        int32    `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	PrefixCache      *bool    `json:"prefix_cache" yaml:"prefix_cache" toml:"prefix_cache"`
}

// Params overlays the configured fields on p.
func (s SamplerConfig) Params(p llm.SamplerParams) llm.SamplerParams {
	if s.Seed != nil {
		p.Seed = *s.Seed
	}
	if s.Temperature != nil {
		p.Temperature = *s.Temperature
	}
	if s.TopK != nil {
		p.TopK = *s.TopK
	}
	if s.TopP != nil {
		p.TopP = *s.TopP
	}
	if s.MinP != nil {
		p.MinP = *s.MinP
	}
	if s.RepeatPenalty != nil {
		p.RepeatPenalty = *s.RepeatPenalty
	}
	if s.RepeatLastN != nil {
		p.RepeatLastN = *s.RepeatLastN
	}
	if s.FrequencyPenalty != nil {
		p.FrequencyPenalty = *s.FrequencyPenalty
	}
	if s.PresencePenalty != nil {
		p.PresencePenalty = *s.PresencePenalty
	}
	return p
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified"; ApplyDefaults replaces them.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	VRAMBudgetMB int    `json:"vram_budget_mb" yaml:"vram_budget_mb" toml:"vram_budget_mb"`
	VRAMMarginMB int    `json:"vram_margin_mb" yaml:"vram_margin_mb" toml:"vram_margin_mb"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`

	Runtime    string `json:"runtime" yaml:"runtime" toml:"runtime"`
	CtxSize    int    `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	BatchSize  int    `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	UBatchSize int    `json:"ubatch_size" yaml:"ubatch_size" toml:"ubatch_size"`
	Threads    int    `json:"threads" yaml:"threads" toml:"threads"`
	SeqMax     int    `json:"seq_max" yaml:"seq_max" toml:"seq_max"`
	GPULayers  *int   `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	MMap       *bool  `json:"mmap" yaml:"mmap" toml:"mmap"`
	MLock      bool   `json:"mlock" yaml:"mlock" toml:"mlock"`

	StateDir      string   `json:"state_dir" yaml:"state_dir" toml:"state_dir"`
	MaxQueueDepth int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWait       Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait"`
	DrainTimeout  Duration `json:"drain_timeout" yaml:"drain_timeout" toml:"drain_timeout"`
	InferTimeout  Duration `json:"infer_timeout" yaml:"infer_timeout" toml:"infer_timeout"`
	MaxBodyBytes  int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	CORS      CORSConfig `json:"cors" yaml:"cors" toml:"cors"`
	LogLevel  string     `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string     `json:"log_format" yaml:"log_format" toml:"log_format"`

	Sampler SamplerConfig `json:"sampler" yaml:"sampler" toml:"sampler"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr         = ":8080"
	DefaultModelsDir    = "~/models/llm"
	DefaultMaxBodyBytes = 1 << 20
	DefaultDrainTimeout = 10 * time.Second
)

// ApplyDefaults fills zero fields. Context sizes default to the llm package
// defaults; queue depth and wait are left to the manager.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.Runtime == "" {
		c.Runtime = RuntimeEngine
	}
	cp := llm.DefaultContextParams()
	if c.CtxSize <= 0 {
		c.CtxSize = int(cp.NCtx)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = int(cp.NBatch)
	}
	if c.UBatchSize <= 0 {
		c.UBatchSize = int(cp.NUBatch)
	}
	if c.Threads <= 0 {
		c.Threads = int(cp.NThreads)
	}
	if c.SeqMax <= 0 {
		c.SeqMax = int(cp.NSeqMax)
	}
	if c.DrainTimeout.Duration <= 0 {
		c.DrainTimeout.Duration = DefaultDrainTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.Sampler.MaxTokens <= 0 {
		c.Sampler.MaxTokens = min(llm.DefaultCompletionOptions().MaxTokens, int32(max(c.CtxSize/4, 1)))
	}
}

// Validate reports settings that cannot be served.
func (c Config) Validate() error {
	switch c.Runtime {
	case RuntimeEngine, RuntimeLlama:
	default:
		return fmt.Errorf("unknown runtime %q (want %s or %s)", c.Runtime, RuntimeEngine, RuntimeLlama)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.BatchSize > 0 && c.UBatchSize > c.BatchSize {
		return fmt.Errorf("ubatch_size %d exceeds batch_size %d", c.UBatchSize, c.BatchSize)
	}
	// the prompt needs at least one slot beside the generation budget
	if c.CtxSize > 0 && int(c.Sampler.MaxTokens) >= c.CtxSize {
		return fmt.Errorf("max_tokens %d leaves no room for a prompt in ctx_size %d", c.Sampler.MaxTokens, c.CtxSize)
	}
	return nil
}

// ModelParams derives model load parameters.
func (c Config) ModelParams() llm.ModelParams {
	p := llm.DefaultModelParams()
	if c.GPULayers != nil {
		p.NGPULayers = int32(*c.GPULayers)
	}
	if c.MMap != nil {
		p.UseMMap = *c.MMap
	}
	p.UseMLock = c.MLock
	return p
}

// ContextParams derives per-instance context parameters.
func (c Config) ContextParams() llm.ContextParams {
	p := llm.DefaultContextParams()
	if c.CtxSize > 0 {
		p.NCtx = uint32(c.CtxSize)
	}
	if c.BatchSize > 0 {
		p.NBatch = uint32(c.BatchSize)
	}
	if c.UBatchSize > 0 {
		p.NUBatch = uint32(c.UBatchSize)
	}
	if c.SeqMax > 0 {
		p.NSeqMax = uint32(c.SeqMax)
	}
	if c.Threads > 0 {
		p.NThreads = int32(c.Threads)
		p.NThreadsBatch = int32(c.Threads)
	}
	return p
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
