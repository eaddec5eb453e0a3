package types

// InferRequest represents an inference request payload. Sampler fields are
// pointers so an omitted field falls back to the server default while an
// explicit zero (e.g. temperature 0 for greedy) is honored.
type InferRequest struct {
	// Optional model identifier. If empty, the server default is used.
	// example: tiny-bigram
	Model string `json:"model,omitempty" example:"tiny-bigram"`
	// Required prompt text to generate a completion for.
	// example: Once upon a time
	Prompt string `json:"prompt" example:"Once upon a time"`
	// Stream token lines as NDJSON. When false only the final line is written.
	// example: true
	Stream *bool `json:"stream,omitempty" example:"true"`
	// Maximum number of new tokens to generate.
	// example: 128
	MaxTokens *int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature. 0 selects greedy decoding.
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability. 1 disables the stage.
	// example: 0.9
	TopP *float64 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling. 0 disables the stage.
	// example: 40
	TopK *int `json:"top_k,omitempty" example:"40"`
	// Min-P sampling relative to the most likely token. 0 disables the stage.
	// example: 0.05
	MinP *float64 `json:"min_p,omitempty" example:"0.05"`
	// Optional stop sequences. The first configured sequence that becomes a
	// suffix of the output ends generation and is trimmed.
	// example: ["\n\n","END"]
	Stop []string `json:"stop,omitempty" example:"[\"\\n\\n\",\"END\"]"`
	// Random seed for reproducibility; 0 or omitted lets the server choose.
	// example: 42
	Seed *uint32 `json:"seed,omitempty" example:"42"`
	// Repeat penalty over the last repeat_last_n tokens. 1 disables it.
	// example: 1.1
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty" example:"1.1"`
	// Penalty window; -1 uses the model's training context.
	// example: 64
	RepeatLastN *int `json:"repeat_last_n,omitempty" example:"64"`
	// example: 0
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty" example:"0"`
	// example: 0
	PresencePenalty *float64 `json:"presence_penalty,omitempty" example:"0"`
	// Reuse the cached prompt prefix of the previous request on this model.
	// example: true
	PrefixCache *bool `json:"prefix_cache,omitempty" example:"true"`
}

// TokenLine is one streamed NDJSON token line.
type TokenLine struct {
	Token string `json:"token"`
}

// Usage counts tokens for one completion.
type Usage struct {
	// example: 12
	PromptTokens int `json:"prompt_tokens" example:"12"`
	// example: 64
	CompletionTokens int `json:"completion_tokens" example:"64"`
	// Prompt tokens reused from the prefix cache.
	// example: 8
	CachedTokens int `json:"cached_tokens" example:"8"`
	// example: 76
	TotalTokens int `json:"total_tokens" example:"76"`
}

// FinalLine is the last NDJSON line of an inference stream.
type FinalLine struct {
	Done bool `json:"done" example:"true"`
	// Completion id.
	// example: 3f1e9a7c-5b0d-4c1e-9a55-0f6f0c2f3a11
	ID string `json:"id" example:"3f1e9a7c-5b0d-4c1e-9a55-0f6f0c2f3a11"`
	// example: tiny-bigram
	Model string `json:"model" example:"tiny-bigram"`
	// Full generated text with any matched stop word removed.
	Content string `json:"content"`
	// One of eos, max_tokens, stop, callback, aborted, decode_error.
	// example: eos
	FinishReason string `json:"finish_reason" example:"eos"`
	StopWordHit  bool   `json:"stop_word_hit"`
	// Index into the request's stop list, -1 when no stop word matched.
	// example: -1
	StopWordIndex int `json:"stop_word_index" example:"-1"`
	// Effective sampler seed.
	// example: 42
	Seed  uint32 `json:"seed,omitempty" example:"42"`
	Usage Usage  `json:"usage"`
}

// TokenizeRequest is the body of POST /tokenize.
type TokenizeRequest struct {
	Model string `json:"model,omitempty" example:"tiny-bigram"`
	// example: hello world
	Text string `json:"text" example:"hello world"`
	// Prepend BOS when the model asks for it.
	AddSpecial bool `json:"add_special,omitempty"`
	// Treat control-token text as control tokens.
	ParseSpecial bool `json:"parse_special,omitempty"`
}

// TokenizeResponse is returned by POST /tokenize.
type TokenizeResponse struct {
	Model  string  `json:"model"`
	Tokens []int32 `json:"tokens"`
	Count  int     `json:"count"`
}

// DetokenizeRequest is the body of POST /detokenize.
type DetokenizeRequest struct {
	Model  string  `json:"model,omitempty" example:"tiny-bigram"`
	Tokens []int32 `json:"tokens"`
	// Render special tokens as text.
	Special bool `json:"special,omitempty"`
}

// DetokenizeResponse is returned by POST /detokenize.
type DetokenizeResponse struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

// EmbedRequest is the body of POST /embed.
type EmbedRequest struct {
	Model string `json:"model,omitempty" example:"tiny-bigram"`
	// Texts to embed; one vector is returned per entry.
	Input []string `json:"input"`
	// L2-normalize each vector. Defaults to true.
	Normalize *bool `json:"normalize,omitempty"`
}

// EmbedResponse is returned by POST /embed.
type EmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
	// example: 16
	Dimension int `json:"dimension" example:"16"`
	// Tokens consumed across all inputs.
	// example: 7
	InputTokens int `json:"input_tokens" example:"7"`
}

// LoadResponse is returned by POST /models/{id}/load.
type LoadResponse struct {
	// example: tiny-bigram
	Model string `json:"model" example:"tiny-bigram"`
	// Operation id of the background load.
	OpID string `json:"op_id"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// InstanceStatus summarizes a loaded instance for /status.
type InstanceStatus struct {
	// ID of the model this instance serves.
	// example: tiny-bigram
	ModelID string `json:"model_id" example:"tiny-bigram"`
	// Current lifecycle state of the instance (loading, ready, draining).
	// example: ready
	State string `json:"state" example:"ready"`
	// Last time this instance served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Estimated VRAM usage in MB.
	// example: 1200
	EstVRAMMB int `json:"est_vram_mb" example:"1200"`
	// Current queue length for incoming requests.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Number of in-flight requests currently being processed.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Maximum queued requests allowed before backpressure triggers.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Tokens held in the instance's context memory.
	// example: 96
	CachedTokens int `json:"cached_tokens" example:"96"`
	// True when the instance was seeded from a persisted state file.
	Restored bool `json:"restored,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Loaded/managed instances.
	Instances []InstanceStatus `json:"instances"`
	// VRAM budget in MB across all instances.
	// example: 8192
	BudgetMB int `json:"budget_mb" example:"8192"`
	// Estimated used VRAM in MB.
	// example: 2048
	UsedMB int `json:"used_est_mb" example:"2048"`
	// Reserved VRAM margin in MB.
	// example: 512
	MarginMB int `json:"margin_mb" example:"512"`
	// Runtime serving inference (engine or llama).
	// example: engine
	Runtime string `json:"runtime" example:"engine"`
	// Models currently held by the shared model cache.
	// example: 1
	CacheEntries int `json:"cache_entries" example:"1"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total number of evictions performed to free VRAM.
	// example: 5
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// Total number of model loads.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Overall manager state (loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Number of instances currently warming up (loading).
	// example: 1
	WarmupsInProgress int `json:"warmups_in_progress" example:"1"`
	// Number of instances currently draining (unload in progress).
	// example: 1
	DrainingCount int `json:"draining_count" example:"1"`
}
