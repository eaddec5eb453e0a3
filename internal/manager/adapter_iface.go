package manager

import (
	"context"

	"inferd/internal/llm"
	"inferd/pkg/types"
)

// InferenceAdapter abstracts the model runtime used by the Manager.
type InferenceAdapter interface {
	// Name identifies the runtime in status output ("engine", "llama").
	Name() string
	// Load prepares a reusable session for the given model. The manager
	// calls it once per instance and closes the session on unload/evict.
	Load(ctx context.Context, mdl types.Model) (InferSession, error)
}

// InferSession owns one loaded model and its context. It is used by one
// generation at a time.
type InferSession interface {
	// Generate streams pieces of the completion for prompt to onToken.
	// Implementations must return when ctx is canceled; an error from
	// onToken stops generation and is returned.
	Generate(ctx context.Context, prompt string, params InferParams, onToken func(string) error) (FinalResult, error)
	// Close releases any resources associated with the session.
	Close() error
}

// Tokenizer is implemented by sessions that expose their vocabulary.
type Tokenizer interface {
	Tokenize(text string, addSpecial, parseSpecial bool) ([]int32, error)
	Detokenize(tokens []int32, special bool) (string, error)
}

// Embedder is implemented by sessions that can compute text embeddings.
type Embedder interface {
	Embed(texts []string, normalize bool) (*llm.EmbeddingBatch, error)
}

// StatefulSession is implemented by sessions whose context memory can be
// persisted across unloads.
type StatefulSession interface {
	SaveState(path string) error
	LoadState(path string) error
	// CachedTokens is the number of tokens held in context memory.
	CachedTokens() int
}

// cacheStats is implemented by adapters that share loaded models.
type cacheStats interface {
	CacheEntries() int
}

// closer is implemented by adapters holding process-wide resources.
type closer interface {
	Close() error
}

// InferParams captures generation parameters passed to the adapter.
type InferParams struct {
	Sampler     llm.SamplerParams
	MaxTokens   int32
	Stop        []string
	PrefixCache bool
}

// FinalResult summarizes the generation after streaming.
type FinalResult struct {
	Content       string
	FinishReason  string
	StopWordHit   bool
	StopWordIndex int
	Seed          uint32
	Usage         Usage
}

// Usage contains token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CachedTokens     int
	TotalTokens      int
}
