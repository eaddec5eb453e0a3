//go:build !llama

package manager

import (
	"context"

	"github.com/rs/zerolog"

	"inferd/internal/llm"
	"inferd/pkg/types"
)

// llamaBuilt is false when the binary lacks the 'llama' build tag.
const llamaBuilt = false

// llamaAdapter refuses to load models so that a binary built without cgo
// reports the missing runtime instead of serving something else.
type llamaAdapter struct{}

// NewLlamaAdapter returns the stub runtime.
func NewLlamaAdapter(llm.ModelParams, llm.ContextParams, zerolog.Logger) InferenceAdapter {
	return llamaAdapter{}
}

func (llamaAdapter) Name() string { return "llama" }

func (llamaAdapter) Load(context.Context, types.Model) (InferSession, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
