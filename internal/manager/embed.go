package manager

import (
	"context"
	"fmt"

	"inferd/internal/llm"
	"inferd/pkg/types"
)

// Embed computes one vector per input text on the model's instance.
// Vectors are L2-normalized unless the request turns it off.
func (m *Manager) Embed(ctx context.Context, req types.EmbedRequest) (types.EmbedResponse, error) {
	if len(req.Input) == 0 {
		return types.EmbedResponse{}, fmt.Errorf("%w: input is empty", llm.ErrInvalidArgument)
	}
	normalize := true
	if req.Normalize != nil {
		normalize = *req.Normalize
	}
	var res *llm.EmbeddingBatch
	id, err := m.withSession(ctx, req.Model, func(s InferSession) error {
		e, ok := s.(Embedder)
		if !ok {
			return fmt.Errorf("%w: runtime %s does not compute embeddings", llm.ErrUnsupported, m.adapter.Name())
		}
		var err error
		res, err = e.Embed(req.Input, normalize)
		return err
	})
	if err != nil {
		return types.EmbedResponse{}, err
	}
	embedInputs.WithLabelValues(id).Add(float64(len(req.Input)))
	return types.EmbedResponse{
		Model:       id,
		Embeddings:  res.Vectors,
		Dimension:   res.Dimension,
		InputTokens: res.Tokens,
	}, nil
}
