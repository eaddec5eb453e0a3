package manager

import (
	"context"
	"fmt"

	"inferd/internal/llm"
	"inferd/pkg/types"
)

// withSession runs fn against the instance's session while holding the
// instance's generation slot, so the model cannot be released underneath.
func (m *Manager) withSession(ctx context.Context, model string, fn func(InferSession) error) (string, error) {
	modelID, err := m.resolveModelID(model)
	if err != nil {
		return "", err
	}
	if err := m.EnsureInstance(ctx, modelID); err != nil {
		return modelID, err
	}
	inst, release, err := m.beginGeneration(ctx, modelID)
	if err != nil {
		return modelID, err
	}
	defer release()
	return modelID, fn(inst.Session)
}

func (m *Manager) withTokenizer(ctx context.Context, model string, fn func(Tokenizer) error) (string, error) {
	return m.withSession(ctx, model, func(s InferSession) error {
		tk, ok := s.(Tokenizer)
		if !ok {
			return fmt.Errorf("%w: runtime %s does not expose its tokenizer", llm.ErrUnsupported, m.adapter.Name())
		}
		return fn(tk)
	})
}

// Tokenize converts text to token ids with the model's vocabulary.
func (m *Manager) Tokenize(ctx context.Context, req types.TokenizeRequest) (types.TokenizeResponse, error) {
	var toks []int32
	id, err := m.withTokenizer(ctx, req.Model, func(tk Tokenizer) error {
		var err error
		toks, err = tk.Tokenize(req.Text, req.AddSpecial, req.ParseSpecial)
		return err
	})
	if err != nil {
		return types.TokenizeResponse{}, err
	}
	if toks == nil {
		toks = []int32{}
	}
	return types.TokenizeResponse{Model: id, Tokens: toks, Count: len(toks)}, nil
}

// Detokenize converts token ids back to text.
func (m *Manager) Detokenize(ctx context.Context, req types.DetokenizeRequest) (types.DetokenizeResponse, error) {
	var text string
	id, err := m.withTokenizer(ctx, req.Model, func(tk Tokenizer) error {
		var err error
		text, err = tk.Detokenize(req.Tokens, req.Special)
		return err
	})
	if err != nil {
		return types.DetokenizeResponse{}, err
	}
	return types.DetokenizeResponse{Model: id, Text: text}, nil
}
