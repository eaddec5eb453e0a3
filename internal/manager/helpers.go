package manager

import (
	"fmt"
	"math"
	"path/filepath"

	"inferd/internal/common/fsutil"
	"inferd/internal/llm"
	"inferd/pkg/types"
)

// getModelByID finds a model in the registry.
func (m *Manager) getModelByID(id string) (types.Model, bool) {
	for _, mdl := range m.registry {
		if mdl.ID == id {
			return mdl, true
		}
	}
	return types.Model{}, false
}

// resolveModelID falls back to the default model for an empty id.
func (m *Manager) resolveModelID(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	if m.defaultModel == "" {
		return "", ErrModelNotFound("(unspecified)")
	}
	return m.defaultModel, nil
}

// estimateVRAMMB uses the model file size (MB), at least 1.
func (m *Manager) estimateVRAMMB(mdl types.Model) int {
	return fsutil.SizeMB(mdl.Path)
}

// statePath is where an instance's context state is persisted.
func (m *Manager) statePath(modelID string) string {
	if m.stateDir == "" {
		return ""
	}
	return filepath.Join(m.stateDir, fsutil.SafeName(modelID)+".state")
}

// inferParams overlays request fields on the manager defaults.
func (m *Manager) inferParams(req types.InferRequest) (InferParams, error) {
	p := InferParams{
		Sampler:     m.sampler,
		MaxTokens:   m.maxTokens,
		Stop:        append([]string(nil), req.Stop...),
		PrefixCache: m.prefixCache,
	}
	sp := &p.Sampler
	if req.MaxTokens != nil {
		if *req.MaxTokens < 0 {
			return p, fmt.Errorf("%w: max_tokens must be >= 0", llm.ErrInvalidArgument)
		}
		v, err := int32Field("max_tokens", *req.MaxTokens)
		if err != nil {
			return p, err
		}
		p.MaxTokens = v
	}
	if req.Seed != nil {
		sp.Seed = *req.Seed
	}
	if req.Temperature != nil {
		sp.Temperature = float32(*req.Temperature)
	}
	if req.TopK != nil {
		v, err := int32Field("top_k", *req.TopK)
		if err != nil {
			return p, err
		}
		sp.TopK = v
	}
	if req.TopP != nil {
		sp.TopP = float32(*req.TopP)
	}
	if req.MinP != nil {
		sp.MinP = float32(*req.MinP)
	}
	if req.RepeatPenalty != nil {
		sp.RepeatPenalty = float32(*req.RepeatPenalty)
	}
	if req.RepeatLastN != nil {
		v, err := int32Field("repeat_last_n", *req.RepeatLastN)
		if err != nil {
			return p, err
		}
		sp.RepeatLastN = v
	}
	if req.FrequencyPenalty != nil {
		sp.FrequencyPenalty = float32(*req.FrequencyPenalty)
	}
	if req.PresencePenalty != nil {
		sp.PresencePenalty = float32(*req.PresencePenalty)
	}
	if req.PrefixCache != nil {
		p.PrefixCache = *req.PrefixCache
	}
	return p, nil
}

// int32Field narrows a request integer, rejecting values that would wrap.
func int32Field(name string, v int) (int32, error) {
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, fmt.Errorf("%w: %s %d out of range", llm.ErrInvalidArgument, name, v)
	}
	return int32(v), nil
}
