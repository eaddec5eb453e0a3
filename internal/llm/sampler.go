package llm

import (
	"fmt"
	"math/rand/v2"
)

// SamplerParams configure the sampler chain. Each field has a value that
// removes its stage from the chain entirely.
type SamplerParams struct {
	Seed        uint32  `json:"seed" yaml:"seed" toml:"seed"`                      // 0 picks a fresh seed
	Temperature float32 `json:"temperature" yaml:"temperature" toml:"temperature"` // <= 0 selects greedy arg-max
	TopK        int32   `json:"top_k" yaml:"top_k" toml:"top_k"`                   // <= 0 disables
	TopP        float32 `json:"top_p" yaml:"top_p" toml:"top_p"`                   // >= 1 disables
	MinP        float32 `json:"min_p" yaml:"min_p" toml:"min_p"`                   // <= 0 disables

	RepeatPenalty    float32 `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"` // 1 disables
	RepeatLastN      int32   `json:"repeat_last_n" yaml:"repeat_last_n" toml:"repeat_last_n"`    // -1 uses the model's training context
	FrequencyPenalty float32 `json:"frequency_penalty" yaml:"frequency_penalty" toml:"frequency_penalty"`
	PresencePenalty  float32 `json:"presence_penalty" yaml:"presence_penalty" toml:"presence_penalty"`
}

// DefaultSamplerParams returns the sampling defaults.
func DefaultSamplerParams() SamplerParams {
	return SamplerParams{
		Seed:          0,
		Temperature:   0.8,
		TopK:          40,
		TopP:          0.95,
		MinP:          0.05,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
	}
}

// GreedySamplerParams returns parameters whose chain is a single arg-max.
func GreedySamplerParams() SamplerParams {
	return SamplerParams{TopP: 1, RepeatPenalty: 1}
}

func (p SamplerParams) penaltiesEnabled() bool {
	return p.RepeatPenalty != 1 || p.FrequencyPenalty != 0 || p.PresencePenalty != 0
}

// LogitsSource yields the logits row of an output index. *Context
// implements it.
type LogitsSource interface {
	Logits(i int32) ([]float32, error)
}

// Sampler is an ordered chain of distribution transforms ending in a token
// choice. It keeps a per-request token history and RNG and must not be
// shared between requests.
type Sampler struct {
	params SamplerParams
	seed   uint32
	stages []stage
	cand   candidates
}

// NewSampler builds the chain for m. Disabled stages are left out of the
// chain rather than applied as identity transforms, since each present stage
// can renormalize what the next one sees.
func NewSampler(m *Model, p SamplerParams) (*Sampler, error) {
	if m == nil || m.em == nil {
		return nil, ErrInvalidModel
	}
	if p.TopP < 0 || p.MinP < 0 || p.RepeatLastN < -1 {
		return nil, fmt.Errorf("%w: sampler params %+v", ErrInvalidArgument, p)
	}
	seed := p.Seed
	for seed == 0 {
		seed = rand.Uint32()
	}
	s := &Sampler{params: p, seed: seed}

	if p.penaltiesEnabled() {
		lastN := p.RepeatLastN
		if lastN < 0 {
			lastN = m.NCtxTrain()
		}
		if lastN > 0 {
			s.stages = append(s.stages, newPenaltyStage(int(lastN), p.RepeatPenalty, p.FrequencyPenalty, p.PresencePenalty))
		}
	}
	if p.TopK > 0 {
		s.stages = append(s.stages, topKStage{k: int(p.TopK)})
	}
	if p.TopP < 1 {
		s.stages = append(s.stages, topPStage{p: p.TopP})
	}
	if p.MinP > 0 {
		s.stages = append(s.stages, minPStage{p: p.MinP})
	}
	if p.Temperature > 0 {
		s.stages = append(s.stages, tempStage{t: p.Temperature})
		s.stages = append(s.stages, newDistStage(seed))
	} else {
		s.stages = append(s.stages, greedyStage{})
	}
	return s, nil
}

// Seed returns the effective seed of the final draw.
func (s *Sampler) Seed() uint32 { return s.seed }

// Params returns the parameters the chain was built from.
func (s *Sampler) Params() SamplerParams { return s.params }

// Stages lists the chain in application order.
func (s *Sampler) Stages() []string {
	out := make([]string, len(s.stages))
	for i, st := range s.stages {
		out[i] = st.kind().String()
	}
	return out
}

// Sample picks a token from the logits of output idx (-1 for the last).
func (s *Sampler) Sample(src LogitsSource, idx int32) (Token, error) {
	logits, err := src.Logits(idx)
	if err != nil {
		return -1, err
	}
	if len(logits) == 0 {
		return -1, fmt.Errorf("%w: empty logits", ErrInvalidArgument)
	}
	s.cand.reset(logits)
	for _, st := range s.stages {
		st.apply(&s.cand)
	}
	if s.cand.selected < 0 || s.cand.selected >= len(s.cand.data) {
		return -1, fmt.Errorf("%w: sampler chain selected nothing", ErrDecode)
	}
	return s.cand.data[s.cand.selected].id, nil
}

// Accept records a generated token in every stage that keeps history. Call
// it once after each Sample.
func (s *Sampler) Accept(t Token) {
	for _, st := range s.stages {
		if a, ok := st.(accepter); ok {
			a.accept(t)
		}
	}
}

// Reset clears history and rewinds the RNG to the chain's seed.
func (s *Sampler) Reset() {
	for _, st := range s.stages {
		if r, ok := st.(resetter); ok {
			r.reset()
		}
	}
}
