//go:build llama

package manager

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"

	"inferd/internal/llm"
	"inferd/pkg/types"
)

// llamaBuilt indicates this binary was compiled with go-llama.cpp support.
const llamaBuilt = true

// llamaAdapter runs whole completions inside go-llama.cpp. Sampling follows
// the library's own chain; min_p and prefix caching are not forwarded.
type llamaAdapter struct {
	mp  llm.ModelParams
	cp  llm.ContextParams
	log zerolog.Logger
}

// NewLlamaAdapter returns the go-llama.cpp runtime.
func NewLlamaAdapter(mp llm.ModelParams, cp llm.ContextParams, log zerolog.Logger) InferenceAdapter {
	return &llamaAdapter{mp: mp, cp: cp, log: log}
}

func (a *llamaAdapter) Name() string { return "llama" }

type llamaSession struct {
	model   *llama.LLama
	threads int
}

func (a *llamaAdapter) Load(ctx context.Context, mdl types.Model) (InferSession, error) {
	if strings.TrimSpace(mdl.Path) == "" {
		return nil, errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	layers := int(a.mp.NGPULayers)
	if layers < 0 {
		layers = 999
	}
	mo := []llama.ModelOption{
		llama.SetContext(int(a.cp.NCtx)),
		llama.SetNBatch(int(a.cp.NBatch)),
		llama.SetGPULayers(layers),
		llama.SetMMap(a.mp.UseMMap),
	}
	m, err := llama.New(mdl.Path, mo...)
	if err != nil {
		return nil, err
	}
	a.log.Debug().Str("model", mdl.ID).Int("gpu_layers", layers).Msg("llama session loaded")
	return &llamaSession{model: m, threads: int(a.cp.NThreads)}, nil
}

func (s *llamaSession) Generate(ctx context.Context, prompt string, p InferParams, onToken func(string) error) (FinalResult, error) {
	if s.model == nil {
		return FinalResult{}, llm.ErrInvalidContext
	}
	if p.MaxTokens == 0 {
		return FinalResult{FinishReason: llm.FinishMaxTokens, StopWordIndex: -1, Seed: p.Sampler.Seed}, nil
	}
	var cbErr error
	stopped := false
	s.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if err := onToken(tok); err != nil {
			cbErr = err
			stopped = true
			return false
		}
		return true
	})
	defer s.model.SetTokenCallback(nil)

	text, err := s.model.Predict(prompt, predictOptions(p, s.threads)...)
	if err != nil {
		if ctx.Err() != nil {
			return FinalResult{}, ctx.Err()
		}
		return FinalResult{}, err
	}
	if cbErr != nil {
		return FinalResult{}, cbErr
	}
	if ctx.Err() != nil {
		return FinalResult{}, ctx.Err()
	}
	res := FinalResult{Content: text, FinishReason: llm.FinishEOS, StopWordIndex: -1, Seed: p.Sampler.Seed}
	if stopped {
		res.FinishReason = llm.FinishCallback
	}
	for i, w := range p.Stop {
		if w != "" && strings.HasSuffix(text, w) {
			res.Content = strings.TrimSuffix(text, w)
			res.FinishReason = llm.FinishStop
			res.StopWordHit, res.StopWordIndex = true, i
			break
		}
	}
	return res, nil
}

func (s *llamaSession) Close() error {
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

// predictOptions converts sampler params into go-llama.cpp options.
func predictOptions(p InferParams, threads int) []llama.PredictOption {
	a := llamaArgsFor(p, threads)
	po := []llama.PredictOption{
		llama.SetTokens(a.Tokens),
		llama.SetThreads(a.Threads),
		llama.SetTemperature(a.Temperature),
		llama.SetTopP(a.TopP),
		llama.SetTopK(a.TopK),
		llama.SetPenalty(a.Penalty),
		llama.SetRepeat(a.RepeatLastN),
		llama.SetFrequencyPenalty(a.FrequencyPenalty),
		llama.SetPresencePenalty(a.PresencePenalty),
	}
	if a.Seed != 0 {
		po = append(po, llama.SetSeed(a.Seed))
	}
	if len(a.Stop) > 0 {
		po = append(po, llama.SetStopWords(a.Stop...))
	}
	return po
}
