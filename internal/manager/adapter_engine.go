package manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"inferd/internal/engine"
	"inferd/internal/llm"
	"inferd/pkg/types"
)

// EngineAdapter serves inference through internal/llm. Models are shared via
// an llm.Cache so two instances of the same file hold one set of weights.
type EngineAdapter struct {
	cache *llm.Cache
	mp    llm.ModelParams
	cp    llm.ContextParams
	log   zerolog.Logger
}

// NewEngineAdapter builds an adapter over backend.
func NewEngineAdapter(backend engine.Backend, mp llm.ModelParams, cp llm.ContextParams, log zerolog.Logger) *EngineAdapter {
	return &EngineAdapter{cache: llm.NewCache(backend), mp: mp, cp: cp, log: log}
}

func (a *EngineAdapter) Name() string { return "engine" }

// CacheEntries reports how many models the shared cache holds.
func (a *EngineAdapter) CacheEntries() int { return a.cache.Count() }

// Close drops every cached model regardless of outstanding sessions.
func (a *EngineAdapter) Close() error {
	a.cache.Clear()
	return nil
}

func (a *EngineAdapter) Load(ctx context.Context, mdl types.Model) (InferSession, error) {
	if strings.TrimSpace(mdl.Path) == "" {
		return nil, fmt.Errorf("%w: model %s has no path", llm.ErrInvalidArgument, mdl.ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := a.cache.Load(mdl.Path, a.mp)
	if err != nil {
		return nil, err
	}
	c, err := llm.NewContext(m, a.cp)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	info := m.Info()
	a.log.Debug().Str("model", mdl.ID).Str("desc", info.Desc).Int32("n_vocab", info.NVocab).
		Uint32("n_ctx", c.NCtx()).Int("cache_entries", a.cache.Count()).Msg("engine session loaded")
	return &engineSession{id: mdl.ID, model: m, ctx: c, cp: a.cp, log: a.log}, nil
}

type engineSession struct {
	id    string
	model *llm.Model
	ctx   *llm.Context
	cp    llm.ContextParams
	log   zerolog.Logger

	// embd is a second context with embeddings enabled, created on first
	// Embed so generation memory is never cleared by embedding.
	embd *llm.Context
}

func (s *engineSession) Generate(ctx context.Context, prompt string, p InferParams, onToken func(string) error) (FinalResult, error) {
	var cbErr error
	opts := llm.CompletionOptions{
		SamplerParams:       p.Sampler,
		MaxTokens:           p.MaxTokens,
		StopWords:           p.Stop,
		EnablePrefixCaching: p.PrefixCache,
		AbortContext:        ctx,
		OnToken: func(piece string) bool {
			if err := onToken(piece); err != nil {
				cbErr = err
				return false
			}
			return true
		},
	}
	s.log.Debug().Str("model", s.id).Uint64("prompt_fp", xxhash.Sum64String(prompt)).
		Int("cached_tokens", len(s.ctx.CachedTokens())).Msg("engine generate")
	res, err := s.ctx.Complete(prompt, opts)
	if err != nil {
		return FinalResult{}, err
	}
	if cbErr != nil {
		return FinalResult{}, cbErr
	}
	if res.FinishReason == llm.FinishAborted && ctx.Err() != nil {
		return FinalResult{}, ctx.Err()
	}
	u := res.Usage
	return FinalResult{
		Content:       res.Text,
		FinishReason:  res.FinishReason,
		StopWordHit:   res.StopWordHit,
		StopWordIndex: res.StopWordIndex,
		Seed:          res.Seed,
		Usage: Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			CachedTokens:     u.CachedTokens,
			TotalTokens:      u.PromptTokens + u.CompletionTokens,
		},
	}, nil
}

func (s *engineSession) Tokenize(text string, addSpecial, parseSpecial bool) ([]int32, error) {
	return s.model.Tokenize(text, llm.TokenizeOptions{AddSpecial: addSpecial, ParseSpecial: parseSpecial})
}

func (s *engineSession) Detokenize(tokens []int32, special bool) (string, error) {
	return s.model.Detokenize(tokens, special)
}

func (s *engineSession) Embed(texts []string, normalize bool) (*llm.EmbeddingBatch, error) {
	if s.embd == nil {
		p := s.cp
		p.Embeddings = true
		p.NSeqMax = 1
		c, err := llm.NewContext(s.model, p)
		if err != nil {
			return nil, err
		}
		s.embd = c
		s.log.Debug().Str("model", s.id).Int32("n_embd", s.model.NEmbd()).Msg("embedding context created")
	}
	opts := llm.DefaultEmbeddingOptions()
	opts.Normalize = normalize
	return s.embd.ComputeEmbeddings(texts, opts)
}

func (s *engineSession) SaveState(path string) error {
	return s.ctx.SaveStateFile(path, s.ctx.CachedTokens())
}

func (s *engineSession) LoadState(path string) error {
	_, err := s.ctx.LoadStateFile(path, int(s.ctx.NCtx()))
	return err
}

func (s *engineSession) CachedTokens() int { return len(s.ctx.CachedTokens()) }

func (s *engineSession) Close() error {
	err := s.ctx.Close()
	if s.embd != nil {
		if eerr := s.embd.Close(); err == nil {
			err = eerr
		}
	}
	if cerr := s.model.Close(); err == nil {
		err = cerr
	}
	return err
}
