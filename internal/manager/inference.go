package manager

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"inferd/internal/llm"
	"inferd/pkg/types"
)

// Infer ensures the model instance exists, admits the request to its queue
// and streams NDJSON to w: one {"token":...} line per piece (unless
// req.Stream is false) followed by a types.FinalLine. flusher, when set, is
// called after every line.
func (m *Manager) Infer(ctx context.Context, req types.InferRequest, w io.Writer, flusher func()) error {
	if req.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", llm.ErrInvalidArgument)
	}
	modelID, err := m.resolveModelID(req.Model)
	if err != nil {
		return err
	}
	params, err := m.inferParams(req)
	if err != nil {
		return err
	}
	if err := m.EnsureInstance(ctx, modelID); err != nil {
		return err
	}
	inst, release, err := m.beginGeneration(ctx, modelID)
	if err != nil {
		return err
	}
	defer release()

	// Unload and eviction cancel the instance context to abort generation.
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(inst.ctx, cancel)
	defer stop()

	stream := req.Stream == nil || *req.Stream
	enc := json.NewEncoder(w)
	writeLine := func(v any) error {
		if err := enc.Encode(v); err != nil {
			return err
		}
		if flusher != nil {
			flusher()
		}
		return nil
	}
	onTok := func(tok string) error {
		if !stream {
			return nil
		}
		return writeLine(types.TokenLine{Token: tok})
	}

	start := time.Now()
	final, err := inst.Session.Generate(gctx, req.Prompt, params, onTok)
	m.afterGeneration(inst)
	if err != nil {
		completionErrors.WithLabelValues(modelID).Inc()
		return err
	}
	observeCompletion(modelID, final, time.Since(start))

	line := types.FinalLine{
		Done:          true,
		ID:            uuid.NewString(),
		Model:         modelID,
		Content:       final.Content,
		FinishReason:  final.FinishReason,
		StopWordHit:   final.StopWordHit,
		StopWordIndex: final.StopWordIndex,
		Seed:          final.Seed,
		Usage: types.Usage{
			PromptTokens:     final.Usage.PromptTokens,
			CompletionTokens: final.Usage.CompletionTokens,
			CachedTokens:     final.Usage.CachedTokens,
			TotalTokens:      final.Usage.TotalTokens,
		},
	}
	return writeLine(line)
}

// afterGeneration refreshes the instance's cached token count while the
// caller still holds the generation slot.
func (m *Manager) afterGeneration(inst *Instance) {
	ss, ok := inst.Session.(StatefulSession)
	if !ok {
		return
	}
	n := ss.CachedTokens()
	m.mu.Lock()
	inst.cachedTokens = n
	inst.LastUsed = time.Now()
	m.mu.Unlock()
}
