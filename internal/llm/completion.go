package llm

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Stage names the point the completion loop reached. It is reported in
// GenerationError diagnostics.
type Stage int

const (
	StageInit Stage = iota
	StageTokenizing
	StagePrefilling
	StageSampling
	StageAccepting
	StageEOGCheck
	StageDetokenizing
	StageStreaming
	StageStopCheck
	StageDecoding
	StageFinalized
)

var stageNames = [...]string{
	StageInit:         "init",
	StageTokenizing:   "tokenizing",
	StagePrefilling:   "prefilling",
	StageSampling:     "sampling",
	StageAccepting:    "accepting",
	StageEOGCheck:     "eog_check",
	StageDetokenizing: "detokenizing",
	StageStreaming:    "streaming",
	StageStopCheck:    "stop_check",
	StageDecoding:     "decoding",
	StageFinalized:    "finalized",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// StopReason is the terminal state of a successful completion.
type StopReason int

const (
	StoppedNormal StopReason = iota
	StoppedOnCallback
	StoppedOnStopWord
)

func (r StopReason) String() string {
	switch r {
	case StoppedOnCallback:
		return "callback"
	case StoppedOnStopWord:
		return "stop_word"
	}
	return "normal"
}

// Finish reasons reported alongside StopReason.
const (
	FinishEOS         = "eos"
	FinishMaxTokens   = "max_tokens"
	FinishStop        = "stop"
	FinishCallback    = "callback"
	FinishAborted     = "aborted"
	FinishDecodeError = "decode_error"
)

// CompletionOptions configure one Complete call.
type CompletionOptions struct {
	SamplerParams

	// MaxTokens bounds the number of generated tokens. 0 returns at once.
	MaxTokens int32

	// StopWords end generation when one becomes a suffix of the output. The
	// first match in slice order wins and is trimmed. Empty entries are
	// ignored.
	StopWords []string

	// OnToken receives every decoded piece. Returning false stops generation
	// and keeps the text produced so far.
	OnToken func(piece string) bool

	// EnablePrefixCaching keeps the memory of the previous call and decodes
	// only the part of the prompt that differs.
	EnablePrefixCaching bool

	// AbortContext is checked before each sampled token.
	AbortContext context.Context

	// FailOnDecodeError turns a decode failure after the first generated
	// token into an error instead of an early stop.
	FailOnDecodeError bool
}

// DefaultCompletionOptions returns the completion defaults.
func DefaultCompletionOptions() CompletionOptions {
	return CompletionOptions{
		SamplerParams: DefaultSamplerParams(),
		MaxTokens:     512,
	}
}

// Usage counts tokens for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	CachedTokens     int `json:"cached_tokens"`
}

// Completion is the result of Complete.
type Completion struct {
	Text          string
	StopWordHit   bool
	StopWordIndex int // -1 unless StopWordHit
	Reason        StopReason
	FinishReason  string
	Usage         Usage
	Seed          uint32
}

// genState is the loop bookkeeping shared with the panic handler.
type genState struct {
	stage     Stage
	lastToken Token
	pieceLen  int32
	needed    int64
	out       strings.Builder
}

func (g *genState) fail(cause error) *GenerationError {
	return &GenerationError{
		Stage:        g.stage,
		LastToken:    g.lastToken,
		PieceLen:     g.pieceLen,
		Needed:       g.needed,
		GeneratedLen: g.out.Len(),
		Cause:        cause,
	}
}

// Generate runs a completion on c, which must be bound to m.
func Generate(c *Context, m *Model, prompt string, opts CompletionOptions) (*Completion, error) {
	if c == nil || m == nil || c.model != m {
		return nil, fmt.Errorf("%w: context is not bound to model", ErrInvalidArgument)
	}
	return c.Complete(prompt, opts)
}

// Complete tokenizes prompt, prefills it in one batch on sequence 0 and
// generates until end of generation, MaxTokens, a stop word, the callback or
// the abort context ends it.
//
// Errors before the first generated token return no result. A decode
// failure after that ends generation with the text produced so far unless
// FailOnDecodeError is set. Panics inside the loop are returned as a
// *GenerationError.
func (c *Context) Complete(prompt string, opts CompletionOptions) (res *Completion, err error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrInvalidArgument)
	}
	if opts.MaxTokens < 0 {
		return nil, fmt.Errorf("%w: max_tokens %d", ErrInvalidArgument, opts.MaxTokens)
	}
	if opts.MaxTokens == 0 {
		return &Completion{StopWordIndex: -1, Reason: StoppedNormal, FinishReason: FinishMaxTokens}, nil
	}

	g := &genState{stage: StageInit, lastToken: -1}
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, g.fail(panicCause(r))
		}
	}()

	g.stage = StageTokenizing
	tokens, err := c.model.Tokenize(prompt, DefaultTokenizeOptions())
	if err != nil {
		return nil, err
	}
	nPrompt := int32(len(tokens))
	if nPrompt == 0 {
		return nil, fmt.Errorf("%w: prompt produced no tokens", ErrTokenization)
	}
	if nBatch := int32(c.NBatch()); nPrompt > nBatch {
		return nil, fmt.Errorf("%w: prompt has %d tokens, batch holds %d", ErrCapacityExceeded, nPrompt, nBatch)
	}
	if nCtx := int64(c.NCtx()); int64(nPrompt)+int64(opts.MaxTokens) > nCtx {
		return nil, fmt.Errorf("%w: %d prompt tokens + %d max_tokens exceeds context of %d", ErrCapacityExceeded, nPrompt, opts.MaxTokens, nCtx)
	}

	sampler, err := NewSampler(c.model, opts.SamplerParams)
	if err != nil {
		return nil, err
	}
	batch, err := NewBatch(nPrompt, 1)
	if err != nil {
		return nil, err
	}

	g.stage = StagePrefilling
	cached := c.reusablePrefix(tokens, opts.EnablePrefixCaching)
	if added := batch.AddRun(tokens[cached:], cached, 0, true); added != nPrompt-cached {
		return nil, fmt.Errorf("%w: staged %d of %d prompt tokens", ErrCapacityExceeded, added, nPrompt-cached)
	}
	if err := batch.Decode(c); err != nil {
		c.forgetFrom(cached)
		return nil, fmt.Errorf("prefill: %w", err)
	}
	c.tokens = append(c.tokens[:cached], tokens[cached:]...)

	res = &Completion{
		StopWordIndex: -1,
		Reason:        StoppedNormal,
		FinishReason:  FinishMaxTokens,
		Usage:         Usage{PromptTokens: int(nPrompt), CachedTokens: int(cached)},
		Seed:          sampler.Seed(),
	}
	nPast := nPrompt

loop:
	for i := int32(0); i < opts.MaxTokens; i++ {
		if opts.AbortContext != nil && opts.AbortContext.Err() != nil {
			res.Reason, res.FinishReason = StoppedOnCallback, FinishAborted
			break
		}

		g.stage = StageSampling
		tok, err := sampler.Sample(c, -1)
		if err != nil {
			return nil, g.fail(err)
		}
		g.lastToken = tok

		g.stage = StageAccepting
		sampler.Accept(tok)

		g.stage = StageEOGCheck
		if c.model.IsEOG(tok) {
			res.FinishReason = FinishEOS
			break
		}

		g.stage = StageDetokenizing
		piece, needed, err := c.model.tokenToPiece(tok, false)
		g.pieceLen, g.needed = int32(len(piece)), needed
		if err != nil {
			return nil, g.fail(err)
		}
		g.out.WriteString(piece)
		res.Usage.CompletionTokens++

		g.stage = StageStreaming
		if opts.OnToken != nil && !opts.OnToken(piece) {
			res.Reason, res.FinishReason = StoppedOnCallback, FinishCallback
			break
		}

		g.stage = StageStopCheck
		if idx, sw := matchStopWord(g.out.String(), opts.StopWords); idx >= 0 {
			text := g.out.String()
			g.out.Reset()
			g.out.WriteString(text[:len(text)-len(sw)])
			res.StopWordHit, res.StopWordIndex = true, idx
			res.Reason, res.FinishReason = StoppedOnStopWord, FinishStop
			break
		}

		g.stage = StageDecoding
		batch.Clear()
		if err := batch.Add(tok, nPast, 0, true); err != nil {
			return nil, g.fail(err)
		}
		if err := batch.Decode(c); err != nil {
			if opts.FailOnDecodeError {
				return nil, g.fail(err)
			}
			res.FinishReason = FinishDecodeError
			break loop
		}
		c.tokens = append(c.tokens, tok)
		nPast++
	}

	g.stage = StageFinalized
	res.Text = g.out.String()
	return res, nil
}

// matchStopWord returns the index of the first stop word that is a suffix of
// text, or -1.
func matchStopWord(text string, stops []string) (int, string) {
	for i, sw := range stops {
		if sw != "" && strings.HasSuffix(text, sw) {
			return i, sw
		}
	}
	return -1, ""
}

// reusablePrefix prepares sequence 0 for tokens and returns how many leading
// tokens are already in memory. At least the last prompt token is always
// decoded again so its logits are fresh.
func (c *Context) reusablePrefix(tokens []Token, enabled bool) int32 {
	if !enabled {
		c.ec.MemoryClear(true)
		c.tokens = nil
		return 0
	}
	n := 0
	for n < len(c.tokens) && n < len(tokens) && c.tokens[n] == tokens[n] {
		n++
	}
	if n >= len(tokens) {
		n = len(tokens) - 1
	}
	if n > 0 && c.ec.MemorySeqRm(0, int32(n), -1) {
		c.tokens = c.tokens[:n]
		return int32(n)
	}
	c.ec.MemoryClear(false)
	c.tokens = nil
	return 0
}

// forgetFrom drops memory of sequence 0 from pos on after a failed prefill.
func (c *Context) forgetFrom(pos int32) {
	if pos > 0 && c.ec.MemorySeqRm(0, pos, -1) {
		c.tokens = c.tokens[:pos]
		return
	}
	c.ec.MemoryClear(false)
	c.tokens = nil
}

// allocPanics are the runtime.Error messages the Go runtime raises when a
// size computed from engine output cannot be allocated:
// "makeslice: len out of range", "makeslice: cap out of range",
// "growslice: len out of range", "makechan: size out of range" and
// "makemap: size out of range". A real out-of-memory condition is fatal
// and never reaches recover.
var allocPanics = []string{"makeslice: ", "growslice: ", "makechan: ", "makemap: "}

// panicCause maps a recovered value to ErrAllocation for the runtime
// allocation failures above and to ErrDecode for everything else.
func panicCause(r any) error {
	var rerr runtime.Error
	if e, ok := r.(error); ok && errors.As(e, &rerr) {
		msg := strings.TrimPrefix(rerr.Error(), "runtime error: ")
		for _, p := range allocPanics {
			if strings.HasPrefix(msg, p) && strings.HasSuffix(msg, " out of range") {
				return fmt.Errorf("%w: %v", ErrAllocation, r)
			}
		}
	}
	return fmt.Errorf("%w: panic: %v", ErrDecode, r)
}
