package llm

import (
	"fmt"

	"inferd/internal/engine"
)

// GGMLType selects the element type of cached K/V tensors.
type GGMLType int32

const (
	GGMLTypeF32  GGMLType = 0
	GGMLTypeF16  GGMLType = 1
	GGMLTypeQ4_0 GGMLType = 2
	GGMLTypeQ4_1 GGMLType = 3
	GGMLTypeQ5_0 GGMLType = 6
	GGMLTypeQ5_1 GGMLType = 7
	GGMLTypeQ8_0 GGMLType = 8
	GGMLTypeQ8_1 GGMLType = 9
	GGMLTypeBF16 GGMLType = 30
)

// ContextParams size a context. Zero NCtx uses the model's training length.
type ContextParams struct {
	NCtx          uint32
	NBatch        uint32
	NUBatch       uint32
	NSeqMax       uint32
	NThreads      int32
	NThreadsBatch int32
	RopeFreqBase  float32 // 0 = from model
	RopeFreqScale float32 // 0 = from model
	TypeK         GGMLType
	TypeV         GGMLType
	Embeddings    bool
	OffloadKQV    bool
	FlashAttn     bool
	NoPerf        bool
}

// DefaultContextParams returns the context defaults.
func DefaultContextParams() ContextParams {
	return ContextParams{
		NCtx:          512,
		NBatch:        2048,
		NUBatch:       512,
		NSeqMax:       1,
		NThreads:      4,
		NThreadsBatch: 4,
		TypeK:         GGMLTypeF16,
		TypeV:         GGMLTypeF16,
		OffloadKQV:    true,
	}
}

func (p ContextParams) engine() engine.ContextParams {
	return engine.ContextParams{
		NCtx:          p.NCtx,
		NBatch:        p.NBatch,
		NUBatch:       p.NUBatch,
		NSeqMax:       p.NSeqMax,
		NThreads:      p.NThreads,
		NThreadsBatch: p.NThreadsBatch,
		RopeFreqBase:  p.RopeFreqBase,
		RopeFreqScale: p.RopeFreqScale,
		TypeK:         int32(p.TypeK),
		TypeV:         int32(p.TypeV),
		Embeddings:    p.Embeddings,
		OffloadKQV:    p.OffloadKQV,
		FlashAttn:     p.FlashAttn,
		NoPerf:        p.NoPerf,
	}
}

// Context is per-session engine state bound to one Model: KV memory plus the
// output buffers of the last forward pass. It is not safe for concurrent use.
//
// Slices returned by Logits and Embeddings are owned by the engine and are
// invalidated by the next Decode, Encode, state restore, or Close.
type Context struct {
	model *Model
	ec    engine.Context

	// tokens mirrors what sequence 0 holds in memory, in position order.
	// Used for prefix caching and written with state files.
	tokens []Token

	embeddings bool
}

// NewContext creates a context on m. The context does not take a model
// reference; the caller keeps m loaded for the context's lifetime.
func NewContext(m *Model, p ContextParams) (*Context, error) {
	if m == nil || m.em == nil {
		return nil, ErrInvalidModel
	}
	if p.NSeqMax == 0 {
		p.NSeqMax = 1
	}
	ec, err := m.em.NewContext(p.engine())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}
	return &Context{model: m, ec: ec, embeddings: p.Embeddings}, nil
}

// Model returns the model this context is bound to.
func (c *Context) Model() *Model { return c.model }

func (c *Context) valid() error {
	if c == nil || c.ec == nil {
		return ErrInvalidContext
	}
	return nil
}

// NCtx is the number of positions the memory can hold.
func (c *Context) NCtx() uint32 { return c.ec.NCtx() }

// NBatch is the largest batch a single Decode accepts.
func (c *Context) NBatch() uint32 { return c.ec.NBatch() }

func (c *Context) NUBatch() uint32 { return c.ec.NUBatch() }
func (c *Context) NSeqMax() uint32 { return c.ec.NSeqMax() }

// Logits returns the output row for batch index i; negative i counts back
// from the last output.
func (c *Context) Logits(i int32) ([]float32, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	l := c.ec.Logits(i)
	if l == nil {
		return nil, fmt.Errorf("%w: no logits for output %d", ErrInvalidArgument, i)
	}
	return l, nil
}

// Embeddings returns the embedding row for batch index i. The context must
// have been created with Embeddings set.
func (c *Context) Embeddings(i int32) ([]float32, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	e := c.ec.Embeddings(i)
	if e == nil {
		return nil, fmt.Errorf("%w: no embeddings for output %d", ErrInvalidArgument, i)
	}
	return e, nil
}

// CachedTokens returns a copy of the tokens tracked for sequence 0.
func (c *Context) CachedTokens() []Token {
	return append([]Token(nil), c.tokens...)
}

// Close frees the engine context. Further calls fail with ErrInvalidContext.
func (c *Context) Close() error {
	if c == nil || c.ec == nil {
		return nil
	}
	err := c.ec.Close()
	c.ec = nil
	c.tokens = nil
	return err
}
