package llm

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"inferd/internal/engine"
	"inferd/internal/engine/ngram"
)

// Vocabulary of the scripted engine: ids below 256 are single bytes, then
// the special and word tokens below.
const (
	fakeEOG   Token = 256
	fakeBOS   Token = 257
	fakeHello Token = 258
	fakeStop  Token = 259
	fakeEnd   Token = 260
	fakeBig   Token = 261 // renders a 300-byte piece
	fakeBad   Token = 262 // reports an unrepresentable size
	fakeVocab       = 263
)

var fakeWords = map[Token]string{
	fakeHello: "hello",
	fakeStop:  "STOP",
	fakeEnd:   "END",
}

// fakeBackend hands out scripted models and counts loads.
type fakeBackend struct {
	loads int
	err   error
	last  *fakeModel
	setup func(*fakeModel)
}

func (b *fakeBackend) LoadModel(path string, p engine.ModelParams) (engine.Model, error) {
	b.loads++
	if b.err != nil {
		return nil, b.err
	}
	m := &fakeModel{path: path, params: p}
	if b.setup != nil {
		b.setup(m)
	}
	b.last = m
	return m, nil
}

type fakeModel struct {
	path   string
	params engine.ModelParams
	closed bool

	// script is emitted one token per forward pass, then EOG.
	script []Token

	// tokenizeOverride replaces the byte tokenizer when set.
	tokenizeOverride func(text string, dst []Token) int32

	tokenizeCalls int
	ctx           *fakeContext
}

func (m *fakeModel) Tokenize(text string, dst []Token, addSpecial, _ bool) int32 {
	m.tokenizeCalls++
	if m.tokenizeOverride != nil {
		return m.tokenizeOverride(text, dst)
	}
	var toks []Token
	if addSpecial {
		toks = append(toks, fakeBOS)
	}
	for i := 0; i < len(text); i++ {
		toks = append(toks, Token(text[i]))
	}
	if len(toks) > len(dst) {
		return -int32(len(toks))
	}
	return int32(copy(dst, toks))
}

func (m *fakeModel) piece(tok Token) (string, bool) {
	switch {
	case tok >= 0 && tok < 256:
		return string([]byte{byte(tok)}), true
	case tok == fakeEOG || tok == fakeBOS:
		return "", true
	case tok == fakeBig:
		b := make([]byte, 300)
		for i := range b {
			b[i] = 'x'
		}
		return string(b), true
	}
	w, ok := fakeWords[tok]
	return w, ok
}

func (m *fakeModel) TokenToPiece(tok Token, dst []byte, _ bool) int32 {
	if tok == fakeBad {
		return math.MinInt32
	}
	p, ok := m.piece(tok)
	if !ok {
		return math.MinInt32
	}
	if len(p) > len(dst) {
		return -int32(len(p))
	}
	return int32(copy(dst, p))
}

func (m *fakeModel) IsEOG(tok Token) bool       { return tok == fakeEOG }
func (m *fakeModel) BOS() Token                 { return fakeBOS }
func (m *fakeModel) EOS() Token                 { return fakeEOG }
func (m *fakeModel) NVocab() int32              { return fakeVocab }
func (m *fakeModel) NEmbd() int32               { return 4 }
func (m *fakeModel) NLayer() int32              { return 1 }
func (m *fakeModel) NCtxTrain() int32           { return 128 }
func (m *fakeModel) Desc() string               { return "fake" }
func (m *fakeModel) Meta(string) (string, bool) { return "", false }
func (m *fakeModel) Close() error               { m.closed = true; return nil }

func (m *fakeModel) NewContext(p engine.ContextParams) (engine.Context, error) {
	if p.NCtx == 0 {
		p.NCtx = 128
	}
	if p.NBatch == 0 || p.NBatch > p.NCtx {
		p.NBatch = p.NCtx
	}
	c := &fakeContext{m: m, params: p}
	m.ctx = c
	return c, nil
}

// fakeContext emits the model script through its logits and records every
// batch it is given.
type fakeContext struct {
	m      *fakeModel
	params engine.ContextParams

	step    int
	decodes [][]Token
	outputs [][]bool
	clears  int
	rmCalls int

	// failAt makes the n-th Decode call (1-based) return failCode.
	failAt   int
	failCode int32
	// panicAt makes the n-th Decode call panic with panicWith, or with
	// "engine fault" when that is nil.
	panicAt   int
	panicWith func()
	// refuseRm makes partial MemorySeqRm fail.
	refuseRm bool
}

func (c *fakeContext) Decode(b engine.Batch) int32 {
	n := len(c.decodes) + 1
	c.decodes = append(c.decodes, append([]Token(nil), b.Tokens...))
	c.outputs = append(c.outputs, append([]bool(nil), b.Output...))
	if n == c.panicAt {
		if c.panicWith != nil {
			c.panicWith()
		}
		panic("engine fault")
	}
	if n == c.failAt {
		return c.failCode
	}
	if n > 1 {
		c.step++
	}
	return 0
}

func (c *fakeContext) Encode(engine.Batch) int32 { return 0 }

func (c *fakeContext) Logits(int32) []float32 {
	row := make([]float32, fakeVocab)
	next := fakeEOG
	if c.step < len(c.m.script) {
		next = c.m.script[c.step]
	}
	row[next] = 10
	return row
}

func (c *fakeContext) Embeddings(int32) []float32 { return nil }
func (c *fakeContext) NCtx() uint32               { return c.params.NCtx }
func (c *fakeContext) NBatch() uint32             { return c.params.NBatch }
func (c *fakeContext) NUBatch() uint32            { return c.params.NBatch }
func (c *fakeContext) NSeqMax() uint32            { return 1 }
func (c *fakeContext) MemoryClear(bool)           { c.clears++ }
func (c *fakeContext) MemorySeqRm(_ engine.SeqID, p0, _ engine.Pos) bool {
	c.rmCalls++
	return !(c.refuseRm && p0 > 0)
}
func (c *fakeContext) MemorySeqCp(_, _ engine.SeqID, _, _ engine.Pos)        {}
func (c *fakeContext) MemorySeqKeep(engine.SeqID)                            {}
func (c *fakeContext) MemorySeqAdd(_ engine.SeqID, _, _, _ engine.Pos)       {}
func (c *fakeContext) MemorySeqDiv(_ engine.SeqID, _, _ engine.Pos, _ int32) {}
func (c *fakeContext) MemorySeqPosMin(engine.SeqID) engine.Pos               { return -1 }
func (c *fakeContext) MemorySeqPosMax(engine.SeqID) engine.Pos               { return -1 }
func (c *fakeContext) MemoryCanShift() bool                                  { return false }
func (c *fakeContext) StateSize() int                                        { return 0 }
func (c *fakeContext) StateGet([]byte) int                                   { return 0 }
func (c *fakeContext) StateSet([]byte) int                                   { return 0 }
func (c *fakeContext) StateSeqSize(engine.SeqID) int                         { return 0 }
func (c *fakeContext) StateSeqGet([]byte, engine.SeqID) int                  { return 0 }
func (c *fakeContext) StateSeqSet([]byte, engine.SeqID) int                  { return 0 }
func (c *fakeContext) Close() error                                          { return nil }

// newFakeSession loads a scripted model and opens a context on it.
func newFakeSession(t *testing.T, script []Token, p ContextParams) (*Context, *fakeModel) {
	t.Helper()
	fb := &fakeBackend{setup: func(m *fakeModel) { m.script = script }}
	cache := NewCache(fb)
	m, err := cache.Load("fake.bin", DefaultModelParams())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	c, err := NewContext(m, p)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, fb.last
}

func greedyOptions(maxTokens int32) CompletionOptions {
	return CompletionOptions{SamplerParams: GreedySamplerParams(), MaxTokens: maxTokens}
}

// writeNgramModel writes an ngram model file and returns its path.
func writeNgramModel(t *testing.T, doc string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tiny.ngram")
	if err := os.WriteFile(p, []byte(doc), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return p
}

const tinyNgram = "name: tiny\ncontext_length: 256\nvocab: [\"hello\", \" world\"]\ncorpus: hello world hello world\n"

// newNgramSession opens a context on a real ngram model.
func newNgramSession(t *testing.T, doc string, p ContextParams) *Context {
	t.Helper()
	cache := NewCache(ngram.Backend{})
	m, err := cache.Load(writeNgramModel(t, doc), DefaultModelParams())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	c, err := NewContext(m, p)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}
