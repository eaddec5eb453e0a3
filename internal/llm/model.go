package llm

import (
	"fmt"
	"math"
	"strings"

	"inferd/internal/engine"
)

// Token is a vocabulary index.
type Token = engine.Token

const (
	// pieceBufSize is the initial detokenize buffer.
	pieceBufSize = 256
	// tokenizePadding is added to the byte length of the text for the first
	// tokenize attempt.
	tokenizePadding = 16
	// allGPULayers is what NGPULayers=-1 translates to.
	allGPULayers = 999
)

// ModelParams control how a model is loaded. Only the first load of a path
// applies them; see Cache.Load.
type ModelParams struct {
	NGPULayers int32 // -1 offloads every layer
	MainGPU    int32
	UseMMap    bool
	UseMLock   bool
}

// DefaultModelParams returns the load defaults.
func DefaultModelParams() ModelParams {
	return ModelParams{NGPULayers: -1, MainGPU: 0, UseMMap: true, UseMLock: false}
}

func (p ModelParams) engine() engine.ModelParams {
	n := p.NGPULayers
	if n < 0 {
		n = allGPULayers
	}
	return engine.ModelParams{NGPULayers: n, MainGPU: p.MainGPU, UseMMap: p.UseMMap, UseMLock: p.UseMLock}
}

// ModelInfo describes a loaded model.
type ModelInfo struct {
	Path      string `json:"path"`
	Desc      string `json:"desc"`
	NVocab    int32  `json:"n_vocab"`
	NEmbd     int32  `json:"n_embd"`
	NLayer    int32  `json:"n_layer"`
	NCtxTrain int32  `json:"n_ctx_train"`
}

// Model is a cache-owned handle to loaded weights. Close releases the
// caller's reference.
type Model struct {
	cache  *Cache
	path   string
	params ModelParams
	em     engine.Model
	refs   int // guarded by cache.mu
}

func (m *Model) Path() string { return m.path }

// Params returns the parameters the model was first loaded with.
func (m *Model) Params() ModelParams { return m.params }

// RefCount returns the number of outstanding references.
func (m *Model) RefCount() int {
	m.cache.mu.Lock()
	defer m.cache.mu.Unlock()
	return m.refs
}

// Close releases one reference back to the owning cache.
func (m *Model) Close() error {
	if m == nil || m.cache == nil {
		return ErrInvalidModel
	}
	m.cache.Release(m)
	return nil
}

func (m *Model) NVocab() int32    { return m.em.NVocab() }
func (m *Model) NEmbd() int32     { return m.em.NEmbd() }
func (m *Model) NLayer() int32    { return m.em.NLayer() }
func (m *Model) NCtxTrain() int32 { return m.em.NCtxTrain() }
func (m *Model) IsEOG(t Token) bool {
	return m.em.IsEOG(t)
}

// Meta looks up a metadata value.
func (m *Model) Meta(key string) (string, bool) { return m.em.Meta(key) }

// Info summarizes the model.
func (m *Model) Info() ModelInfo {
	return ModelInfo{
		Path:      m.path,
		Desc:      m.em.Desc(),
		NVocab:    m.em.NVocab(),
		NEmbd:     m.em.NEmbd(),
		NLayer:    m.em.NLayer(),
		NCtxTrain: m.em.NCtxTrain(),
	}
}

// growAndRetry calls fill with a buffer of initial elements. A negative
// result encodes the required size; the buffer is reallocated to exactly that
// size and fill is called once more. It returns the filled prefix, the last
// size computation, and an error when the engine cannot be satisfied.
func growAndRetry[T any](initial int, fill func([]T) int32) ([]T, int64, error) {
	buf := make([]T, initial)
	n := fill(buf)
	if n >= 0 && int(n) <= len(buf) {
		return buf[:n], int64(n), nil
	}
	if n == math.MinInt32 {
		return nil, 0, fmt.Errorf("%w: invalid required size", ErrTokenization)
	}
	needed := int64(n)
	if n < 0 {
		needed = -int64(n)
	}
	if needed <= 0 || needed > math.MaxInt32 {
		return nil, needed, fmt.Errorf("%w: required size %d too large", ErrTokenization, needed)
	}
	buf = make([]T, needed)
	n = fill(buf)
	if n < 0 || int(n) > len(buf) {
		return nil, needed, fmt.Errorf("%w: engine reported %d after resize to %d", ErrTokenization, n, needed)
	}
	return buf[:n], needed, nil
}

// TokenizeOptions control special-token handling.
type TokenizeOptions struct {
	AddSpecial   bool
	ParseSpecial bool
}

// DefaultTokenizeOptions adds BOS and treats special markers as text.
func DefaultTokenizeOptions() TokenizeOptions {
	return TokenizeOptions{AddSpecial: true, ParseSpecial: false}
}

// Tokenize converts text to tokens.
func (m *Model) Tokenize(text string, opts TokenizeOptions) ([]Token, error) {
	toks, _, err := growAndRetry(len(text)+tokenizePadding, func(dst []Token) int32 {
		return m.em.Tokenize(text, dst, opts.AddSpecial, opts.ParseSpecial)
	})
	return toks, err
}

// TokenToPiece renders one token.
func (m *Model) TokenToPiece(t Token, special bool) (string, error) {
	s, _, err := m.tokenToPiece(t, special)
	return s, err
}

// tokenToPiece also reports the size needed when the first buffer
// overflowed, for diagnostics.
func (m *Model) tokenToPiece(t Token, special bool) (string, int64, error) {
	b, needed, err := growAndRetry(pieceBufSize, func(dst []byte) int32 {
		return m.em.TokenToPiece(t, dst, special)
	})
	if err != nil {
		return "", needed, fmt.Errorf("detokenize token %d: %w", t, err)
	}
	if needed <= pieceBufSize {
		needed = 0
	}
	return string(b), needed, nil
}

// Detokenize concatenates the pieces of tokens.
func (m *Model) Detokenize(tokens []Token, special bool) (string, error) {
	var sb strings.Builder
	for _, t := range tokens {
		p, err := m.TokenToPiece(t, special)
		if err != nil {
			return "", err
		}
		sb.WriteString(p)
	}
	return sb.String(), nil
}
