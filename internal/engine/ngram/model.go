// Package ngram is a deterministic reference engine: a bigram language model
// trained from the corpus embedded in a YAML model file. It implements the
// full engine contract (tokenizer, forward pass, KV memory, state blobs) in
// pure Go so the control layer can run and be tested without cgo.
package ngram

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"inferd/internal/engine"
)

const (
	tokBOS   engine.Token = 0
	tokEOS   engine.Token = 1
	byteBase engine.Token = 2

	pieceBOS = "<s>"
	pieceEOS = "</s>"

	defaultContextLength   = 2048
	defaultEmbeddingLength = 16
	defaultBlockCount      = 1
	maxSeq                 = 64
)

// ModelFile is the on-disk YAML description of an ngram model.
type ModelFile struct {
	Name            string            `yaml:"name"`
	ContextLength   int32             `yaml:"context_length"`
	EmbeddingLength int32             `yaml:"embedding_length"`
	BlockCount      int32             `yaml:"block_count"`
	Vocab           []string          `yaml:"vocab"`
	Corpus          string            `yaml:"corpus"`
	Recurrent       bool              `yaml:"recurrent"`
	Metadata        map[string]string `yaml:"metadata"`
}

// Backend loads ngram model files from disk.
type Backend struct{}

// LoadModel reads and trains the model at path. GPU and mmap options are
// accepted and ignored.
func (Backend) LoadModel(path string, _ engine.ModelParams) (engine.Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ngram: read model: %w", err)
	}
	var mf ModelFile
	if err := yaml.Unmarshal(b, &mf); err != nil {
		return nil, fmt.Errorf("ngram: parse model %s: %w", path, err)
	}
	return New(mf)
}

// Model is an immutable trained bigram table plus vocabulary.
type Model struct {
	file     ModelFile
	pieces   []string
	lookup   map[string]engine.Token
	maxPiece int

	bigram  map[engine.Token]map[engine.Token]float64
	unigram []float64
	total   float64
	closed  bool
}

// New builds a model from a decoded model file.
func New(mf ModelFile) (*Model, error) {
	if mf.Name == "" {
		mf.Name = "ngram"
	}
	if mf.ContextLength <= 0 {
		mf.ContextLength = defaultContextLength
	}
	if mf.EmbeddingLength <= 0 {
		mf.EmbeddingLength = defaultEmbeddingLength
	}
	if mf.BlockCount <= 0 {
		mf.BlockCount = defaultBlockCount
	}
	m := &Model{
		file:     mf,
		lookup:   make(map[string]engine.Token),
		maxPiece: 1,
		bigram:   make(map[engine.Token]map[engine.Token]float64),
	}
	m.pieces = append(m.pieces, pieceBOS, pieceEOS)
	for b := 0; b < 256; b++ {
		p := string([]byte{byte(b)})
		m.lookup[p] = engine.Token(len(m.pieces))
		m.pieces = append(m.pieces, p)
	}
	for _, p := range mf.Vocab {
		if len(p) < 2 || p == pieceBOS || p == pieceEOS {
			continue
		}
		if _, dup := m.lookup[p]; dup {
			continue
		}
		m.lookup[p] = engine.Token(len(m.pieces))
		m.pieces = append(m.pieces, p)
		if len(p) > m.maxPiece {
			m.maxPiece = len(p)
		}
	}
	m.unigram = make([]float64, len(m.pieces))
	m.train(mf.Corpus)
	return m, nil
}

func (m *Model) train(corpus string) {
	prev := tokBOS
	for _, t := range m.encode(corpus, false, false) {
		m.observe(prev, t)
		prev = t
	}
	m.observe(prev, tokEOS)
}

func (m *Model) observe(prev, next engine.Token) {
	row := m.bigram[prev]
	if row == nil {
		row = make(map[engine.Token]float64)
		m.bigram[prev] = row
	}
	row[next]++
	m.unigram[next]++
	m.total++
}

// encode is greedy longest-match tokenization. Every byte has a token so it
// never fails.
func (m *Model) encode(text string, addSpecial, parseSpecial bool) []engine.Token {
	out := make([]engine.Token, 0, len(text)+1)
	if addSpecial {
		out = append(out, tokBOS)
	}
	for i := 0; i < len(text); {
		if parseSpecial {
			if strings.HasPrefix(text[i:], pieceBOS) {
				out = append(out, tokBOS)
				i += len(pieceBOS)
				continue
			}
			if strings.HasPrefix(text[i:], pieceEOS) {
				out = append(out, tokEOS)
				i += len(pieceEOS)
				continue
			}
		}
		l := m.maxPiece
		if rest := len(text) - i; rest < l {
			l = rest
		}
		for ; l >= 1; l-- {
			if id, ok := m.lookup[text[i:i+l]]; ok {
				out = append(out, id)
				i += l
				break
			}
		}
	}
	return out
}

// Tokenize writes the tokens of text into dst.
func (m *Model) Tokenize(text string, dst []engine.Token, addSpecial, parseSpecial bool) int32 {
	toks := m.encode(text, addSpecial, parseSpecial)
	if len(toks) > math.MaxInt32 {
		return math.MinInt32
	}
	if len(toks) > len(dst) {
		return -int32(len(toks))
	}
	copy(dst, toks)
	return int32(len(toks))
}

// TokenToPiece writes the bytes of tok into dst. Special tokens render empty
// unless special is set.
func (m *Model) TokenToPiece(tok engine.Token, dst []byte, special bool) int32 {
	if tok < 0 || int(tok) >= len(m.pieces) {
		return math.MinInt32
	}
	if (tok == tokBOS || tok == tokEOS) && !special {
		return 0
	}
	p := m.pieces[tok]
	if len(p) > len(dst) {
		return -int32(len(p))
	}
	return int32(copy(dst, p))
}

func (m *Model) IsEOG(tok engine.Token) bool { return tok == tokEOS }
func (m *Model) BOS() engine.Token           { return tokBOS }
func (m *Model) EOS() engine.Token           { return tokEOS }
func (m *Model) NVocab() int32               { return int32(len(m.pieces)) }
func (m *Model) NEmbd() int32                { return m.file.EmbeddingLength }
func (m *Model) NLayer() int32               { return m.file.BlockCount }
func (m *Model) NCtxTrain() int32            { return m.file.ContextLength }

// Desc returns a short human readable description.
func (m *Model) Desc() string {
	kind := "bigram"
	if m.file.Recurrent {
		kind = "bigram-recurrent"
	}
	return fmt.Sprintf("%s %s vocab=%d", m.file.Name, kind, len(m.pieces))
}

// Meta returns a metadata value. general.name and general.architecture are
// always present.
func (m *Model) Meta(key string) (string, bool) {
	switch key {
	case "general.name":
		return m.file.Name, true
	case "general.architecture":
		return "ngram", true
	}
	v, ok := m.file.Metadata[key]
	return v, ok
}

// MetaKeys lists metadata keys in sorted order.
func (m *Model) MetaKeys() []string {
	keys := []string{"general.architecture", "general.name"}
	for k := range m.file.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close marks the model as released.
func (m *Model) Close() error {
	m.closed = true
	return nil
}

// logitsAfter returns next-token logits given the previous token: log bigram
// counts with a small unigram back-off.
func (m *Model) logitsAfter(prev engine.Token) []float32 {
	out := make([]float32, len(m.pieces))
	row := m.bigram[prev]
	total := m.total
	if total < 1 {
		total = 1
	}
	for v := range out {
		val := 0.5*m.unigram[v]/total + 1e-3
		if row != nil {
			val += row[engine.Token(v)]
		}
		out[v] = float32(math.Log(val))
	}
	return out
}
