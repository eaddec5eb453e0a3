// Package engine declares the primitives the generation control layer consumes
// from an inference engine. Implementations own tensor math, model files and
// accelerator dispatch; callers in internal/llm only see these interfaces.
//
// Size-reporting calls follow one convention: a non-negative return is the
// number of elements written, a negative return encodes the required buffer
// size as -(required). math.MinInt32 means the engine could not express the
// size at all.
package engine

// Token is a vocabulary index.
type Token = int32

// Pos is a position within a sequence.
type Pos = int32

// SeqID addresses a sequence in the context memory. -1 means all sequences
// where an operation accepts it.
type SeqID = int32

// Decode/Encode return codes.
const (
	DecodeOK     int32 = 0
	DecodeNoSlot int32 = 1
)

// ModelParams are the load-time options translated by the model cache.
type ModelParams struct {
	NGPULayers int32
	MainGPU    int32
	UseMMap    bool
	UseMLock   bool
}

// ContextParams configure a new context.
type ContextParams struct {
	NCtx          uint32
	NBatch        uint32
	NUBatch       uint32
	NSeqMax       uint32
	NThreads      int32
	NThreadsBatch int32
	RopeFreqBase  float32
	RopeFreqScale float32
	TypeK         int32
	TypeV         int32
	Embeddings    bool
	OffloadKQV    bool
	FlashAttn     bool
	NoPerf        bool
}

// Batch is a read-only view over the staged entries of one forward pass.
// All slices have the same length.
type Batch struct {
	Tokens []Token
	Pos    []Pos
	SeqIDs [][]SeqID
	Output []bool
}

// Len returns the number of staged entries.
func (b Batch) Len() int { return len(b.Tokens) }

// Backend loads models.
type Backend interface {
	LoadModel(path string, params ModelParams) (Model, error)
}

// Model is an immutable handle to loaded weights and vocabulary. It must be
// safe for concurrent use once constructed.
type Model interface {
	Tokenize(text string, dst []Token, addSpecial, parseSpecial bool) int32
	TokenToPiece(tok Token, dst []byte, special bool) int32
	IsEOG(tok Token) bool
	BOS() Token
	EOS() Token

	NVocab() int32
	NEmbd() int32
	NLayer() int32
	NCtxTrain() int32
	Desc() string
	Meta(key string) (string, bool)

	NewContext(params ContextParams) (Context, error)
	Close() error
}

// Context is the mutable state bound to one Model. Implementations are not
// required to be safe for concurrent use.
type Context interface {
	Decode(b Batch) int32
	Encode(b Batch) int32
	Logits(i int32) []float32
	Embeddings(i int32) []float32

	NCtx() uint32
	NBatch() uint32
	NUBatch() uint32
	NSeqMax() uint32

	MemoryClear(data bool)
	MemorySeqRm(seq SeqID, p0, p1 Pos) bool
	MemorySeqCp(src, dst SeqID, p0, p1 Pos)
	MemorySeqKeep(seq SeqID)
	MemorySeqAdd(seq SeqID, p0, p1, delta Pos)
	MemorySeqDiv(seq SeqID, p0, p1 Pos, d int32)
	MemorySeqPosMin(seq SeqID) Pos
	MemorySeqPosMax(seq SeqID) Pos
	MemoryCanShift() bool

	StateSize() int
	StateGet(dst []byte) int
	StateSet(src []byte) int
	StateSeqSize(seq SeqID) int
	StateSeqGet(dst []byte, seq SeqID) int
	StateSeqSet(src []byte, seq SeqID) int

	Close() error
}
