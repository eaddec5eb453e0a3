package llm

import (
	"fmt"

	"inferd/internal/engine"
)

// Batch stages up to Cap entries for one forward pass. Storage is allocated
// once; Clear resets it for reuse. Appends past capacity fail without
// changing the batch.
type Batch struct {
	capacity int32
	nSeqMax  int32
	n        int32

	tokens []Token
	pos    []engine.Pos
	seqs   [][]engine.SeqID
	output []bool
}

// NewBatch allocates a batch of capacity entries, each belonging to at most
// nSeqMax sequences.
func NewBatch(capacity, nSeqMax int32) (*Batch, error) {
	if capacity <= 0 || nSeqMax <= 0 {
		return nil, fmt.Errorf("%w: batch capacity=%d n_seq_max=%d", ErrInvalidArgument, capacity, nSeqMax)
	}
	b := &Batch{
		capacity: capacity,
		nSeqMax:  nSeqMax,
		tokens:   make([]Token, capacity),
		pos:      make([]engine.Pos, capacity),
		seqs:     make([][]engine.SeqID, capacity),
		output:   make([]bool, capacity),
	}
	backing := make([]engine.SeqID, int(capacity)*int(nSeqMax))
	for i := range b.seqs {
		b.seqs[i] = backing[i*int(nSeqMax) : i*int(nSeqMax) : (i+1)*int(nSeqMax)]
	}
	return b, nil
}

// BatchFromTokens builds a batch holding tokens at consecutive positions from
// posStart in sequence seq.
func BatchFromTokens(tokens []Token, posStart int32, seq int32, outputLast bool) (*Batch, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no tokens", ErrInvalidArgument)
	}
	b, err := NewBatch(int32(len(tokens)), 1)
	if err != nil {
		return nil, err
	}
	b.AddRun(tokens, posStart, seq, outputLast)
	return b, nil
}

func (b *Batch) Len() int32 { return b.n }
func (b *Batch) Cap() int32 { return b.capacity }

// Clear empties the batch, keeping its storage.
func (b *Batch) Clear() {
	for i := int32(0); i < b.n; i++ {
		b.seqs[i] = b.seqs[i][:0]
		b.output[i] = false
	}
	b.n = 0
}

// Add appends one entry in a single sequence.
func (b *Batch) Add(tok Token, pos int32, seq int32, output bool) error {
	if b.n >= b.capacity {
		return ErrBatchFull
	}
	i := b.n
	b.tokens[i] = tok
	b.pos[i] = pos
	b.seqs[i] = append(b.seqs[i][:0], seq)
	b.output[i] = output
	b.n++
	return nil
}

// AddSeqs appends one entry shared by several sequences. Ids beyond
// n_seq_max are dropped silently.
func (b *Batch) AddSeqs(tok Token, pos int32, seqs []int32, output bool) error {
	if len(seqs) == 0 {
		return fmt.Errorf("%w: empty sequence set", ErrInvalidArgument)
	}
	if b.n >= b.capacity {
		return ErrBatchFull
	}
	if int32(len(seqs)) > b.nSeqMax {
		seqs = seqs[:b.nSeqMax]
	}
	i := b.n
	b.tokens[i] = tok
	b.pos[i] = pos
	b.seqs[i] = append(b.seqs[i][:0], seqs...)
	b.output[i] = output
	b.n++
	return nil
}

// AddRun appends as many of tokens as fit, at positions posStart onward, and
// returns how many were added. With outputLast only the final token of the
// full run requests output, so a partial fill flags nothing.
func (b *Batch) AddRun(tokens []Token, posStart int32, seq int32, outputLast bool) int32 {
	var added int32
	for i, tok := range tokens {
		last := outputLast && i == len(tokens)-1
		if b.Add(tok, posStart+int32(i), seq, last) != nil {
			break
		}
		added++
	}
	return added
}

// SetOutput toggles the output flag of entry idx. Out-of-range indices are
// ignored.
func (b *Batch) SetOutput(idx int32, want bool) {
	if idx < 0 || idx >= b.n {
		return
	}
	b.output[idx] = want
}

// Token returns the staged token at idx.
func (b *Batch) Token(idx int32) (Token, bool) {
	if idx < 0 || idx >= b.n {
		return 0, false
	}
	return b.tokens[idx], true
}

func (b *Batch) view() engine.Batch {
	return engine.Batch{
		Tokens: b.tokens[:b.n],
		Pos:    b.pos[:b.n],
		SeqIDs: b.seqs[:b.n],
		Output: b.output[:b.n],
	}
}

// Decode runs a forward pass over the batch. A *DecodeError with Code 1
// (ErrNoKVSlot) means memory is full and the batch may be retried after
// freeing space.
func (b *Batch) Decode(c *Context) error {
	return b.submit(c, "decode", c.ecDecode)
}

// Encode runs the encoder over the batch without touching KV memory.
func (b *Batch) Encode(c *Context) error {
	return b.submit(c, "encode", c.ecEncode)
}

func (b *Batch) submit(c *Context, op string, fn func(engine.Batch) int32) error {
	if err := c.valid(); err != nil {
		return err
	}
	if b.n == 0 {
		return fmt.Errorf("%w: %s of empty batch", ErrInvalidArgument, op)
	}
	if rc := fn(b.view()); rc != engine.DecodeOK {
		return &DecodeError{Op: op, Code: rc}
	}
	return nil
}

func (c *Context) ecDecode(b engine.Batch) int32 { return c.ec.Decode(b) }
func (c *Context) ecEncode(b engine.Batch) int32 { return c.ec.Encode(b) }
