package ngram

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"inferd/internal/engine"
)

const (
	defaultBatch  = 2048
	defaultUBatch = 512
)

// cell is one KV slot. pos < 0 marks a free cell.
type cell struct {
	pos  engine.Pos
	tok  engine.Token
	seqs uint64
}

func (c cell) has(seq engine.SeqID) bool {
	if seq < 0 {
		return c.seqs != 0
	}
	return c.seqs&(1<<uint(seq)) != 0
}

// Context holds the KV cell table and the output rows of the last forward
// pass. Not safe for concurrent use.
type Context struct {
	m      *Model
	params engine.ContextParams

	cells []cell
	used  int

	outputs [][]float32
	embd    [][]float32
	outIdx  map[int32]int
	closed  bool
}

// NewContext allocates a context with n_ctx cells.
func (m *Model) NewContext(p engine.ContextParams) (engine.Context, error) {
	if p.NCtx == 0 {
		p.NCtx = uint32(m.file.ContextLength)
	}
	if p.NBatch == 0 {
		p.NBatch = defaultBatch
	}
	if p.NBatch > p.NCtx {
		p.NBatch = p.NCtx
	}
	if p.NUBatch == 0 || p.NUBatch > p.NBatch {
		p.NUBatch = min(uint32(defaultUBatch), p.NBatch)
	}
	if p.NSeqMax == 0 {
		p.NSeqMax = 1
	}
	if p.NSeqMax > maxSeq {
		return nil, fmt.Errorf("ngram: n_seq_max %d exceeds %d", p.NSeqMax, maxSeq)
	}
	c := &Context{
		m:      m,
		params: p,
		cells:  make([]cell, p.NCtx),
		outIdx: make(map[int32]int),
	}
	for i := range c.cells {
		c.cells[i].pos = -1
	}
	return c, nil
}

func (c *Context) NCtx() uint32    { return c.params.NCtx }
func (c *Context) NBatch() uint32  { return c.params.NBatch }
func (c *Context) NUBatch() uint32 { return c.params.NUBatch }
func (c *Context) NSeqMax() uint32 { return c.params.NSeqMax }

func (c *Context) validate(b engine.Batch) error {
	n := b.Len()
	if n == 0 {
		return errors.New("empty batch")
	}
	if uint32(n) > c.params.NBatch {
		return fmt.Errorf("batch of %d exceeds n_batch %d", n, c.params.NBatch)
	}
	if len(b.Pos) != n || len(b.SeqIDs) != n || len(b.Output) != n {
		return errors.New("ragged batch")
	}
	for i := 0; i < n; i++ {
		if b.Tokens[i] < 0 || b.Tokens[i] >= c.m.NVocab() {
			return fmt.Errorf("token %d out of vocab", b.Tokens[i])
		}
		if b.Pos[i] < 0 {
			return fmt.Errorf("negative position at %d", i)
		}
		if len(b.SeqIDs[i]) == 0 {
			return fmt.Errorf("entry %d has no sequence", i)
		}
		for _, s := range b.SeqIDs[i] {
			if s < 0 || uint32(s) >= c.params.NSeqMax {
				return fmt.Errorf("seq id %d out of range", s)
			}
		}
	}
	return nil
}

// Decode places the batch in free cells and computes outputs for flagged
// entries. Returns 1 when the cell table cannot hold the batch.
func (c *Context) Decode(b engine.Batch) int32 {
	if c.closed || c.validate(b) != nil {
		return -1
	}
	if b.Len() > len(c.cells)-c.used {
		return engine.DecodeNoSlot
	}
	c.resetOutputs()
	next := 0
	for i := 0; i < b.Len(); i++ {
		for c.cells[next].pos >= 0 {
			next++
		}
		var mask uint64
		for _, s := range b.SeqIDs[i] {
			mask |= 1 << uint(s)
		}
		c.cells[next] = cell{pos: b.Pos[i], tok: b.Tokens[i], seqs: mask}
		c.used++
		if b.Output[i] {
			c.emit(int32(i), b.Tokens[i], b.Pos[i])
		}
	}
	return engine.DecodeOK
}

// Encode computes outputs without touching memory.
func (c *Context) Encode(b engine.Batch) int32 {
	if c.closed || c.validate(b) != nil {
		return -1
	}
	c.resetOutputs()
	for i := 0; i < b.Len(); i++ {
		if b.Output[i] {
			c.emit(int32(i), b.Tokens[i], b.Pos[i])
		}
	}
	return engine.DecodeOK
}

func (c *Context) resetOutputs() {
	c.outputs = c.outputs[:0]
	c.embd = c.embd[:0]
	clear(c.outIdx)
}

func (c *Context) emit(i int32, tok engine.Token, pos engine.Pos) {
	c.outIdx[i] = len(c.outputs)
	c.outputs = append(c.outputs, c.m.logitsAfter(tok))
	if c.params.Embeddings {
		c.embd = append(c.embd, embedding(tok, pos, c.m.NEmbd()))
	}
}

// embedding derives a deterministic unit-range vector from (tok, pos).
func embedding(tok engine.Token, pos engine.Pos, n int32) []float32 {
	out := make([]float32, n)
	var key [12]byte
	binary.LittleEndian.PutUint32(key[0:], uint32(tok))
	binary.LittleEndian.PutUint32(key[4:], uint32(pos))
	for d := range out {
		binary.LittleEndian.PutUint32(key[8:], uint32(d))
		h := xxhash.Sum64(key[:])
		out[d] = float32(h%2001)/1000 - 1
	}
	return out
}

func (c *Context) row(rows [][]float32, i int32) []float32 {
	j := -1
	if i < 0 {
		j = len(rows) + int(i)
	} else if k, ok := c.outIdx[i]; ok {
		j = k
	}
	if j < 0 || j >= len(rows) {
		return nil
	}
	return rows[j]
}

// Logits returns the output row for batch index i, or counting back from the
// last output when i is negative.
func (c *Context) Logits(i int32) []float32 { return c.row(c.outputs, i) }

// Embeddings is Logits for embedding rows; nil unless the context was created
// with Embeddings set.
func (c *Context) Embeddings(i int32) []float32 { return c.row(c.embd, i) }

func inRange(p, p0, p1 engine.Pos) bool {
	if p0 < 0 {
		p0 = 0
	}
	if p1 < 0 {
		p1 = math.MaxInt32
	}
	return p >= p0 && p < p1
}

func (c *Context) free(i int) {
	c.cells[i] = cell{pos: -1}
	c.used--
}

func (c *Context) MemoryClear(data bool) {
	for i := range c.cells {
		if data {
			c.cells[i] = cell{}
		}
		c.cells[i].pos = -1
		c.cells[i].seqs = 0
	}
	c.used = 0
	c.resetOutputs()
}

// MemorySeqRm removes [p0, p1) from seq. Recurrent layouts only support
// removing a whole sequence.
func (c *Context) MemorySeqRm(seq engine.SeqID, p0, p1 engine.Pos) bool {
	if c.m.file.Recurrent && (p0 > 0 || p1 >= 0) {
		return false
	}
	for i, cl := range c.cells {
		if cl.pos < 0 || !cl.has(seq) || !inRange(cl.pos, p0, p1) {
			continue
		}
		if seq < 0 {
			c.free(i)
			continue
		}
		c.cells[i].seqs &^= 1 << uint(seq)
		if c.cells[i].seqs == 0 {
			c.free(i)
		}
	}
	return true
}

func (c *Context) MemorySeqCp(src, dst engine.SeqID, p0, p1 engine.Pos) {
	if src == dst || src < 0 || dst < 0 || uint32(dst) >= c.params.NSeqMax {
		return
	}
	for i, cl := range c.cells {
		if cl.pos >= 0 && cl.has(src) && inRange(cl.pos, p0, p1) {
			c.cells[i].seqs |= 1 << uint(dst)
		}
	}
}

// MemorySeqKeep drops every cell not in seq. A negative seq keeps all.
func (c *Context) MemorySeqKeep(seq engine.SeqID) {
	if seq < 0 {
		return
	}
	for i, cl := range c.cells {
		if cl.pos < 0 {
			continue
		}
		if !cl.has(seq) {
			c.free(i)
			continue
		}
		c.cells[i].seqs = 1 << uint(seq)
	}
}

// MemorySeqAdd shifts positions by delta. Cells pushed below zero are
// dropped. No-op on layouts that cannot shift.
func (c *Context) MemorySeqAdd(seq engine.SeqID, p0, p1, delta engine.Pos) {
	if delta == 0 || !c.MemoryCanShift() {
		return
	}
	for i, cl := range c.cells {
		if cl.pos < 0 || !cl.has(seq) || !inRange(cl.pos, p0, p1) {
			continue
		}
		c.cells[i].pos += delta
		if c.cells[i].pos < 0 {
			c.free(i)
		}
	}
}

func (c *Context) MemorySeqDiv(seq engine.SeqID, p0, p1 engine.Pos, d int32) {
	if d <= 1 || !c.MemoryCanShift() {
		return
	}
	for i, cl := range c.cells {
		if cl.pos >= 0 && cl.has(seq) && inRange(cl.pos, p0, p1) {
			c.cells[i].pos /= d
		}
	}
}

func (c *Context) MemorySeqPosMin(seq engine.SeqID) engine.Pos {
	res := engine.Pos(-1)
	for _, cl := range c.cells {
		if cl.pos >= 0 && cl.has(seq) && (res < 0 || cl.pos < res) {
			res = cl.pos
		}
	}
	return res
}

func (c *Context) MemorySeqPosMax(seq engine.SeqID) engine.Pos {
	res := engine.Pos(-1)
	for _, cl := range c.cells {
		if cl.pos >= 0 && cl.has(seq) && cl.pos > res {
			res = cl.pos
		}
	}
	return res
}

func (c *Context) MemoryCanShift() bool { return !c.m.file.Recurrent }

// Close drops the cell table.
func (c *Context) Close() error {
	c.closed = true
	c.cells = nil
	c.used = 0
	c.resetOutputs()
	return nil
}
