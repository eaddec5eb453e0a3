package ngram

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"inferd/internal/engine"
)

// State blob layout, little endian:
//
//	magic "NGKV" | version u32 | kind u8 | n_vocab u32 | n_cells u32 | cells
//	[kind full: n_out u32 | n_out rows of n_vocab f32]
//	xxhash64 of everything above
//
// Full cells carry (pos i32, tok i32, seqs u64); sequence cells carry
// (pos i32, tok i32).
const (
	stateMagic   = "NGKV"
	stateVersion = 1

	kindFull uint8 = 0
	kindSeq  uint8 = 1

	headerSize   = 4 + 4 + 1 + 4 + 4
	fullCellSize = 4 + 4 + 8
	seqCellSize  = 4 + 4
	trailerSize  = 8
)

func (c *Context) countCells(seq engine.SeqID) int {
	n := 0
	for _, cl := range c.cells {
		if cl.pos >= 0 && cl.has(seq) {
			n++
		}
	}
	return n
}

// StateSize is the exact size of the full-context blob.
func (c *Context) StateSize() int {
	return headerSize + c.used*fullCellSize + 4 + len(c.outputs)*int(c.m.NVocab())*4 + trailerSize
}

// StateSeqSize is the exact size of the blob for one sequence.
func (c *Context) StateSeqSize(seq engine.SeqID) int {
	return headerSize + c.countCells(seq)*seqCellSize + trailerSize
}

func appendHeader(b []byte, kind uint8, nVocab int32, nCells int) []byte {
	b = append(b, stateMagic...)
	b = binary.LittleEndian.AppendUint32(b, stateVersion)
	b = append(b, kind)
	b = binary.LittleEndian.AppendUint32(b, uint32(nVocab))
	return binary.LittleEndian.AppendUint32(b, uint32(nCells))
}

func seal(b []byte) []byte {
	return binary.LittleEndian.AppendUint64(b, xxhash.Sum64(b))
}

// StateGet serializes the whole context into dst. Returns 0 if dst is too
// small.
func (c *Context) StateGet(dst []byte) int {
	size := c.StateSize()
	if len(dst) < size {
		return 0
	}
	b := appendHeader(dst[:0], kindFull, c.m.NVocab(), c.used)
	for _, cl := range c.cells {
		if cl.pos < 0 {
			continue
		}
		b = binary.LittleEndian.AppendUint32(b, uint32(cl.pos))
		b = binary.LittleEndian.AppendUint32(b, uint32(cl.tok))
		b = binary.LittleEndian.AppendUint64(b, cl.seqs)
	}
	b = binary.LittleEndian.AppendUint32(b, uint32(len(c.outputs)))
	for _, row := range c.outputs {
		for _, v := range row {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
		}
	}
	return len(seal(b))
}

// StateSeqGet serializes one sequence into dst. Returns 0 if dst is too
// small.
func (c *Context) StateSeqGet(dst []byte, seq engine.SeqID) int {
	size := c.StateSeqSize(seq)
	if len(dst) < size || seq < 0 {
		return 0
	}
	b := appendHeader(dst[:0], kindSeq, c.m.NVocab(), c.countCells(seq))
	for _, cl := range c.cells {
		if cl.pos < 0 || !cl.has(seq) {
			continue
		}
		b = binary.LittleEndian.AppendUint32(b, uint32(cl.pos))
		b = binary.LittleEndian.AppendUint32(b, uint32(cl.tok))
	}
	return len(seal(b))
}

// blobReader walks a verified blob.
type blobReader struct {
	b   []byte
	off int
}

func (r *blobReader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *blobReader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

// open checks framing and checksum and returns a reader positioned after the
// header together with the cell count.
func (c *Context) open(src []byte, kind uint8) (*blobReader, int, bool) {
	if len(src) < headerSize+trailerSize || string(src[:4]) != stateMagic {
		return nil, 0, false
	}
	r := &blobReader{b: src, off: 4}
	if r.u32() != stateVersion {
		return nil, 0, false
	}
	if src[r.off] != kind {
		return nil, 0, false
	}
	r.off++
	if int32(r.u32()) != c.m.NVocab() {
		return nil, 0, false
	}
	n := int(r.u32())
	cellSize := fullCellSize
	if kind == kindSeq {
		cellSize = seqCellSize
	}
	body := headerSize + n*cellSize
	if kind == kindFull {
		if len(src) < body+4+trailerSize {
			return nil, 0, false
		}
		nOut := int(binary.LittleEndian.Uint32(src[body:]))
		body += 4 + nOut*int(c.m.NVocab())*4
	}
	if n < 0 || len(src) < body+trailerSize {
		return nil, 0, false
	}
	if xxhash.Sum64(src[:body]) != binary.LittleEndian.Uint64(src[body:]) {
		return nil, 0, false
	}
	return r, n, true
}

// StateSet replaces the whole context from src. Returns bytes consumed or 0.
func (c *Context) StateSet(src []byte) int {
	r, n, ok := c.open(src, kindFull)
	if !ok || n > len(c.cells) {
		return 0
	}
	c.MemoryClear(false)
	for i := 0; i < n; i++ {
		pos := engine.Pos(r.u32())
		tok := engine.Token(r.u32())
		c.cells[i] = cell{pos: pos, tok: tok, seqs: r.u64()}
	}
	c.used = n
	nOut := int(r.u32())
	for j := 0; j < nOut; j++ {
		row := make([]float32, c.m.NVocab())
		for v := range row {
			row[v] = math.Float32frombits(r.u32())
		}
		c.outputs = append(c.outputs, row)
	}
	return r.off + trailerSize
}

// StateSeqSet replaces seq with the cells in src. Returns bytes consumed or
// 0, leaving memory untouched on failure.
func (c *Context) StateSeqSet(src []byte, seq engine.SeqID) int {
	if seq < 0 || uint32(seq) >= c.params.NSeqMax {
		return 0
	}
	r, n, ok := c.open(src, kindSeq)
	if !ok {
		return 0
	}
	reclaim := 0
	for _, cl := range c.cells {
		if cl.pos >= 0 && cl.seqs == 1<<uint(seq) {
			reclaim++
		}
	}
	if n > len(c.cells)-c.used+reclaim {
		return 0
	}
	c.MemorySeqRm(seq, -1, -1)
	next := 0
	for i := 0; i < n; i++ {
		for c.cells[next].pos >= 0 {
			next++
		}
		pos := engine.Pos(r.u32())
		c.cells[next] = cell{pos: pos, tok: engine.Token(r.u32()), seqs: 1 << uint(seq)}
		c.used++
	}
	return r.off + trailerSize
}
