package llm

import "fmt"

// Memory operations address cells by sequence id and a half-open position
// range [p0, p1). A negative p0 means from the start, a negative p1 means to
// the end, and seq -1 means every sequence where the operation allows it.

// MemoryClear empties the KV memory. With data the buffers are zeroed too.
func (c *Context) MemoryClear(data bool) error {
	if err := c.valid(); err != nil {
		return err
	}
	c.ec.MemoryClear(data)
	c.tokens = nil
	return nil
}

// MemorySeqRm removes cells of seq in [p0, p1). It returns false when the
// layout cannot remove a partial range; memory is unchanged in that case.
func (c *Context) MemorySeqRm(seq, p0, p1 int32) bool {
	if c.valid() != nil {
		return false
	}
	if !c.ec.MemorySeqRm(seq, p0, p1) {
		return false
	}
	if seq <= 0 {
		c.trimTracked(p0, p1)
	}
	return true
}

func (c *Context) trimTracked(p0, p1 int32) {
	switch {
	case p0 <= 0 && p1 < 0:
		c.tokens = nil
	case p1 < 0 && int(p0) < len(c.tokens):
		c.tokens = c.tokens[:p0]
	case p1 >= 0 && int(p0) < len(c.tokens):
		// a hole in the middle; the mirror no longer describes memory
		c.tokens = nil
	}
}

// MemorySeqCp makes dst share the cells of src in [p0, p1).
func (c *Context) MemorySeqCp(src, dst, p0, p1 int32) error {
	if err := c.valid(); err != nil {
		return err
	}
	c.ec.MemorySeqCp(src, dst, p0, p1)
	if dst == 0 && src != 0 {
		c.tokens = nil
	}
	return nil
}

// MemorySeqKeep removes every sequence except seq. seq must name one
// sequence; -1 is rejected.
func (c *Context) MemorySeqKeep(seq int32) error {
	if err := c.valid(); err != nil {
		return err
	}
	if seq < 0 {
		return fmt.Errorf("%w: keep needs a sequence id, got %d", ErrInvalidArgument, seq)
	}
	c.ec.MemorySeqKeep(seq)
	if seq != 0 {
		c.tokens = nil
	}
	return nil
}

// MemorySeqAdd adds delta to the positions of seq in [p0, p1). Cells whose
// position would go negative are dropped by the engine.
func (c *Context) MemorySeqAdd(seq, p0, p1, delta int32) error {
	if err := c.valid(); err != nil {
		return err
	}
	if !c.ec.MemoryCanShift() {
		return fmt.Errorf("%w: memory layout cannot shift positions", ErrUnsupported)
	}
	c.ec.MemorySeqAdd(seq, p0, p1, delta)
	if seq <= 0 && delta != 0 {
		c.tokens = nil
	}
	return nil
}

// MemorySeqDiv integer-divides the positions of seq in [p0, p1) by d.
func (c *Context) MemorySeqDiv(seq, p0, p1, d int32) error {
	if err := c.valid(); err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("%w: divisor %d", ErrInvalidArgument, d)
	}
	if !c.ec.MemoryCanShift() {
		return fmt.Errorf("%w: memory layout cannot shift positions", ErrUnsupported)
	}
	c.ec.MemorySeqDiv(seq, p0, p1, d)
	if seq <= 0 && d != 1 {
		c.tokens = nil
	}
	return nil
}

// MemorySeqPosMin returns the smallest position held by seq, or -1 when the
// sequence is empty.
func (c *Context) MemorySeqPosMin(seq int32) int32 {
	if c.valid() != nil {
		return -1
	}
	return c.ec.MemorySeqPosMin(seq)
}

// MemorySeqPosMax returns the largest position held by seq, or -1.
func (c *Context) MemorySeqPosMax(seq int32) int32 {
	if c.valid() != nil {
		return -1
	}
	return c.ec.MemorySeqPosMax(seq)
}

// MemoryCanShift reports whether MemorySeqAdd and MemorySeqDiv are usable.
func (c *Context) MemoryCanShift() bool {
	return c.valid() == nil && c.ec.MemoryCanShift()
}

// ShiftWindow frees room in seq by discarding nDiscard positions after the
// first nKeep and sliding the tail back. It returns the new end position.
func (c *Context) ShiftWindow(seq, nKeep, nDiscard int32) (int32, error) {
	if err := c.valid(); err != nil {
		return 0, err
	}
	if nKeep < 0 || nDiscard <= 0 {
		return 0, fmt.Errorf("%w: keep=%d discard=%d", ErrInvalidArgument, nKeep, nDiscard)
	}
	if !c.ec.MemoryCanShift() {
		return 0, fmt.Errorf("%w: memory layout cannot shift positions", ErrUnsupported)
	}
	end := c.ec.MemorySeqPosMax(seq) + 1
	if nKeep+nDiscard > end {
		return 0, fmt.Errorf("%w: window keep=%d discard=%d exceeds %d positions", ErrInvalidArgument, nKeep, nDiscard, end)
	}
	if !c.ec.MemorySeqRm(seq, nKeep, nKeep+nDiscard) {
		return 0, fmt.Errorf("%w: remove [%d,%d)", ErrUnsupported, nKeep, nKeep+nDiscard)
	}
	c.ec.MemorySeqAdd(seq, nKeep+nDiscard, -1, -nDiscard)

	if seq == 0 && len(c.tokens) == int(end) {
		c.tokens = append(c.tokens[:nKeep], c.tokens[nKeep+nDiscard:]...)
	} else if seq <= 0 {
		c.tokens = nil
	}
	return end - nDiscard, nil
}
