package ngram

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"inferd/internal/engine"
)

func newTestModel(t *testing.T, mf ModelFile) *Model {
	t.Helper()
	m, err := New(mf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return m
}

func newTestContext(t *testing.T, m *Model, p engine.ContextParams) *Context {
	t.Helper()
	c, err := m.NewContext(p)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c.(*Context)
}

func batchOf(tokens []engine.Token, start engine.Pos, seq engine.SeqID) engine.Batch {
	b := engine.Batch{}
	for i, tok := range tokens {
		b.Tokens = append(b.Tokens, tok)
		b.Pos = append(b.Pos, start+engine.Pos(i))
		b.SeqIDs = append(b.SeqIDs, []engine.SeqID{seq})
		b.Output = append(b.Output, i == len(tokens)-1)
	}
	return b
}

func TestLoadModelFromYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tiny.ngram")
	doc := "name: tiny\ncontext_length: 64\nvocab: [\"hello\", \" world\"]\ncorpus: hello world\nmetadata:\n  general.license: mit\n"
	if err := os.WriteFile(p, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	em, err := Backend{}.LoadModel(p, engine.ModelParams{NGPULayers: -1})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if em.NCtxTrain() != 64 {
		t.Fatalf("n_ctx_train=%d", em.NCtxTrain())
	}
	if em.NVocab() != 2+256+2 {
		t.Fatalf("n_vocab=%d", em.NVocab())
	}
	if v, ok := em.Meta("general.license"); !ok || v != "mit" {
		t.Fatalf("meta license=%q ok=%v", v, ok)
	}
	if _, err := (Backend{}).LoadModel(filepath.Join(t.TempDir(), "missing"), engine.ModelParams{}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestTokenizeReportsRequiredSize(t *testing.T) {
	m := newTestModel(t, ModelFile{Vocab: []string{"ab"}})
	n := m.Tokenize("abab!", make([]engine.Token, 2), true, false)
	if n != -4 {
		t.Fatalf("expected -4 got %d", n)
	}
	dst := make([]engine.Token, 4)
	if n := m.Tokenize("abab!", dst, true, false); n != 4 {
		t.Fatalf("expected 4 got %d", n)
	}
	if dst[0] != tokBOS || dst[1] != dst[2] || dst[3] != byteBase+'!' {
		t.Fatalf("unexpected tokens %v", dst)
	}
}

func TestTokenizeParseSpecial(t *testing.T) {
	m := newTestModel(t, ModelFile{})
	dst := make([]engine.Token, 8)
	n := m.Tokenize("a</s>", dst, false, true)
	if n != 2 || dst[1] != tokEOS {
		t.Fatalf("n=%d tokens=%v", n, dst[:n])
	}
	n = m.Tokenize("a</s>", dst, false, false)
	if n != 5 {
		t.Fatalf("literal special should be bytes, n=%d", n)
	}
}

func TestTokenToPiece(t *testing.T) {
	m := newTestModel(t, ModelFile{Vocab: []string{"hello"}})
	tok := m.lookup["hello"]
	if n := m.TokenToPiece(tok, make([]byte, 2), false); n != -5 {
		t.Fatalf("expected -5 got %d", n)
	}
	buf := make([]byte, 8)
	n := m.TokenToPiece(tok, buf, false)
	if string(buf[:n]) != "hello" {
		t.Fatalf("piece=%q", buf[:n])
	}
	if n := m.TokenToPiece(tokEOS, buf, false); n != 0 {
		t.Fatalf("special should render empty, got %d", n)
	}
	if n := m.TokenToPiece(tokEOS, buf, true); string(buf[:n]) != pieceEOS {
		t.Fatalf("special piece=%q", buf[:n])
	}
	if n := m.TokenToPiece(m.NVocab(), buf, false); n != math.MinInt32 {
		t.Fatalf("invalid token should be unrepresentable, got %d", n)
	}
}

func TestDecodeGreedyFollowsCorpus(t *testing.T) {
	m := newTestModel(t, ModelFile{Vocab: []string{"ab", "cd"}, Corpus: "abcd"})
	c := newTestContext(t, m, engine.ContextParams{NCtx: 16})
	ab := m.lookup["ab"]
	if rc := c.Decode(batchOf([]engine.Token{tokBOS, ab}, 0, 0)); rc != 0 {
		t.Fatalf("decode rc=%d", rc)
	}
	logits := c.Logits(-1)
	if logits == nil {
		t.Fatalf("no logits")
	}
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	if engine.Token(best) != m.lookup["cd"] {
		t.Fatalf("expected cd after ab, got %q", m.pieces[best])
	}
	if c.Logits(0) != nil {
		t.Fatalf("entry 0 was not flagged for output")
	}
}

func TestDecodeNoSlot(t *testing.T) {
	m := newTestModel(t, ModelFile{})
	c := newTestContext(t, m, engine.ContextParams{NCtx: 4})
	if rc := c.Decode(batchOf([]engine.Token{2, 3, 4}, 0, 0)); rc != 0 {
		t.Fatalf("decode rc=%d", rc)
	}
	if rc := c.Decode(batchOf([]engine.Token{5, 6}, 3, 0)); rc != engine.DecodeNoSlot {
		t.Fatalf("expected no-slot, got %d", rc)
	}
	if rc := c.Decode(batchOf([]engine.Token{m.NVocab()}, 3, 0)); rc >= 0 {
		t.Fatalf("expected hard error for invalid token, got %d", rc)
	}
}

func TestMemoryOps(t *testing.T) {
	m := newTestModel(t, ModelFile{})
	c := newTestContext(t, m, engine.ContextParams{NCtx: 32, NSeqMax: 2})
	c.Decode(batchOf([]engine.Token{2, 3, 4, 5}, 0, 0))
	if c.MemorySeqPosMin(1) != -1 || c.MemorySeqPosMax(1) != -1 {
		t.Fatalf("empty sequence should report -1 bounds")
	}
	c.MemorySeqCp(0, 1, 0, 2)
	if c.MemorySeqPosMax(1) != 1 {
		t.Fatalf("copy max=%d", c.MemorySeqPosMax(1))
	}
	if !c.MemorySeqRm(0, 2, -1) {
		t.Fatalf("rm failed")
	}
	if c.MemorySeqPosMax(0) != 1 {
		t.Fatalf("after rm max=%d", c.MemorySeqPosMax(0))
	}
	c.MemorySeqAdd(0, 0, -1, 10)
	if c.MemorySeqPosMin(0) != 10 || c.MemorySeqPosMin(1) != 10 {
		t.Fatalf("shared cells should shift: %d %d", c.MemorySeqPosMin(0), c.MemorySeqPosMin(1))
	}
	c.MemorySeqDiv(0, 0, -1, 2)
	if c.MemorySeqPosMax(0) != 5 {
		t.Fatalf("div max=%d", c.MemorySeqPosMax(0))
	}
	c.MemorySeqKeep(1)
	if c.MemorySeqPosMax(0) != -1 {
		t.Fatalf("keep should drop seq 0 membership")
	}
	c.MemoryClear(true)
	if c.used != 0 || c.MemorySeqPosMax(-1) != -1 {
		t.Fatalf("clear left cells")
	}
}

func TestKeepAllSequencesLeavesCellsUsable(t *testing.T) {
	m := newTestModel(t, ModelFile{})
	c := newTestContext(t, m, engine.ContextParams{NCtx: 8})
	c.Decode(batchOf([]engine.Token{2, 3, 4, 5, 6}, 0, 0))
	c.MemorySeqKeep(-1)
	if c.MemorySeqPosMax(0) != 4 || c.used != 5 {
		t.Fatalf("keep(-1) max=%d used=%d", c.MemorySeqPosMax(0), c.used)
	}
	if !c.MemorySeqRm(-1, -1, -1) || c.used != 0 {
		t.Fatalf("remove all left used=%d", c.used)
	}
	if rc := c.Decode(batchOf([]engine.Token{2, 3, 4, 5, 6}, 0, 0)); rc != engine.DecodeOK {
		t.Fatalf("decode into emptied memory rc=%d", rc)
	}
}

func TestRecurrentLayoutRefusesPartialRemoval(t *testing.T) {
	m := newTestModel(t, ModelFile{Recurrent: true})
	c := newTestContext(t, m, engine.ContextParams{NCtx: 8})
	c.Decode(batchOf([]engine.Token{2, 3, 4}, 0, 0))
	if c.MemoryCanShift() {
		t.Fatalf("recurrent layout should not shift")
	}
	if c.MemorySeqRm(0, 1, -1) {
		t.Fatalf("partial removal should fail")
	}
	c.MemorySeqAdd(0, 0, -1, 5)
	if c.MemorySeqPosMin(0) != 0 {
		t.Fatalf("shift should be a no-op")
	}
	if !c.MemorySeqRm(0, -1, -1) {
		t.Fatalf("whole-sequence removal should succeed")
	}
}

func TestSeqStateRoundTrip(t *testing.T) {
	m := newTestModel(t, ModelFile{Corpus: "xyz"})
	c := newTestContext(t, m, engine.ContextParams{NCtx: 16, NSeqMax: 2})
	c.Decode(batchOf([]engine.Token{2, 3, 4}, 0, 0))
	blob := make([]byte, c.StateSeqSize(0))
	if n := c.StateSeqGet(blob, 0); n != len(blob) {
		t.Fatalf("get n=%d size=%d", n, len(blob))
	}

	c2 := newTestContext(t, m, engine.ContextParams{NCtx: 16, NSeqMax: 2})
	if n := c2.StateSeqSet(blob, 1); n != len(blob) {
		t.Fatalf("set n=%d", n)
	}
	if c2.MemorySeqPosMax(1) != 2 {
		t.Fatalf("restored max=%d", c2.MemorySeqPosMax(1))
	}
	again := make([]byte, c2.StateSeqSize(1))
	c2.StateSeqGet(again, 1)
	if !bytes.Equal(blob, again) {
		t.Fatalf("round trip mismatch")
	}

	blob[headerSize] ^= 0xff
	if n := c2.StateSeqSet(blob, 0); n != 0 {
		t.Fatalf("corrupted blob accepted")
	}
}

func TestFullStateRoundTrip(t *testing.T) {
	m := newTestModel(t, ModelFile{Corpus: "hello"})
	c := newTestContext(t, m, engine.ContextParams{NCtx: 16})
	c.Decode(batchOf([]engine.Token{2, 3}, 0, 0))
	blob := make([]byte, c.StateSize())
	if n := c.StateGet(blob); n != len(blob) {
		t.Fatalf("get n=%d size=%d", n, len(blob))
	}
	c2 := newTestContext(t, m, engine.ContextParams{NCtx: 16})
	if n := c2.StateSet(blob); n != len(blob) {
		t.Fatalf("set n=%d", n)
	}
	if c2.Logits(-1) == nil {
		t.Fatalf("logits should be restored")
	}
	if n := c2.StateGet(make([]byte, 3)); n != 0 {
		t.Fatalf("short buffer should fail")
	}
}
