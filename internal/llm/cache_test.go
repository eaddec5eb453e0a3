package llm

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"inferd/internal/engine"
)

func TestCacheRefCountAndReload(t *testing.T) {
	fb := &fakeBackend{}
	c := NewCache(fb)
	path := filepath.Join(t.TempDir(), "m.bin")

	a, err := c.Load(path, DefaultModelParams())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if a.RefCount() != 1 {
		t.Fatalf("refs=%d want 1", a.RefCount())
	}
	b, err := c.Load(path, ModelParams{NGPULayers: 3})
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if a != b {
		t.Fatalf("second load returned a different handle")
	}
	if a.RefCount() != 2 || fb.loads != 1 {
		t.Fatalf("refs=%d loads=%d", a.RefCount(), fb.loads)
	}
	// first loader wins
	if a.Params().NGPULayers != -1 {
		t.Fatalf("params replaced by second load: %+v", a.Params())
	}

	first := fb.last
	_ = a.Close()
	_ = b.Close()
	if a.RefCount() != 0 || c.Count() != 0 {
		t.Fatalf("refs=%d count=%d after releases", a.RefCount(), c.Count())
	}
	if !first.closed {
		t.Fatalf("engine model not freed")
	}

	again, err := c.Load(path, DefaultModelParams())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer again.Close()
	if again == a || fb.loads != 2 {
		t.Fatalf("reload reused the released handle (loads=%d)", fb.loads)
	}
}

func TestCacheNormalizesPaths(t *testing.T) {
	c := NewCache(&fakeBackend{})
	dir := t.TempDir()
	a, _ := c.Load(filepath.Join(dir, "x", "..", "m.bin"), DefaultModelParams())
	b, _ := c.Load(filepath.Join(dir, "m.bin"), DefaultModelParams())
	if a != b || c.Count() != 1 {
		t.Fatalf("equivalent paths produced separate entries (count=%d)", c.Count())
	}
	if _, err := c.Load("  ", DefaultModelParams()); !IsInvalidArgument(err) {
		t.Fatalf("empty path: %v", err)
	}
}

func TestCacheLoadFailureLeavesCacheUnchanged(t *testing.T) {
	fb := &fakeBackend{err: errors.New("bad magic")}
	c := NewCache(fb)
	_, err := c.Load("broken.bin", DefaultModelParams())
	if !errors.Is(err, ErrInvalidModel) || !strings.Contains(err.Error(), "bad magic") {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Count() != 0 {
		t.Fatalf("count=%d after failed load", c.Count())
	}
}

func TestCacheTranslatesGPULayers(t *testing.T) {
	fb := &fakeBackend{}
	c := NewCache(fb)
	m, _ := c.Load("a.bin", DefaultModelParams())
	defer m.Close()
	if fb.last.params.NGPULayers != 999 || !fb.last.params.UseMMap {
		t.Fatalf("engine params=%+v", fb.last.params)
	}
}

func TestCacheConcurrentLoadsShareHandle(t *testing.T) {
	fb := &fakeBackend{}
	c := NewCache(fb)
	var wg sync.WaitGroup
	got := make([]*Model, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := c.Load("shared.bin", DefaultModelParams())
			if err != nil {
				t.Errorf("load: %v", err)
				return
			}
			got[i] = m
		}(i)
	}
	wg.Wait()
	for _, m := range got[1:] {
		if m != got[0] {
			t.Fatalf("goroutines observed different handles")
		}
	}
	if fb.loads != 1 || got[0].RefCount() != len(got) {
		t.Fatalf("loads=%d refs=%d", fb.loads, got[0].RefCount())
	}
	c.Clear()
	if c.Count() != 0 || !fb.last.closed {
		t.Fatalf("clear left count=%d", c.Count())
	}
}

func TestTokenizeGrowAndRetry(t *testing.T) {
	c, fm := newFakeSession(t, nil, ContextParams{NCtx: 64})
	want := make([]Token, 40)
	fm.tokenizeOverride = func(_ string, dst []Token) int32 {
		if len(dst) < len(want) {
			return -int32(len(want))
		}
		return int32(copy(dst, want))
	}
	toks, err := c.Model().Tokenize("ab", DefaultTokenizeOptions())
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if len(toks) != len(want) || fm.tokenizeCalls != 2 {
		t.Fatalf("tokens=%d calls=%d", len(toks), fm.tokenizeCalls)
	}

	fm.tokenizeOverride = func(string, []Token) int32 { return math.MinInt32 }
	if _, err := c.Model().Tokenize("ab", DefaultTokenizeOptions()); !IsTokenization(err) {
		t.Fatalf("expected tokenization error, got %v", err)
	}

	fm.tokenizeOverride = func(string, []Token) int32 { return -100 }
	if _, err := c.Model().Tokenize("ab", DefaultTokenizeOptions()); !IsTokenization(err) {
		t.Fatalf("second overflow should fail cleanly, got %v", err)
	}
}

func TestTokenToPieceGrowsPastInitialBuffer(t *testing.T) {
	c, _ := newFakeSession(t, nil, ContextParams{NCtx: 64})
	p, needed, err := c.Model().tokenToPiece(fakeBig, false)
	if err != nil {
		t.Fatalf("piece: %v", err)
	}
	if len(p) != 300 || needed != 300 {
		t.Fatalf("len=%d needed=%d", len(p), needed)
	}
	if _, err := c.Model().TokenToPiece(fakeBad, false); !IsTokenization(err) {
		t.Fatalf("expected tokenization error, got %v", err)
	}
	s, err := c.Model().Detokenize([]Token{fakeHello, ' ', fakeEnd}, false)
	if err != nil || s != "hello END" {
		t.Fatalf("detokenize=%q err=%v", s, err)
	}
}

var _ engine.Backend = (*fakeBackend)(nil)
