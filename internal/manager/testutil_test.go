package manager

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"inferd/pkg/types"
)

// createModelFile creates a file of approximately sizeMB megabytes and returns its path.
func createModelFile(t *testing.T, dir, name string, sizeMB int) string {
	t.Helper()
	if sizeMB <= 0 {
		sizeMB = 1
	}
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	defer f.Close()
	block := make([]byte, 1024*1024)
	for i := 0; i < sizeMB; i++ {
		if _, err := f.Write(block); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	return p
}

const tinyNgram = "name: tiny\ncontext_length: 256\nvocab: [\"hello\", \" world\"]\ncorpus: hello world hello world\n"

// writeNgramModel writes a loadable ngram model file and returns its path.
func writeNgramModel(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(tinyNgram), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return p
}

// fakeAdapter is a lightweight in-memory adapter used for tests.
type fakeAdapter struct {
	mu       sync.Mutex
	loadErr  error
	genErr   error
	tokens   []string
	final    FinalResult
	loads    int
	closed   int
	params   InferParams
	gate     chan struct{} // when set, Load blocks until it is closed
	genBlock chan struct{} // when set, Generate blocks until closed or ctx done
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Load(ctx context.Context, mdl types.Model) (InferSession, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return &fakeSession{f: f}, nil
}

func (f *fakeAdapter) counts() (loads, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, f.closed
}

type fakeSession struct{ f *fakeAdapter }

func (s *fakeSession) Generate(ctx context.Context, prompt string, p InferParams, onToken func(string) error) (FinalResult, error) {
	s.f.mu.Lock()
	s.f.params = p
	s.f.mu.Unlock()
	if s.f.genErr != nil {
		return FinalResult{}, s.f.genErr
	}
	if s.f.genBlock != nil {
		select {
		case <-s.f.genBlock:
		case <-ctx.Done():
			return FinalResult{}, ctx.Err()
		}
	}
	for _, t := range s.f.tokens {
		select {
		case <-ctx.Done():
			return FinalResult{}, ctx.Err()
		default:
		}
		if err := onToken(t); err != nil {
			return FinalResult{}, err
		}
	}
	return s.f.final, nil
}

func (s *fakeSession) Close() error {
	s.f.mu.Lock()
	s.f.closed++
	s.f.mu.Unlock()
	return nil
}

// errWriter writes once, then returns an error on subsequent writes.
type errWriter struct{ wrote int }

func (e *errWriter) Write(p []byte) (int, error) {
	if e.wrote == 0 {
		e.wrote += len(p)
		return len(p), nil
	}
	return 0, errors.New("write fail")
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

// newFakeManager builds a manager over a fakeAdapter with registry entries
// for ids (paths need not exist).
func newFakeManager(t *testing.T, fa *fakeAdapter, cfg ManagerConfig, ids ...string) *Manager {
	t.Helper()
	for _, id := range ids {
		cfg.Registry = append(cfg.Registry, types.Model{ID: id, Path: id + ".gguf"})
	}
	cfg.Adapter = fa
	return NewWithConfig(cfg)
}

// readNDJSON splits an NDJSON stream into token lines and the final line.
func readNDJSON(t *testing.T, b []byte) ([]string, types.FinalLine) {
	t.Helper()
	var toks []string
	var final types.FinalLine
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := sc.Bytes()
		var fields map[string]any
		if err := json.Unmarshal(line, &fields); err != nil {
			t.Fatalf("bad line %q: %v", line, err)
		}
		if _, ok := fields["done"]; ok {
			if err := json.Unmarshal(line, &final); err != nil {
				t.Fatalf("final line: %v", err)
			}
			continue
		}
		var tl types.TokenLine
		_ = json.Unmarshal(line, &tl)
		toks = append(toks, tl.Token)
	}
	if !final.Done {
		t.Fatalf("no final line in %q", b)
	}
	return toks, final
}

func ptr[T any](v T) *T { return &v }

func writeFile(path, body string) error { return os.WriteFile(path, []byte(body), 0o644) }
