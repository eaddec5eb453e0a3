package manager

import (
	"bytes"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"inferd/internal/llm"
	"inferd/pkg/types"
)

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestEngineEmbedLeavesGenerationMemory(t *testing.T) {
	m := newEngineManager(t, ManagerConfig{PrefixCache: true})
	var buf bytes.Buffer
	if err := m.Infer(testCtx(t), greedyRequest("hello", 4), &buf, nil); err != nil {
		t.Fatalf("infer: %v", err)
	}
	cached := m.Status().Instances[0].CachedTokens
	if cached == 0 {
		t.Fatalf("no cached tokens after infer")
	}

	res, err := m.Embed(testCtx(t), types.EmbedRequest{Model: "tiny", Input: []string{"hello", "hello world", "hello"}})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if res.Model != "tiny" || len(res.Embeddings) != 3 || res.Dimension == 0 || res.InputTokens != 7 {
		t.Fatalf("response: model=%s n=%d dim=%d tokens=%d", res.Model, len(res.Embeddings), res.Dimension, res.InputTokens)
	}
	for i, v := range res.Embeddings {
		if len(v) != res.Dimension || math.Abs(norm(v)-1) > 1e-5 {
			t.Fatalf("vector %d len=%d norm=%f", i, len(v), norm(v))
		}
	}
	if diff := cmp.Diff(res.Embeddings[0], res.Embeddings[2]); diff != "" {
		t.Fatalf("repeated input differs (-first +third):\n%s", diff)
	}
	if got := m.Status().Instances[0].CachedTokens; got != cached {
		t.Fatalf("embedding changed generation memory: %d -> %d", cached, got)
	}
}

func TestEngineEmbedWithoutNormalize(t *testing.T) {
	m := newEngineManager(t, ManagerConfig{})
	raw, err := m.Embed(testCtx(t), types.EmbedRequest{Model: "twin", Input: []string{"hello world"}, Normalize: ptr(false)})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	unit, err := m.Embed(testCtx(t), types.EmbedRequest{Model: "twin", Input: []string{"hello world"}})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	n := norm(raw.Embeddings[0])
	if n == 0 || math.Abs(n-1) < 1e-6 {
		t.Fatalf("raw norm=%f", n)
	}
	for d := range raw.Embeddings[0] {
		if want := float64(raw.Embeddings[0][d]) / n; math.Abs(want-float64(unit.Embeddings[0][d])) > 1e-5 {
			t.Fatalf("dim %d: raw/norm=%f unit=%f", d, want, unit.Embeddings[0][d])
		}
	}
}

func TestEmbedRejectsBadRequests(t *testing.T) {
	m := newEngineManager(t, ManagerConfig{DefaultModel: "tiny"})
	if _, err := m.Embed(testCtx(t), types.EmbedRequest{}); !llm.IsInvalidArgument(err) {
		t.Fatalf("empty input: %v", err)
	}
	if _, err := m.Embed(testCtx(t), types.EmbedRequest{Model: "nope", Input: []string{"x"}}); !IsModelNotFound(err) {
		t.Fatalf("unknown model: %v", err)
	}

	f := newFakeManager(t, &fakeAdapter{}, ManagerConfig{}, "m")
	if _, err := f.Embed(testCtx(t), types.EmbedRequest{Model: "m", Input: []string{"x"}}); !llm.IsUnsupported(err) {
		t.Fatalf("fake runtime: %v", err)
	}
}
