package e2e

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"

	"inferd/internal/httpapi"
	"inferd/internal/llm"
	"inferd/internal/manager"
	"inferd/internal/registry"
	"inferd/pkg/types"
)

const tinyNgram = "name: tiny\ncontext_length: 256\nvocab: [\"hello\", \" world\"]\ncorpus: hello world hello world\n"

// createModelsDir writes one ngram model file per name.
func createModelsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte(tinyNgram), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir
}

// newServer scans modelsDir and serves a manager built from cfg over
// httptest. A zero context size is replaced by a small one.
func newServer(t *testing.T, modelsDir string, cfg manager.ManagerConfig) (*httptest.Server, *manager.Manager) {
	t.Helper()
	reg, err := registry.LoadDir(modelsDir)
	if err != nil {
		t.Fatalf("scan models: %v", err)
	}
	cfg.Registry = reg
	if cfg.ContextParams == (llm.ContextParams{}) {
		cfg.ContextParams = llm.DefaultContextParams()
		cfg.ContextParams.NCtx = 128
	}
	mgr := manager.NewWithConfig(cfg)
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
	})
	return srv, mgr
}

func do(t *testing.T, method, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	return do(t, http.MethodGet, url, nil)
}

func httpPostJSON(t *testing.T, url string, v any) (*http.Response, []byte) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return do(t, http.MethodPost, url, b)
}

// parseStream splits an /infer body into token pieces and the final line.
func parseStream(t *testing.T, body []byte) ([]string, types.FinalLine) {
	t.Helper()
	var toks []string
	var final types.FinalLine
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := sc.Bytes()
		if bytes.Contains(line, []byte(`"done":`)) {
			if err := json.Unmarshal(line, &final); err != nil {
				t.Fatalf("final line %q: %v", line, err)
			}
			continue
		}
		var tl types.TokenLine
		if err := json.Unmarshal(line, &tl); err != nil {
			t.Fatalf("token line %q: %v", line, err)
		}
		toks = append(toks, tl.Token)
	}
	if !final.Done {
		t.Fatalf("stream without final line: %q", body)
	}
	return toks, final
}

func ptr[T any](v T) *T { return &v }

func greedy(model, prompt string, maxTokens int) types.InferRequest {
	return types.InferRequest{
		Model: model, Prompt: prompt, MaxTokens: ptr(maxTokens),
		Temperature: ptr(0.0), RepeatPenalty: ptr(1.0), TopP: ptr(1.0),
	}
}
