package blackbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const tinyNgram = "name: tiny\ncontext_length: 256\nvocab: [\"hello\", \" world\"]\ncorpus: hello world hello world\n"

// binPath is the inferd binary built once by TestMain.
var binPath string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "inferd-blackbox-")
	if err != nil {
		fmt.Fprintln(os.Stderr, "tempdir:", err)
		os.Exit(1)
	}
	binPath = filepath.Join(dir, "inferd")
	build := exec.Command("go", "build", "-o", binPath, "./cmd/inferd")
	build.Dir = repoRoot()
	build.Env = append(os.Environ(), "CGO_ENABLED=0")
	if out, err := build.CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "go build: %v\n%s", err, out)
		_ = os.RemoveAll(dir)
		os.Exit(1)
	}
	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

// repoRoot resolves <root> from <root>/tests/blackbox/blackbox_test.go.
func repoRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Dir(filepath.Dir(filepath.Dir(file)))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func modelsDir(t *testing.T, ids ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, id := range ids {
		if err := os.WriteFile(filepath.Join(dir, id+".yaml"), []byte(tinyNgram), 0o644); err != nil {
			t.Fatalf("write model %s: %v", id, err)
		}
	}
	return dir
}

type client struct {
	t    *testing.T
	base string
}

// serve starts `inferd serve` and waits for /healthz.
func serve(t *testing.T, dir, defaultModel string) *client {
	t.Helper()
	addr := freeAddr(t)
	args := []string{"serve", "--log-format", "json", "--addr", addr, "--models-dir", dir}
	if defaultModel != "" {
		args = append(args, "--default-model", defaultModel)
	}
	cmd := exec.Command(binPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	exited := make(chan struct{})
	go func() { _ = cmd.Wait(); close(exited) }()
	t.Cleanup(func() {
		_ = cmd.Process.Signal(os.Interrupt)
		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			_ = cmd.Process.Kill()
			<-exited
		}
	})

	c := &client{t: t, base: "http://" + addr}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if resp, err := http.Get(c.base + "/healthz"); err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return c
			}
		}
		select {
		case <-exited:
			t.Fatalf("server exited before becoming healthy")
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("server not healthy after 5s")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (c *client) do(method, path, body string) (int, http.Header, []byte) {
	c.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, c.base+path, rd)
	if err != nil {
		c.t.Fatalf("request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, resp.Header, b
}

func (c *client) waitReady() {
	c.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		code, _, _ := c.do(http.MethodGet, "/readyz", "")
		if code == http.StatusOK {
			return
		}
		if time.Now().After(deadline) {
			c.t.Fatalf("/readyz still %d", code)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestServeFlow(t *testing.T) {
	c := serve(t, modelsDir(t, "alpha", "beta"), "alpha")

	code, hdr, body := c.do(http.MethodGet, "/models", "")
	if code != http.StatusOK || !strings.Contains(hdr.Get("Content-Type"), "application/json") {
		t.Fatalf("/models %d %s %s", code, hdr.Get("Content-Type"), body)
	}
	var models struct {
		Models []struct {
			ID string `json:"id"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &models); err != nil {
		t.Fatalf("/models json: %v", err)
	}
	if len(models.Models) != 2 || models.Models[0].ID != "alpha" {
		t.Fatalf("/models %s", body)
	}

	if code, _, body := c.do(http.MethodGet, "/readyz", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz before first load %d %s", code, body)
	}

	code, hdr, body = c.do(http.MethodPost, "/infer", `{"prompt":"hello","max_tokens":4,"temperature":0}`)
	if code != http.StatusOK {
		t.Fatalf("/infer %d %s", code, body)
	}
	if !strings.Contains(hdr.Get("Content-Type"), "application/x-ndjson") {
		t.Fatalf("/infer content-type=%s", hdr.Get("Content-Type"))
	}
	lines := bytes.Split(bytes.TrimSpace(body), []byte("\n"))
	var final struct {
		Done         bool   `json:"done"`
		Content      string `json:"content"`
		FinishReason string `json:"finish_reason"`
	}
	if err := json.Unmarshal(lines[len(lines)-1], &final); err != nil {
		t.Fatalf("final line: %v (%s)", err, lines[len(lines)-1])
	}
	if !final.Done || final.Content != " world" || final.FinishReason != "eos" {
		t.Fatalf("final=%+v", final)
	}

	c.waitReady()

	code, _, body = c.do(http.MethodGet, "/status", "")
	var status struct {
		Instances []struct {
			ModelID string `json:"model_id"`
		} `json:"instances"`
	}
	if code != http.StatusOK || json.Unmarshal(body, &status) != nil || len(status.Instances) != 1 {
		t.Fatalf("/status %d %s", code, body)
	}

	code, _, body = c.do(http.MethodPost, "/tokenize", `{"model":"alpha","text":"hello world"}`)
	if code != http.StatusOK || !bytes.Contains(body, []byte(`"count":2`)) {
		t.Fatalf("/tokenize %d %s", code, body)
	}

	code, _, body = c.do(http.MethodPost, "/embed", `{"input":["hello","hello world"]}`)
	if code != http.StatusOK || !bytes.Contains(body, []byte(`"dimension":16`)) {
		t.Fatalf("/embed %d %s", code, body)
	}

	code, _, body = c.do(http.MethodGet, "/metrics", "")
	if code != http.StatusOK {
		t.Fatalf("/metrics %d", code)
	}
	for _, name := range []string{"inferd_http_requests_total", "inferd_completion_tokens_total", "inferd_manager_cache_entries", "inferd_embed_inputs_total"} {
		if !bytes.Contains(body, []byte(name)) {
			t.Fatalf("/metrics missing %s", name)
		}
	}

	if code, _, body := c.do(http.MethodDelete, "/models/alpha", ""); code != http.StatusNoContent {
		t.Fatalf("DELETE /models/alpha %d %s", code, body)
	}
}

func TestServeNotFound(t *testing.T) {
	cases := []struct {
		name, def, body string
	}{
		{"unknown model", "alpha", `{"model":"missing","prompt":"hi"}`},
		{"no default", "", `{"prompt":"hi"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := serve(t, modelsDir(t, "alpha"), tc.def)
			if code, _, body := c.do(http.MethodPost, "/infer", tc.body); code != http.StatusNotFound {
				t.Fatalf("status=%d body=%s", code, body)
			}
		})
	}
}
