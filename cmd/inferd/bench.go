package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"inferd/pkg/types"
)

type benchResult struct {
	prompts          int
	promptTokens     int64
	completionTokens int64
	elapsed          time.Duration
}

func (r benchResult) tokensPerSecond() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.completionTokens) / r.elapsed.Seconds()
}

func newBenchCmd(root *rootOptions) *cobra.Command {
	var (
		o           oneShotOptions
		promptsPath string
		maxTokens   int
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run every prompt of a file and report throughput",
		RunE: func(cmd *cobra.Command, _ []string) error {
			prompts, err := readPrompts(promptsPath)
			if err != nil {
				return err
			}
			mgr, id, _, err := o.open(cmd, root)
			if err != nil {
				return err
			}
			defer mgr.Close()
			if err := mgr.EnsureInstance(cmd.Context(), id); err != nil {
				return err
			}

			bar := progressbar.NewOptions(len(prompts),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription("bench"),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			var promptToks, complToks atomic.Int64
			stream := false
			start := time.Now()
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(concurrency, 1))
			for _, p := range prompts {
				g.Go(func() error {
					var buf bytes.Buffer
					req := types.InferRequest{Model: id, Prompt: p, Stream: &stream, MaxTokens: &maxTokens}
					if err := mgr.Infer(ctx, req, &buf, nil); err != nil {
						return err
					}
					var f types.FinalLine
					if err := json.Unmarshal(buf.Bytes(), &f); err != nil {
						return err
					}
					promptToks.Add(int64(f.Usage.PromptTokens))
					complToks.Add(int64(f.Usage.CompletionTokens))
					return bar.Add(1)
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			_ = bar.Finish()
			r := benchResult{
				prompts:          len(prompts),
				promptTokens:     promptToks.Load(),
				completionTokens: complToks.Load(),
				elapsed:          time.Since(start),
			}
			fmt.Fprintf(cmd.OutOrStdout(), "prompts=%d prompt_tokens=%d completion_tokens=%d elapsed=%s tok/s=%.1f\n",
				r.prompts, r.promptTokens, r.completionTokens, r.elapsed.Round(time.Millisecond), r.tokensPerSecond())
			return nil
		},
	}
	o.bind(cmd)
	f := cmd.Flags()
	f.StringVar(&promptsPath, "prompts", "", "File with one prompt per line")
	f.IntVar(&maxTokens, "max-tokens", 64, "Maximum tokens per prompt")
	f.IntVar(&concurrency, "concurrency", 1, "Concurrent requests (they queue on the instance)")
	_ = cmd.MarkFlagRequired("prompts")
	return cmd
}

// readPrompts returns the non-blank lines of path.
func readPrompts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s has no prompts", path)
	}
	return out, nil
}
