package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"inferd/internal/config"
	"inferd/internal/manager"
	"inferd/pkg/types"
)

// oneShotOptions are shared by the commands that run a model in-process.
type oneShotOptions struct {
	model   string
	runtime string
	ctxSize int
}

func (o *oneShotOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.model, "model", "", "Model file (.gguf for llama, .yaml for the ngram engine)")
	f.StringVar(&o.runtime, "runtime", "", "Inference runtime: engine|llama (default engine)")
	f.IntVar(&o.ctxSize, "ctx-size", 0, "Context size in tokens")
	_ = cmd.MarkFlagRequired("model")
}

// open builds a manager serving only o.model and returns its id.
func (o *oneShotOptions) open(cmd *cobra.Command, root *rootOptions) (*manager.Manager, string, zerolog.Logger, error) {
	cfg, err := loadConfig(cmd, root, func(c *config.Config) {
		if o.runtime != "" {
			c.Runtime = o.runtime
		}
		if o.ctxSize > 0 {
			c.CtxSize = o.ctxSize
		}
		if c.LogLevel == "" {
			c.LogLevel = "warn"
		}
	})
	if err != nil {
		return nil, "", zerolog.Nop(), err
	}
	log, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return nil, "", log, err
	}
	reg, id, err := singleModel(o.model)
	if err != nil {
		return nil, "", log, err
	}
	mc := managerConfig(cfg, reg, log)
	mc.DefaultModel = id
	return manager.NewWithConfig(mc), id, log, nil
}

type completeOptions struct {
	oneShotOptions
	prompt        string
	maxTokens     int
	temperature   float64
	topK          int
	topP          float64
	minP          float64
	repeatPenalty float64
	seed          uint32
	stop          string
}

func newCompleteCmd(root *rootOptions) *cobra.Command {
	o := &completeOptions{}
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Stream one completion to stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, id, _, err := o.open(cmd, root)
			if err != nil {
				return err
			}
			defer mgr.Close()
			req := o.request(cmd, id)
			tp := &tokenPrinter{out: cmd.OutOrStdout()}
			if err := mgr.Infer(cmd.Context(), req, tp, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout())
			if f := tp.final; f != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "finish=%s prompt=%d completion=%d seed=%d\n",
					f.FinishReason, f.Usage.PromptTokens, f.Usage.CompletionTokens, f.Seed)
			}
			return nil
		},
	}
	o.bind(cmd)
	f := cmd.Flags()
	f.StringVar(&o.prompt, "prompt", "", "Prompt text")
	f.IntVar(&o.maxTokens, "max-tokens", 0, "Maximum tokens to generate")
	f.Float64Var(&o.temperature, "temperature", 0, "Sampling temperature (0 = greedy)")
	f.IntVar(&o.topK, "top-k", 0, "Top-k cutoff (0 disables)")
	f.Float64Var(&o.topP, "top-p", 0, "Nucleus cutoff")
	f.Float64Var(&o.minP, "min-p", 0, "Min-p cutoff")
	f.Float64Var(&o.repeatPenalty, "repeat-penalty", 0, "Repetition penalty (1 disables)")
	f.Uint32Var(&o.seed, "seed", 0, "Sampler seed (0 picks one)")
	f.StringVar(&o.stop, "stop", "", "Comma-separated stop words")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

// request sets only the sampler fields whose flags were given, so the
// server defaults fill the rest.
func (o *completeOptions) request(cmd *cobra.Command, id string) types.InferRequest {
	f := cmd.Flags()
	req := types.InferRequest{Model: id, Prompt: o.prompt, Stop: splitCSV(o.stop)}
	if f.Changed("max-tokens") {
		req.MaxTokens = &o.maxTokens
	}
	if f.Changed("temperature") {
		req.Temperature = &o.temperature
	}
	if f.Changed("top-k") {
		req.TopK = &o.topK
	}
	if f.Changed("top-p") {
		req.TopP = &o.topP
	}
	if f.Changed("min-p") {
		req.MinP = &o.minP
	}
	if f.Changed("repeat-penalty") {
		req.RepeatPenalty = &o.repeatPenalty
	}
	if f.Changed("seed") {
		req.Seed = &o.seed
	}
	return req
}

// tokenPrinter consumes the NDJSON stream, printing token text as it
// arrives and keeping the final line.
type tokenPrinter struct {
	out   io.Writer
	buf   []byte
	final *types.FinalLine
}

func (p *tokenPrinter) Write(b []byte) (int, error) {
	p.buf = append(p.buf, b...)
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			return len(b), nil
		}
		line := p.buf[:i]
		p.buf = p.buf[i+1:]
		if err := p.line(line); err != nil {
			return 0, err
		}
	}
}

func (p *tokenPrinter) line(line []byte) error {
	if len(line) == 0 {
		return nil
	}
	if bytes.Contains(line, []byte(`"done":`)) {
		var f types.FinalLine
		if err := json.Unmarshal(line, &f); err != nil {
			return err
		}
		p.final = &f
		return nil
	}
	var tl types.TokenLine
	if err := json.Unmarshal(line, &tl); err != nil {
		return err
	}
	_, err := io.WriteString(p.out, tl.Token)
	return err
}
