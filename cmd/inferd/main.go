package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"inferd/internal/common/fsutil"
	"inferd/internal/config"
	"inferd/internal/manager"
	"inferd/internal/registry"
	"inferd/pkg/types"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "inferd",
		Short:         "Local LLM inference server and tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (.yaml, .yml, .json, .toml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (default info)")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: console|json (default console)")

	root.AddCommand(newServeCmd(opts), newCompleteCmd(opts), newTokenizeCmd(opts), newEmbedCmd(opts), newBenchCmd(opts))
	return root
}

// loadConfig reads --config when given, applies flag overrides for flags
// the user changed, then fills defaults and validates.
func loadConfig(cmd *cobra.Command, opts *rootOptions, override func(*config.Config)) (config.Config, error) {
	var cfg config.Config
	if opts.configPath != "" {
		c, err := config.Load(opts.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}
	if override != nil {
		override(&cfg)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newLogger builds the root logger. Console output goes through
// zerolog.ConsoleWriter.
func newLogger(cfg config.Config, out io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// managerConfig maps the service config onto the manager.
func managerConfig(cfg config.Config, reg []types.Model, log zerolog.Logger) manager.ManagerConfig {
	mc := manager.DefaultManagerConfig()
	mc.Registry = reg
	mc.BudgetMB = cfg.VRAMBudgetMB
	mc.MarginMB = cfg.VRAMMarginMB
	mc.DefaultModel = cfg.DefaultModel
	mc.MaxQueueDepth = cfg.MaxQueueDepth
	mc.MaxWait = cfg.MaxWait.Duration
	mc.DrainTimeout = cfg.DrainTimeout.Duration
	mc.Runtime = cfg.Runtime
	mc.ModelParams = cfg.ModelParams()
	mc.ContextParams = cfg.ContextParams()
	mc.StateDir = cfg.StateDir
	mc.Sampler = cfg.Sampler.Params(mc.Sampler)
	mc.MaxTokens = cfg.Sampler.MaxTokens
	mc.PrefixCache = cfg.Sampler.PrefixCache == nil || *cfg.Sampler.PrefixCache
	mc.Logger = log
	return mc
}

// singleModel builds a one-entry registry for a model file given on the
// command line.
func singleModel(path string) ([]types.Model, string, error) {
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, "", err
	}
	models, err := registry.LoadDir(filepath.Dir(path))
	if err != nil {
		return nil, "", err
	}
	for _, m := range models {
		if filepath.Base(m.Path) == filepath.Base(path) {
			return []types.Model{m}, m.ID, nil
		}
	}
	return nil, "", fmt.Errorf("%s is not a recognized model file", path)
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
