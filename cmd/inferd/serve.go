package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"inferd/internal/config"
	"inferd/internal/httpapi"
	"inferd/internal/manager"
	"inferd/internal/registry"
)

type serveOptions struct {
	addr         string
	modelsDir    string
	budgetMB     int
	marginMB     int
	defaultModel string
	runtime      string
	stateDir     string
	corsOrigins  string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	so := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP inference server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, root, func(c *config.Config) { so.apply(cmd, c) })
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&so.addr, "addr", config.DefaultAddr, "HTTP listen address, e.g. :8080")
	f.StringVar(&so.modelsDir, "models-dir", config.DefaultModelsDir, "Directory to scan for model files")
	f.IntVar(&so.budgetMB, "vram-budget-mb", 0, "VRAM budget in MB for all instances (0=unlimited)")
	f.IntVar(&so.marginMB, "vram-margin-mb", 0, "Reserved VRAM margin in MB to keep free")
	f.StringVar(&so.defaultModel, "default-model", "", "Default model id when request omits model")
	f.StringVar(&so.runtime, "runtime", config.RuntimeEngine, "Inference runtime: engine|llama")
	f.StringVar(&so.stateDir, "state-dir", "", "Directory for context state persisted on unload")
	f.StringVar(&so.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins (enables CORS)")
	return cmd
}

// apply copies flags the user set over file values.
func (so *serveOptions) apply(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("addr") {
		c.Addr = so.addr
	}
	if f.Changed("models-dir") {
		c.ModelsDir = so.modelsDir
	}
	if f.Changed("vram-budget-mb") {
		c.VRAMBudgetMB = so.budgetMB
	}
	if f.Changed("vram-margin-mb") {
		c.VRAMMarginMB = so.marginMB
	}
	if f.Changed("default-model") {
		c.DefaultModel = so.defaultModel
	}
	if f.Changed("runtime") {
		c.Runtime = so.runtime
	}
	if f.Changed("state-dir") {
		c.StateDir = so.stateDir
	}
	if f.Changed("cors-origins") {
		c.CORS.Enabled = true
		c.CORS.Origins = splitCSV(so.corsOrigins)
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	log, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	reg, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		return err
	}
	mgr := manager.NewWithConfig(managerConfig(cfg, reg, log))
	rep := mgr.SanityCheck()
	if rep.Error != "" {
		_ = mgr.Close()
		return errors.New(rep.Error)
	}
	if len(rep.MissingModels) > 0 {
		log.Warn().Strs("models", rep.MissingModels).Msg("registry entries without a readable file")
	}
	if err := mgr.RegisterCacheGauge(prometheus.DefaultRegisterer); err != nil {
		log.Warn().Err(err).Msg("cache gauge not registered")
	}

	httpapi.SetLogger(log)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetInferTimeout(cfg.InferTimeout.Duration)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	httpapi.SetBaseContext(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Str("runtime", rep.Runtime).
			Int("models", rep.Models).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout.Duration)
		defer cancel()
		return errors.Join(srv.Shutdown(sctx), mgr.Close())
	})
	return g.Wait()
}
