package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/linecompute/pkg/cache/lru"
	"github.com/pario-ai/linecompute/pkg/dispatch"
	"github.com/pario-ai/linecompute/pkg/generate"
	"github.com/pario-ai/linecompute/pkg/metrics"
	"github.com/pario-ai/linecompute/pkg/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		cacheSize  int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the compute server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			cfg.Server.Listen, err = overrideAddr(cmd, cfg.Server.Listen, "host", "port")
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("cache-size") {
				cfg.Cache.Capacity = cacheSize
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := newLogger(cfg)
			if err != nil {
				return err
			}

			cache, err := lru.New(cfg.Cache.Capacity)
			if err != nil {
				return fmt.Errorf("init cache: %w", err)
			}
			m := metrics.New(metricsNamespace)
			if err := m.RegisterCache(metricsNamespace, dispatch.Role, cache); err != nil {
				return err
			}

			auditor, err := openAuditor(cfg.Audit)
			if err != nil {
				return err
			}
			defer func() { _ = auditor.Close() }()

			gen := generate.New(cfg.Generator, cfg.Providers, cfg.Router.Routes)
			if err := gen.Ready(); err != nil {
				log.Warn().Err(err).Msg("gpt mode unavailable")
			}
			d := dispatch.New(cache, gen, m, auditor)
			srv := server.New(d, log, m, server.Options{
				Role:         dispatch.Role,
				IdleTimeout:  cfg.Server.IdleTimeout,
				MaxFrameSize: cfg.Server.MaxFrameSize,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx = log.WithContext(ctx)

			log.Info().
				Str("listen", cfg.Server.Listen).
				Int("cache_size", cfg.Cache.Capacity).
				Str("model", cfg.Generator.Model).
				Msg("starting compute server")
			return serveWithMetrics(ctx, cfg.Metrics.Listen, m, func(ctx context.Context) error {
				return srv.ListenAndServe(ctx, cfg.Server.Listen)
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().String("host", "127.0.0.1", "host to listen on")
	cmd.Flags().Int("port", 5555, "port to listen on")
	cmd.Flags().IntVar(&cacheSize, "cache-size", 128, "maximum number of cached results")
	return cmd
}
