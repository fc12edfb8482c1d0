package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/linecompute/pkg/cache/lru"
	"github.com/pario-ai/linecompute/pkg/metrics"
	"github.com/pario-ai/linecompute/pkg/proxy"
	"github.com/pario-ai/linecompute/pkg/server"
)

func newProxyCmd() *cobra.Command {
	var (
		configPath string
		cacheSize  int
	)

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Start the caching proxy in front of a compute server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			cfg.Proxy.Listen, err = overrideAddr(cmd, cfg.Proxy.Listen, "listen-host", "listen-port")
			if err != nil {
				return err
			}
			cfg.Proxy.Upstream, err = overrideAddr(cmd, cfg.Proxy.Upstream, "server-host", "server-port")
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
			if err := m.RegisterCache(metricsNamespace, proxy.Role, cache); err != nil {
				return err
			}

			auditor, err := openAuditor(cfg.Audit)
			if err != nil {
				return err
			}
			defer func() { _ = auditor.Close() }()

			p := proxy.New(cfg.Proxy, cache, m, auditor)
			srv := server.New(p, log, m, server.Options{
				Role:         proxy.Role,
				IdleTimeout:  cfg.Server.IdleTimeout,
				MaxFrameSize: cfg.Server.MaxFrameSize,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx = log.WithContext(ctx)

			log.Info().
				Str("listen", cfg.Proxy.Listen).
				Str("upstream", cfg.Proxy.Upstream).
				Int("cache_size", cfg.Cache.Capacity).
				Msg("starting caching proxy")
			return serveWithMetrics(ctx, cfg.Metrics.Listen, m, func(ctx context.Context) error {
				return srv.ListenAndServe(ctx, cfg.Proxy.Listen)
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().String("listen-host", "127.0.0.1", "host to listen on")
	cmd.Flags().Int("listen-port", 5554, "port to listen on")
	cmd.Flags().String("server-host", "127.0.0.1", "compute server host")
	cmd.Flags().Int("server-port", 5555, "compute server port")
	cmd.Flags().IntVar(&cacheSize, "cache-size", 128, "maximum number of cached results")
	return cmd
}
