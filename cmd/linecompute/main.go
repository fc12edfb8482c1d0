package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/linecompute/pkg/audit"
	"github.com/pario-ai/linecompute/pkg/config"
	"github.com/pario-ai/linecompute/pkg/logging"
	"github.com/pario-ai/linecompute/pkg/metrics"
)

var version = "dev"

// metricsNamespace prefixes every exported metric.
const metricsNamespace = "linecompute"

func main() {
	root := &cobra.Command{
		Use:           "linecompute",
		Short:         "Line-delimited JSON compute server with a caching proxy",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newProxyCmd(),
		newClientCmd(),
		newAuditCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig returns the defaults, or the file at path layered over them.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// overrideAddr replaces the host and/or port of addr with the flag values
// that were explicitly set.
func overrideAddr(cmd *cobra.Command, addr, hostFlag, portFlag string) (string, error) {
	hostSet := cmd.Flags().Changed(hostFlag)
	portSet := cmd.Flags().Changed(portFlag)
	if !hostSet && !portSet {
		return addr, nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", addr, err)
	}
	if hostSet {
		host, _ = cmd.Flags().GetString(hostFlag)
	}
	if portSet {
		p, _ := cmd.Flags().GetInt(portFlag)
		port = strconv.Itoa(p)
	}
	return net.JoinHostPort(host, port), nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	log, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return log, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}

// openAuditor opens the exchange log when it is enabled. The returned logger
// is nil otherwise, which every consumer accepts.
func openAuditor(cfg config.AuditConfig) (*audit.Logger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	a, err := audit.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init audit log: %w", err)
	}
	return a, nil
}

// serveWithMetrics runs serve and, when metricsAddr is set, the metrics
// endpoint. The first failure stops both.
func serveWithMetrics(ctx context.Context, metricsAddr string, m *metrics.Metrics, serve func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(ctx) })
	if metricsAddr != "" {
		g.Go(func() error { return m.ListenAndServe(ctx, metricsAddr) })
	}
	return g.Wait()
}
