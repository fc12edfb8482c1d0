package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/linecompute/pkg/audit"
	"github.com/pario-ai/linecompute/pkg/models"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the exchange audit log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(),
		newAuditStatsCmd(),
		newAuditCleanupCmd(),
	)
	return cmd
}

func newAuditSearchCmd() *cobra.Command {
	var (
		configPath string
		role       string
		mode       string
		connID     string
		since      string
		failed     bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audited exchanges",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			q := models.ExchangeQuery{
				Role:       role,
				Mode:       mode,
				ConnID:     connID,
				FailedOnly: failed,
				Limit:      limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				q.Since = t
			}

			entries, err := l.Query(context.Background(), q)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatExchanges(entries))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&role, "role", "", "filter by role (server or proxy)")
	cmd.Flags().StringVar(&mode, "mode", "", "filter by mode (calc or gpt)")
	cmd.Flags().StringVar(&connID, "conn", "", "filter by connection ID")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&failed, "failed", false, "only failed exchanges")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")

	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show exchange counts by role, mode and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatExchangeStats(stats))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func newAuditCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete exchanges older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d exchanges.\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func openAuditLogger(configPath string) (*audit.Logger, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	l, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatExchanges(entries []models.Exchange) string {
	if len(entries) == 0 {
		return "No exchanges found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-6s %-5s %-5s %-6s %8s %-20s %s\n",
		"CONN ID", "ROLE", "MODE", "OK", "CACHED", "TOOK", "TIME", "ERROR")
	b.WriteString(strings.Repeat("-", 120) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-36s %-6s %-5s %-5t %-6t %6dms %-20s %s\n",
			e.ConnID, e.Role, e.Mode, e.OK, e.FromCache, e.TookMs,
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.Error)
	}
	return b.String()
}

func formatExchangeStats(stats []models.ExchangeStat) string {
	if len(stats) == 0 {
		return "No exchange stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-8s %-12s %8s %8s %8s %10s\n",
		"ROLE", "MODE", "DAY", "COUNT", "HITS", "FAILED", "AVG MS")
	b.WriteString(strings.Repeat("-", 68) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-6s %-8s %-12s %8d %8d %8d %10.1f\n",
			s.Role, s.Mode, s.Day, s.Count, s.Hits, s.Failures, s.AvgMs)
	}
	return b.String()
}
