package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/linecompute/pkg/client"
	"github.com/pario-ai/linecompute/pkg/models"
)

func newClientCmd() *cobra.Command {
	var (
		host    string
		port    int
		mode    string
		expr    string
		prompt  string
		noCache bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Send one request and print the response",
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := buildRequest(mode, expr, prompt, noCache)
			if err != nil {
				return err
			}

			addr := net.JoinHostPort(host, strconv.Itoa(port))
			var out any
			resp, err := client.Request(context.Background(), addr, msg, timeout)
			switch {
			case errors.Is(err, client.ErrNoResponse):
				out = models.Failure("No response")
			case err != nil:
				return err
			default:
				out = resp
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("print response: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "server or proxy host")
	cmd.Flags().IntVar(&port, "port", 5555, "server or proxy port")
	cmd.Flags().StringVar(&mode, "mode", "", "request mode: calc or gpt")
	cmd.Flags().StringVar(&expr, "expr", "", "expression for mode=calc")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt for mode=gpt")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable caching for this request")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "connect and response timeout")
	_ = cmd.MarkFlagRequired("mode")
	return cmd
}

func buildRequest(mode, expr, prompt string, noCache bool) (map[string]any, error) {
	var data map[string]any
	switch models.Mode(mode) {
	case models.ModeCalc:
		if expr == "" {
			return nil, errors.New("missing --expr")
		}
		data = map[string]any{"expr": expr}
	case models.ModeGpt:
		if prompt == "" {
			return nil, errors.New("missing --prompt")
		}
		data = map[string]any{"prompt": prompt}
	default:
		return nil, fmt.Errorf("invalid --mode %q: expected calc or gpt", mode)
	}
	return map[string]any{
		"mode":    mode,
		"data":    data,
		"options": map[string]any{"cache": !noCache},
	}, nil
}
