package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/models"
)

func newStatusCmd(g *globalFlags) *cobra.Command {
	var (
		format    string
		serverURL string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index counts, dimension, and readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				st  *models.IndexStats
				err error
			)
			if serverURL != "" {
				st, err = statsViaHTTP(cmd.Context(), serverURL)
			} else {
				a, cleanup, setupErr := g.setup(cmd.Context())
				if setupErr != nil {
					return setupErr
				}
				defer cleanup()
				st, err = a.Engine.Stats(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("status failed: %w", err)
			}
			return cli.WriteStats(cmd.OutOrStdout(), st, cli.ParseFormat(format))
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	cmd.Flags().StringVar(&serverURL, "server", "", "read status from a running server")
	return cmd
}

func statsViaHTTP(ctx context.Context, serverURL string) (*models.IndexStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(serverURL, "/")+"/api/v1/index/stats", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var st models.IndexStats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &st, nil
}
