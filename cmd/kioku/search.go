package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
)

func newSearchCmd(g *globalFlags) *cobra.Command {
	var (
		topK      int
		format    string
		serverURL string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find the chunks nearest to a query",
		Long: `Embeds the query with the configured provider and returns the nearest chunks
by L2 distance. Multi-word queries work with or without quotes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := buildSearchQuery(args)
			if query == "" {
				return search.ErrEmptyQuery
			}

			var (
				resp *models.SearchResponse
				err  error
			)
			if serverURL != "" {
				resp, err = searchViaHTTP(cmd.Context(), serverURL, &models.SearchRequest{Query: query, TopK: topK})
			} else {
				a, cleanup, setupErr := g.setup(cmd.Context())
				if setupErr != nil {
					return setupErr
				}
				defer cleanup()
				resp, err = a.Engine.SearchByText(cmd.Context(), query, topK)
			}
			var notReady *search.NotReadyError
			if errors.As(err, &notReady) {
				return fmt.Errorf("%w (%s); run `kioku rebuild` first", search.ErrIndexNotReady, notReady.Reason)
			}
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), resp, cli.ParseFormat(format))
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of chunks to return (default from config)")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	cmd.Flags().StringVar(&serverURL, "server", "", "query a running server instead of the index file")
	return cmd
}

// buildSearchQuery joins positional args so quoting is optional.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func searchViaHTTP(ctx context.Context, serverURL string, req *models.SearchRequest) (*models.SearchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(serverURL, "/")+"/api/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusServiceUnavailable {
		var out struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return nil, &search.NotReadyError{Reason: out.Reason}
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
