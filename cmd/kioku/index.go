package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/rebuild"
)

func newRebuildCmd(g *globalFlags) *cobra.Command {
	var (
		workers int
		format  string
	)
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Reindex every eligible post and drop the rest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := g.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			sched := a.Scheduler
			if cmd.Flags().Changed("workers") {
				sched = rebuild.New(a.Indexer, rebuild.Options{
					Workers:        workers,
					ErrorCap:       a.Config.Rebuild.ErrorCap,
					AllowMigration: a.Config.Index.MigrationAllowed(),
					Logger:         a.Logger,
				})
			}
			summary, err := sched.Run(cmd.Context())
			if summary != nil {
				if werr := cli.WriteRebuildSummary(cmd.OutOrStdout(), summary, cli.ParseFormat(format)); werr != nil {
					return werr
				}
			}
			if err != nil {
				return fmt.Errorf("rebuild failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", rebuild.DefaultWorkers, "concurrent workers (1-8)")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func newReindexCmd(g *globalFlags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "reindex <document-id>",
		Short: "Index one post now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := g.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			id := args[0]
			if err := a.Indexer.MarkQueued(cmd.Context(), id); err != nil {
				return err
			}
			res, err := a.Indexer.IndexDocument(cmd.Context(), id)
			if res != nil {
				if werr := cli.WriteIndexResult(cmd.OutOrStdout(), res, cli.ParseFormat(format)); werr != nil {
					return werr
				}
			}
			if err != nil {
				return fmt.Errorf("indexing failed: %w", err)
			}
			if res.Outcome == models.OutcomeFailed {
				return fmt.Errorf("indexing failed: %s", res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Remove a post from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := g.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.Indexer.DeleteDocument(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("deletion failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Document deleted: %s\n", args[0])
			return nil
		},
	}
}
