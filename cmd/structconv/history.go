package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iWaraxe/L3StructuredOutput-sub000/internal/history"
	"github.com/iWaraxe/L3StructuredOutput-sub000/pipeline"
	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
)

// =============================================================================
// 🗄️ history 命令
// =============================================================================

func (a *app) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded conversion outcomes (requires database.enabled)",
	}
	cmd.AddCommand(a.historyRecentCmd(), a.historyShowCmd(), a.historyPruneCmd())
	return cmd
}

// withHistory 打开历史库并执行 fn
func (a *app) withHistory(fn func(store *history.Store) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return types.NewConfigError("conversion history is disabled (set database.enabled)")
	}

	rt, err := newRuntime(cfg, buildOptions{historyOnly: true})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	return fn(rt.history)
}

func (a *app) historyRecentCmd() *cobra.Command {
	var (
		q       history.Query
		outcome string
		since   time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recent outcomes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q.Outcome = pipeline.Outcome(outcome)
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			return a.withHistory(func(store *history.Store) error {
				recs, err := store.Recent(cmd.Context(), q)
				if err != nil {
					return err
				}
				if asJSON {
					return a.writeJSON(recs)
				}

				tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "REQUEST ID\tSCHEMA\tOUTCOME\tATTEMPTS\tLATENCY\tCREATED")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
						r.RequestID, r.Schema, r.Outcome, r.Attempts,
						time.Duration(r.LatencyMS)*time.Millisecond,
						r.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&q.Schema, "schema", "", "filter by schema name")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (success, retried, exhausted, recovered-partial)")
	cmd.Flags().IntVar(&q.Limit, "limit", 20, "maximum number of rows")
	cmd.Flags().DurationVar(&since, "since", 0, "only outcomes newer than this duration")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func (a *app) historyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show one outcome with its attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHistory(func(store *history.Store) error {
				rec, err := store.ByRequestID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.writeJSON(rec)
			})
		},
	}
}

func (a *app) historyPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete outcomes older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return types.NewConfigError("--older-than must be positive")
			}
			return a.withHistory(func(store *history.Store) error {
				deleted, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(a.stdout, "deleted %d outcomes\n", deleted)
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age threshold")
	return cmd
}
