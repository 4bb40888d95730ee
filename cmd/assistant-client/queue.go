package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/utils"
	"github.com/life-stream-dev/life-stream-go-realtime-client/internal/writequeue"
)

func newQueueCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the durable offline write queue",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show queued requests and the queue summary",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withQueue(cmd.Context(), func(ctx context.Context, q *writequeue.Queue) error {
					return printStatus(ctx, cmd.OutOrStdout(), q)
				})
			},
		},
		&cobra.Command{
			Use:   "flush",
			Short: "Send every due request now",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withQueue(cmd.Context(), func(ctx context.Context, q *writequeue.Queue) error {
					sender, err := a.newSender()
					if err != nil {
						return err
					}
					result, err := q.Flush(ctx, sender)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "attempted %d, succeeded %d, retried %d, dropped %d, deferred %d\n",
						result.Attempted, result.Succeeded, result.Retried, result.Dropped, result.Deferred)
					return nil
				})
			},
		},
		newFailedCommand(a),
	)
	return cmd
}

func newFailedCommand(a *app) *cobra.Command {
	var clearLedger bool
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List requests dropped after exhausting their attempts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withQueue(cmd.Context(), func(ctx context.Context, q *writequeue.Queue) error {
				if clearLedger {
					return q.ClearFailed(ctx)
				}
				failed, err := q.FailedRequests(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tMETHOD\tURL\tATTEMPTS\tDROPPED\tLAST ERROR")
				for _, f := range failed {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", f.Item.ID, f.Item.Method, f.Item.URL,
						f.Item.Attempts, humanize.Time(utils.FromUnixMilli(f.DroppedAt)), f.Item.LastError)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&clearLedger, "clear", false, "delete the failed-request ledger")
	return cmd
}

func (a *app) withQueue(ctx context.Context, fn func(context.Context, *writequeue.Queue) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() { _ = a.cleaner.Clean() }()
	q, err := a.openQueue(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, q)
}

func printStatus(ctx context.Context, out io.Writer, q *writequeue.Queue) error {
	summary, err := q.Summary(ctx)
	if err != nil {
		return err
	}
	items, err := q.Items(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "queued: %d  failed: %d\n", summary.Size, summary.FailedCount)
	for _, p := range writequeue.Priorities {
		fmt.Fprintf(out, "  %-8s %d\n", p, summary.ByPriority[p])
	}
	if !summary.NextAttemptAt.IsZero() {
		fmt.Fprintf(out, "next attempt: %s\n", humanize.Time(summary.NextAttemptAt))
	}
	if summary.LastError != "" {
		fmt.Fprintf(out, "last error: %s\n", summary.LastError)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tMETHOD\tURL\tATTEMPTS\tCREATED\tBODY")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n", it.ID, it.Priority, it.Method, it.URL,
			it.Attempts, it.MaxAttempts, it.Created().Format(time.RFC3339), humanize.Bytes(uint64(len(it.Body))))
	}
	return w.Flush()
}
