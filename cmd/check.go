package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Alexzz96/nga-monitor/internal/app"
	"github.com/Alexzz96/nga-monitor/internal/monitor"
)

func newCheckCmd() *cobra.Command {
	var (
		targetID int64
		force    bool
		all      bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Runs a single check sweep and exits",
		Long: `Fetches the latest replies for one target (or every enabled target
with --all), sends anything new to Discord, and prints the result as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !all && targetID <= 0 {
				return errors.New("either --target or --all is required")
			}

			a, err := app.New(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				a.Close(closeCtx)
			}()

			if all {
				results, err := a.Orchestrator.CheckAll(cmd.Context())
				if err != nil {
					return fmt.Errorf("check sweep: %w", err)
				}
				return printJSON(results)
			}

			res, err := a.Orchestrator.CheckAndSend(cmd.Context(), targetID, force)
			if err != nil {
				return fmt.Errorf("check target %d: %w", targetID, err)
			}
			return printJSON(res)
		},
	}
	cmd.Flags().Int64Var(&targetID, "target", 0, "target id to check")
	cmd.Flags().BoolVar(&force, "force", false, "resend the most recent reply even if already sent")
	cmd.Flags().BoolVar(&all, "all", false, "check every enabled target")
	return cmd
}

func newBackfillCmd() *cobra.Command {
	var (
		targetID int64
		pages    int
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Archives a target's reply history",
		Long: `Walks a target's reply history page by page and archives every post
not already stored. Runs synchronously and prints the finished task.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if targetID <= 0 {
				return errors.New("--target is required")
			}

			a, err := app.New(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				a.Close(closeCtx)
			}()

			if pages <= 0 || pages > a.Cfg.Crawler.MaxHistoryPages {
				pages = a.Cfg.Crawler.MaxHistoryPages
			}

			task, err := a.Orchestrator.RunBackfill(cmd.Context(), targetID, pages)
			if err != nil && !errors.Is(err, monitor.ErrRunInProgress) {
				return fmt.Errorf("backfill target %d: %w", targetID, err)
			}
			if err != nil {
				return err
			}
			return printJSON(task)
		},
	}
	cmd.Flags().Int64Var(&targetID, "target", 0, "target id to backfill")
	cmd.Flags().IntVar(&pages, "pages", 0, "history pages to walk (default: configured maximum)")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
