// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flandriendev/briven/internal/engine"
	"github.com/flandriendev/briven/internal/lifecycle"
	"github.com/flandriendev/briven/internal/sessionlog"
)

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild both indexes from the record store and re-embed gaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				res, err := e.Rebuild(ctx)
				if err != nil {
					return err
				}
				if err := e.Flush(ctx); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}, engine.WithoutStartupCheck())
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the indexes agree with the record store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				report, err := e.Verify(ctx)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.OK() {
					return errors.New("indexes disagree with the record store; run rebuild")
				}
				return nil
			})
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Purge tombstoned records past their retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				return e.Sweep(ctx)
			})
		},
	}
}

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Commit a snapshot to the backup git repository",
		Long: `Export every record to backup.dir and commit it when it changed.
With backup.remote set the repository is pushed afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				res, err := e.Backup(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}, engine.WithoutStartupCheck())
		},
	}
}

func newConsolidateCmd() *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Merge near-duplicate live records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				// Embeddings drive similarity; wait for anything still queued.
				if err := e.Flush(ctx); err != nil {
					return err
				}
				var reports []*lifecycle.ConsolidateReport
				if scope != "" {
					r, err := e.Manager().Consolidate(ctx, scope)
					if err != nil {
						return err
					}
					reports = append(reports, r)
				} else {
					var err error
					if reports, err = e.Manager().ConsolidateAll(ctx); err != nil {
						return err
					}
				}
				return printJSON(cmd.OutOrStdout(), reports)
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "Only consolidate this scope (default: every scope)")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var day, file string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest daily session logs as session summaries",
		Long: `Ingest daily session logs (YYYY-MM-DD.md) from the configured directory.
With --day or --file only that log is ingested.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if day != "" && file != "" {
				return errors.New("--day and --file cannot be used together")
			}
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				in := e.Ingester()
				var results []*sessionlog.Result
				switch {
				case file != "":
					r, err := in.IngestFile(ctx, file)
					if err != nil {
						return err
					}
					results = append(results, r)
				case day != "":
					t, err := time.Parse("2006-01-02", day)
					if err != nil {
						return fmt.Errorf("invalid --day %q: %w", day, err)
					}
					r, err := in.IngestDay(ctx, t)
					if err != nil {
						return err
					}
					results = append(results, r)
				default:
					var err error
					if results, err = in.IngestDir(ctx); err != nil {
						return err
					}
				}
				if err := e.Flush(ctx); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), results)
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "Ingest the log for this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&file, "file", "", "Ingest this log file")
	return cmd
}
