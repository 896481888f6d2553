// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/flandriendev/briven/internal/crypto"
	"github.com/flandriendev/briven/internal/engine"
	"github.com/flandriendev/briven/internal/logging"
	"github.com/flandriendev/briven/internal/snapshot"
)

func newExportCmd() *cobra.Command {
	var (
		out   string
		scope string
		seal  bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every record, tombstones included, to a YAML snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			var key []byte
			if seal {
				var err error
				if key, err = snapshot.KeyFromEnv(true); err != nil {
					return err
				}
			}
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				var w io.Writer = cmd.OutOrStdout()
				if out != "" && out != "-" {
					f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
					if err != nil {
						return fmt.Errorf("failed to create snapshot file: %w", err)
					}
					defer f.Close()
					w = f
				}

				n, err := snapshot.Export(ctx, e.Store(), w, snapshot.Options{Scope: scope, Key: key})
				if err != nil {
					return err
				}
				logging.For("cli").WithField("records", n).Info("snapshot exported")
				return nil
			}, engine.WithoutStartupCheck())
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Snapshot file (default: stdout)")
	cmd.Flags().StringVar(&scope, "scope", "", "Only export this scope")
	cmd.Flags().BoolVar(&seal, "seal", false, "Encrypt the snapshot with "+snapshot.KeyEnv)
	return cmd
}

func newImportCmd() *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Restore records from a snapshot; existing ids are left untouched",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := snapshot.KeyFromEnv(false)
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open snapshot: %w", err)
				}
				defer f.Close()

				res, err := snapshot.Import(ctx, e.Manager(), f, snapshot.Options{Scope: scope, Key: key})
				if err != nil {
					return err
				}
				if err := e.Flush(ctx); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "Only import this scope")
	return cmd
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new snapshot key for " + snapshot.KeyEnv,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), crypto.KeyToString(key))
			return err
		},
	}
}
