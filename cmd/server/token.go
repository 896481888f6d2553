// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flandriendev/briven/internal/engine"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage bearer tokens for the HTTP transport",
	}
	cmd.AddCommand(newTokenCreateCmd(), newTokenListCmd(), newTokenRevokeCmd())
	return cmd
}

func newTokenCreateCmd() *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Issue a token; the secret is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				issued, err := e.Tokens().GenerateToken(ctx, args[0], scope)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"id":         issued.Token.ID,
					"name":       issued.Token.Name,
					"scope":      issued.Token.Scope,
					"expires_at": issued.Token.ExpiresAt,
					"token":      issued.Secret,
				})
			}, engine.WithoutStartupCheck())
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "Default scope for the token's writes and searches")
	return cmd
}

func newTokenListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List issued tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				tokens, err := e.Tokens().List(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tSCOPE\tEXPIRES\tSTATUS")
				now := time.Now()
				for _, t := range tokens {
					status := "active"
					switch {
					case t.RevokedAt != nil:
						status = "revoked"
					case !t.IsValid(now):
						status = "expired"
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Scope, t.ExpiresAt.Format(time.RFC3339), status)
				}
				return tw.Flush()
			}, engine.WithoutStartupCheck())
		},
	}
}

func newTokenRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id|name>",
		Short: "Revoke a token by id, or every token with a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				if id, err := strconv.ParseUint(args[0], 10, 64); err == nil {
					if err := e.Tokens().RevokeToken(ctx, uint(id)); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "revoked token %d\n", id)
					return nil
				}
				n, err := e.Tokens().RevokeByName(ctx, args[0])
				if err != nil {
					return err
				}
				if n == 0 {
					return fmt.Errorf("no active token named %q", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %d token(s) named %s\n", n, args[0])
				return nil
			}, engine.WithoutStartupCheck())
		},
	}
}
