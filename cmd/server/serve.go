// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flandriendev/briven/internal/engine"
	"github.com/flandriendev/briven/internal/logging"
	"github.com/flandriendev/briven/internal/server"
)

type serveOptions struct {
	http          bool
	host          string
	port          int
	noMaintenance bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio by default)",
		Long: `Start the MCP server. Without --http the server speaks JSON-RPC over
stdin/stdout; with --http it serves streamable HTTP on /mcp behind bearer tokens.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cmd.SetContext(ctx)
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				return runServe(ctx, e, opts)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.http, "http", false, "Serve streamable HTTP instead of stdio")
	cmd.Flags().StringVar(&opts.host, "host", "", "HTTP listen host (overrides config)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "HTTP listen port (overrides config)")
	cmd.Flags().BoolVar(&opts.noMaintenance, "no-maintenance", false, "Do not run periodic maintenance jobs")
	return cmd
}

func runServe(ctx context.Context, e *engine.Engine, opts serveOptions) error {
	log := logging.For("serve")

	if !opts.noMaintenance {
		e.StartMaintenance(ctx)
	}

	gw := e.Gateway()
	if gw.Enabled() {
		log.WithField("model", gw.Model()).Info("semantic search enabled")
	} else {
		log.Warn("no embedding provider configured; search is lexical only")
	}

	mcpServer := server.NewMCPServer(e, versionString())
	if !opts.http {
		return mcpServer.ServeStdio()
	}

	cfg := e.Config().Server
	host, port := cfg.Host, cfg.Port
	if opts.host != "" {
		host = opts.host
	}
	if opts.port != 0 {
		port = opts.port
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	var certFile, keyFile string
	if cfg.TLS.Enabled {
		certFile, keyFile = cfg.TLS.CertFile, cfg.TLS.KeyFile
		log.Info("TLS enabled")
	}

	log.WithField("addr", addr).Info("HTTP server starting")
	return server.NewHTTPServer(mcpServer).ListenAndServe(ctx, addr, certFile, keyFile)
}
