// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm/logger"

	"github.com/flandriendev/briven/internal/config"
	"github.com/flandriendev/briven/internal/engine"
	"github.com/flandriendev/briven/internal/logging"
)

// Version is set at build time via ldflags (e.g. -X main.Version=1.2.0).
var Version string

// rootFlags are shared by every subcommand
type rootFlags struct {
	configPath string
	dbType     string
	dbPath     string
	dbDSN      string
	logLevel   string
}

var flags rootFlags

var rootCmd = &cobra.Command{
	Use:           "briven",
	Short:         "Briven is a persistent hybrid memory for agents",
	Long:          `Briven stores memories in a database and retrieves them with BM25 and embedding search fused by reciprocal rank.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to config file (JSON or YAML)")
	pf.StringVar(&flags.dbType, "db-type", "", "Database type (sqlite or postgres)")
	pf.StringVar(&flags.dbPath, "db-path", "", "Database path (for sqlite)")
	pf.StringVar(&flags.dbDSN, "db-dsn", "", "Database DSN (for postgres)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newServeCmd(),
		newRebuildCmd(),
		newVerifyCmd(),
		newSweepCmd(),
		newBackupCmd(),
		newConsolidateCmd(),
		newIngestCmd(),
		newExportCmd(),
		newImportCmd(),
		newKeygenCmd(),
		newTokenCmd(),
	)
	rootCmd.Version = versionString()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionString() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// loadConfig reads the config file, then applies flag overrides. Logging is
// initialised from the result and always goes to stderr.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.configPath != "" {
		cfg, err = config.LoadFromPath(flags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if flags.dbType != "" {
		cfg.Database.Type = flags.dbType
	}
	if flags.dbPath != "" {
		cfg.Database.SQLitePath = flags.dbPath
	}
	if flags.dbDSN != "" {
		cfg.Database.PostgresDSN = flags.dbDSN
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logging.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openEngine loads configuration and opens the engine. GORM output is
// silenced because stdout may carry JSON-RPC.
func openEngine(ctx context.Context, opts ...engine.Option) (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts = append([]engine.Option{engine.WithDBLogLevel(logger.Silent)}, opts...)
	e, err := engine.Open(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return e, nil
}

// withEngine runs fn against an open engine and closes it afterwards
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine) error, opts ...engine.Option) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(context.Background()); cerr != nil {
			logging.For("cli").WithError(cerr).Warn("close failed")
		}
	}()
	return fn(ctx, e)
}

// printJSON writes v to w as indented JSON
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
