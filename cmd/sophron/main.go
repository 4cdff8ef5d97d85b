package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/config"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

// #region root

var rootFlags struct {
	configPath string
	dbPath     string
	logLevel   string
}

// app is filled by the root PersistentPreRunE before any subcommand runs.
var app struct {
	cfg    *config.Config
	logger *zap.Logger
}

var rootCmd = &cobra.Command{
	Use:   "sophron",
	Short: "Audit agent receipts for alignment signals and schedule probes",
	Long: `sophron parses SOPHRON messages embedded in agent receipts, derives
risk signals from probe results, checks the audit invariants and decides
how many probes the next window should run.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: loadApp,
	PersistentPostRun: func(*cobra.Command, []string) {
		if app.logger != nil {
			_ = app.logger.Sync()
		}
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.configPath, "config", "", "YAML config file (default: $"+config.EnvConfigPath+")")
	f.StringVar(&rootFlags.dbPath, "db", "", "SQLite database path (overrides database_path)")
	f.StringVar(&rootFlags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.Version = version
}

func loadApp(*cobra.Command, []string) error {
	path := rootFlags.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if rootFlags.dbPath != "" {
		cfg.DatabasePath = rootFlags.dbPath
	}
	if rootFlags.logLevel != "" {
		cfg.Log.Level = rootFlags.logLevel
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	app.cfg = cfg
	app.logger = logger
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #endregion root
