package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Xardimods/ainomaly/internal/config"
	"github.com/Xardimods/ainomaly/internal/logs"
)

var (
	configFile  string
	dataDir     string
	backendURL  string
	logLevel    string
	packaged    bool
	skipSpawn   bool
	debugListen string

	version = "v0.1.0" // This will be injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "ainomaly-shell",
		Short:   "AInomaly Shell - Supervises the detection backend and keeps the desktop UI in sync",
		Version: version,
		RunE:    runShell,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.ainomaly)")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend-url", "", "Detection backend base URL (default: http://127.0.0.1:8001)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&packaged, "packaged", false, "Run in installed layout (backend under resources/ next to the executable)")
	rootCmd.PersistentFlags().BoolVar(&skipSpawn, "skip-spawn", false, "Connect to an already-running backend instead of spawning one")
	rootCmd.PersistentFlags().StringVar(&debugListen, "debug-listen", "", "Local ops endpoint address (empty = config default, 'off' disables)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runShell(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logOpts := logs.DefaultOptions(filepath.Join(cfg.DataDir, "logs"))
	logOpts.Level = cfg.LogLevel
	logger, err := logs.Setup(logOpts)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	sugar := logger.Sugar()

	sugar.Infow("AInomaly Shell starting",
		"version", version,
		"backend_url", cfg.BackendURL,
		"data_dir", cfg.DataDir,
		"skip_spawn", cfg.SkipSpawn,
		"packaged", cfg.Packaged)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := newApplication(cfg, sugar)
	if err := app.run(ctx); err != nil {
		sugar.Errorw("Shell terminated with error", zap.Error(err))
		return err
	}
	sugar.Info("Shell stopped")
	return nil
}

// applyFlags lets command-line flags override file and environment values.
func applyFlags(cfg *config.Config) {
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if backendURL != "" {
		cfg.BackendURL = backendURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if packaged {
		cfg.Packaged = true
	}
	if skipSpawn {
		cfg.SkipSpawn = true
	}
	switch debugListen {
	case "":
	case "off":
		cfg.DebugListen = ""
	default:
		cfg.DebugListen = debugListen
	}
}
