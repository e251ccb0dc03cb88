package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zulandar/stylequeue/internal/app"
	"github.com/zulandar/stylequeue/internal/config"
	"golang.org/x/term"
)

// loadConfig reads path. A missing default config file falls back to defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

// openApp loads config and wires every component against the configured database.
// One-shot commands log warnings and above to stderr so tables stay readable.
func openApp(ctx context.Context, cmd *cobra.Command, configPath string, serving bool) (*app.App, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := cfg.Log.SetupLogger(Version)
	if !serving {
		logger = cfg.Log.NewLogger(cmd.ErrOrStderr(), Version).Level(zerolog.WarnLevel)
	}
	a, err := app.New(ctx, cfg, logger, app.WithVersion(Version))
	if err != nil {
		return nil, fmt.Errorf("open stylequeue: %w", err)
	}
	return a, nil
}

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath, "path to stylequeue config file (.yaml or .toml)")
}

// isTerminal reports whether cmd writes to an interactive terminal.
func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
