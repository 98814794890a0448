// Package cmd implements the locscout CLI using Cobra.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rasha-hantash/locscout/config"
	"github.com/spf13/cobra"
)

// Global flag variables.
var (
	flagConfig   string
	flagJSONLogs bool
	flagVerbose  bool
)

// settings is loaded from configPath once flags are parsed.
var (
	settings   config.Settings
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "locscout",
	Short: "Turn a venue page into a location-scouting slide and sheet row",
	Long: `locscout reads a venue web page, extracts the location details with an
OpenAI model and writes them to Google Slides and Sheets.

Usage:
  locscout generate <url> [flags]
  locscout serve [flags]`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return loadSettings()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: $XDG_CONFIG_HOME/locscout/config.yaml, or $LOCSCOUT_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "Log as JSON")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose logging")
}

// Execute runs the root command. Interrupts cancel the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if flagJSONLogs {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func loadSettings() error {
	path := flagConfig
	if path == "" {
		path = os.Getenv("LOCSCOUT_CONFIG")
	}
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	s, err := config.Load(path)
	if err != nil {
		return err
	}
	settings, configPath = s, path
	slog.Debug("loaded config", slog.String("path", path))
	return nil
}
