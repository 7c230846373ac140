package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chorus/pkg/config"
	"github.com/go-go-golems/chorus/pkg/logging"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chorus",
		Short: "Multi-model streaming chat orchestrator",
		Long: "Chorus fans a prompt out to several model adapters in parallel, streams\n" +
			"their partial output live, and synthesizes one weighted answer.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			// .env is optional; missing file is not an error
			_ = godotenv.Load()
			level := flagLogLevel
			if level == "" {
				level = "info"
			}
			format := flagLogFormat
			if format == "" {
				format = "console"
			}
			return logging.Setup(level, format)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (chorus.yaml is picked up when present)")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.StringVar(&flagLogFormat, "log-format", "", "log format: console or json")

	root.AddCommand(newServeCmd(), newAskCmd())
	return root
}

// loadConfig resolves the file and environment config, with explicit CLI
// flags winning over the file's logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	format := cfg.Logging.Format
	if flagLogFormat != "" {
		format = flagLogFormat
	}
	if err := logging.Setup(level, format); err != nil {
		return nil, err
	}
	return cfg, nil
}
