package main

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spyglass-rpc/spyglass/internal/config"
	"github.com/spyglass-rpc/spyglass/internal/logging"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "spyglass",
	Short: "Discover and call gRPC services through server reflection",
	Long: `spyglass inspects gRPC servers at runtime: it negotiates the server's
reflection protocol, enumerates services and their full message schemas,
and invokes unary methods with JSON parameters, no compiled stubs needed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagLogLevel != "" {
			cfg.LogLevel = flagLogLevel
		}
		if flagLogFormat != "" {
			cfg.LogFormat = flagLogFormat
		}
		logger = logging.New(logging.Config{
			Level:  cfg.LogLevel,
			Format: logging.Format(cfg.LogFormat),
			Output: os.Stderr,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format (text, json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(checkCmd)
}

// printJSON renders command output to stdout, indented for humans.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
