// Package cmd holds the ollamabenchmark command line: the speed suite, the
// HTTP server, the run history and the question listing.
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"ollamabenchmark/internal/config"
	"ollamabenchmark/internal/logging"
)

// rootOptions are the flags shared by every subcommand
type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "ollamabenchmark",
		Short:         "Measure the generation speed of models served by Ollama",
		Long:          `Runs multi-turn question suites against an Ollama (or OpenAI-compatible) endpoint and reports per-turn durations, token counts and rates.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (.yaml, .yml or .toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "minimum log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	root.SetGlobalNormalizationFunc(underscoreToDash)

	root.AddCommand(
		newSpeedCmd(opts),
		newServeCmd(opts),
		newHistoryCmd(opts),
		newQuestionsCmd(opts),
	)
	return root
}

// Execute runs the command line with the process arguments. Cancelling ctx
// stops a running suite or server.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// underscoreToDash makes --max_turns and --max-turns the same flag
func underscoreToDash(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// load reads the configuration (defaults, file, environment) and applies the
// persistent flags.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	return cfg, nil
}

// newLogger creates the logger of a command. Normal messages go to out so a
// command can keep stdout for its report.
func newLogger(cfg *config.Config, out, errOut io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	return logging.New(logging.Options{
		Level:  level,
		JSON:   cfg.LogFormat == "json",
		Stdout: out,
		Stderr: errOut,
	}), nil
}
