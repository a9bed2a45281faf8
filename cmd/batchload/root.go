package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-batchtx/pkg/batchtx"
	"github.com/dd0wney/cluso-batchtx/pkg/logging"
)

var (
	// Global flags
	configPath string
	logLevel   string
	quiet      bool
	jsonOut    bool
)

var rootCmd = &cobra.Command{
	Use:   "batchload",
	Short: "Batch-load graph mutations and replay them as simulated commits",
	Long: `batchload applies a scripted sequence of graph mutations outside of a
transaction, accumulates them into a diff and hands that diff to observers as
simulated commits every time the commit threshold is exceeded.

Observers include a label index, property constraints, an on-disk changelog
and an optional network forwarder.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Accumulator config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig returns the defaults unless --config is set
func loadConfig() (batchtx.Config, error) {
	if configPath == "" {
		return batchtx.DefaultConfig(), nil
	}
	return batchtx.LoadConfig(configPath)
}

func newLogger(w io.Writer, cfg batchtx.Config) logging.Logger {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	return logging.NewJSONLogger(w, logging.ParseLevel(level))
}

// printInfo prints an info message if not in quiet mode
func printInfo(w io.Writer, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
