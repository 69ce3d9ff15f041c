package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "oracled"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Multi-source oracle daemon",
		Version: version,
		Long: `oracled fans queries out to independent data providers, reconciles their
answers into a single consensus value and appends an audit record to an
append-only ledger topic.

Run 'oracled serve' for the HTTP API or 'oracled query' for one-shot use.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the oracle HTTP server",
		Long:  "Starts the HTTP API with /v1/query, /v1/providers, /v1/health, /v1/events and /metrics endpoints",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Path to YAML config file (defaults apply when omitted)")

	queryCmd := &cobra.Command{
		Use:   "query [text...]",
		Short: "Run a single oracle query and print the consensus result",
		Long:  "Fans the query out to the eligible providers, prints the consensus value and exits",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().String("config", "", "Path to YAML config file (defaults apply when omitted)")
	queryCmd.Flags().String("method", "", "Consensus method (median|weighted_average|majority_vote|confidence_weighted)")
	queryCmd.Flags().String("sources", "", "Comma-separated provider override")
	queryCmd.Flags().Duration("timeout", 0, "Per-provider fetch deadline (default from config)")
	queryCmd.Flags().Bool("json", false, "Print the full consensus result as JSON")

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List built-in providers and their configured state",
		RunE:  runProviders,
	}
	providersCmd.Flags().String("config", "", "Path to YAML config file (defaults apply when omitted)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(providersCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
