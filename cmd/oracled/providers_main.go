package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stratoquery/oracle/internal/provider"
)

// runProviders prints the built-in providers with their effective settings
func runProviders(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	fmt.Printf("%-14s %-9s %-7s %-12s %s\n", "PROVIDER", "ENABLED", "WEIGHT", "RELIABILITY", "LATENCY")
	for _, name := range provider.BuiltinNames() {
		pcfg, listed := cfg.Providers[name]
		enabled := !listed || pcfg.Enabled

		p, err := provider.Build(name, provider.Config{
			BaseURL:     pcfg.BaseURL,
			APIKey:      pcfg.APIKey,
			Weight:      pcfg.Weight,
			Reliability: pcfg.Reliability,
		}, zerolog.Nop())
		if err != nil {
			return err
		}

		fmt.Printf("%-14s %-9t %-7.2f %-12.2f %s\n",
			name, enabled, p.Weight(), p.Reliability(), p.LatencyEstimate())
	}
	return nil
}
