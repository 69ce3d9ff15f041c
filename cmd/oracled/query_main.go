package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stratoquery/oracle/internal/domain"
)

// runQuery executes a single query and prints the consensus result
func runQuery(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	methodToken, _ := cmd.Flags().GetString("method")
	sourcesFlag, _ := cmd.Flags().GetString("sources")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	configureLogging(cfg.Log)

	opts := domain.Options{Timeout: timeout}
	if methodToken != "" {
		method, err := domain.ParseMethod(methodToken)
		if err != nil {
			return err
		}
		opts.ConsensusMethod = method
	}
	if sourcesFlag != "" {
		for _, s := range strings.Split(sourcesFlag, ",") {
			if s = strings.TrimSpace(s); s != "" {
				opts.Sources = append(opts.Sources, s)
			}
		}
	}

	app, err := buildApp(cfg, log.Logger)
	if err != nil {
		return err
	}
	defer app.close()

	text := strings.Join(args, " ")
	result, err := app.router.Query(context.Background(), text, opts)
	if err != nil {
		return err
	}

	if asJSON {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Value:      %s\n", result.Value.String())
	fmt.Printf("Confidence: %.2f\n", result.Confidence)
	fmt.Printf("Method:     %s\n", result.Method)
	fmt.Printf("Sources:    %s\n", strings.Join(result.Sources, ", "))
	return nil
}
