package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/MontBlanc-69/onitu/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without starting any service",
		Long: `Parse the config file (--config, or the platform default), reject
unknown keys, and check every service/rule/logging/fabric value. Prints
the resolved services and routing table on success.`,
		RunE: runValidate,
	}
}

func runValidate(_ *cobra.Command, _ []string) error {
	path := flagConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path, discardLogger())
	if err != nil {
		return err
	}

	if flagJSON {
		return printValidateJSON(path, cfg)
	}

	fmt.Printf("config OK: %s\n\n", path)
	printConfigServicesTable(cfg)
	fmt.Println()
	printConfigRulesTable(cfg)

	return nil
}

func printConfigServicesTable(cfg *config.Config) {
	names := make([]string, 0, len(cfg.Services))
	for name := range cfg.Services {
		names = append(names, name)
	}

	sort.Strings(names)

	headers := []string{"SERVICE", "DRIVER", "FOLDERS"}
	rows := make([][]string, 0, len(names))

	for _, name := range names {
		svc := cfg.Services[name]
		rows = append(rows, []string{name, svc.Driver, fmt.Sprint(svc.Folders)})
	}

	printTable(os.Stdout, headers, rows)
}

func printConfigRulesTable(cfg *config.Config) {
	headers := []string{"MATCH", "SYNC", "MODE"}
	rows := make([][]string, len(cfg.Rules))

	for i, r := range cfg.Rules {
		rows[i] = []string{r.Match, fmt.Sprint(r.Sync), r.Mode}
	}

	printTable(os.Stdout, headers, rows)
}

func printValidateJSON(path string, cfg *config.Config) error {
	out := struct {
		Path     string                    `json:"path"`
		Services map[string]config.Service `json:"services"`
		Rules    []config.RoutingRule      `json:"rules"`
	}{Path: path, Services: cfg.Services, Rules: cfg.Rules}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
