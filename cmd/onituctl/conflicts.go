package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MontBlanc-69/onitu/internal/store"
)

var flagConflictsDriver string

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List outstanding backend-assigned naming conflicts",
		Long: `Display every recorded conflict entry: a
name a backend assigned that differs from the one Onitu requested.

Without --driver, lists conflicts for every published service.`,
		RunE: runConflicts,
	}

	cmd.Flags().StringVar(&flagConflictsDriver, "driver", "", "limit to one service's conflicts")

	return cmd
}

type conflictJSON struct {
	Driver     string `json:"driver"`
	LocalName  string `json:"local_name"`
	RemoteName string `json:"remote_name"`
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	drivers, err := conflictDrivers(ctx, db)
	if err != nil {
		return err
	}

	var entries []conflictJSON

	for _, driver := range drivers {
		list, err := db.ListConflicts(ctx, driver)
		if err != nil {
			return fmt.Errorf("listing conflicts for %s: %w", driver, err)
		}

		for _, ce := range list {
			entries = append(entries, conflictJSON{Driver: driver, LocalName: ce.LocalName, RemoteName: ce.RemoteName})
		}
	}

	if len(entries) == 0 {
		fmt.Println("No outstanding conflicts.")
		return nil
	}

	if flagJSON {
		return printConflictsJSON(entries)
	}

	printConflictsTable(entries)

	return nil
}

func conflictDrivers(ctx context.Context, db *store.DB) ([]string, error) {
	if flagConflictsDriver != "" {
		return []string{flagConflictsDriver}, nil
	}

	services, err := db.GetServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading services snapshot: %w", err)
	}

	drivers := make([]string, 0, len(services))
	for name := range services {
		drivers = append(drivers, name)
	}

	return drivers, nil
}

func printConflictsJSON(entries []conflictJSON) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printConflictsTable(entries []conflictJSON) {
	headers := []string{"DRIVER", "LOCAL_NAME", "REMOTE_NAME"}
	rows := make([][]string, len(entries))

	for i, e := range entries {
		rows[i] = []string{e.Driver, e.LocalName, e.RemoteName}
	}

	printTable(os.Stdout, headers, rows)
}
