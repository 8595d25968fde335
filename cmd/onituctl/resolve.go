package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <driver> <local-name>",
		Short: "Clear a recorded naming conflict",
		Long: `Clear a conflict entry recorded against a service. Use this once the
backend-assigned name has been accepted and no longer needs tracking —
e.g. after manually renaming the file to match.`,
		Args: cobra.ExactArgs(2), //nolint:mnd // (driver, local-name)
		RunE: runResolve,
	}

	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	driver, localName := args[0], args[1]

	ctx := cmd.Context()

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	entry, ok, err := db.GetConflict(ctx, driver, localName)
	if err != nil {
		return fmt.Errorf("looking up conflict: %w", err)
	}

	if !ok {
		return fmt.Errorf("no conflict recorded for %s/%s", driver, localName)
	}

	if err := db.DeleteConflict(ctx, driver, localName); err != nil {
		return fmt.Errorf("clearing conflict: %w", err)
	}

	fmt.Printf("Cleared conflict: %s/%s was mapped to %q\n", driver, localName, entry.RemoteName)

	return nil
}
