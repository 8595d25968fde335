// Command onituctl validates a config file and inspects and administers
// a running onitu deployment: the resolved services/rules snapshot,
// per-file sync status, and outstanding naming conflicts, each a cobra
// subcommand reading the shared metadata store any
// onitu-driver/-referee/-broker process writes to. onituctl never
// mutates sync state directly, only the conflict map.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	flagConfigPath string
	flagDataDir    string
	flagJSON       bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "onituctl",
		Short:   "Inspect and administer an onitu deployment",
		Version: version,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "state database directory (default: platform data dir)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")

	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newVerifyCmd())

	return cmd
}
