package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MontBlanc-69/onitu/internal/fid"
)

var flagVerifyService string

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify --service <name>",
		Short: "Verify a localfs service's files against the metadata store",
		Long: `Walk a localfs service's root and compare each file's actual size
against the size recorded in its file record, reporting files that are
missing from the store, or whose on-disk size no longer matches.

Exit code 0 if all files verify; exit code 1 if any mismatches are found.`,
		RunE: runVerify,
	}

	cmd.Flags().StringVar(&flagVerifyService, "service", "", "name of the localfs service to verify")
	_ = cmd.MarkFlagRequired("service")

	return cmd
}

type verifyMismatch struct {
	Path     string `json:"path"`
	Status   string `json:"status"`
	Expected int64  `json:"expected,omitempty"`
	Actual   int64  `json:"actual,omitempty"`
}

type verifyReport struct {
	Verified   int              `json:"verified"`
	Mismatches []verifyMismatch `json:"mismatches"`
}

func runVerify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	services, err := db.GetServices(ctx)
	if err != nil {
		return fmt.Errorf("loading services snapshot: %w", err)
	}

	svc, ok := services[flagVerifyService]
	if !ok {
		return fmt.Errorf("no service named %q", flagVerifyService)
	}

	if svc.Driver != "localfs" {
		return fmt.Errorf("verify only supports localfs services, %q is %q", flagVerifyService, svc.Driver)
	}

	root := svc.Options["root"]
	if root == "" {
		return fmt.Errorf("service %q has no options.root", flagVerifyService)
	}

	report := &verifyReport{}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		folder, filename := splitRelPath(rel)

		f := fid.New(folder, filename)

		rec, found, err := db.GetFileRecord(ctx, f)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", rel, err)
		}

		if !found {
			report.Mismatches = append(report.Mismatches, verifyMismatch{Path: rel, Status: "untracked"})
			return nil
		}

		if rec.Size != info.Size() {
			report.Mismatches = append(report.Mismatches, verifyMismatch{
				Path: rel, Status: "size_mismatch", Expected: rec.Size, Actual: info.Size(),
			})
			return nil
		}

		report.Verified++

		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", root, err)
	}

	if flagJSON {
		if err := printVerifyJSON(report); err != nil {
			return err
		}
	} else {
		printVerifyTable(report)
	}

	if len(report.Mismatches) > 0 {
		os.Exit(1)
	}

	return nil
}

// splitRelPath turns a slash-or-OS-separated relative path into the
// (folder, filename) pair fid.New expects: the root itself maps to
// folder "", matching the convention every driver adapter uses for a
// top-level file.
func splitRelPath(rel string) (folder, filename string) {
	folder, filename = filepath.Split(rel)
	folder = filepath.ToSlash(filepath.Clean(folder))

	if folder == "." {
		folder = ""
	}

	return folder, filename
}

func printVerifyJSON(report *verifyReport) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printVerifyTable(report *verifyReport) {
	fmt.Printf("Verified: %d files\n", report.Verified)

	if len(report.Mismatches) == 0 {
		fmt.Println("All files verified successfully.")
		return
	}

	fmt.Printf("Mismatches: %d\n\n", len(report.Mismatches))

	headers := []string{"PATH", "STATUS", "EXPECTED", "ACTUAL"}
	rows := make([][]string, len(report.Mismatches))

	for i, m := range report.Mismatches {
		rows[i] = []string{m.Path, m.Status, fmt.Sprint(m.Expected), fmt.Sprint(m.Actual)}
	}

	printTable(os.Stdout, headers, rows)
}
