package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MontBlanc-69/onitu/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show synced services and per-file sync state",
		Long: `Display the resolved services snapshot and the
sync state (owners vs. up-to-date) of every tracked file.`,
		RunE: runStatus,
	}
}

type fileStatusJSON struct {
	Fid      string   `json:"fid"`
	Folder   string   `json:"folder"`
	Filename string   `json:"filename"`
	Size     int64    `json:"size"`
	Owners   []string `json:"owners"`
	Uptodate []string `json:"uptodate"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
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

	routers, err := db.ListDriverRouters(ctx)
	if err != nil {
		return fmt.Errorf("listing driver routers: %w", err)
	}

	records, err := db.ListFileRecords(ctx)
	if err != nil {
		return fmt.Errorf("listing file records: %w", err)
	}

	if flagJSON {
		return printStatusJSON(services, records)
	}

	printServicesTable(services, routers)
	fmt.Println()
	printFilesTable(records)

	return nil
}

func printServicesTable(services map[string]store.ServiceConfig, routers []store.DriverRouter) {
	addrByDriver := make(map[string]string, len(routers))
	for _, r := range routers {
		addrByDriver[r.Driver] = r.Addr
	}

	headers := []string{"SERVICE", "DRIVER", "FOLDERS", "ROUTER"}
	rows := make([][]string, 0, len(services))

	for name, svc := range services {
		addr := addrByDriver[name]
		if addr == "" {
			addr = "-"
		}

		rows = append(rows, []string{name, svc.Driver, fmt.Sprint(svc.Folders), addr})
	}

	printTable(os.Stdout, headers, rows)
}

func printFilesTable(records []*store.FileRecord) {
	headers := []string{"FID", "PATH", "SIZE", "OWNERS", "UPTODATE"}
	rows := make([][]string, len(records))

	for i, rec := range records {
		path := rec.Folder + "/" + rec.Filename
		rows[i] = []string{
			rec.Fid.String()[:8],
			path,
			formatSize(rec.Size),
			fmt.Sprint(rec.Owners),
			fmt.Sprint(rec.Uptodate),
		}
	}

	printTable(os.Stdout, headers, rows)
}

func printStatusJSON(services map[string]store.ServiceConfig, records []*store.FileRecord) error {
	files := make([]fileStatusJSON, len(records))
	for i, rec := range records {
		files[i] = fileStatusJSON{
			Fid:      rec.Fid.String(),
			Folder:   rec.Folder,
			Filename: rec.Filename,
			Size:     rec.Size,
			Owners:   rec.Owners,
			Uptodate: rec.Uptodate,
		}
	}

	out := struct {
		Services map[string]store.ServiceConfig `json:"services"`
		Files    []fileStatusJSON                `json:"files"`
	}{Services: services, Files: files}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
