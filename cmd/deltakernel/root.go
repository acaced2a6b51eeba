package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/deltakernel/deltakernel/parquetio"
	"github.com/deltakernel/deltakernel/storage"
	"github.com/deltakernel/deltakernel/table"
)

var (
	backendURL string
	tablePath  string
)

var rootCmd = &cobra.Command{
	Use:           "deltakernel",
	Short:         "Inspect and mutate a deltakernel table from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "file://./data", "storage backend URL (file://, s3://, r2://, memory://)")
	rootCmd.PersistentFlags().StringVar(&tablePath, "table", "", "table path relative to the backend root")
	rootCmd.AddCommand(writeCmd, readCmd, updateCmd, deleteCmd, mergeCmd,
		compactCmd, deduplicateCmd, clusterCmd, vacuumCmd, historyCmd)
}

// openTable opens an existing table against the configured backend/table
// flags, the shared entrypoint every subcommand but `write --create` uses.
func openTable(ctx context.Context) (*table.Table, error) {
	backend, err := storage.New(backendURL)
	if err != nil {
		return nil, err
	}
	return table.Open(ctx, backend, tablePath)
}

// readRows decodes a JSON array of row objects from path, or stdin when
// path is "-".
func readRows(path string) ([]parquetio.Row, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	var decoded []map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, err
	}
	rows := make([]parquetio.Row, len(decoded))
	for i, r := range decoded {
		rows[i] = r
	}
	return rows, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" || path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
