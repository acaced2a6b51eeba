package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/deltakernel/deltakernel/zonemap"
)

var readFilterPath string

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read rows matching an optional filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tbl, err := openTable(ctx)
		if err != nil {
			return err
		}
		filter, err := readFilter(readFilterPath)
		if err != nil {
			return err
		}
		rows, err := tbl.Read(ctx, filter)
		if err != nil {
			return err
		}
		return printJSON(rows)
	},
}

func init() {
	readCmd.Flags().StringVar(&readFilterPath, "filter", "", "path to a JSON zonemap.Filter document, or - for stdin; omit to read every row")
}

// readFilter decodes an optional zonemap.Filter; an empty path means no
// filter at all, matching Table.Read's "nil/empty filter returns every row".
func readFilter(path string) (zonemap.Filter, error) {
	if path == "" {
		return nil, nil
	}
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	var filter zonemap.Filter
	if err := json.Unmarshal(data, &filter); err != nil {
		return nil, err
	}
	return filter, nil
}
