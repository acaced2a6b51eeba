package main

import (
	"github.com/spf13/cobra"

	"github.com/deltakernel/deltakernel/errs"
	"github.com/deltakernel/deltakernel/parquetio"
	"github.com/deltakernel/deltakernel/table"
)

var (
	mergeRowsPath string
	mergeKey      string
)

// mergeCmd implements the common upsert-by-key shape of Merge: an incoming
// row replaces the existing row sharing its key column, or is inserted if no
// existing row matches. Merge's match/whenMatched/whenNotMatched parameters
// are Go functions, not data, so the CLI can only expose this one concrete
// instantiation rather than an arbitrary merge condition.
var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Upsert rows by a key column",
	RunE: func(cmd *cobra.Command, args []string) error {
		if mergeKey == "" {
			return errs.Validation("merge: --key is required")
		}
		ctx := cmd.Context()
		tbl, err := openTable(ctx)
		if err != nil {
			return err
		}
		rows, err := readRows(mergeRowsPath)
		if err != nil {
			return err
		}

		match := func(existing, incoming parquetio.Row) bool {
			return table.FormatKey(existing[mergeKey]) == table.FormatKey(incoming[mergeKey])
		}
		whenMatched := func(existing, incoming parquetio.Row) parquetio.Row { return incoming }
		whenNotMatched := func(incoming parquetio.Row) parquetio.Row { return incoming }

		result, err := tbl.Merge(ctx, rows, match, whenMatched, whenNotMatched)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	mergeCmd.Flags().StringVar(&mergeRowsPath, "rows", "-", "path to a JSON array of rows, or - for stdin")
	mergeCmd.Flags().StringVar(&mergeKey, "key", "", "column both sides are matched on (required)")
}
