package main

import (
	"github.com/spf13/cobra"

	"github.com/deltakernel/deltakernel/errs"
)

var deleteFilterPath string

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete rows matching a filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		if deleteFilterPath == "" {
			return errs.Validation("delete: --filter is required")
		}
		ctx := cmd.Context()
		tbl, err := openTable(ctx)
		if err != nil {
			return err
		}
		filter, err := readFilter(deleteFilterPath)
		if err != nil {
			return err
		}
		result, err := tbl.Delete(ctx, filter)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	deleteCmd.Flags().StringVar(&deleteFilterPath, "filter", "", "path to a JSON zonemap.Filter document, or - for stdin (required)")
}
