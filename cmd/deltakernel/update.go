package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/deltakernel/deltakernel/errs"
)

var (
	updateFilterPath string
	updateSetPath    string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update rows matching a filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		if updateFilterPath == "" || updateSetPath == "" {
			return errs.Validation("update: --filter and --set are both required")
		}
		ctx := cmd.Context()
		tbl, err := openTable(ctx)
		if err != nil {
			return err
		}
		filter, err := readFilter(updateFilterPath)
		if err != nil {
			return err
		}
		setData, err := readInput(updateSetPath)
		if err != nil {
			return err
		}
		var updates map[string]any
		if err := json.Unmarshal(setData, &updates); err != nil {
			return err
		}
		result, err := tbl.Update(ctx, filter, updates)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateFilterPath, "filter", "", "path to a JSON zonemap.Filter document, or - for stdin (required)")
	updateCmd.Flags().StringVar(&updateSetPath, "set", "", "path to a JSON object of column: newValue updates (required)")
}
