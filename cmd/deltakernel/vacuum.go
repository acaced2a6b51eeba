package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/deltakernel/deltakernel/vacuum"
)

var (
	vacuumRetention time.Duration
	vacuumDryRun    bool
)

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Delete tombstoned files past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tbl, err := openTable(ctx)
		if err != nil {
			return err
		}
		v := vacuum.New(tbl.Backend(), tbl.TablePath(), tbl.Engine())
		result, err := v.Run(ctx, vacuum.Options{Retention: vacuumRetention, DryRun: vacuumDryRun})
		if err != nil {
			return err
		}
		return printJSON(struct {
			*vacuum.Result
			HumanBytesReclaimed string `json:"humanBytesReclaimed"`
		}{result, result.HumanBytesReclaimed()})
	},
}

func init() {
	vacuumCmd.Flags().DurationVar(&vacuumRetention, "retention", vacuum.DefaultRetention, "tombstone retention window")
	vacuumCmd.Flags().BoolVar(&vacuumDryRun, "dry-run", false, "report what would be deleted without deleting")
}
