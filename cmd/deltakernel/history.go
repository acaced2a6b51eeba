package main

import (
	"github.com/spf13/cobra"

	"github.com/deltakernel/deltakernel/action"
	"github.com/deltakernel/deltakernel/errs"
)

var historyLimit int

// historyEntry is one version's audit record, read straight off its
// commitInfo action rather than a dedicated history index.
type historyEntry struct {
	Version             int64             `json:"version"`
	Timestamp           int64             `json:"timestamp"`
	Operation           string            `json:"operation"`
	OperationParameters map[string]string `json:"operationParameters,omitempty"`
	ReadVersion         int64             `json:"readVersion"`
	IsBlindAppend       bool              `json:"isBlindAppend"`
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List commitInfo records for the most recent versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tbl, err := openTable(ctx)
		if err != nil {
			return err
		}
		snap, err := tbl.Snapshot(ctx)
		if err != nil {
			return err
		}

		from := int64(0)
		if historyLimit > 0 && snap.Version-int64(historyLimit)+1 > from {
			from = snap.Version - int64(historyLimit) + 1
		}

		entries := []historyEntry{}
		for v := snap.Version; v >= from; v-- {
			commitPath, err := action.CommitPath(v)
			if err != nil {
				return err
			}
			body, err := tbl.Backend().Read(ctx, tbl.TablePath()+"/"+commitPath)
			if err != nil {
				return errs.Wrap(errs.KindStorage, err, "read commit "+commitPath)
			}
			for _, line := range action.DecodeCommit(body) {
				if line.Err != nil {
					return errs.Wrap(errs.KindValidation, line.Err, "decode commit "+commitPath)
				}
				if line.Action.CommitInfo == nil {
					continue
				}
				ci := line.Action.CommitInfo
				entries = append(entries, historyEntry{
					Version:             v,
					Timestamp:           ci.Timestamp,
					Operation:           ci.Operation,
					OperationParameters: ci.OperationParameters,
					ReadVersion:         ci.ReadVersion,
					IsBlindAppend:       ci.IsBlindAppend,
				})
			}
		}
		return printJSON(entries)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of most recent versions to show, 0 for all")
}
