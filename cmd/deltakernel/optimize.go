package main

import (
	"github.com/spf13/cobra"

	"github.com/deltakernel/deltakernel/optimize"
)

var (
	compactStrategy        string
	compactTargetFileSize  int64
	compactVerifyIntegrity bool
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Bin-pack small files into fewer, larger ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tbl, err := openTable(ctx)
		if err != nil {
			return err
		}
		result, err := optimize.New(tbl).Compact(ctx, optimize.CompactOptions{
			TargetFileSize:  compactTargetFileSize,
			Strategy:        optimize.Strategy(compactStrategy),
			VerifyIntegrity: compactVerifyIntegrity,
		})
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var (
	dedupExact       bool
	dedupKeepStrat   string
	dedupOrderByCol  string
)

var deduplicateCmd = &cobra.Command{
	Use:   "deduplicate",
	Short: "Drop duplicate rows by primary key or full-row hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tbl, err := openTable(ctx)
		if err != nil {
			return err
		}
		result, err := optimize.New(tbl).Deduplicate(ctx, optimize.DeduplicateOptions{
			ExactDuplicates: dedupExact,
			KeepStrategy:    optimize.KeepStrategy(dedupKeepStrat),
			OrderByColumn:   dedupOrderByCol,
		})
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var (
	clusterColumns []string
	clusterMethod  string
	clusterBits    int
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Z-order or Hilbert-curve cluster rows for better data skipping",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tbl, err := openTable(ctx)
		if err != nil {
			return err
		}
		result, err := optimize.New(tbl).Cluster(ctx, optimize.ClusterOptions{
			Columns:      clusterColumns,
			Method:       optimize.ClusterMethod(clusterMethod),
			QuantizeBits: clusterBits,
		})
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	compactCmd.Flags().StringVar(&compactStrategy, "strategy", string(optimize.StrategyBinPacking), "bin-packing | greedy | sort-by-size")
	compactCmd.Flags().Int64Var(&compactTargetFileSize, "target-file-size", 0, "defaults to the table's configured target file size")
	compactCmd.Flags().BoolVar(&compactVerifyIntegrity, "verify-integrity", false, "recompute row count and a checksum before committing")

	deduplicateCmd.Flags().BoolVar(&dedupExact, "exact", false, "group by a full-row hash instead of the primary key")
	deduplicateCmd.Flags().StringVar(&dedupKeepStrat, "keep", string(optimize.KeepFirst), "first | last | latest")
	deduplicateCmd.Flags().StringVar(&dedupOrderByCol, "order-by", "", "column compared for --keep=latest")

	clusterCmd.Flags().StringSliceVar(&clusterColumns, "columns", nil, "columns to cluster on")
	clusterCmd.Flags().StringVar(&clusterMethod, "method", string(optimize.MethodZOrder), "zorder | hilbert")
	clusterCmd.Flags().IntVar(&clusterBits, "bits", 0, "quantization bits per column, defaults to 21")
}
