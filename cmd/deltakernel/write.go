package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/deltakernel/deltakernel/parquetio"
	"github.com/deltakernel/deltakernel/storage"
	"github.com/deltakernel/deltakernel/table"
)

var (
	writeRowsPath    string
	writeCreate      bool
	writeSchemaPath  string
	writePartitionBy []string
	writePrimaryKey  string
	writeCDC         bool
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write rows to a table, creating it first with --create",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		backend, err := storage.New(backendURL)
		if err != nil {
			return err
		}

		var tbl *table.Table
		if writeCreate {
			schemaData, err := readInput(writeSchemaPath)
			if err != nil {
				return err
			}
			var schema parquetio.Schema
			if err := json.Unmarshal(schemaData, &schema); err != nil {
				return err
			}
			tbl, err = table.Create(ctx, backend, tablePath, table.CreateConfig{
				Schema:           schema,
				PartitionColumns: writePartitionBy,
				PrimaryKeyColumn: writePrimaryKey,
				CDCEnabled:       writeCDC,
			})
			if err != nil {
				return err
			}
		} else {
			tbl, err = table.Open(ctx, backend, tablePath)
			if err != nil {
				return err
			}
		}

		rows, err := readRows(writeRowsPath)
		if err != nil {
			return err
		}
		result, err := tbl.Write(ctx, rows)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	writeCmd.Flags().StringVar(&writeRowsPath, "rows", "-", "path to a JSON array of rows, or - for stdin")
	writeCmd.Flags().BoolVar(&writeCreate, "create", false, "create the table before writing")
	writeCmd.Flags().StringVar(&writeSchemaPath, "schema", "-", "path to a JSON parquetio.Schema, or - for stdin (with --create)")
	writeCmd.Flags().StringSliceVar(&writePartitionBy, "partition-by", nil, "partition column names (with --create)")
	writeCmd.Flags().StringVar(&writePrimaryKey, "primary-key", "", "primary key column (with --create)")
	writeCmd.Flags().BoolVar(&writeCDC, "cdc", false, "enable CDC on table creation (with --create)")
}
