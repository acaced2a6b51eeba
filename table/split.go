package table

import (
	"github.com/deltakernel/deltakernel/parquetio"
)

// partitionGroup is one exact-partitionValues group of rows awaiting write.
type partitionGroup struct {
	values map[string]string
	rows   []parquetio.Row
}

// groupByPartition splits rows into exact-partitionValues groups (§3
// "partitionValues ... must match the keys from metadata.partitionColumns
// exactly"). A table with no partition columns yields a single group.
func groupByPartition(rows []parquetio.Row, partitionColumns []string) []partitionGroup {
	if len(partitionColumns) == 0 {
		return []partitionGroup{{values: map[string]string{}, rows: rows}}
	}

	index := map[string]int{}
	var groups []*partitionGroup

	for _, row := range rows {
		values := make(map[string]string, len(partitionColumns))
		var keyParts string
		for _, col := range partitionColumns {
			v := hivePartitionValue(row[col])
			values[col] = v
			keyParts += col + "=" + v + "/"
		}
		idx, ok := index[keyParts]
		if !ok {
			idx = len(groups)
			index[keyParts] = idx
			groups = append(groups, &partitionGroup{values: values})
		}
		groups[idx].rows = append(groups[idx].rows, row)
	}

	out := make([]partitionGroup, len(groups))
	for i, g := range groups {
		out[i] = *g
	}
	return out
}

// writtenFile is one Parquet file produced by splitByTargetSize.
type writtenFile struct {
	rows      []parquetio.Row
	data      []byte
	rowGroups []parquetio.RowGroupStats
}

// splitByTargetSize writes rows as Parquet, recursively halving the row set
// whenever the encoded output exceeds targetSize, so no single file grows
// much past the target (§4.6/§4.8 "target size 128 MB"). A single row is
// always emitted as its own file regardless of size.
func splitByTargetSize(rows []parquetio.Row, schema parquetio.Schema, targetSize int64) ([]writtenFile, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	data, rowGroups, err := parquetio.Write(rows, schema, parquetio.WriteOptions{TargetRowGroupSize: 10_000})
	if err != nil {
		return nil, err
	}
	if int64(len(data)) <= targetSize || len(rows) == 1 {
		return []writtenFile{{rows: rows, data: data, rowGroups: rowGroups}}, nil
	}

	mid := len(rows) / 2
	left, err := splitByTargetSize(rows[:mid], schema, targetSize)
	if err != nil {
		return nil, err
	}
	right, err := splitByTargetSize(rows[mid:], schema, targetSize)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}
