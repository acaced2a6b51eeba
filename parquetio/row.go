package parquetio

import (
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/deltakernel/deltakernel/errs"
)

// Row is one logical table row, keyed by column name. Values must match
// their Schema column's type: int64, float64, string, bool, []byte, or
// time.Time for TypeTimestamp.
type Row map[string]any

func rowToParquet(schema Schema, row Row) (parquet.Row, error) {
	values := make([]parquet.Value, 0, len(schema.Columns))
	for i, col := range schema.Columns {
		raw, present := row[col.Name]
		if !present || raw == nil {
			if !col.Nullable {
				return nil, errs.Validationf("parquetio: column %q is required", col.Name)
			}
			values = append(values, parquet.ValueOf(nil).Level(0, 0, i))
			continue
		}
		v, err := toParquetValue(col, raw)
		if err != nil {
			return nil, err
		}
		values = append(values, v.Level(0, 1, i))
	}
	return parquet.Row(values), nil
}

func toParquetValue(col Column, raw any) (parquet.Value, error) {
	switch col.Type {
	case TypeInt64:
		v, ok := raw.(int64)
		if !ok {
			return parquet.Value{}, errs.Validationf("parquetio: column %q: expected int64, got %T", col.Name, raw)
		}
		return parquet.ValueOf(v), nil
	case TypeTimestamp:
		switch v := raw.(type) {
		case time.Time:
			return parquet.ValueOf(v.UnixNano()), nil
		case int64:
			return parquet.ValueOf(v), nil
		default:
			return parquet.Value{}, errs.Validationf("parquetio: column %q: expected time.Time or int64, got %T", col.Name, raw)
		}
	case TypeDouble:
		v, ok := raw.(float64)
		if !ok {
			return parquet.Value{}, errs.Validationf("parquetio: column %q: expected float64, got %T", col.Name, raw)
		}
		return parquet.ValueOf(v), nil
	case TypeString:
		v, ok := raw.(string)
		if !ok {
			return parquet.Value{}, errs.Validationf("parquetio: column %q: expected string, got %T", col.Name, raw)
		}
		return parquet.ValueOf(v), nil
	case TypeBoolean:
		v, ok := raw.(bool)
		if !ok {
			return parquet.Value{}, errs.Validationf("parquetio: column %q: expected bool, got %T", col.Name, raw)
		}
		return parquet.ValueOf(v), nil
	case TypeBinary:
		v, ok := raw.([]byte)
		if !ok {
			return parquet.Value{}, errs.Validationf("parquetio: column %q: expected []byte, got %T", col.Name, raw)
		}
		return parquet.ValueOf(v), nil
	default:
		return parquet.Value{}, errs.Validationf("parquetio: unknown column type %q", col.Type)
	}
}

func parquetToRow(schema Schema, pr parquet.Row) (Row, error) {
	row := make(Row, len(schema.Columns))
	for _, v := range pr {
		idx := v.Column()
		if idx < 0 || idx >= len(schema.Columns) {
			continue
		}
		col := schema.Columns[idx]
		if v.IsNull() {
			continue
		}
		val, err := fromParquetValue(col, v)
		if err != nil {
			return nil, err
		}
		row[col.Name] = val
	}
	return row, nil
}

func fromParquetValue(col Column, v parquet.Value) (any, error) {
	switch col.Type {
	case TypeInt64:
		return v.Int64(), nil
	case TypeTimestamp:
		return time.Unix(0, v.Int64()).UTC(), nil
	case TypeDouble:
		return v.Double(), nil
	case TypeString:
		return v.String(), nil
	case TypeBoolean:
		return v.Boolean(), nil
	case TypeBinary:
		return v.ByteArray(), nil
	default:
		return nil, errs.Validationf("parquetio: unknown column type %q", col.Type)
	}
}
