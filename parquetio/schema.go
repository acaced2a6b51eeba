// Package parquetio implements the Parquet Adapter (§4.9/§6): the columnar
// read/write boundary between the engine's row-oriented table operations and
// Parquet files in object storage, including the row-group column
// statistics (min/max/null count) that feed the Zone-Map Filter. Grounded on
// the teacher's dynparquet package, which wraps the same underlying library
// (there segmentio/parquet-go, here its actively maintained fork) to move
// between dynamic rows and Parquet's columnar on-disk format; this package
// drops dynparquet's dynamic-column (multi-tenant label) machinery in favor
// of a single fixed schema per table version, since that's what §3's
// Metadata.schemaString describes.
package parquetio

import (
	"github.com/parquet-go/parquet-go"

	"github.com/deltakernel/deltakernel/errs"
)

// ColumnType is the set of logical types a table column can have.
type ColumnType string

const (
	TypeInt64     ColumnType = "long"
	TypeDouble    ColumnType = "double"
	TypeString    ColumnType = "string"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
	TypeBinary    ColumnType = "binary"
)

// Column describes one column of a table schema.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Schema is the engine's logical schema, independent of its Parquet
// encoding; it is derived from action.Metadata.SchemaString by the table
// package and handed to Write/Read.
type Schema struct {
	Columns []Column
}

func (s Schema) column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// toParquet builds the parquet.Schema this logical Schema corresponds to.
func (s Schema) toParquet() (*parquet.Schema, error) {
	group := parquet.Group{}
	for _, col := range s.Columns {
		node, err := columnNode(col.Type)
		if err != nil {
			return nil, err
		}
		if col.Nullable {
			node = parquet.Optional(node)
		}
		group[col.Name] = node
	}
	return parquet.NewSchema("row", group), nil
}

func columnNode(t ColumnType) (parquet.Node, error) {
	switch t {
	case TypeInt64, TypeTimestamp:
		return parquet.Leaf(parquet.Int64Type), nil
	case TypeDouble:
		return parquet.Leaf(parquet.DoubleType), nil
	case TypeString:
		return parquet.String(), nil
	case TypeBoolean:
		return parquet.Leaf(parquet.BooleanType), nil
	case TypeBinary:
		return parquet.Leaf(parquet.ByteArrayType), nil
	default:
		return nil, errs.Validationf("parquetio: unknown column type %q", t)
	}
}
