// Package mssql implements the query execution and type mapping bridge:
// it drives parameterized queries through the SQL Server driver, exposes
// the column schema before any row is read, and streams rows into the
// generic value model with exact type fidelity.
package mssql

import (
	"database/sql"
	"strings"
)

// TypeTag classifies a SQL Server column type for mapping purposes.
// Tags group driver type names by how their cells decode, not by wire
// representation: char/varchar/text all carry text, binary/varbinary/image
// all carry bytes.
type TypeTag uint8

const (
	TagUnknown TypeTag = iota

	// Integer family, widened to int64 on mapping
	TagTinyInt
	TagSmallInt
	TagInt
	TagBigInt

	TagBit

	// Binary floating point
	TagReal
	TagFloat

	// Exact fixed point (decimal, numeric, money, smallmoney)
	TagDecimal
	TagMoney

	// Character data
	TagChar
	TagNChar

	// Binary data
	TagBinary

	// Date and time family
	TagDate
	TagTime
	TagSmallDateTime
	TagDateTime
	TagDateTime2
	TagDateTimeOffset

	TagGUID
	TagXML
	TagVariant
)

// ParseTypeTag maps a driver-reported type name (ColumnType.DatabaseTypeName)
// to a TypeTag. Unrecognized names map to TagUnknown, which the mapper
// degrades to a diagnostic placeholder rather than failing the row.
func ParseTypeTag(name string) TypeTag {
	switch strings.ToUpper(name) {
	case "TINYINT":
		return TagTinyInt
	case "SMALLINT":
		return TagSmallInt
	case "INT":
		return TagInt
	case "BIGINT":
		return TagBigInt
	case "BIT":
		return TagBit
	case "REAL":
		return TagReal
	case "FLOAT":
		return TagFloat
	case "DECIMAL", "NUMERIC":
		return TagDecimal
	case "MONEY", "SMALLMONEY":
		return TagMoney
	case "CHAR", "VARCHAR", "TEXT":
		return TagChar
	case "NCHAR", "NVARCHAR", "NTEXT":
		return TagNChar
	case "BINARY", "VARBINARY", "IMAGE", "TIMESTAMP", "ROWVERSION":
		return TagBinary
	case "DATE":
		return TagDate
	case "TIME":
		return TagTime
	case "SMALLDATETIME":
		return TagSmallDateTime
	case "DATETIME":
		return TagDateTime
	case "DATETIME2":
		return TagDateTime2
	case "DATETIMEOFFSET":
		return TagDateTimeOffset
	case "UNIQUEIDENTIFIER":
		return TagGUID
	case "XML":
		return TagXML
	case "SQL_VARIANT":
		return TagVariant
	default:
		return TagUnknown
	}
}

func (t TypeTag) String() string {
	switch t {
	case TagTinyInt:
		return "TINYINT"
	case TagSmallInt:
		return "SMALLINT"
	case TagInt:
		return "INT"
	case TagBigInt:
		return "BIGINT"
	case TagBit:
		return "BIT"
	case TagReal:
		return "REAL"
	case TagFloat:
		return "FLOAT"
	case TagDecimal:
		return "DECIMAL"
	case TagMoney:
		return "MONEY"
	case TagChar:
		return "VARCHAR"
	case TagNChar:
		return "NVARCHAR"
	case TagBinary:
		return "VARBINARY"
	case TagDate:
		return "DATE"
	case TagTime:
		return "TIME"
	case TagSmallDateTime:
		return "SMALLDATETIME"
	case TagDateTime:
		return "DATETIME"
	case TagDateTime2:
		return "DATETIME2"
	case TagDateTimeOffset:
		return "DATETIMEOFFSET"
	case TagGUID:
		return "UNIQUEIDENTIFIER"
	case TagXML:
		return "XML"
	case TagVariant:
		return "SQL_VARIANT"
	default:
		return "UNKNOWN"
	}
}

// IsDateTime reports whether cells of this tag decode to a timestamp.
func (t TypeTag) IsDateTime() bool {
	switch t {
	case TagSmallDateTime, TagDateTime, TagDateTime2, TagDateTimeOffset:
		return true
	}
	return false
}

// Column describes one column of a result set.
type Column struct {
	Name      string
	TypeName  string // driver-reported name, kept for diagnostics
	Tag       TypeTag
	Nullable  bool
	Length    int64 // max length for variable types, 0 if not applicable
	Precision int64 // for decimal/numeric
	Scale     int64 // for decimal/numeric
}

// Schema is the ordered column layout of one result set, produced once
// per query before any row is read.
type Schema []Column

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// schemaFromColumnTypes builds a Schema from driver column metadata.
func schemaFromColumnTypes(cts []*sql.ColumnType) Schema {
	schema := make(Schema, len(cts))
	for i, ct := range cts {
		col := Column{
			Name:     ct.Name(),
			TypeName: ct.DatabaseTypeName(),
			Tag:      ParseTypeTag(ct.DatabaseTypeName()),
		}
		if nullable, ok := ct.Nullable(); ok {
			col.Nullable = nullable
		}
		if length, ok := ct.Length(); ok {
			col.Length = length
		}
		if precision, scale, ok := ct.DecimalSize(); ok {
			col.Precision = precision
			col.Scale = scale
		}
		schema[i] = col
	}
	return schema
}
