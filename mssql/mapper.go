package mssql

import (
	"fmt"
	"time"

	"github.com/golang-sql/civil"
	mssqldb "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"

	"github.com/ha1tch/nusql/pkg/errors"
	"github.com/ha1tch/nusql/pkg/value"
)

// MapCell converts one driver cell into a generic value. The mapping is
// total: every cell produces exactly one value. When a cell cannot be
// decoded for its declared column type, MapCell returns a diagnostic
// placeholder string together with a non-nil error; the caller may log
// the error but the row is still usable.
//
// NULL maps to the null variant regardless of the declared column type.
func MapCell(cell interface{}, col Column) (value.Value, error) {
	if cell == nil {
		return value.Null(), nil
	}

	switch col.Tag {
	case TagTinyInt, TagSmallInt, TagInt, TagBigInt:
		if i, ok := asInt64(cell); ok {
			return value.Int(i), nil
		}

	case TagBit:
		switch v := cell.(type) {
		case bool:
			return value.Bool(v), nil
		case int64:
			return value.Bool(v != 0), nil
		}

	case TagReal, TagFloat:
		switch v := cell.(type) {
		case float64:
			return value.Float(v), nil
		case float32:
			return value.Float(float64(v)), nil
		}

	case TagDecimal, TagMoney:
		// The driver surfaces exact numerics as their textual form.
		// Parsing that text keeps the declared scale intact; routing
		// through float64 would not.
		if text, ok := asString(cell); ok {
			d, err := decimal.NewFromString(text)
			if err == nil {
				return value.Decimal(d), nil
			}
			return placeholder(col), errors.Wrapf(err, errors.ErrCodeUnmappableCell,
				"column %q: bad decimal text %q", col.Name, text)
		}

	case TagChar, TagNChar, TagXML:
		if text, ok := asString(cell); ok {
			return value.String(text), nil
		}

	case TagBinary:
		if b, ok := cell.([]byte); ok {
			return value.Binary(b), nil
		}

	case TagDate:
		if t, ok := cell.(time.Time); ok {
			return value.Date(civil.DateOf(t)), nil
		}

	case TagTime:
		if t, ok := cell.(time.Time); ok {
			return value.Time(civil.TimeOf(t)), nil
		}

	case TagSmallDateTime, TagDateTime, TagDateTime2:
		// No timezone on the wire: keep the timestamp naive.
		if t, ok := cell.(time.Time); ok {
			return value.NaiveDateTime(t), nil
		}

	case TagDateTimeOffset:
		// The driver preserves the server-sent offset in the Location.
		if t, ok := cell.(time.Time); ok {
			return value.AwareDateTime(t), nil
		}

	case TagGUID:
		switch v := cell.(type) {
		case []byte:
			var u mssqldb.UniqueIdentifier
			if err := u.Scan(v); err == nil {
				return value.String(u.String()), nil
			}
		case string:
			return value.String(v), nil
		}

	case TagVariant:
		// sql_variant carries its own type per cell; map by the Go type
		// the driver produced.
		return mapVariant(cell, col)

	case TagUnknown:
		return placeholder(col), errors.Newf(errors.ErrCodeUnsupportedType,
			"column %q: unsupported type %s", col.Name, col.TypeName)
	}

	return placeholder(col), errors.Newf(errors.ErrCodeUnmappableCell,
		"column %q: cannot map %T as %s", col.Name, cell, col.Tag)
}

// mapVariant maps a sql_variant cell by the concrete Go type.
func mapVariant(cell interface{}, col Column) (value.Value, error) {
	switch v := cell.(type) {
	case bool:
		return value.Bool(v), nil
	case int64:
		return value.Int(v), nil
	case float64:
		return value.Float(v), nil
	case string:
		return value.String(v), nil
	case []byte:
		return value.Binary(v), nil
	case time.Time:
		return value.NaiveDateTime(v), nil
	default:
		return placeholder(col), errors.Newf(errors.ErrCodeUnmappableCell,
			"column %q: cannot map variant %T", col.Name, cell)
	}
}

// placeholder is the documented non-fatal fallback for cells the mapper
// cannot decode: a single bad column must not abort the result set.
func placeholder(col Column) value.Value {
	return value.String(fmt.Sprintf("<unsupported:%s>", col.TypeName))
}

func asInt64(cell interface{}) (int64, bool) {
	switch v := cell.(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	case int8:
		return int64(v), true
	case uint8:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}

func asString(cell interface{}) (string, bool) {
	switch v := cell.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}
