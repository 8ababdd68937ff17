// Package value defines the generic value tree handed to the host.
//
// A Value is a closed tagged union: every cell produced by the bridge is
// exactly one of the kinds below. The closed set gives the type mapper
// compile-time exhaustiveness over its cases, and the host wire encoding
// a fixed vocabulary.
//
// Numeric fidelity rules:
//   - integers are always widened to int64
//   - decimal/numeric columns carry an exact decimal.Decimal, never a float
//   - timestamps keep an explicit aware/naive flag so time arithmetic
//     downstream is not silently wrong
package value

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindBinary
	KindDate
	KindTime
	KindDateTime
	KindList
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	case KindDateTime:
		return "datetime"
	case KindList:
		return "list"
	case KindRecord:
		return "record"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one node of the generic value tree.
// The zero Value is the null variant.
type Value struct {
	kind Kind

	b     bool
	i     int64
	f     float64
	dec   decimal.Decimal
	s     string
	bin   []byte
	date  civil.Date
	tod   civil.Time
	ts    time.Time
	aware bool
	list  []Value
	rec   *Record
}

// Constructors

// Null returns the null variant.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer value. All SQL integer widths widen to int64.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a binary floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Decimal returns an exact fixed-point value.
func Decimal(d decimal.Decimal) Value { return Value{kind: KindDecimal, dec: d} }

// String returns a text value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Binary returns a binary payload. The slice is not copied.
func Binary(b []byte) Value { return Value{kind: KindBinary, bin: b} }

// Date returns a calendar date with no time component.
func Date(d civil.Date) Value { return Value{kind: KindDate, date: d} }

// Time returns a time of day with no date component.
func Time(t civil.Time) Value { return Value{kind: KindTime, tod: t} }

// NaiveDateTime returns a timestamp without timezone information.
func NaiveDateTime(t time.Time) Value {
	return Value{kind: KindDateTime, ts: t, aware: false}
}

// AwareDateTime returns a timestamp with an explicit offset.
func AwareDateTime(t time.Time) Value {
	return Value{kind: KindDateTime, ts: t, aware: true}
}

// List returns a list value. The slice is not copied.
func List(vs []Value) Value { return Value{kind: KindList, list: vs} }

// RecordValue wraps a record as a value.
func RecordValue(r *Record) Value { return Value{kind: KindRecord, rec: r} }

// Accessors

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether this is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload. Valid only for KindBool.
func (v Value) AsBool() bool { return v.b }

// AsInt returns the integer payload. Valid only for KindInt.
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the float payload. Valid only for KindFloat.
func (v Value) AsFloat() float64 { return v.f }

// AsDecimal returns the decimal payload. Valid only for KindDecimal.
func (v Value) AsDecimal() decimal.Decimal { return v.dec }

// AsString returns the string payload. Valid only for KindString.
func (v Value) AsString() string { return v.s }

// AsBinary returns the binary payload. Valid only for KindBinary.
func (v Value) AsBinary() []byte { return v.bin }

// AsDate returns the date payload. Valid only for KindDate.
func (v Value) AsDate() civil.Date { return v.date }

// AsTime returns the time-of-day payload. Valid only for KindTime.
func (v Value) AsTime() civil.Time { return v.tod }

// AsDateTime returns the timestamp payload and its awareness flag.
// Valid only for KindDateTime.
func (v Value) AsDateTime() (t time.Time, aware bool) { return v.ts, v.aware }

// AsList returns the list payload. Valid only for KindList.
func (v Value) AsList() []Value { return v.list }

// AsRecord returns the record payload. Valid only for KindRecord.
func (v Value) AsRecord() *Record { return v.rec }

// String renders the value for display and logging. It is not the wire
// encoding; see MarshalJSON.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindDecimal:
		return decimalText(v.dec)
	case KindString:
		return v.s
	case KindBinary:
		return fmt.Sprintf("0x%X", v.bin)
	case KindDate:
		return v.date.String()
	case KindTime:
		return v.tod.String()
	case KindDateTime:
		if v.aware {
			return v.ts.Format(time.RFC3339Nano)
		}
		return v.ts.Format("2006-01-02T15:04:05.999999999")
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindRecord:
		return v.rec.String()
	default:
		return fmt.Sprintf("<%s>", v.kind)
	}
}

// decimalText renders a decimal at its own scale. Decimal.String trims
// trailing zeros, which would narrow a DECIMAL(p,s) cell's declared
// scale; the exponent carried from parsing preserves it.
func decimalText(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

// MarshalJSON encodes the value for the host wire.
//
// JSON scalars carry bool, int, float, string and null directly. Kinds
// that JSON would degrade are wrapped in a single-key tag object so the
// host can reconstruct the exact variant:
//
//	{"decimal":"12.50"}
//	{"binary":"<base64>"}
//	{"date":"1987-05-22"}
//	{"time":"13:30:00"}
//	{"datetime":"2024-01-02T03:04:05Z","aware":true}
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindDecimal:
		return json.Marshal(map[string]string{"decimal": decimalText(v.dec)})
	case KindString:
		return json.Marshal(v.s)
	case KindBinary:
		return json.Marshal(map[string]string{"binary": base64.StdEncoding.EncodeToString(v.bin)})
	case KindDate:
		return json.Marshal(map[string]string{"date": v.date.String()})
	case KindTime:
		return json.Marshal(map[string]string{"time": v.tod.String()})
	case KindDateTime:
		// Naive timestamps are encoded without an offset so the host
		// cannot mistake them for UTC.
		layout := "2006-01-02T15:04:05.999999999"
		if v.aware {
			layout = time.RFC3339Nano
		}
		return json.Marshal(struct {
			DateTime string `json:"datetime"`
			Aware    bool   `json:"aware"`
		}{
			DateTime: v.ts.Format(layout),
			Aware:    v.aware,
		})
	case KindList:
		return json.Marshal(v.list)
	case KindRecord:
		return v.rec.MarshalJSON()
	default:
		return nil, fmt.Errorf("cannot encode value of %s", v.kind)
	}
}
