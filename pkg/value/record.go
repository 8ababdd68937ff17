package value

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Record is an ordered mapping of field name to Value. Field order is the
// column order of the producing schema and is preserved through encoding.
type Record struct {
	keys  []string
	vals  []Value
	index map[string]int
}

// NewRecord returns an empty record with capacity for n fields.
func NewRecord(n int) *Record {
	return &Record{
		keys:  make([]string, 0, n),
		vals:  make([]Value, 0, n),
		index: make(map[string]int, n),
	}
}

// Push appends a field. A duplicate name gets a numeric suffix so no
// column is lost: "a", "a", "a" become "a", "a_1", "a_2".
func (r *Record) Push(name string, v Value) {
	if _, ok := r.index[name]; ok {
		for i := 1; ; i++ {
			candidate := name + "_" + strconv.Itoa(i)
			if _, ok := r.index[candidate]; !ok {
				name = candidate
				break
			}
		}
	}
	r.index[name] = len(r.keys)
	r.keys = append(r.keys, name)
	r.vals = append(r.vals, v)
}

// Get returns the value for a field name.
func (r *Record) Get(name string) (Value, bool) {
	i, ok := r.index[name]
	if !ok {
		return Null(), false
	}
	return r.vals[i], true
}

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.keys) }

// Keys returns the field names in order. The slice is not copied.
func (r *Record) Keys() []string { return r.keys }

// At returns the field name and value at position i.
func (r *Record) At(i int) (string, Value) { return r.keys[i], r.vals[i] }

// String renders the record for display and logging.
func (r *Record) String() string {
	var buf strings.Builder
	buf.WriteString("{")
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(r.vals[i].String())
	}
	buf.WriteString("}")
	return buf.String()
}

// MarshalJSON writes the record as a JSON object with fields in schema
// order. Object member order is significant to the host, which preserves
// parse order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		val, err := r.vals[i].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
