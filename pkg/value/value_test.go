package value

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
)

func TestZeroValueIsNull(t *testing.T) {
	var v Value
	if v.Kind() != KindNull {
		t.Errorf("zero Value kind = %v, want KindNull", v.Kind())
	}
	if !v.IsNull() {
		t.Error("zero Value should report IsNull")
	}
}

func TestDecimalExactRendering(t *testing.T) {
	// Scale must survive: the rendered text equals the original text,
	// including trailing zeros.
	cases := []string{
		"123.45",
		"123.4500",
		"-0.001",
		"99999999999999999999.99",
		"0.0000000001",
	}

	for _, text := range cases {
		d, err := decimal.NewFromString(text)
		if err != nil {
			t.Fatalf("NewFromString(%q): %v", text, err)
		}
		v := Decimal(d)
		if got := v.String(); got != text {
			t.Errorf("Decimal(%q).String() = %q, want %q", text, got, text)
		}
	}
}

func TestDateTimeAwareness(t *testing.T) {
	naive := NaiveDateTime(time.Date(1987, 5, 22, 0, 0, 0, 0, time.UTC))
	if _, aware := naive.AsDateTime(); aware {
		t.Error("NaiveDateTime should not be aware")
	}

	offset := time.FixedZone("", 2*3600)
	awareVal := AwareDateTime(time.Date(2024, 1, 2, 3, 4, 5, 0, offset))
	if _, aware := awareVal.AsDateTime(); !aware {
		t.Error("AwareDateTime should be aware")
	}

	// Naive wire form has no offset suffix; aware form has one.
	naiveJSON, err := naive.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal naive: %v", err)
	}
	if strings.Contains(string(naiveJSON), "+") || strings.Contains(string(naiveJSON), "Z") {
		t.Errorf("naive datetime JSON carries an offset: %s", naiveJSON)
	}
	if !strings.Contains(string(naiveJSON), `"aware":false`) {
		t.Errorf("naive datetime JSON missing aware flag: %s", naiveJSON)
	}

	awareJSON, err := awareVal.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal aware: %v", err)
	}
	if !strings.Contains(string(awareJSON), "+02:00") {
		t.Errorf("aware datetime JSON missing offset: %s", awareJSON)
	}
}

func TestRecordOrderPreserved(t *testing.T) {
	r := NewRecord(3)
	r.Push("A", Int(1))
	r.Push("B", String("two"))
	r.Push("C", Bool(true))

	keys := r.Keys()
	want := []string{"A", "B", "C"}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("key order = %v, want %v", keys, want)
		}
	}

	data, err := r.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(data)
	if got != `{"A":1,"B":"two","C":true}` {
		t.Errorf("record JSON = %s", got)
	}
}

func TestRecordDuplicateNamesKeepEveryColumn(t *testing.T) {
	// SELECT 1 AS a, 2 AS a must not collapse into one field.
	r := NewRecord(3)
	r.Push("a", Int(1))
	r.Push("a", Int(2))
	r.Push("a", Int(3))

	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	for i, want := range []string{"a", "a_1", "a_2"} {
		name, v := r.At(i)
		if name != want {
			t.Errorf("field %d = %q, want %q", i, name, want)
		}
		if v.AsInt() != int64(i+1) {
			t.Errorf("field %q = %d, want %d", name, v.AsInt(), i+1)
		}
	}
}

func TestJSONEncodingTaggedKinds(t *testing.T) {
	tests := []struct {
		name string
		val  Value
		want string
	}{
		{"null", Null(), `null`},
		{"bool", Bool(true), `true`},
		{"int", Int(-42), `-42`},
		{"float", Float(1.5), `1.5`},
		{"string", String("ash"), `"ash"`},
		{"decimal", Decimal(decimal.RequireFromString("12.50")), `{"decimal":"12.50"}`},
		{"binary", Binary([]byte{0xDE, 0xAD}), `{"binary":"3q0="}`},
		{"date", Date(civil.Date{Year: 1987, Month: 5, Day: 22}), `{"date":"1987-05-22"}`},
		{"time", Time(civil.Time{Hour: 13, Minute: 30}), `{"time":"13:30:00"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.val.MarshalJSON()
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("got %s, want %s", data, tt.want)
			}
		})
	}
}

func TestListRendering(t *testing.T) {
	v := List([]Value{Int(1), String("a"), Null()})
	if got := v.String(); got != "[1, a, null]" {
		t.Errorf("List String = %q", got)
	}
}
