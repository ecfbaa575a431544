package protocol

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Value is one XLOper value. The set of implementations is closed.
type Value interface {
	Tag() Tag
	String() string
	isValue()
}

// Number is an IEEE-754 double.
type Number float64

// Text is a length-prefixed byte string carried without encoding conversion.
type Text string

// Boolean is a spreadsheet boolean.
type Boolean bool

// ErrorValue is a spreadsheet error such as #DIV/0!. It is data, not a fault.
type ErrorValue struct {
	Code ErrorCode
}

// Missing marks an argument the caller omitted.
type Missing struct{}

// Nil marks an explicit blank value.
type Nil struct{}

// Integer is a native 32-bit integer, distinct from Number.
type Integer int32

// RangeRef is a rectangular cell range reference.
type RangeRef struct {
	ColFirst int32
	ColLast  int32
	RowFirst int32
	RowLast  int32
}

// Array is a row-major table. Each element is a row: either a scalar value
// (one column) or a nested Array holding that row's cells.
type Array []Value

// Tuple is a fixed-length sequence. It is always written as one column.
type Tuple []Value

func (Number) Tag() Tag     { return TagNum }
func (Text) Tag() Tag       { return TagStr }
func (Boolean) Tag() Tag    { return TagBool }
func (ErrorValue) Tag() Tag { return TagErr }
func (Missing) Tag() Tag    { return TagMissing }
func (Nil) Tag() Tag        { return TagNil }
func (Integer) Tag() Tag    { return TagInt }
func (RangeRef) Tag() Tag   { return TagSRef }
func (Array) Tag() Tag      { return TagMulti }
func (Tuple) Tag() Tag      { return TagMulti }

func (Number) isValue()     {}
func (Text) isValue()       {}
func (Boolean) isValue()    {}
func (ErrorValue) isValue() {}
func (Missing) isValue()    {}
func (Nil) isValue()        {}
func (Integer) isValue()    {}
func (RangeRef) isValue()   {}
func (Array) isValue()      {}
func (Tuple) isValue()      {}

func (v Number) String() string {
	return strconv.FormatFloat(float64(v), 'g', -1, 64)
}

func (v Text) String() string { return string(v) }

func (v Boolean) String() string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

func (v ErrorValue) String() string { return v.Code.String() }
func (Missing) String() string      { return "" }
func (Nil) String() string          { return "" }
func (v Integer) String() string    { return strconv.FormatInt(int64(v), 10) }

func (v RangeRef) String() string {
	return fmt.Sprintf("R%dC%d:R%dC%d", v.RowFirst+1, v.ColFirst+1, v.RowLast+1, v.ColLast+1)
}

func (v Array) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, row := range v {
		if i > 0 {
			b.WriteByte(';')
		}
		if cells, ok := row.(Array); ok {
			for j, cell := range cells {
				if j > 0 {
					b.WriteByte(',')
				}
				b.WriteString(cell.String())
			}
			continue
		}
		b.WriteString(row.String())
	}
	b.WriteByte('}')
	return b.String()
}

func (v Tuple) String() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Err is shorthand for an ErrorValue with the given code.
func Err(code ErrorCode) ErrorValue { return ErrorValue{Code: code} }

// IsBlank reports whether v is Missing, Nil or a nil interface.
func IsBlank(v Value) bool {
	switch v.(type) {
	case nil, Missing, Nil:
		return true
	default:
		return false
	}
}

// Flatten walks arrays and tuples row-major and returns their scalar cells.
func Flatten(values ...Value) []Value {
	out := make([]Value, 0, len(values))
	for _, v := range values {
		switch t := v.(type) {
		case Array:
			out = append(out, Flatten(t...)...)
		case Tuple:
			out = append(out, Flatten(t...)...)
		default:
			out = append(out, v)
		}
	}
	return out
}

// Equal reports structural equality. NaN numbers compare equal to each other.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Tag() != b.Tag() {
		return false
	}
	switch x := a.(type) {
	case Number:
		y, ok := b.(Number)
		if !ok {
			return false
		}
		if math.IsNaN(float64(x)) && math.IsNaN(float64(y)) {
			return true
		}
		return x == y
	case Array:
		y, ok := b.(Array)
		return ok && equalSeq(x, y)
	case Tuple:
		y, ok := b.(Tuple)
		return ok && equalSeq(x, y)
	default:
		return a == b
	}
}

func equalSeq(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// FromGo converts a host value into a Value. Values with no direct
// counterpart fall back to their textual form.
func FromGo(x any) Value {
	switch t := x.(type) {
	case nil:
		return Nil{}
	case Value:
		return t
	case float64:
		return Number(t)
	case float32:
		return Number(t)
	case int32:
		return Integer(t)
	case int:
		return Number(t)
	case int8:
		return Number(t)
	case int16:
		return Number(t)
	case int64:
		return Number(t)
	case uint:
		return Number(t)
	case uint8:
		return Number(t)
	case uint16:
		return Number(t)
	case uint32:
		return Number(t)
	case uint64:
		return Number(t)
	case string:
		return Text(t)
	case []byte:
		return Text(t)
	case bool:
		return Boolean(t)
	case error:
		return Text(t.Error())
	case fmt.Stringer:
		return Text(t.String())
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice:
		out := make(Array, rv.Len())
		for i := range out {
			out[i] = FromGo(rv.Index(i).Interface())
		}
		return out
	case reflect.Array:
		out := make(Tuple, rv.Len())
		for i := range out {
			out[i] = FromGo(rv.Index(i).Interface())
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return Nil{}
		}
		return FromGo(rv.Elem().Interface())
	}
	return Text(fmt.Sprint(x))
}

