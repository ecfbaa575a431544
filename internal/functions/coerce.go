package functions

import (
	"math"
	"strconv"
	"strings"

	"github.com/danmuck/xlloop/internal/protocol"
)

// firstError returns the first error value found in args, walking arrays
// row-major.
func firstError(args ...protocol.Value) (protocol.ErrorValue, bool) {
	for _, v := range protocol.Flatten(args...) {
		if ev, ok := v.(protocol.ErrorValue); ok {
			return ev, true
		}
	}
	return protocol.ErrorValue{}, false
}

// scalar reduces an array argument to its top-left cell.
func scalar(v protocol.Value) protocol.Value {
	switch t := v.(type) {
	case protocol.Array:
		if len(t) == 0 {
			return protocol.Nil{}
		}
		return scalar(t[0])
	case protocol.Tuple:
		if len(t) == 0 {
			return protocol.Nil{}
		}
		return scalar(t[0])
	case nil:
		return protocol.Nil{}
	default:
		return v
	}
}

func toNumber(v protocol.Value) (float64, bool) {
	switch t := scalar(v).(type) {
	case protocol.Number:
		return float64(t), true
	case protocol.Integer:
		return float64(t), true
	case protocol.Boolean:
		if t {
			return 1, true
		}
		return 0, true
	case protocol.Text:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case protocol.Missing, protocol.Nil:
		return 0, true
	default:
		return 0, false
	}
}

func toBool(v protocol.Value) (bool, bool) {
	switch t := scalar(v).(type) {
	case protocol.Boolean:
		return bool(t), true
	case protocol.Number:
		return t != 0, true
	case protocol.Integer:
		return t != 0, true
	case protocol.Text:
		switch strings.ToUpper(strings.TrimSpace(string(t))) {
		case "TRUE":
			return true, true
		case "FALSE":
			return false, true
		}
		return false, false
	case protocol.Missing, protocol.Nil:
		return false, true
	default:
		return false, false
	}
}

func toText(v protocol.Value) string {
	switch t := scalar(v).(type) {
	case protocol.Number:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	default:
		return t.String()
	}
}

// collectNumbers gathers numeric inputs the way SUM-style functions read
// them. Direct arguments are coerced; array cells only contribute numbers.
// A non-nil second result is an error value to return as-is.
func collectNumbers(args []protocol.Value) ([]float64, protocol.Value) {
	if ev, ok := firstError(args...); ok {
		return nil, ev
	}
	nums := make([]float64, 0, len(args))
	for _, arg := range args {
		switch t := arg.(type) {
		case protocol.Array, protocol.Tuple:
			for _, cell := range protocol.Flatten(t) {
				switch c := cell.(type) {
				case protocol.Number:
					nums = append(nums, float64(c))
				case protocol.Integer:
					nums = append(nums, float64(c))
				}
			}
		case protocol.Missing, protocol.Nil, nil:
		default:
			f, ok := toNumber(t)
			if !ok {
				return nil, protocol.Err(protocol.ErrValue)
			}
			nums = append(nums, f)
		}
	}
	return nums, nil
}

// numberResult maps non-finite results to #NUM!.
func numberResult(f float64) protocol.Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return protocol.Err(protocol.ErrNum)
	}
	return protocol.Number(f)
}

func textResult(s string) protocol.Value {
	if len(s) > protocol.MaxTextLen {
		return protocol.Err(protocol.ErrValue)
	}
	return protocol.Text(s)
}

// grid normalizes a value to rows of cells. A flat array is one column.
func grid(v protocol.Value) [][]protocol.Value {
	var items []protocol.Value
	switch t := v.(type) {
	case protocol.Array:
		items = t
	case protocol.Tuple:
		items = t
	default:
		return [][]protocol.Value{{v}}
	}
	rows := make([][]protocol.Value, 0, len(items))
	for _, item := range items {
		if cells, ok := item.(protocol.Array); ok {
			rows = append(rows, cells)
			continue
		}
		rows = append(rows, []protocol.Value{item})
	}
	return rows
}
