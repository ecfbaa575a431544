package functions

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/danmuck/xlloop/internal/protocol"
	"github.com/danmuck/xlloop/internal/protocol/session"
)

// Clock supplies the current time to volatile functions.
type Clock interface {
	Now() time.Time
}

type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// serialEpoch is day zero of spreadsheet serial dates.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// SerialDate converts t to a spreadsheet serial date in t's own zone.
func SerialDate(t time.Time) float64 {
	local := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	return local.Sub(serialEpoch).Hours() / 24
}

// RegisterBuiltins adds the standard function set using the wall clock.
func RegisterBuiltins(r *Registry) error {
	for _, fn := range Builtins(WallClock{}) {
		if err := r.Register(fn); err != nil {
			return err
		}
	}
	return nil
}

// Builtins returns the standard function set.
func Builtins(clock Clock) []Function {
	if clock == nil {
		clock = WallClock{}
	}
	return []Function{
		{Name: "SUM", Category: "Math", Help: "Adds its arguments.", Args: []string{"number1", "..."}, Impl: sumFn},
		{Name: "AVERAGE", Category: "Statistical", Help: "Arithmetic mean of its arguments.", Args: []string{"number1", "..."}, Impl: averageFn},
		{Name: "COUNT", Category: "Statistical", Help: "Counts numeric values.", Args: []string{"value1", "..."}, Impl: countFn},
		{Name: "COUNTA", Category: "Statistical", Help: "Counts non-empty values.", Args: []string{"value1", "..."}, Impl: countAFn},
		{Name: "MAX", Category: "Statistical", Help: "Largest numeric argument.", Args: []string{"number1", "..."}, Impl: extremeFn(math.Max)},
		{Name: "MIN", Category: "Statistical", Help: "Smallest numeric argument.", Args: []string{"number1", "..."}, Impl: extremeFn(math.Min)},
		{Name: "PRODUCT", Category: "Math", Help: "Multiplies its arguments.", Args: []string{"number1", "..."}, Impl: productFn},
		{Name: "ABS", Category: "Math", Help: "Absolute value.", Args: []string{"number"}, Impl: unaryMath(math.Abs)},
		{Name: "SQRT", Category: "Math", Help: "Positive square root.", Args: []string{"number"}, Impl: sqrtFn},
		{Name: "ROUND", Category: "Math", Help: "Rounds to a number of digits.", Args: []string{"number", "num_digits"}, Impl: roundFn},
		{Name: "POWER", Category: "Math", Help: "Raises a number to a power.", Args: []string{"number", "power"}, Impl: powerFn},
		{Name: "MOD", Category: "Math", Help: "Remainder after division.", Args: []string{"number", "divisor"}, Impl: modFn},
		{Name: "PI", Category: "Math", Help: "The constant pi.", Impl: piFn},
		{Name: "IF", Category: "Logical", Help: "Chooses a value by condition.", Args: []string{"logical_test", "value_if_true", "value_if_false"}, Impl: ifFn},
		{Name: "AND", Category: "Logical", Help: "TRUE if all arguments are TRUE.", Args: []string{"logical1", "..."}, Impl: logicalFn(true)},
		{Name: "OR", Category: "Logical", Help: "TRUE if any argument is TRUE.", Args: []string{"logical1", "..."}, Impl: logicalFn(false)},
		{Name: "NOT", Category: "Logical", Help: "Reverses a logical value.", Args: []string{"logical"}, Impl: notFn},
		{Name: "CONCATENATE", Category: "Text", Help: "Joins text values.", Args: []string{"text1", "..."}, Impl: concatFn},
		{Name: "LEN", Category: "Text", Help: "Number of characters in text.", Args: []string{"text"}, Impl: lenFn},
		{Name: "UPPER", Category: "Text", Help: "Converts text to upper case.", Args: []string{"text"}, Impl: textFn(upperBytes)},
		{Name: "LOWER", Category: "Text", Help: "Converts text to lower case.", Args: []string{"text"}, Impl: textFn(lowerBytes)},
		{Name: "TRIM", Category: "Text", Help: "Removes extra spaces.", Args: []string{"text"}, Impl: textFn(trimSpaces)},
		{Name: "ECHO", Category: "Information", Help: "Returns its arguments unchanged.", Args: []string{"value1", "..."}, Impl: echoFn},
		{Name: "TRANSPOSE", Category: "Lookup", Help: "Swaps rows and columns of an array.", Args: []string{"array"}, Impl: transposeFn},
		{Name: "CALLER", Category: "Information", Help: "Reference of the calling cell range.", Impl: callerFn},
		{Name: "SHEETNAME", Category: "Information", Help: "Name of the calling sheet.", Impl: sheetNameFn},
		{Name: "NOW", Category: "Date", Help: "Current date and time as a serial number.", Volatile: true, Impl: nowFn(clock)},
	}
}

func arity(args []protocol.Value, lo, hi int) bool {
	return len(args) >= lo && (hi < 0 || len(args) <= hi)
}

func sumFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	nums, ev := collectNumbers(args)
	if ev != nil {
		return ev, nil
	}
	var sum float64
	for _, n := range nums {
		sum += n
	}
	return numberResult(sum), nil
}

func averageFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	nums, ev := collectNumbers(args)
	if ev != nil {
		return ev, nil
	}
	if len(nums) == 0 {
		return protocol.Err(protocol.ErrDiv0), nil
	}
	var sum float64
	for _, n := range nums {
		sum += n
	}
	return numberResult(sum / float64(len(nums))), nil
}

// COUNT and COUNTA inspect values rather than compute with them, so error
// cells are counted or skipped instead of propagated.
func countFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	var n int
	for _, v := range protocol.Flatten(args...) {
		switch v.(type) {
		case protocol.Number, protocol.Integer:
			n++
		}
	}
	return protocol.Number(n), nil
}

func countAFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	var n int
	for _, v := range protocol.Flatten(args...) {
		if !protocol.IsBlank(v) {
			n++
		}
	}
	return protocol.Number(n), nil
}

func extremeFn(pick func(a, b float64) float64) Impl {
	return func(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
		nums, ev := collectNumbers(args)
		if ev != nil {
			return ev, nil
		}
		if len(nums) == 0 {
			return protocol.Number(0), nil
		}
		out := nums[0]
		for _, n := range nums[1:] {
			out = pick(out, n)
		}
		return protocol.Number(out), nil
	}
}

func productFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	nums, ev := collectNumbers(args)
	if ev != nil {
		return ev, nil
	}
	if len(nums) == 0 {
		return protocol.Number(0), nil
	}
	out := 1.0
	for _, n := range nums {
		out *= n
	}
	return numberResult(out), nil
}

// numericArgs coerces exactly the given arguments to numbers.
func numericArgs(args []protocol.Value) ([]float64, protocol.Value) {
	if ev, ok := firstError(args...); ok {
		return nil, ev
	}
	out := make([]float64, len(args))
	for i, a := range args {
		f, ok := toNumber(a)
		if !ok {
			return nil, protocol.Err(protocol.ErrValue)
		}
		out[i] = f
	}
	return out, nil
}

func unaryMath(op func(float64) float64) Impl {
	return func(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
		if !arity(args, 1, 1) {
			return protocol.Err(protocol.ErrValue), nil
		}
		nums, ev := numericArgs(args)
		if ev != nil {
			return ev, nil
		}
		return numberResult(op(nums[0])), nil
	}
}

func sqrtFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	if !arity(args, 1, 1) {
		return protocol.Err(protocol.ErrValue), nil
	}
	nums, ev := numericArgs(args)
	if ev != nil {
		return ev, nil
	}
	if nums[0] < 0 {
		return protocol.Err(protocol.ErrNum), nil
	}
	return protocol.Number(math.Sqrt(nums[0])), nil
}

func roundFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	if !arity(args, 1, 2) {
		return protocol.Err(protocol.ErrValue), nil
	}
	nums, ev := numericArgs(args)
	if ev != nil {
		return ev, nil
	}
	digits := 0.0
	if len(nums) == 2 {
		digits = math.Trunc(nums[1])
	}
	return numberResult(roundDigits(nums[0], digits)), nil
}

// roundDigits rounds half away from zero. The scaled value is first cut to
// 15 significant digits so 2.345 rounds like its decimal form.
func roundDigits(x, digits float64) float64 {
	if digits < 0 {
		scale := math.Pow(10, -digits)
		return math.Round(significant(x/scale)) * scale
	}
	scale := math.Pow(10, digits)
	return math.Round(significant(x*scale)) / scale
}

func significant(f float64) float64 {
	out, err := strconv.ParseFloat(strconv.FormatFloat(f, 'g', 15, 64), 64)
	if err != nil {
		return f
	}
	return out
}

func powerFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	if !arity(args, 2, 2) {
		return protocol.Err(protocol.ErrValue), nil
	}
	nums, ev := numericArgs(args)
	if ev != nil {
		return ev, nil
	}
	if nums[0] == 0 && nums[1] < 0 {
		return protocol.Err(protocol.ErrDiv0), nil
	}
	return numberResult(math.Pow(nums[0], nums[1])), nil
}

func modFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	if !arity(args, 2, 2) {
		return protocol.Err(protocol.ErrValue), nil
	}
	nums, ev := numericArgs(args)
	if ev != nil {
		return ev, nil
	}
	n, d := nums[0], nums[1]
	if d == 0 {
		return protocol.Err(protocol.ErrDiv0), nil
	}
	return numberResult(n - d*math.Floor(n/d)), nil
}

func piFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	if len(args) != 0 {
		return protocol.Err(protocol.ErrValue), nil
	}
	return protocol.Number(math.Pi), nil
}

func ifFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	if !arity(args, 2, 3) {
		return protocol.Err(protocol.ErrValue), nil
	}
	if ev, ok := scalar(args[0]).(protocol.ErrorValue); ok {
		return ev, nil
	}
	cond, ok := toBool(args[0])
	if !ok {
		return protocol.Err(protocol.ErrValue), nil
	}
	if cond {
		return args[1], nil
	}
	if len(args) == 3 {
		return args[2], nil
	}
	return protocol.Boolean(false), nil
}

func logicalFn(all bool) Impl {
	return func(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
		if ev, ok := firstError(args...); ok {
			return ev, nil
		}
		var seen int
		result := all
		for _, arg := range args {
			var values []protocol.Value
			switch t := arg.(type) {
			case protocol.Array, protocol.Tuple:
				for _, cell := range protocol.Flatten(t) {
					switch cell.(type) {
					case protocol.Boolean, protocol.Number, protocol.Integer:
						values = append(values, cell)
					}
				}
			case protocol.Missing, protocol.Nil, nil:
			default:
				values = []protocol.Value{t}
			}
			for _, v := range values {
				b, ok := toBool(v)
				if !ok {
					return protocol.Err(protocol.ErrValue), nil
				}
				seen++
				if all {
					result = result && b
				} else {
					result = result || b
				}
			}
		}
		if seen == 0 {
			return protocol.Err(protocol.ErrValue), nil
		}
		return protocol.Boolean(result), nil
	}
}

func notFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	if !arity(args, 1, 1) {
		return protocol.Err(protocol.ErrValue), nil
	}
	if ev, ok := firstError(args...); ok {
		return ev, nil
	}
	b, ok := toBool(args[0])
	if !ok {
		return protocol.Err(protocol.ErrValue), nil
	}
	return protocol.Boolean(!b), nil
}

func concatFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	if ev, ok := firstError(args...); ok {
		return ev, nil
	}
	var b strings.Builder
	for _, v := range protocol.Flatten(args...) {
		b.WriteString(toText(v))
	}
	return textResult(b.String()), nil
}

func lenFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	if !arity(args, 1, 1) {
		return protocol.Err(protocol.ErrValue), nil
	}
	if ev, ok := firstError(args...); ok {
		return ev, nil
	}
	return protocol.Number(utf8.RuneCountInString(toText(args[0]))), nil
}

func textFn(op func(string) string) Impl {
	return func(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
		if !arity(args, 1, 1) {
			return protocol.Err(protocol.ErrValue), nil
		}
		if ev, ok := firstError(args...); ok {
			return ev, nil
		}
		return textResult(op(toText(args[0]))), nil
	}
}

// Text arrives as raw bytes. Invalid UTF-8 only has its ASCII letters
// case-mapped so no byte is replaced.
func upperBytes(s string) string {
	if utf8.ValidString(s) {
		return strings.ToUpper(s)
	}
	return mapASCII(s, 'a', 'z', 'A'-'a')
}

func lowerBytes(s string) string {
	if utf8.ValidString(s) {
		return strings.ToLower(s)
	}
	return mapASCII(s, 'A', 'Z', 'a'-'A')
}

func mapASCII(s string, lo, hi byte, shift int) string {
	b := []byte(s)
	for i, c := range b {
		if c >= lo && c <= hi {
			b[i] = byte(int(c) + shift)
		}
	}
	return string(b)
}

func trimSpaces(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == ' ' }), " ")
}

func echoFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	switch len(args) {
	case 0:
		return protocol.Nil{}, nil
	case 1:
		return args[0], nil
	default:
		return protocol.Array(append([]protocol.Value(nil), args...)), nil
	}
}

func transposeFn(_ context.Context, _ *session.FunctionContext, args []protocol.Value) (protocol.Value, error) {
	if !arity(args, 1, 1) {
		return protocol.Err(protocol.ErrValue), nil
	}
	switch args[0].(type) {
	case protocol.Array, protocol.Tuple:
	default:
		return args[0], nil
	}
	rows := grid(args[0])
	if len(rows) == 0 {
		return protocol.Array{}, nil
	}
	cols := len(rows[0])
	out := make(protocol.Array, cols)
	for c := 0; c < cols; c++ {
		row := make(protocol.Array, len(rows))
		for r := range rows {
			if c < len(rows[r]) {
				row[r] = rows[r][c]
			} else {
				row[r] = protocol.Nil{}
			}
		}
		out[c] = row
	}
	return out, nil
}

func callerFn(_ context.Context, fc *session.FunctionContext, _ []protocol.Value) (protocol.Value, error) {
	if fc == nil || fc.Caller == nil {
		return protocol.Err(protocol.ErrNA), nil
	}
	return fc.Caller, nil
}

func sheetNameFn(_ context.Context, fc *session.FunctionContext, _ []protocol.Value) (protocol.Value, error) {
	if fc == nil || fc.SheetName == nil {
		return protocol.Err(protocol.ErrNA), nil
	}
	return fc.SheetName, nil
}

func nowFn(clock Clock) Impl {
	return func(_ context.Context, _ *session.FunctionContext, _ []protocol.Value) (protocol.Value, error) {
		return protocol.Number(SerialDate(clock.Now())), nil
	}
}
