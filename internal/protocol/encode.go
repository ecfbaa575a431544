package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Encode writes v to w using the XLOper wire format. A nil v is written as
// Nil. Writes happen in value order; nothing is buffered here.
func Encode(w io.Writer, v Value) error {
	return encodeValue(w, v)
}

// EncodeAny converts a host value with FromGo and writes it.
func EncodeAny(w io.Writer, x any) error {
	return encodeValue(w, FromGo(x))
}

func encodeValue(w io.Writer, v Value) error {
	switch t := v.(type) {
	case nil:
		return writeBytes(w, byte(TagNil))
	case Number:
		buf := make([]byte, 9)
		buf[0] = byte(TagNum)
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(float64(t)))
		return writeBytes(w, buf...)
	case Text:
		if len(t) > MaxTextLen {
			return fmt.Errorf("%w: got %d", ErrTextTooLong, len(t))
		}
		buf := make([]byte, 2+len(t))
		buf[0] = byte(TagStr)
		buf[1] = byte(len(t))
		copy(buf[2:], t)
		return writeBytes(w, buf...)
	case Boolean:
		b := byte(0)
		if t {
			b = 1
		}
		return writeBytes(w, byte(TagBool), b)
	case ErrorValue:
		return writeTagged(w, TagErr, int32(t.Code))
	case Missing:
		return writeBytes(w, byte(TagMissing))
	case Nil:
		return writeBytes(w, byte(TagNil))
	case Integer:
		return writeTagged(w, TagInt, int32(t))
	case RangeRef:
		return writeTagged(w, TagSRef, t.ColFirst, t.ColLast, t.RowFirst, t.RowLast)
	case Array:
		return encodeArray(w, t)
	case Tuple:
		return encodeColumn(w, t)
	default:
		return encodeValue(w, Text(v.String()))
	}
}

func encodeArray(w io.Writer, a Array) error {
	if len(a) == 0 {
		return writeTagged(w, TagMulti, 0, 0)
	}
	first, ok := a[0].(Array)
	if !ok {
		return encodeColumn(w, a)
	}

	rows := len(a)
	cols := len(first)
	if err := writeTagged(w, TagMulti, int32(rows), int32(cols)); err != nil {
		return err
	}
	if cols == 0 {
		return nil
	}
	for _, row := range a {
		cells, ok := row.(Array)
		if !ok {
			if err := encodeValue(w, row); err != nil {
				return err
			}
			if err := padNil(w, cols-1); err != nil {
				return err
			}
			continue
		}
		n := min(len(cells), cols)
		for _, cell := range cells[:n] {
			if err := encodeValue(w, cell); err != nil {
				return err
			}
		}
		if err := padNil(w, cols-n); err != nil {
			return err
		}
	}
	return nil
}

// encodeColumn writes a one-column MULTI; used for 1-D arrays and tuples.
func encodeColumn(w io.Writer, values []Value) error {
	if len(values) == 0 {
		return writeTagged(w, TagMulti, 0, 0)
	}
	if err := writeTagged(w, TagMulti, int32(len(values)), 1); err != nil {
		return err
	}
	for _, v := range values {
		if err := encodeValue(w, v); err != nil {
			return err
		}
	}
	return nil
}

func padNil(w io.Writer, n int) error {
	for i := 0; i < n; i++ {
		if err := writeBytes(w, byte(TagNil)); err != nil {
			return err
		}
	}
	return nil
}

func writeTagged(w io.Writer, tag Tag, ints ...int32) error {
	buf := make([]byte, 1+4*len(ints))
	buf[0] = byte(tag)
	for i, v := range ints {
		binary.BigEndian.PutUint32(buf[1+4*i:], uint32(v))
	}
	return writeBytes(w, buf...)
}

func writeBytes(w io.Writer, b ...byte) error {
	if _, err := w.Write(b); err != nil {
		return streamErr(err)
	}
	return nil
}
