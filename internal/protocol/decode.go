package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Limits constrains decode memory use for a single value.
type Limits struct {
	MaxArrayCells int64
	MaxDepth      int
}

func DefaultLimits() Limits {
	return Limits{
		MaxArrayCells: 1 << 20,
		MaxDepth:      32,
	}
}

// maxPrealloc caps slice capacity taken from peer-supplied counts; larger
// arrays grow as their cells actually arrive.
const maxPrealloc = 4096

// Decoder reads values from one stream. It holds no state between values
// other than its scratch buffer and must not be shared across goroutines.
type Decoder struct {
	r      io.Reader
	limits Limits
	buf    [8]byte
}

func NewDecoder(r io.Reader, limits Limits) *Decoder {
	def := DefaultLimits()
	if limits.MaxArrayCells <= 0 {
		limits.MaxArrayCells = def.MaxArrayCells
	}
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = def.MaxDepth
	}
	return &Decoder{r: r, limits: limits}
}

// Decode reads a single value from r with default limits.
func Decode(r io.Reader) (Value, error) {
	return NewDecoder(r, DefaultLimits()).Decode()
}

// Decode reads exactly one value. A stream that ends before the tag byte
// yields an error matching both ErrStreamClosed and io.EOF; a stream that ends
// inside a value matches ErrStreamClosed and io.ErrUnexpectedEOF.
func (d *Decoder) Decode() (Value, error) {
	return d.decode(0)
}

func (d *Decoder) decode(depth int) (Value, error) {
	if depth > d.limits.MaxDepth {
		return nil, ErrTooDeep
	}
	tag, err := d.readByte(depth == 0)
	if err != nil {
		return nil, err
	}

	switch Tag(tag) {
	case TagNum:
		if err := d.readFull(d.buf[:8]); err != nil {
			return nil, err
		}
		return Number(math.Float64frombits(binary.BigEndian.Uint64(d.buf[:8]))), nil
	case TagStr:
		n, err := d.readByte(false)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return Text(""), nil
		}
		text := make([]byte, n)
		if err := d.readFull(text); err != nil {
			return nil, err
		}
		return Text(text), nil
	case TagBool:
		b, err := d.readByte(false)
		if err != nil {
			return nil, err
		}
		return Boolean(b != 0), nil
	case TagErr:
		code, err := d.readInt()
		if err != nil {
			return nil, err
		}
		return ErrorValue{Code: ErrorCode(code)}, nil
	case TagMulti:
		return d.decodeArray(depth)
	case TagMissing:
		return Missing{}, nil
	case TagNil:
		return Nil{}, nil
	case TagInt:
		v, err := d.readInt()
		if err != nil {
			return nil, err
		}
		return Integer(v), nil
	case TagSRef:
		var ref RangeRef
		for _, dst := range []*int32{&ref.ColFirst, &ref.ColLast, &ref.RowFirst, &ref.RowLast} {
			v, err := d.readInt()
			if err != nil {
				return nil, err
			}
			*dst = v
		}
		return ref, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, tag)
	}
}

func (d *Decoder) decodeArray(depth int) (Value, error) {
	rows, err := d.readInt()
	if err != nil {
		return nil, err
	}
	cols, err := d.readInt()
	if err != nil {
		return nil, err
	}
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("%w: array %dx%d", ErrInvalidCount, rows, cols)
	}
	if rows == 0 || cols == 0 {
		return Array{}, nil
	}
	if int64(rows)*int64(cols) > d.limits.MaxArrayCells {
		return nil, fmt.Errorf("%w: array %dx%d exceeds %d cells", ErrInvalidCount, rows, cols, d.limits.MaxArrayCells)
	}

	out := make(Array, 0, min(int(rows), maxPrealloc))
	if cols == 1 {
		for i := int32(0); i < rows; i++ {
			v, err := d.decode(depth + 1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	for i := int32(0); i < rows; i++ {
		row := make(Array, 0, min(int(cols), maxPrealloc))
		for j := int32(0); j < cols; j++ {
			v, err := d.decode(depth + 1)
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		out = append(out, row)
	}
	return out, nil
}

// readByte reads one byte. boundary marks the tag byte of a top-level value,
// where a clean io.EOF is preserved.
func (d *Decoder) readByte(boundary bool) (byte, error) {
	if _, err := io.ReadFull(d.r, d.buf[:1]); err != nil {
		if !boundary && errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, streamErr(err)
	}
	return d.buf[0], nil
}

func (d *Decoder) readInt() (int32, error) {
	if err := d.readFull(d.buf[:4]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(d.buf[:4])), nil
}

func (d *Decoder) readFull(p []byte) error {
	if _, err := io.ReadFull(d.r, p); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return streamErr(err)
	}
	return nil
}

func streamErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStreamClosed, err)
}
