package protocol

import (
	"errors"
	"fmt"
)

// ErrProtocol is the root of every malformed-stream failure. A connection
// that hits one cannot be resynchronized.
var ErrProtocol = errors.New("protocol: malformed stream")

var (
	ErrUnknownTag         = fmt.Errorf("%w: unknown type tag", ErrProtocol)
	ErrInvalidCount       = fmt.Errorf("%w: invalid length or count", ErrProtocol)
	ErrTextTooLong        = fmt.Errorf("%w: text longer than %d bytes", ErrProtocol, MaxTextLen)
	ErrTooDeep            = fmt.Errorf("%w: array nesting too deep", ErrProtocol)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrProtocol)
	ErrUnexpectedType     = fmt.Errorf("%w: unexpected value type", ErrProtocol)
)

// ErrStreamClosed reports that the peer closed the stream or the transport
// failed mid-read or mid-write.
var ErrStreamClosed = errors.New("protocol: stream closed")

// UnexpectedTypeError reports a value of the wrong variant at a fixed
// position of the call grammar.
type UnexpectedTypeError struct {
	Field string
	Want  Tag
	Got   Tag
}

func (e UnexpectedTypeError) Error() string {
	return fmt.Sprintf("%s: %s: want %s, got %s", ErrUnexpectedType.Error(), e.Field, e.Want, e.Got)
}

func (e UnexpectedTypeError) Unwrap() error {
	return ErrUnexpectedType
}
