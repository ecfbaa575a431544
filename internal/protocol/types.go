package protocol

import "fmt"

// Tag is the one-byte wire type identifier that prefixes every value.
type Tag uint8

// Wire tags from the XLOper contract.
const (
	TagNum     Tag = 1
	TagStr     Tag = 2
	TagBool    Tag = 3
	TagErr     Tag = 4
	TagMulti   Tag = 5
	TagMissing Tag = 6
	TagNil     Tag = 7
	TagInt     Tag = 8
	TagSRef    Tag = 9
)

func (t Tag) String() string {
	switch t {
	case TagNum:
		return "num"
	case TagStr:
		return "str"
	case TagBool:
		return "bool"
	case TagErr:
		return "err"
	case TagMulti:
		return "multi"
	case TagMissing:
		return "missing"
	case TagNil:
		return "nil"
	case TagInt:
		return "int"
	case TagSRef:
		return "sref"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// ErrorCode identifies a spreadsheet computation error.
type ErrorCode int32

const (
	ErrNull  ErrorCode = 0
	ErrDiv0  ErrorCode = 7
	ErrValue ErrorCode = 15
	ErrRef   ErrorCode = 23
	ErrName  ErrorCode = 29
	ErrNum   ErrorCode = 36
	ErrNA    ErrorCode = 42
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNull:
		return "#NULL!"
	case ErrDiv0:
		return "#DIV/0!"
	case ErrValue:
		return "#VALUE!"
	case ErrRef:
		return "#REF!"
	case ErrName:
		return "#NAME?"
	case ErrNum:
		return "#NUM!"
	case ErrNA:
		return "#N/A"
	default:
		return fmt.Sprintf("#ERR(%d)", int32(c))
	}
}

// ParseErrorCode maps a spreadsheet error spelling back to its code.
func ParseErrorCode(s string) (ErrorCode, bool) {
	for _, c := range []ErrorCode{ErrNull, ErrDiv0, ErrValue, ErrRef, ErrName, ErrNum, ErrNA} {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// MaxTextLen is the largest text payload a STR value can carry.
const MaxTextLen = 255
