package session

import (
	"errors"

	"github.com/danmuck/xlloop/internal/protocol"
)

// ErrInvocation wraps a failure raised by the handler capability.
var ErrInvocation = errors.New("session: invocation fault")

// Fault classes used in logs and metrics.
const (
	ClassProtocol   = "protocol"
	ClassStream     = "stream"
	ClassInvocation = "invocation"
	ClassOther      = "other"
)

// Classify maps a session error to its fault class.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvocation):
		return ClassInvocation
	case errors.Is(err, protocol.ErrProtocol):
		return ClassProtocol
	case errors.Is(err, protocol.ErrStreamClosed):
		return ClassStream
	default:
		return ClassOther
	}
}
