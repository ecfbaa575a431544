package observability

import (
	"context"
	"strings"
	"time"

	"github.com/danmuck/xlloop/internal/protocol"
	"github.com/danmuck/xlloop/internal/protocol/session"
)

// UnknownFunction is the function label for names the server does not
// expose. Peers choose names freely, so they never become labels.
const UnknownFunction = "unknown"

// Instrument records call counts and latency around h. known decides which
// names get their own function label; nil labels every call as unknown.
func Instrument(h session.Handler, known func(name string) bool) session.Handler {
	return session.HandlerFunc(func(ctx context.Context, fc *session.FunctionContext, name string, args []protocol.Value) (protocol.Value, error) {
		start := time.Now()
		result, err := h.Invoke(ctx, fc, name, args)
		RecordCall(functionLabel(name, known), outcomeOf(result, err), time.Since(start))
		return result, err
	})
}

func functionLabel(name string, known func(string) bool) string {
	if known == nil || !known(name) {
		return UnknownFunction
	}
	return strings.ToUpper(strings.TrimSpace(name))
}

func outcomeOf(result protocol.Value, err error) string {
	if err != nil {
		return OutcomeFault
	}
	if _, ok := result.(protocol.ErrorValue); ok {
		return OutcomeErrorValue
	}
	return OutcomeOK
}
