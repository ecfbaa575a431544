package session

import (
	"context"
	"io"

	"github.com/danmuck/xlloop/internal/protocol"
)

// Version is the only header version the call protocol accepts.
const Version int32 = 20

// FunctionContext is the optional per-call metadata sent under the
// versioned header. It lives for one invocation only.
type FunctionContext struct {
	Caller    protocol.Value
	SheetName protocol.Value
}

// Call is one parsed request.
type Call struct {
	// Version is zero for legacy header-less calls.
	Version int32
	Context *FunctionContext
	Name    string
	Args    []protocol.Value
}

// Handler computes the single result of one call. Implementations are
// invoked concurrently from every connection and must be safe for that.
type Handler interface {
	Invoke(ctx context.Context, fc *FunctionContext, name string, args []protocol.Value) (protocol.Value, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, fc *FunctionContext, name string, args []protocol.Value) (protocol.Value, error)

func (f HandlerFunc) Invoke(ctx context.Context, fc *FunctionContext, name string, args []protocol.Value) (protocol.Value, error) {
	return f(ctx, fc, name, args)
}

// WriteCall writes the client side of one call. A non-zero Version emits
// the header and context flag; zero emits the legacy form, which carries
// no context.
func WriteCall(w io.Writer, call Call) error {
	if call.Version != 0 {
		if err := protocol.Encode(w, protocol.Integer(call.Version)); err != nil {
			return err
		}
		if err := protocol.Encode(w, protocol.Boolean(call.Context != nil)); err != nil {
			return err
		}
		if call.Context != nil {
			if err := protocol.Encode(w, call.Context.Caller); err != nil {
				return err
			}
			if err := protocol.Encode(w, call.Context.SheetName); err != nil {
				return err
			}
		}
	}
	if err := protocol.Encode(w, protocol.Text(call.Name)); err != nil {
		return err
	}
	if err := protocol.Encode(w, protocol.Integer(int32(len(call.Args)))); err != nil {
		return err
	}
	for _, arg := range call.Args {
		if err := protocol.Encode(w, arg); err != nil {
			return err
		}
	}
	return nil
}
