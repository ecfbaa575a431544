// Package functions holds the named spreadsheet functions a server exposes
// and dispatches calls to them.
package functions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/xlloop/internal/protocol"
	"github.com/danmuck/xlloop/internal/protocol/session"
)

// GetFunctionsName is the meta-function the add-in calls to discover what
// the server offers.
const GetFunctionsName = "org.boris.xlloop.GetFunctions"

var (
	ErrFunctionExists   = errors.New("functions: function already registered")
	ErrInvalidFunction  = errors.New("functions: invalid function")
	ErrUnknownFunction  = errors.New("functions: unknown function")
	ErrReservedFunction = errors.New("functions: reserved function name")
)

// Impl computes one function result. Spreadsheet-level failures are
// returned as protocol.ErrorValue; a non-nil error faults the connection.
type Impl func(ctx context.Context, fc *session.FunctionContext, args []protocol.Value) (protocol.Value, error)

type Function struct {
	Name     string
	Category string
	Help     string
	Args     []string
	Volatile bool
	Impl     Impl
}

// Registry maps case-insensitive names to functions. It is safe for
// concurrent use and implements session.Handler.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Function
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Function)}
}

// ValidateFunction checks the name format and that an implementation is set.
func ValidateFunction(fn Function) error {
	name := strings.TrimSpace(fn.Name)
	if !isValidName(name) {
		return fmt.Errorf("%w: invalid name %q", ErrInvalidFunction, fn.Name)
	}
	if fn.Impl == nil {
		return fmt.Errorf("%w: %s has no implementation", ErrInvalidFunction, name)
	}
	return nil
}

func (r *Registry) Register(fn Function) error {
	if err := ValidateFunction(fn); err != nil {
		return err
	}
	fn.Name = strings.TrimSpace(fn.Name)
	key := strings.ToUpper(fn.Name)
	if key == strings.ToUpper(GetFunctionsName) {
		return fmt.Errorf("%w: %s", ErrReservedFunction, fn.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[key]; ok {
		return fmt.Errorf("%w: %s", ErrFunctionExists, fn.Name)
	}
	r.items[key] = fn
	return nil
}

func (r *Registry) MustRegister(fns ...Function) {
	for _, fn := range fns {
		if err := r.Register(fn); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Resolve(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.items[strings.ToUpper(strings.TrimSpace(name))]
	return fn, ok
}

// Has reports whether Invoke answers name with something other than #NAME?.
func (r *Registry) Has(name string) bool {
	if strings.EqualFold(strings.TrimSpace(name), GetFunctionsName) {
		return true
	}
	_, ok := r.Resolve(name)
	return ok
}

// List returns functions ordered by name.
func (r *Registry) List() []Function {
	r.mu.RLock()
	list := make([]Function, 0, len(r.items))
	for _, fn := range r.items {
		list = append(list, fn)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		return strings.ToUpper(list[i].Name) < strings.ToUpper(list[j].Name)
	})
	return list
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Restrict returns a registry holding only the named functions. An empty
// list keeps everything.
func (r *Registry) Restrict(names []string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	out := NewRegistry()
	for _, name := range names {
		fn, ok := r.Resolve(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
		}
		if err := out.Register(fn); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Invoke dispatches one call. Unknown names answer #NAME? so the
// connection stays usable.
func (r *Registry) Invoke(ctx context.Context, fc *session.FunctionContext, name string, args []protocol.Value) (protocol.Value, error) {
	if strings.EqualFold(strings.TrimSpace(name), GetFunctionsName) {
		return r.FunctionInfo(), nil
	}
	fn, ok := r.Resolve(name)
	if !ok {
		return protocol.Err(protocol.ErrName), nil
	}
	return fn.Impl(ctx, fc, args)
}

// FunctionInfo lists registered functions as rows of
// [name, help, category, argument names, volatile].
func (r *Registry) FunctionInfo() protocol.Value {
	list := r.List()
	rows := make(protocol.Array, 0, len(list))
	for _, fn := range list {
		rows = append(rows, protocol.Array{
			protocol.Text(fn.Name),
			protocol.Text(fn.Help),
			protocol.Text(fn.Category),
			protocol.Text(strings.Join(fn.Args, ",")),
			protocol.Boolean(fn.Volatile),
		})
	}
	return rows
}

// Chain tries each handler in order, moving on while they answer #NAME?.
func Chain(handlers ...session.Handler) session.Handler {
	return session.HandlerFunc(func(ctx context.Context, fc *session.FunctionContext, name string, args []protocol.Value) (protocol.Value, error) {
		for _, h := range handlers {
			if h == nil {
				continue
			}
			result, err := h.Invoke(ctx, fc, name, args)
			if err != nil {
				return nil, err
			}
			if ev, ok := result.(protocol.ErrorValue); ok && ev.Code == protocol.ErrName {
				continue
			}
			return result, nil
		}
		return protocol.Err(protocol.ErrName), nil
	})
}

func isValidName(name string) bool {
	if name == "" || len(name) > protocol.MaxTextLen {
		return false
	}
	lastDot := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		isDot := c == '.'
		if !(isLetter || isDigit || isDot || c == '_') {
			return false
		}
		if i == 0 && !isLetter {
			return false
		}
		if isDot && (lastDot || i == len(name)-1) {
			return false
		}
		lastDot = isDot
	}
	return true
}
