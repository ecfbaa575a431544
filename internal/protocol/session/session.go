package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/danmuck/xlloop/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is one step of the per-call state machine.
type State string

const (
	StateAwaitHeader   State = "await_header"
	StateAwaitContext  State = "await_context"
	StateAwaitName     State = "await_name"
	StateAwaitArgCount State = "await_arg_count"
	StateAwaitArgs     State = "await_args"
	StateInvoking      State = "invoking"
	StateReplying      State = "replying"
	StateClosed        State = "closed"
)

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Session runs the call protocol over one duplex stream. It is owned by a
// single goroutine; only State and Calls may be read concurrently.
type Session struct {
	cfg      Config
	handler  Handler
	dec      *protocol.Decoder
	w        *bufio.Writer
	deadline deadliner
	logger   zerolog.Logger

	state atomic.Value
	calls atomic.Uint64
}

// New binds a session to rw. Deadlines apply when rw is a net.Conn.
func New(rw io.ReadWriter, h Handler, cfg Config) *Session {
	cfg = cfg.WithDefaults()
	s := &Session{
		cfg:     cfg,
		handler: h,
		dec:     protocol.NewDecoder(bufio.NewReader(rw), cfg.Limits),
		w:       bufio.NewWriter(rw),
		logger:  log.Logger,
	}
	if d, ok := rw.(deadliner); ok {
		s.deadline = d
	}
	if c, ok := rw.(interface{ RemoteAddr() net.Addr }); ok && c.RemoteAddr() != nil {
		s.logger = log.With().Str("remote", c.RemoteAddr().String()).Logger()
	}
	s.state.Store(StateAwaitHeader)
	return s
}

// State returns the current state.
func (s *Session) State() State {
	return s.state.Load().(State)
}

// Calls returns the number of calls answered so far.
func (s *Session) Calls() uint64 {
	return s.calls.Load()
}

// Serve answers calls until the peer closes the stream between calls, ctx is
// done, or a fault occurs. A clean close returns nil; a fault is returned
// and leaves the session closed.
func (s *Session) Serve(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			s.setState(StateClosed)
			return nil
		}
		call, err := s.ReadCall()
		if err != nil {
			if s.State() == StateAwaitHeader && errors.Is(err, io.EOF) {
				s.setState(StateClosed)
				return nil
			}
			return s.fail(err)
		}
		result, err := s.Invoke(ctx, call)
		if err != nil {
			return s.fail(err)
		}
		if err := s.WriteResult(result); err != nil {
			return s.fail(err)
		}
		s.logger.Debug().
			Str("function", call.Name).
			Int("args", len(call.Args)).
			Bool("context", call.Context != nil).
			Msg("session call answered")
	}
}

// ReadCall parses one call from the stream.
func (s *Session) ReadCall() (Call, error) {
	s.setState(StateAwaitHeader)
	s.setReadDeadline(s.cfg.IdleTimeout)
	first, err := s.dec.Decode()
	if err != nil {
		return Call{}, err
	}
	s.setReadDeadline(s.cfg.ReadTimeout)

	var call Call
	nameToken := first
	if version, ok := first.(protocol.Integer); ok {
		if int32(version) != Version {
			return Call{}, fmt.Errorf("%w: %d", protocol.ErrUnsupportedVersion, int32(version))
		}
		call.Version = int32(version)

		s.setState(StateAwaitContext)
		flag, err := s.decode()
		if err != nil {
			return Call{}, err
		}
		hasContext, ok := flag.(protocol.Boolean)
		if !ok {
			return Call{}, protocol.UnexpectedTypeError{Field: "has_context", Want: protocol.TagBool, Got: flag.Tag()}
		}
		if hasContext {
			caller, err := s.decode()
			if err != nil {
				return Call{}, err
			}
			sheet, err := s.decode()
			if err != nil {
				return Call{}, err
			}
			call.Context = &FunctionContext{Caller: caller, SheetName: sheet}
		}

		s.setState(StateAwaitName)
		nameToken, err = s.decode()
		if err != nil {
			return Call{}, err
		}
	}

	name, ok := nameToken.(protocol.Text)
	if !ok {
		return Call{}, protocol.UnexpectedTypeError{Field: "name", Want: protocol.TagStr, Got: nameToken.Tag()}
	}
	call.Name = string(name)

	s.setState(StateAwaitArgCount)
	countToken, err := s.decode()
	if err != nil {
		return Call{}, err
	}
	count, ok := countToken.(protocol.Integer)
	if !ok {
		return Call{}, protocol.UnexpectedTypeError{Field: "arg_count", Want: protocol.TagInt, Got: countToken.Tag()}
	}
	if count < 0 || int(count) > s.cfg.MaxArgs {
		return Call{}, fmt.Errorf("%w: arg count %d (max %d)", protocol.ErrInvalidCount, count, s.cfg.MaxArgs)
	}

	s.setState(StateAwaitArgs)
	call.Args = make([]protocol.Value, 0, count)
	for i := int32(0); i < int32(count); i++ {
		arg, err := s.decode()
		if err != nil {
			return Call{}, err
		}
		call.Args = append(call.Args, arg)
	}
	return call, nil
}

// Invoke runs the handler for call. Handler errors and panics are returned
// as ErrInvocation.
func (s *Session) Invoke(ctx context.Context, call Call) (result protocol.Value, err error) {
	s.setState(StateInvoking)
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %s: panic: %v", ErrInvocation, call.Name, r)
		}
	}()
	result, err = s.handler.Invoke(ctx, call.Context, call.Name, call.Args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvocation, call.Name, err)
	}
	if result == nil {
		result = protocol.Nil{}
	}
	return result, nil
}

// WriteResult encodes one reply and flushes it to the stream.
func (s *Session) WriteResult(v protocol.Value) error {
	s.setState(StateReplying)
	if s.deadline != nil && s.cfg.WriteTimeout > 0 {
		_ = s.deadline.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if err := protocol.Encode(s.w, v); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrStreamClosed, err)
	}
	s.calls.Add(1)
	s.setState(StateAwaitHeader)
	return nil
}

// decode reads one value inside a call, where any end of stream is a
// truncated call rather than a clean close.
func (s *Session) decode() (protocol.Value, error) {
	v, err := s.dec.Decode()
	if err != nil && errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", protocol.ErrStreamClosed, io.ErrUnexpectedEOF)
	}
	return v, err
}

func (s *Session) fail(err error) error {
	s.logger.Debug().
		Str("state", string(s.State())).
		Str("class", Classify(err)).
		Err(err).
		Msg("session closed on fault")
	s.setState(StateClosed)
	return err
}

func (s *Session) setState(st State) {
	s.state.Store(st)
}

func (s *Session) setReadDeadline(d time.Duration) {
	if s.deadline == nil {
		return
	}
	if d <= 0 {
		_ = s.deadline.SetReadDeadline(time.Time{})
		return
	}
	_ = s.deadline.SetReadDeadline(time.Now().Add(d))
}
