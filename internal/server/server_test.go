package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/xlloop/internal/protocol"
	"github.com/danmuck/xlloop/internal/protocol/session"
	"github.com/danmuck/xlloop/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

func echoHandler() session.Handler {
	return session.HandlerFunc(func(_ context.Context, _ *session.FunctionContext, name string, args []protocol.Value) (protocol.Value, error) {
		if name == "FAIL" {
			return nil, errors.New("forced failure")
		}
		if len(args) == 1 {
			return args[0], nil
		}
		return protocol.Text(name), nil
	})
}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	s, err := New(cfg, echoHandler())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Stop()
		s.CloseConnections()
		s.Wait()
	})
	return s
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, call session.Call) protocol.Value {
	t.Helper()
	if err := session.WriteCall(conn, call); err != nil {
		t.Fatalf("write call: %v", err)
	}
	v, err := protocol.Decode(conn)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServerAnswersCalls(t *testing.T) {
	testlog.Start(t)
	s := startServer(t, DefaultConfig())

	conn := dial(t, s.Addr())
	got := roundTrip(t, conn, session.Call{Version: session.Version, Name: "ID", Args: []protocol.Value{protocol.Number(42)}})
	if got != protocol.Number(42) {
		t.Fatalf("unexpected reply: %v", got)
	}
	got = roundTrip(t, conn, session.Call{Name: "HELLO"})
	if got != protocol.Text("HELLO") {
		t.Fatalf("unexpected legacy reply: %v", got)
	}

	waitFor(t, "calls counted", func() bool { return s.Status().Calls == 2 })
	st := s.Status()
	if !st.Listening || st.Accepted != 1 || st.Active != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
	log.Debug().Interface("status", st).Msg("server/answers: status snapshot")
}

func TestServerFaultIsolation(t *testing.T) {
	testlog.Start(t)
	s := startServer(t, DefaultConfig())

	good := dial(t, s.Addr())
	bad := dial(t, s.Addr())

	if got := roundTrip(t, good, session.Call{Name: "A"}); got != protocol.Text("A") {
		t.Fatalf("unexpected reply: %v", got)
	}
	if _, err := bad.Write([]byte{0xee}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := bad.Read(buf); err == nil {
		t.Fatalf("expected faulted connection to be closed")
	}

	if got := roundTrip(t, good, session.Call{Name: "B"}); got != protocol.Text("B") {
		t.Fatalf("healthy connection affected by peer fault: %v", got)
	}
	waitFor(t, "fault counted", func() bool { return s.Status().Faults == 1 })
}

func TestServerInvocationFaultClosesOnlyThatConnection(t *testing.T) {
	testlog.Start(t)
	s := startServer(t, DefaultConfig())

	conn := dial(t, s.Addr())
	other := dial(t, s.Addr())
	if got := roundTrip(t, other, session.Call{Name: "BEFORE"}); got != protocol.Text("BEFORE") {
		t.Fatalf("unexpected reply: %v", got)
	}
	waitFor(t, "both sessions open", func() bool { return s.Active() == 2 })

	if err := session.WriteCall(conn, session.Call{Name: "FAIL"}); err != nil {
		t.Fatalf("write call: %v", err)
	}
	if _, err := protocol.Decode(conn); !errors.Is(err, protocol.ErrStreamClosed) {
		t.Fatalf("expected close after invocation fault, got %v", err)
	}
	waitFor(t, "fault counted", func() bool { return s.Status().Faults == 1 })

	if got := roundTrip(t, other, session.Call{Name: "AFTER"}); got != protocol.Text("AFTER") {
		t.Fatalf("open connection affected by peer fault: %v", got)
	}
	if s.Active() != 1 {
		t.Fatalf("expected only the faulted session to close, active=%d", s.Active())
	}
}

func TestStopKeepsOpenConnections(t *testing.T) {
	testlog.Start(t)
	s := startServer(t, DefaultConfig())
	addr := s.Addr()

	conn := dial(t, addr)
	roundTrip(t, conn, session.Call{Name: "BEFORE"})

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted on second stop, got %v", err)
	}
	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Fatalf("expected dial to fail after stop")
	}
	if got := roundTrip(t, conn, session.Call{Name: "AFTER"}); got != protocol.Text("AFTER") {
		t.Fatalf("in-flight connection was cut: %v", got)
	}
	if s.Status().Listening {
		t.Fatalf("status should report not listening")
	}

	_ = conn.Close()
	waitFor(t, "connection drained", func() bool { return s.Active() == 0 })
	s.Wait()
}

func TestWaitCoversAcceptLoopAndOpenSessions(t *testing.T) {
	testlog.Start(t)
	s := startServer(t, DefaultConfig())
	conn := dial(t, s.Addr())
	roundTrip(t, conn, session.Call{Name: "PING"})

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("wait returned while the listener was open")
	case <-time.After(100 * time.Millisecond):
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-done:
		t.Fatalf("wait returned while a session was open")
	case <-time.After(100 * time.Millisecond):
	}

	_ = conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("wait did not return after the last session closed")
	}
}

func TestMaxConnectionsRejectsExtraClients(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	s := startServer(t, cfg)

	first := dial(t, s.Addr())
	roundTrip(t, first, session.Call{Name: "ONE"})

	second := dial(t, s.Addr())
	buf := make([]byte, 1)
	if _, err := second.Read(buf); err == nil {
		t.Fatalf("expected second client to be closed")
	}
	waitFor(t, "rejection counted", func() bool { return s.Status().Rejected == 1 })

	if got := roundTrip(t, first, session.Call{Name: "STILL"}); got != protocol.Text("STILL") {
		t.Fatalf("unexpected reply: %v", got)
	}
}

func TestServeReturnsWhenContextDone(t *testing.T) {
	testlog.Start(t)
	s, err := New(Config{Addr: "127.0.0.1:0"}, echoHandler())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	waitFor(t, "listener", func() bool { return s.Status().Listening })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return")
	}
}

func TestNewRequiresHandler(t *testing.T) {
	if _, err := New(DefaultConfig(), nil); !errors.Is(err, ErrHandlerRequired) {
		t.Fatalf("expected ErrHandlerRequired, got %v", err)
	}
	cfg := Config{MaxConnections: -3}.WithDefaults()
	if cfg.Addr != DefaultAddr || cfg.MaxConnections != 0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
