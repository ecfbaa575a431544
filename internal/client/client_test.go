package client

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/danmuck/xlloop/internal/protocol"
	"github.com/danmuck/xlloop/internal/protocol/session"
	"github.com/danmuck/xlloop/internal/testutil/testlog"
)

func startSessionServer(t *testing.T, h session.Handler) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_ = session.New(conn, h, session.DefaultConfig()).Serve(context.Background())
			}()
		}
	}()
	return ln.Addr().String()
}

func TestCallRoundTripWithContext(t *testing.T) {
	testlog.Start(t)

	seen := make(chan *session.FunctionContext, 1)
	addr := startSessionServer(t, session.HandlerFunc(func(_ context.Context, fc *session.FunctionContext, name string, args []protocol.Value) (protocol.Value, error) {
		seen <- fc
		return protocol.Array{protocol.Text(name), protocol.Integer(int32(len(args)))}, nil
	}))

	c, err := Dial(context.Background(), addr, DefaultConfig())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	fc := &session.FunctionContext{Caller: protocol.RangeRef{RowFirst: 2, RowLast: 2}, SheetName: protocol.Text("Sheet1")}
	got, err := c.Call(context.Background(), fc, "WHO", protocol.Number(1), protocol.Boolean(false))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	want := protocol.Array{protocol.Text("WHO"), protocol.Integer(2)}
	if !protocol.Equal(got, want) {
		t.Fatalf("unexpected result: %v", got)
	}
	gotFC := <-seen
	if gotFC == nil || !protocol.Equal(gotFC.SheetName, protocol.Text("Sheet1")) {
		t.Fatalf("context not delivered: %+v", gotFC)
	}

	again, err := c.CallAny(context.Background(), "AGAIN", 1, "x")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !protocol.Equal(again, protocol.Array{protocol.Text("AGAIN"), protocol.Integer(2)}) {
		t.Fatalf("unexpected second result: %v", again)
	}
	if fc := <-seen; fc != nil {
		t.Fatalf("expected absent context, got %+v", fc)
	}
}

func TestLegacyCallDropsContext(t *testing.T) {
	testlog.Start(t)

	seen := make(chan *session.FunctionContext, 1)
	addr := startSessionServer(t, session.HandlerFunc(func(_ context.Context, fc *session.FunctionContext, _ string, _ []protocol.Value) (protocol.Value, error) {
		seen <- fc
		return protocol.Nil{}, nil
	}))

	cfg := DefaultConfig()
	cfg.Legacy = true
	c, err := Dial(context.Background(), addr, cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	fc := &session.FunctionContext{Caller: protocol.Nil{}, SheetName: protocol.Text("ignored")}
	if _, err := c.Call(context.Background(), fc, "F"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if got := <-seen; got != nil {
		t.Fatalf("legacy call must not carry context, got %+v", got)
	}
}

func TestCallAfterServerFaultIsClosed(t *testing.T) {
	testlog.Start(t)

	addr := startSessionServer(t, session.HandlerFunc(func(context.Context, *session.FunctionContext, string, []protocol.Value) (protocol.Value, error) {
		return nil, errors.New("boom")
	}))
	c, err := Dial(context.Background(), addr, DefaultConfig())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if _, err := c.Call(context.Background(), nil, "F"); !errors.Is(err, protocol.ErrStreamClosed) {
		t.Fatalf("expected stream closed after server fault, got %v", err)
	}
	if _, err := c.Call(context.Background(), nil, "F"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCallHonoursContextDeadline(t *testing.T) {
	testlog.Start(t)

	release := make(chan struct{})
	defer close(release)
	addr := startSessionServer(t, session.HandlerFunc(func(context.Context, *session.FunctionContext, string, []protocol.Value) (protocol.Value, error) {
		<-release
		return protocol.Nil{}, nil
	}))
	c, err := Dial(context.Background(), addr, DefaultConfig())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Call(ctx, nil, "SLOW")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDialGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := DefaultConfig()
	cfg.MaxConnectAttempts = 2
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	if _, err := Dial(context.Background(), addr, cfg); err == nil {
		t.Fatalf("expected dial failure")
	}
	if _, err := Dial(context.Background(), "  ", cfg); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
}

func TestNextBackoffDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	cases := map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		5: time.Second,
	}
	for attempt, want := range cases {
		if got := NextBackoffDelay(cfg, attempt, nil); got != want {
			t.Fatalf("attempt %d: got %v want %v", attempt, got, want)
		}
	}

	cfg.Jitter = true
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		got := NextBackoffDelay(cfg, 2, rng)
		if got < 100*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
	if got := NextBackoffDelay(BackoffConfig{}, 4, nil); got != 0 {
		t.Fatalf("zero config should not wait, got %v", got)
	}
}
