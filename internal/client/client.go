// Package client dials an xlloop server and issues calls the way the
// spreadsheet add-in does: one request in flight per connection.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/xlloop/internal/protocol"
	"github.com/danmuck/xlloop/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired = errors.New("client: address required")
	ErrClosed          = errors.New("client: connection closed")
)

type Config struct {
	ConnectTimeout     time.Duration
	CallTimeout        time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
	// Legacy sends calls without the versioned header, which drops any
	// function context.
	Legacy bool
	Limits protocol.Limits
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     3 * time.Second,
		CallTimeout:        30 * time.Second,
		MaxConnectAttempts: 1,
		Backoff:            DefaultBackoffConfig(),
		Limits:             protocol.DefaultLimits(),
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.CallTimeout < 0 {
		c.CallTimeout = 0
	}
	if c.Backoff.InitialDelay <= 0 && c.Backoff.MaxDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

// Client is a single connection to a server. Calls are serialized.
type Client struct {
	cfg  Config
	addr string

	mu     sync.Mutex
	conn   net.Conn
	w      *bufio.Writer
	dec    *protocol.Decoder
	closed bool
}

// Dial connects to addr, retrying with backoff up to MaxConnectAttempts
// (zero or less retries until ctx is done).
func Dial(ctx context.Context, addr string, cfg Config) (*Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.WithDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var attempt int
	for {
		attempt++
		dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			log.Debug().Str("addr", addr).Int("attempt", attempt).Msg("client connected")
			return &Client{
				cfg:  cfg,
				addr: addr,
				conn: conn,
				w:    bufio.NewWriter(conn),
				dec:  protocol.NewDecoder(bufio.NewReader(conn), cfg.Limits),
			}, nil
		}
		log.Warn().Str("addr", addr).Int("attempt", attempt).Err(err).Msg("client dial failed")
		if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
			return nil, fmt.Errorf("client: dial %s: %w", addr, err)
		}
		timer := time.NewTimer(NextBackoffDelay(cfg.Backoff, attempt, rng))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) Addr() string {
	return c.addr
}

// Call sends one request and waits for its single reply. fc is ignored in
// legacy mode. Any error leaves the connection closed, since the stream
// cannot be resynchronized.
func (c *Client) Call(ctx context.Context, fc *session.FunctionContext, name string, args ...protocol.Value) (protocol.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok && c.cfg.CallTimeout > 0 {
		deadline = time.Now().Add(c.cfg.CallTimeout)
	}
	_ = c.conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	call := session.Call{Name: name, Args: args}
	if !c.cfg.Legacy {
		call.Version = session.Version
		call.Context = fc
	}
	if err := session.WriteCall(c.w, call); err != nil {
		return nil, c.abort(ctx, err)
	}
	if err := c.w.Flush(); err != nil {
		return nil, c.abort(ctx, fmt.Errorf("%w: %w", protocol.ErrStreamClosed, err))
	}
	result, err := c.dec.Decode()
	if err != nil {
		return nil, c.abort(ctx, err)
	}
	return result, nil
}

// CallAny converts host values with protocol.FromGo before calling.
func (c *Client) CallAny(ctx context.Context, name string, args ...any) (protocol.Value, error) {
	values := make([]protocol.Value, len(args))
	for i, a := range args {
		values[i] = protocol.FromGo(a)
	}
	return c.Call(ctx, nil, name, values...)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Client) abort(ctx context.Context, err error) error {
	c.closed = true
	_ = c.conn.Close()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("client: %w: %w", ctxErr, err)
	}
	// The conn deadline can fire just before the context timer does.
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("client: %w: %w", context.DeadlineExceeded, err)
	}
	return err
}
