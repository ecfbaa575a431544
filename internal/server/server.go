// Package server accepts TCP connections and runs one call session per
// connection.
//
// Ownership boundary:
// - listener lifecycle, per-connection goroutines and connection counters
// - no call parsing; that lives in internal/protocol/session
package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/xlloop/internal/observability"
	"github.com/danmuck/xlloop/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const DefaultAddr = "127.0.0.1:5454"

var (
	ErrHandlerRequired = errors.New("server: handler required")
	ErrAlreadyStarted  = errors.New("server: already started")
	ErrNotStarted      = errors.New("server: not started")
)

type Config struct {
	Addr    string
	Session session.Config
	// MaxConnections caps concurrent sessions; 0 means unlimited.
	MaxConnections int
}

func DefaultConfig() Config {
	return Config{
		Addr:    DefaultAddr,
		Session: session.DefaultConfig(),
	}
}

func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = DefaultAddr
	}
	if c.MaxConnections < 0 {
		c.MaxConnections = 0
	}
	c.Session = c.Session.WithDefaults()
	return c
}

// Status is a point-in-time view of the server counters.
type Status struct {
	Addr      string    `json:"addr"`
	Listening bool      `json:"listening"`
	StartedAt time.Time `json:"started_at"`
	Active    int64     `json:"active_clients"`
	Accepted  uint64    `json:"accepted"`
	Rejected  uint64    `json:"rejected"`
	Faults    uint64    `json:"faults"`
	Calls     uint64    `json:"calls"`
}

type Server struct {
	cfg     Config
	handler session.Handler

	mu        sync.Mutex
	ln        net.Listener
	startedAt time.Time
	conns     map[net.Conn]*session.Session
	acceptErr chan error

	wg       sync.WaitGroup
	active   atomic.Int64
	accepted atomic.Uint64
	rejected atomic.Uint64
	faults   atomic.Uint64
	calls    atomic.Uint64
}

func New(cfg Config, h session.Handler) (*Server, error) {
	if h == nil {
		return nil, ErrHandlerRequired
	}
	return &Server{
		cfg:     cfg.WithDefaults(),
		handler: h,
		conns:   make(map[net.Conn]*session.Session),
	}, nil
}

// Start binds the listener and runs the accept loop in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return ErrAlreadyStarted
	}
	ln, err := net.Listen("tcp", strings.TrimSpace(s.cfg.Addr))
	if err != nil {
		return err
	}
	s.ln = ln
	s.startedAt = time.Now()
	s.acceptErr = make(chan error, 1)
	log.Info().Str("addr", ln.Addr().String()).Msg("xlloop server listening")

	s.wg.Add(1)
	go s.acceptLoop(ln, s.acceptErr)
	return nil
}

// Serve starts the server and blocks until ctx is done or the listener
// fails. The listener is closed on return; open sessions keep running.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	s.mu.Lock()
	acceptErr := s.acceptErr
	s.mu.Unlock()

	var err error
	select {
	case <-ctx.Done():
	case err = <-acceptErr:
	}
	if stopErr := s.Stop(); err == nil && stopErr != nil && !errors.Is(stopErr, ErrNotStarted) {
		err = stopErr
	}
	return err
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

// Stop closes the listener. Connections already accepted are not cut.
func (s *Server) Stop() error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()
	if ln == nil {
		return ErrNotStarted
	}
	log.Info().Str("addr", ln.Addr().String()).Int64("active_clients", s.active.Load()).Msg("xlloop server stopping")
	return ln.Close()
}

// CloseConnections force-closes every open session.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// Wait blocks until the accept loop and every connection goroutine have
// returned. Call Stop first; open sessions are waited for, not cut.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) Active() int64 {
	return s.active.Load()
}

func (s *Server) Status() Status {
	s.mu.Lock()
	st := Status{
		Addr:      s.cfg.Addr,
		Listening: s.ln != nil,
		StartedAt: s.startedAt,
	}
	if s.ln != nil {
		st.Addr = s.ln.Addr().String()
	}
	st.Calls = s.calls.Load()
	for _, sess := range s.conns {
		st.Calls += sess.Calls()
	}
	s.mu.Unlock()
	st.Active = s.active.Load()
	st.Accepted = s.accepted.Load()
	st.Rejected = s.rejected.Load()
	st.Faults = s.faults.Load()
	return st
}

func (s *Server) acceptLoop(ln net.Listener, errc chan<- error) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				errc <- nil
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			log.Error().Err(err).Msg("xlloop accept failed")
			errc <- err
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	active := s.active.Add(1)
	defer s.active.Add(-1)
	if s.cfg.MaxConnections > 0 && active > int64(s.cfg.MaxConnections) {
		s.rejected.Add(1)
		log.Warn().Str("remote", remote).Int("max_connections", s.cfg.MaxConnections).Msg("xlloop client rejected")
		return
	}

	sess := session.New(conn, s.handler, s.cfg.Session)
	s.track(conn, sess)
	s.accepted.Add(1)
	observability.RecordConnectionOpened()
	log.Info().Str("remote", remote).Int64("active_clients", active).Msg("xlloop client connected")

	err := sess.Serve(context.Background())
	s.untrack(conn, sess)

	class := session.Classify(err)
	observability.RecordConnectionClosed(class)
	if err != nil {
		s.faults.Add(1)
		log.Warn().
			Str("remote", remote).
			Str("class", class).
			Uint64("calls", sess.Calls()).
			Err(err).
			Msg("xlloop client closed on fault")
		return
	}
	log.Info().
		Str("remote", remote).
		Uint64("calls", sess.Calls()).
		Int64("active_clients", s.active.Load()-1).
		Msg("xlloop client disconnected")
}

func (s *Server) track(conn net.Conn, sess *session.Session) {
	s.mu.Lock()
	s.conns[conn] = sess
	s.mu.Unlock()
}

// untrack folds the session's call count into the closed total.
func (s *Server) untrack(conn net.Conn, sess *session.Session) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.calls.Add(sess.Calls())
	s.mu.Unlock()
}
