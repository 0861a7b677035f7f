// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package hookproxy implements a programmable forward HTTP proxy: it
// authenticates clients with Basic proxy auth, optionally chains to an
// upstream proxy, and otherwise relays bytes between the client and the
// target origin, all driven by a per-request decision Hook.
package hookproxy

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hookproxy/hookproxy/conntrack"
	"github.com/hookproxy/hookproxy/engine"
	"github.com/hookproxy/hookproxy/log"
)

// Connection and Stats are re-exported from engine so callers never need
// to import it directly.
type (
	Connection  = engine.Connection
	Stats       = engine.Stats
	State       = engine.State
	Disposition = engine.Disposition
)

// Disposition values, re-exported from engine.
const (
	DispositionOK            = engine.DispositionOK
	DispositionClientError   = engine.DispositionClientError
	DispositionAuthRequired  = engine.DispositionAuthRequired
	DispositionHookError     = engine.DispositionHookError
	DispositionUpstreamError = engine.DispositionUpstreamError
	DispositionDenied        = engine.DispositionDenied
)

// State values, re-exported from engine.
const (
	StateReading        = engine.StateReading
	StateDeciding       = engine.StateDeciding
	StateAuthenticating = engine.StateAuthenticating
	StateForwarding     = engine.StateForwarding
	StateTunneling      = engine.StateTunneling
	StateResponding     = engine.StateResponding
	StateClosed         = engine.StateClosed
)

// HookFunc, HookInput, Decision, HTTPStatus and CustomResponseSpec mirror
// the decision hook's contract: one call per request, returning what the
// engine should do with it.
type (
	HookFunc           = engine.HookFunc
	HookInput          = engine.HookInput
	Decision           = engine.Decision
	HTTPStatus         = engine.HTTPStatus
	CustomResponseSpec = engine.CustomResponseSpec
)

// Options configures a Server.
type Options struct {
	// Addr is the address to listen on, e.g. ":8000" or "127.0.0.1:0".
	// An empty Addr or port 0 lets the OS assign a port.
	Addr string

	// Hook decides auth/chaining/custom-response per request; nil means
	// no request is ever challenged or chained.
	Hook HookFunc

	// RequireAuthDefault challenges every client when Hook is nil. It has
	// no effect once Hook is set: the hook becomes the sole authority on
	// whether to require auth.
	RequireAuthDefault bool

	// TrackTraffic enables per-connection byte counters (Connection's
	// BytesIn/BytesOut); it has a small overhead and is off by default.
	TrackTraffic bool

	ReadHeaderTimeout time.Duration
	DialTimeout       time.Duration

	// Logger receives structured lifecycle and error messages.
	Logger log.StructuredLogger

	// OnConnection, OnRequest, OnTunnelConnected and OnConnectionClosed
	// mirror the server lifecycle's named events; all are optional.
	OnConnection       func(*Connection)
	OnRequest          func(*Connection, *engine.IncomingRequest)
	OnTunnelConnected  func(*Connection)
	OnConnectionClosed func(*Connection, Stats)
}

// Server accepts connections on a single TCP listener and drives each
// through the engine's per-connection state machine. It owns every
// Connection in its registry for that connection's lifetime.
type Server struct {
	opts Options

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]*Connection
	closing  bool
	closed   chan struct{}
	wg       sync.WaitGroup

	handler *engine.Handler
}

// NewServer constructs a Server; call Listen to begin accepting.
func NewServer(opts Options) *Server {
	if opts.Logger != nil {
		engine.SetLogger(opts.Logger)
	}

	s := &Server{
		opts:   opts,
		conns:  make(map[string]*Connection),
		closed: make(chan struct{}),
	}
	s.handler = &engine.Handler{
		Hook:               opts.Hook,
		RequireAuthDefault: opts.RequireAuthDefault,
		ReadHeaderTimeout:  opts.ReadHeaderTimeout,
		DialTimeout:        opts.DialTimeout,
		OnRequest:          opts.OnRequest,
		OnTunnelConnected: func(c *Connection) {
			if opts.OnTunnelConnected != nil {
				opts.OnTunnelConnected(c)
			}
		},
	}
	return s
}

// Addr returns the address the server is listening on, valid only after
// Listen returns successfully.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Listen binds the configured address and begins accepting connections in
// the background; it returns once the listener is bound, or with a bind
// error, which is the only error the server lifecycle propagates directly
// to the caller.
func (s *Server) Listen() error {
	addr := s.opts.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(l)

	return nil
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()
	defer l.Close()

	var delay time.Duration
	for {
		c, err := l.Accept()
		if err != nil {
			if s.isClosing() {
				return
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if delay > time.Second {
					delay = time.Second
				}
				time.Sleep(delay)
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			return
		}
		delay = 0

		s.wg.Add(1)
		go s.serveConn(c)
	}
}

func (s *Server) serveConn(c net.Conn) {
	defer s.wg.Done()

	wc, obs := (conntrack.Builder{TrackTraffic: s.opts.TrackTraffic}).BuildWithObserver(c)

	id := newConnID()
	conn := engine.NewConnection(id, wc, obs)

	if !s.register(conn) {
		wc.Close()
		return
	}
	if s.opts.OnConnection != nil {
		s.opts.OnConnection(conn)
	}

	s.handler.Handle(context.Background(), conn)

	s.unregister(conn)
	conn.Destroy()
	if s.opts.OnConnectionClosed != nil {
		s.opts.OnConnectionClosed(conn, conn.Stats())
	}
}

func (s *Server) register(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c.ID] = c
	return true
}

// unregister removes c from the registry before destroying its sockets,
// so a concurrent forced Close cannot double-free the same connection.
func (s *Server) unregister(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c.ID)
	s.mu.Unlock()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Close stops accepting new connections. If force is false, in-flight
// exchanges and tunnels are left to finish naturally and Close blocks
// until the registry empties. If force is true, every registered
// connection is destroyed immediately.
func (s *Server) Close(force bool) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	l := s.listener
	var toDestroy []*Connection
	if force {
		toDestroy = make([]*Connection, 0, len(s.conns))
		for id, c := range s.conns {
			toDestroy = append(toDestroy, c)
			delete(s.conns, id)
		}
	}
	s.mu.Unlock()

	if l != nil {
		l.Close()
	}
	for _, c := range toDestroy {
		c.Destroy()
	}

	s.wg.Wait()
	return nil
}

func newConnID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
