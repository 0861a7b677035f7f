// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/hookproxy/hookproxy/conntrack"
)

// State is a connection's position in the Reading -> Deciding ->
// {Authenticating|Forwarding|Tunneling|Responding} -> Closed state machine.
// Closed is terminal; every code path must reach it exactly once.
type State int32

const (
	StateReading State = iota
	StateDeciding
	StateAuthenticating
	StateForwarding
	StateTunneling
	StateResponding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateDeciding:
		return "deciding"
	case StateAuthenticating:
		return "authenticating"
	case StateForwarding:
		return "forwarding"
	case StateTunneling:
		return "tunneling"
	case StateResponding:
		return "responding"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Disposition names the terminal outcome of a connection, for metrics and
// logging; it's orthogonal to State, which only tracks position in the
// state machine and is always StateClosed by the time a connection's
// disposition is read.
type Disposition string

const (
	DispositionOK            Disposition = "ok"
	DispositionClientError   Disposition = "client_error"
	DispositionAuthRequired  Disposition = "auth_required"
	DispositionHookError     Disposition = "hook_error"
	DispositionUpstreamError Disposition = "upstream_error"
	DispositionDenied        Disposition = "denied"
)

// Connection is one accepted client socket, tracked by the server registry
// for the lifetime of the exchange or tunnel it carries.
type Connection struct {
	ID         string
	ClientAddr net.Addr
	StartedAt  time.Time

	client      net.Conn
	obs         *conntrack.Observer
	state       atomic.Int32
	disposition atomic.Value
	tunnel      atomic.Bool

	// upstream, if non-nil, is closed alongside client on teardown; set
	// once a forward or tunnel handler has dialed out.
	upstream atomic.Pointer[net.Conn]
}

// NewConnection wraps an accepted client socket c (already instrumented
// for byte counting via obs, if any) as a Connection ready for Handle.
func NewConnection(id string, c net.Conn, obs *conntrack.Observer) *Connection {
	conn := &Connection{ID: id, ClientAddr: c.RemoteAddr(), StartedAt: time.Now(), client: c, obs: obs}
	conn.state.Store(int32(StateReading))
	conn.disposition.Store(DispositionOK)
	return conn
}

// SetDisposition records d as the connection's terminal outcome; the last
// call before Closed wins.
func (c *Connection) SetDisposition(d Disposition) { c.disposition.Store(d) }

// Disposition returns the connection's terminal outcome, DispositionOK
// until an error path sets otherwise.
func (c *Connection) Disposition() Disposition { return c.disposition.Load().(Disposition) } //nolint:forcetypeassert

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// setTunnel records whether this connection carries a CONNECT tunnel
// rather than a plain forward-HTTP request, for Stats.
func (c *Connection) setTunnel(v bool) { c.tunnel.Store(v) }

// Tunnel reports whether the connection's request was a CONNECT tunnel.
func (c *Connection) Tunnel() bool { return c.tunnel.Load() }

// State returns the connection's current position in the state machine.
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setUpstream(u net.Conn) {
	c.upstream.Store(&u)
}

// BytesIn is the number of bytes read from the client socket so far.
func (c *Connection) BytesIn() uint64 {
	if c.obs == nil {
		return 0
	}
	return c.obs.Rx()
}

// BytesOut is the number of bytes written to the client socket so far.
func (c *Connection) BytesOut() uint64 {
	if c.obs == nil {
		return 0
	}
	return c.obs.Tx()
}

// Destroy forcibly closes both halves of the connection. Used by forced
// shutdown; safe to call more than once.
func (c *Connection) Destroy() {
	c.client.Close()
	if up := c.upstream.Load(); up != nil {
		(*up).Close()
	}
}

// Stats summarizes a Connection at the moment it reaches StateClosed.
type Stats struct {
	State       State
	Disposition Disposition
	Tunnel      bool
	BytesIn     uint64
	BytesOut    uint64
	Duration    time.Duration
}

// Stats summarizes the connection's byte counters, state, and age as of
// the call; it's what the server lifecycle's connectionClosed event
// carries.
func (c *Connection) Stats() Stats {
	return Stats{
		State:       c.State(),
		Disposition: c.Disposition(),
		Tunnel:      c.Tunnel(),
		BytesIn:     c.BytesIn(),
		BytesOut:    c.BytesOut(),
		Duration:    time.Since(c.StartedAt),
	}
}
