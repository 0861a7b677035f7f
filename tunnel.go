// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package hookproxy

import (
	"context"
	"net"
	"net/url"
	"sync"

	"github.com/hookproxy/hookproxy/engine"
	"github.com/hookproxy/hookproxy/engine/dial"
)

// tunnelEntry is one live createTunnel front-end.
type tunnelEntry struct {
	listener net.Listener
	upstream *url.URL
	target   string

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// TunnelRegistry tracks every listener bound by CreateTunnel, keyed by its
// local address, so CloseTunnel can find and tear it down. Safe for
// concurrent use.
type TunnelRegistry struct {
	mu      sync.Mutex
	entries map[string]*tunnelEntry
}

var tunnels = &TunnelRegistry{entries: make(map[string]*tunnelEntry)}

// CreateTunnel opens a local TCP listener that front-ends a CONNECT tunnel
// to target through upstream: each accepted connection triggers a fresh
// client-role CONNECT handshake against upstream (with Basic auth if
// upstream carries credentials), then an opaque duplex pump between the
// accepted socket and the upstream tunnel. Returns the local address.
func CreateTunnel(upstream *url.URL, target string) (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}

	e := &tunnelEntry{listener: l, upstream: upstream, target: target, conns: make(map[net.Conn]struct{})}
	local := l.Addr().String()

	tunnels.mu.Lock()
	tunnels.entries[local] = e
	tunnels.mu.Unlock()

	go e.acceptLoop()

	return local, nil
}

func (e *tunnelEntry) acceptLoop() {
	for {
		c, err := e.listener.Accept()
		if err != nil {
			return
		}
		e.track(c)
		go e.serve(c)
	}
}

func (e *tunnelEntry) track(c net.Conn) {
	e.mu.Lock()
	e.conns[c] = struct{}{}
	e.mu.Unlock()
}

func (e *tunnelEntry) untrack(c net.Conn) {
	e.mu.Lock()
	delete(e.conns, c)
	e.mu.Unlock()
}

func (e *tunnelEntry) serve(c net.Conn) {
	defer e.untrack(c)

	var dialer net.Dialer
	d := dial.New(dialer.DialContext, e.upstream)

	res, upConn, err := d.DialContextR(context.Background(), "tcp", e.target)
	if err != nil {
		c.Close()
		return
	}
	res.Body.Close()
	if res.StatusCode/100 != 2 {
		upConn.Close()
		c.Close()
		return
	}

	engine.Pump(context.Background(), c, upConn)
}

// CloseTunnel removes and tears down the listener CreateTunnel registered
// under local. If force is true, every in-flight accepted connection is
// closed immediately; otherwise they're left to drain naturally. Returns
// false if local is not a currently open tunnel.
func CloseTunnel(local string, force bool) bool {
	tunnels.mu.Lock()
	e, ok := tunnels.entries[local]
	if ok {
		delete(tunnels.entries, local)
	}
	tunnels.mu.Unlock()
	if !ok {
		return false
	}

	e.listener.Close()
	if force {
		e.mu.Lock()
		conns := make([]net.Conn, 0, len(e.conns))
		for c := range e.conns {
			conns = append(conns, c)
		}
		e.mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	}
	return true
}
