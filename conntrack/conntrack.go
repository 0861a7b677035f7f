// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package conntrack wraps net.Conn to count bytes read/written and to run
// a callback exactly once when the connection is closed, feeding the
// bytesIn/bytesOut fields of a tracked Connection.
package conntrack

import (
	"net"
	"sync"
	"sync/atomic"
)

// Observer allows to observe the number of bytes read and written from a connection.
type Observer struct {
	rx atomic.Uint64
	tx atomic.Uint64
}

// Rx returns the number of bytes read from the connection.
// It requires TrackTraffic to be set to true, otherwise it returns 0.
func (o *Observer) Rx() uint64 {
	return o.rx.Load()
}

// Tx returns the number of bytes written to the connection.
// It requires TrackTraffic to be set to true, otherwise it returns 0.
func (o *Observer) Tx() uint64 {
	return o.tx.Load()
}

func (o *Observer) addRx(n uint64) {
	o.rx.Add(n)
}

func (o *Observer) addTx(n uint64) {
	o.tx.Add(n)
}

// closeWriter is implemented by connections that support TCP/TLS half-close.
type closeWriter interface {
	CloseWrite() error
}

// conn is a net.Conn that tracks the number of bytes read and written, and
// runs onClose (if set) exactly once when Close is called. CloseWrite is
// forwarded to the wrapped connection when it supports half-close, which
// the duplex pump relies on.
type conn struct {
	net.Conn
	o       Observer
	track   bool
	once    sync.Once
	onClose func()
}

func (c *conn) Read(p []byte) (n int, err error) {
	n, err = c.Conn.Read(p)
	if c.track {
		c.o.addRx(uint64(n)) //nolint:gosec // n is never negative.
	}
	return
}

func (c *conn) Write(p []byte) (n int, err error) {
	n, err = c.Conn.Write(p)
	if c.track {
		c.o.addTx(uint64(n)) //nolint:gosec // n is never negative.
	}
	return
}

func (c *conn) CloseWrite() error {
	cw, ok := c.Conn.(closeWriter)
	if !ok {
		return nil
	}
	return cw.CloseWrite()
}

func (c *conn) Close() error {
	err := c.Conn.Close()
	if c.onClose != nil {
		c.once.Do(c.onClose)
	}
	return err
}

func (c *conn) Observer() *Observer {
	return &c.o
}

// Builder configures how Build wraps a net.Conn.
type Builder struct {
	// TrackTraffic enables counting of bytes read and written by the connection.
	// Use Rx and Tx to get the number of bytes read and written.
	TrackTraffic bool

	// OnClose is called after the underlying connection is closed and before the Close method returns.
	// OnClose is called at most once.
	OnClose func()
}

func (b Builder) Build(c net.Conn) net.Conn {
	wc, _ := b.BuildWithObserver(c)
	return wc
}

func (b Builder) BuildWithObserver(c net.Conn) (net.Conn, *Observer) {
	if !b.TrackTraffic && b.OnClose == nil {
		return c, nil
	}

	wc := &conn{Conn: c, track: b.TrackTraffic, onClose: b.OnClose}
	return wc, &wc.o
}

// ObserverFromConn returns the Observer of conn, or nil if conn was not
// wrapped by a Builder (one with neither TrackTraffic nor OnClose set
// returns conn unwrapped). The Observer of a connection built without
// TrackTraffic always reports 0.
func ObserverFromConn(conn net.Conn) *Observer {
	if o, ok := conn.(interface{ Observer() *Observer }); ok {
		return o.Observer()
	}
	return nil
}
