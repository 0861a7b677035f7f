// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"sync"
	"time"
)

// drainBuffer flushes any bytes already buffered in r (read ahead while
// peeking the request line) into w before the duplex pump takes over.
func drainBuffer(w io.Writer, r *bufio.Reader) error {
	if n := r.Buffered(); n > 0 {
		rbuf, err := r.Peek(n)
		if err != nil {
			return err
		}
		if _, err := w.Write(rbuf); err != nil {
			return err
		}
		if _, err := r.Discard(n); err != nil {
			return err
		}
	}
	return nil
}

var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32*1024)
		return &b
	},
}

// closeWriter is implemented by connections that support half-close.
type closeWriter interface {
	CloseWrite() error
}

var (
	_ closeWriter = (*net.TCPConn)(nil)
	_ closeWriter = (*tls.Conn)(nil)
)

// asCloseWriter returns a closeWriter for w, looking through one level of
// struct embedding if w does not itself implement it.
func asCloseWriter(w io.Writer) (closeWriter, bool) {
	if cw, ok := w.(closeWriter); ok {
		return cw, true
	}

	v := reflect.Indirect(reflect.ValueOf(w))
	if v.Kind() != reflect.Struct {
		return nil, false
	}
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.CanInterface() {
			if cw, ok := f.Interface().(closeWriter); ok {
				return cw, true
			}
		}
	}
	return nil, false
}

// tunnelGracePeriod bounds how long a tunnel is kept open after one
// direction has finished copying, before the other side is forced closed.
var tunnelGracePeriod = 1 * time.Minute

// copier copies bytes from src to dst, half-closing dst's write side (or
// closing it outright if half-close is unsupported) once src is drained.
type copier struct {
	name string
	dst  io.Writer
	src  io.Reader
}

// Pump runs the opaque duplex byte pump between a and b until both
// directions are drained, half-closing each side as its source dries up
// and forcing both closed after a grace period. It's exported for use by
// front-ends that open their own tunnels outside the Handler (createTunnel).
func Pump(ctx context.Context, a, b net.Conn) {
	bicopy(ctx,
		copier{name: "a->b", dst: b, src: a},
		copier{name: "b->a", dst: a, src: b},
	)
}

// bicopy runs the opaque duplex pump described in the CONNECT-tunnel
// handler: two copiers run concurrently; once either finishes, the other
// is given a grace period to drain before being forced closed.
func bicopy(ctx context.Context, cc ...copier) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	donec := make(chan struct{}, len(cc))
	for i := range cc {
		go cc[i].copy(ctx, donec)
	}

	for i := range cc {
		<-donec
		if i == 0 {
			go gracefulCloseAfter(ctx, tunnelGracePeriod, cc...)
		}
	}
}

func gracefulCloseAfter(ctx context.Context, d time.Duration, cc ...copier) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(d):
		logDebug(ctx, "forcibly closing tunnel after grace period", "period", d)
	}
	for i := range cc {
		cc[i].close(ctx)
	}
}

func (c copier) copy(ctx context.Context, donec chan<- struct{}) {
	bufp := copyBufPool.Get().(*[]byte) //nolint:forcetypeassert // it's always *[]byte
	buf := *bufp
	defer copyBufPool.Put(bufp)

	if _, err := io.CopyBuffer(c.dst, c.src, buf); err != nil && !isClosedConnError(err) {
		logError(ctx, "tunnel copy failed", "name", c.name, "error", err)
	}
	c.closeWrite(ctx)

	donec <- struct{}{}
}

func (c copier) closeWrite(ctx context.Context) {
	var err error
	switch {
	case isCloseWriter(c.dst):
		cw, _ := asCloseWriter(c.dst)
		err = cw.CloseWrite()
	default:
		if pw, ok := c.dst.(*io.PipeWriter); ok {
			err = pw.Close()
		} else if cl, ok := c.dst.(io.Closer); ok {
			err = cl.Close()
		} else {
			logError(ctx, "cannot half-close tunnel destination", "name", c.name, "type", fmt.Sprintf("%T", c.dst))
			return
		}
	}
	if err != nil && !isClosedConnError(err) {
		logDebug(ctx, "failed to half-close tunnel", "name", c.name, "error", err)
	}
}

func isCloseWriter(w io.Writer) bool {
	_, ok := asCloseWriter(w)
	return ok
}

func (c copier) close(ctx context.Context) {
	cl, ok := c.dst.(io.Closer)
	if !ok {
		return
	}
	if err := cl.Close(); err != nil && !isClosedConnError(err) {
		logDebug(ctx, "failed to force-close tunnel", "name", c.name, "error", err)
	}
}

func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	return false
}
