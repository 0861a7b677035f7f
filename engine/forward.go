// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// hopByHop is the canonical set of headers that apply to a single
// transport hop and must never be forwarded, per the design note on
// hop-by-hop header handling.
var hopByHop = map[string]bool{
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Connection":          true,
	"Keep-Alive":          true,
	"Te":                  true,
	"Trailer":             true,
	"Upgrade":             true,
}

// isUpgrade reports whether req carries a genuine HTTP Upgrade request:
// Connection: Upgrade plus a non-empty Upgrade header. Token matching
// follows RFC 7230's comma-separated Connection header rule, via the same
// httpguts helper net/http itself uses for this check.
func isUpgrade(h http.Header) bool {
	return h.Get("Upgrade") != "" && httpguts.HeaderValuesContainsToken(h.Values("Connection"), "Upgrade")
}

// stripHopByHop removes the canonical hop-by-hop set from h, plus any
// token named in h's own Connection header, honoring the design note that
// an incoming Connection header can name additional per-exchange headers.
// With keepUpgrade set, Connection and Upgrade are left in place.
func stripHopByHop(h http.Header, keepUpgrade bool) {
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" && !(keepUpgrade && strings.EqualFold(tok, "Upgrade")) {
				h.Del(tok)
			}
		}
	}
	for name := range hopByHop {
		if keepUpgrade && (name == "Connection" || name == "Upgrade") {
			continue
		}
		h.Del(name)
	}
}

// forwardHTTP relays a single request/response exchange, optionally
// chaining through an upstream proxy. It closes the upstream connection
// on return; closing the client connection is left to Handle's caller.
func (h *Handler) forwardHTTP(ctx context.Context, conn *Connection, cbr *bufio.Reader, cbw *bufio.Writer, ir *IncomingRequest, upstream *url.URL) error {
	conn.setState(StateForwarding)

	req := ir.Request
	upgrade := isUpgrade(req.Header)
	stripHopByHop(req.Header, upgrade)

	var (
		dialAddr string
		useProxy bool
	)
	if upstream != nil {
		dialAddr = upstream.Host
		useProxy = true
		if u := upstream.User; u != nil {
			pass, _ := u.Password()
			req.Header.Set("Proxy-Authorization", basicAuthValue(u.Username(), pass))
		}
	} else {
		dialAddr = net.JoinHostPort(ir.Hostname, fmt.Sprintf("%d", ir.Port))
	}

	upConn, err := h.dial(ctx, dialAddr)
	if err != nil {
		return err
	}
	defer upConn.Close()
	conn.setUpstream(upConn)

	ubw := bufio.NewWriter(upConn)
	var writeErr error
	if useProxy {
		writeErr = req.WriteProxy(ubw)
	} else {
		writeErr = req.Write(ubw)
	}
	if writeErr != nil {
		return fmt.Errorf("write request to upstream: %w", writeErr)
	}
	if err := ubw.Flush(); err != nil {
		return fmt.Errorf("flush request to upstream: %w", err)
	}

	ubr := bufio.NewReader(upConn)
	res, err := http.ReadResponse(ubr, req)
	if err != nil {
		return fmt.Errorf("read response from upstream: %w", err)
	}
	defer res.Body.Close()

	resUpgrade := res.StatusCode == http.StatusSwitchingProtocols && upgrade
	stripHopByHop(res.Header, resUpgrade)

	conn.setState(StateResponding)

	if req.Method == http.MethodHead {
		res.Body = http.NoBody
		res.ContentLength = 0
	}

	if err := res.Write(cbw); err != nil {
		return fmt.Errorf("write response to client: %w", err)
	}
	if err := cbw.Flush(); err != nil {
		return err
	}

	if resUpgrade {
		conn.setState(StateTunneling)
		bicopy(ctx,
			copier{name: "client->upstream", dst: upConn, src: cbr},
			copier{name: "upstream->client", dst: cbw2conn(cbw, conn), src: ubr},
		)
	}

	return nil
}

// cbw2conn adapts the client's buffered writer for use as a copier
// destination; it flushes eagerly so pumped bytes reach the socket.
func cbw2conn(bw *bufio.Writer, conn *Connection) *flushWriter {
	return &flushWriter{bw: bw, conn: conn}
}

type flushWriter struct {
	bw   *bufio.Writer
	conn *Connection
}

func (w *flushWriter) Write(p []byte) (int, error) {
	n, err := w.bw.Write(p)
	if err != nil {
		return n, err
	}
	return n, w.bw.Flush()
}

func (w *flushWriter) CloseWrite() error {
	if cw, ok := w.conn.client.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return w.conn.client.Close()
}
