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

	"github.com/hookproxy/hookproxy/engine/dial"
)

// connectResponse is the fixed 200 line the tunnel handler writes on
// success; it deliberately carries no headers or body.
const connectResponse = "HTTP/1.1 200 Connection Established\r\n\r\n"

// connectTunnel establishes a TCP tunnel to the target, directly or via an
// upstream CONNECT with Basic auth, then pumps bytes opaquely until either
// side is done.
func (h *Handler) connectTunnel(ctx context.Context, conn *Connection, cbr *bufio.Reader, cbw *bufio.Writer, ir *IncomingRequest, upstream *url.URL) error {
	target := net.JoinHostPort(ir.Hostname, fmt.Sprintf("%d", ir.Port))

	var upConn net.Conn
	if upstream == nil {
		c, err := h.dial(ctx, target)
		if err != nil {
			return err
		}
		upConn = c
	} else {
		d := dial.New(func(ctx context.Context, _, addr string) (net.Conn, error) {
			return h.dial(ctx, addr)
		}, upstream)
		res, c, err := d.DialContextR(ctx, "tcp", target)
		if err != nil {
			return err
		}
		res.Body.Close()
		if res.StatusCode/100 != 2 {
			c.Close()
			return newDenyError(http.StatusBadGateway, "upstream refused CONNECT with status %d", res.StatusCode)
		}
		upConn = c
	}

	conn.setUpstream(upConn)

	if _, err := cbw.WriteString(connectResponse); err != nil {
		upConn.Close()
		return err
	}
	if err := cbw.Flush(); err != nil {
		upConn.Close()
		return err
	}

	conn.setState(StateTunneling)
	if h.OnTunnelConnected != nil {
		h.OnTunnelConnected(conn)
	}

	if err := drainBuffer(upConn, cbr); err != nil {
		upConn.Close()
		return err
	}

	bicopy(ctx,
		copier{name: "client->target", dst: upConn, src: cbr},
		copier{name: "target->client", dst: conn.client, src: upConn},
	)

	return nil
}
