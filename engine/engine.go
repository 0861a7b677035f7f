// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package engine implements the per-connection proxy request/tunnel state
// machine: decode the first request, consult the decision hook, enforce
// Basic proxy authentication, then forward, tunnel, or answer synthetically.
package engine

import (
	"bufio"
	"context"
	"io"
	"math"
	"net"
	"net/http"
	"time"
)

// Handler drives the Reading -> Deciding -> {Authenticating | Forwarding |
// Tunneling | Responding} -> Closed state machine for one accepted
// connection at a time. It holds no per-connection state itself, so one
// Handler serves every connection a Server accepts.
type Handler struct {
	// Hook decides auth/chaining/custom-response per request. Nil means
	// "no hook configured": requireAuth is always false and upstream is
	// never set, per the decision hook invoker's default.
	Hook HookFunc

	// RequireAuthDefault is used when Hook is nil, so a Server started
	// without a hook can still be configured to challenge every client.
	RequireAuthDefault bool

	// DialContext opens TCP connections to targets and upstream proxies.
	// Defaults to (&net.Dialer{}).DialContext.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// ReadHeaderTimeout bounds how long the handler waits for a client's
	// first request line and headers to arrive.
	ReadHeaderTimeout time.Duration

	// DialTimeout bounds the TCP connect to the target or upstream.
	DialTimeout time.Duration

	// OnRequest, if set, fires once per connection right after the first
	// request line and headers are decoded, mirroring the server
	// lifecycle's "request" event.
	OnRequest func(*Connection, *IncomingRequest)

	// OnTunnelConnected, if set, fires once a CONNECT tunnel's 200
	// response has been written to the client, mirroring the server
	// lifecycle's "tunnelConnected" event.
	OnTunnelConnected func(*Connection)
}

func (h *Handler) hook() HookFunc {
	if h.Hook != nil {
		return h.Hook
	}
	if h.RequireAuthDefault {
		return h.requireAuthHook
	}
	return noopHook
}

func (h *Handler) requireAuthHook(context.Context, HookInput) (Decision, error) {
	return Decision{RequireAuth: true}, nil
}

func (h *Handler) dialCtx(ctx context.Context, network, addr string) (net.Conn, error) {
	if h.DialContext != nil {
		return h.DialContext(ctx, network, addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// dial opens a TCP connection to addr, honoring DialTimeout.
func (h *Handler) dial(ctx context.Context, addr string) (net.Conn, error) {
	if h.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.DialTimeout)
		defer cancel()
	}
	return h.dialCtx(ctx, "tcp", addr)
}

// Handle runs the full per-connection exchange: it reads exactly one
// request (CONNECT or forward-HTTP) from conn, drives it through the
// decision hook and the matching handler, and never reads a second request
// — the client socket is single-shot. Handle does not close the socket
// itself; the caller closes it (Connection.Destroy) once Handle returns.
func (h *Handler) Handle(ctx context.Context, conn *Connection) {
	defer conn.setState(StateClosed)

	// The header block is read through a limit of MaxHeaderBytes; the limit
	// is lifted once the request has been decoded.
	lr := &io.LimitedReader{R: conn.client, N: int64(MaxHeaderBytes)}
	cbr := bufio.NewReader(lr)
	cbw := bufio.NewWriter(conn.client)

	conn.setState(StateReading)
	if h.ReadHeaderTimeout > 0 {
		conn.client.SetReadDeadline(time.Now().Add(h.ReadHeaderTimeout))
	}
	ir, err := readRequest(cbr)
	if h.ReadHeaderTimeout > 0 {
		conn.client.SetReadDeadline(time.Time{})
	}
	if err != nil {
		if lr.N <= 0 {
			err = &readRequestError{status: http.StatusRequestHeaderFieldsTooLarge, msg: "request header fields too large"}
		}
		conn.SetDisposition(DispositionClientError)
		h.failBeforeDecision(cbw, err)
		return
	}
	lr.N = math.MaxInt64
	conn.setTunnel(ir.Tunnel)
	if h.OnRequest != nil {
		h.OnRequest(conn, ir)
	}

	conn.setState(StateDeciding)
	username, password := proxyAuthorization(ir.Request)
	in := HookInput{
		Request:  ir,
		Username: username,
		Password: password,
		Hostname: ir.Hostname,
		Port:     ir.Port,
		IsHTTP:   !ir.Tunnel,
	}

	decision, err := h.hook()(ctx, in)
	if err != nil {
		conn.SetDisposition(DispositionHookError)
		h.failHookError(cbw, ir.Tunnel, err)
		return
	}

	if decision.RequireAuth {
		conn.setState(StateAuthenticating)
		conn.SetDisposition(DispositionAuthRequired)
		if err := writeAuthRequired(cbw); err != nil {
			logDebug(ctx, "failed to write 407 response", "error", err)
		}
		return
	}

	if decision.CustomResponse != nil {
		if ir.Tunnel {
			conn.SetDisposition(DispositionClientError)
			writeErrorResponse(cbw, newDenyError(http.StatusBadRequest, "custom response is not valid for CONNECT requests")) //nolint:errcheck
			return
		}
		conn.setState(StateResponding)
		if err := writeCustomResponse(cbw, decision.CustomResponse); err != nil {
			logDebug(ctx, "failed to write custom response", "error", err)
		}
		return
	}

	if decision.FailWith != 0 {
		conn.SetDisposition(DispositionDenied)
		writeErrorResponse(cbw, newDenyError(int(decision.FailWith), "request denied by hook")) //nolint:errcheck
		return
	}

	var handleErr error
	if ir.Tunnel {
		handleErr = h.connectTunnel(ctx, conn, cbr, cbw, ir, decision.Upstream)
	} else {
		handleErr = h.forwardHTTP(ctx, conn, cbr, cbw, ir, decision.Upstream)
	}
	if handleErr != nil {
		conn.SetDisposition(DispositionUpstreamError)
		logDebug(ctx, "request failed", "error", handleErr)
		writeErrorResponse(cbw, handleErr) //nolint:errcheck
	}
}

// failBeforeDecision handles request-decoder failures (malformed request
// line, oversized headers): no hook is ever consulted since the request
// could not be classified.
func (h *Handler) failBeforeDecision(cbw *bufio.Writer, err error) {
	var rre *readRequestError
	if as, ok := err.(*readRequestError); ok { //nolint:errorlint // constructed locally, never wrapped
		rre = as
	}
	if rre != nil {
		writeErrorResponse(cbw, newDenyError(rre.status, "%s", rre.msg)) //nolint:errcheck
		return
	}
	// Connection closed or reset before a full request arrived; nothing
	// to write back.
}

// failHookError implements the hook-failure disposition: 500 in HTTP mode,
// a 502-framed failure in CONNECT mode (CONNECT has no true error status,
// so the engine answers with the same line it would use for a failed
// upstream CONNECT).
func (h *Handler) failHookError(cbw *bufio.Writer, tunnel bool, err error) {
	status := http.StatusInternalServerError
	if tunnel {
		status = http.StatusBadGateway
	}
	writeErrorResponse(cbw, newDenyError(status, "decision hook failed: %s", err.Error())) //nolint:errcheck
}
