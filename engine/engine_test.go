// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

// tcpPipe returns a connected pair of real TCP connections (as opposed to
// net.Pipe, which lacks CloseWrite) so tunnel tests exercise the same
// half-close path production traffic does.
func tcpPipe(t *testing.T) (server, client net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	acceptc := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			acceptc <- c
		}
	}()

	client, err = net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	server = <-acceptc
	return server, client
}

func handleAndRead(t *testing.T, h *Handler, request string) *http.Response {
	t.Helper()
	server, client := tcpPipe(t)
	defer client.Close()

	conn := NewConnection("test", server, nil)
	defer conn.Destroy()

	done := make(chan struct{})
	go func() {
		h.Handle(context.Background(), conn)
		close(done)
	}()

	if _, err := io.WriteString(client, request); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	res, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatal(err)
	}
	<-done
	return res
}

func TestHandleMalformedRequest(t *testing.T) {
	h := &Handler{}
	res := handleAndRead(t, h, "not a request\r\n\r\n")
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", res.StatusCode)
	}
}

func TestHandleRequireAuth(t *testing.T) {
	h := &Handler{Hook: func(context.Context, HookInput) (Decision, error) {
		return Decision{RequireAuth: true}, nil
	}}
	res := handleAndRead(t, h, "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if res.StatusCode != http.StatusProxyAuthRequired {
		t.Errorf("status = %d, want 407", res.StatusCode)
	}
	if res.Header.Get("Proxy-Authentication") == "" {
		t.Error("missing Proxy-Authentication header")
	}
}

func TestHandleRequireAuthDefault(t *testing.T) {
	h := &Handler{RequireAuthDefault: true}
	res := handleAndRead(t, h, "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if res.StatusCode != http.StatusProxyAuthRequired {
		t.Errorf("status = %d, want 407", res.StatusCode)
	}
}

func TestHandleCustomResponse(t *testing.T) {
	h := &Handler{Hook: func(context.Context, HookInput) (Decision, error) {
		return Decision{CustomResponse: &CustomResponseSpec{Status: 418, Body: "teapot"}}, nil
	}}
	res := handleAndRead(t, h, "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if res.StatusCode != 418 {
		t.Errorf("status = %d, want 418", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "teapot" {
		t.Errorf("body = %q, want teapot", body)
	}
}

func TestHandleCustomResponseRejectedForTunnel(t *testing.T) {
	h := &Handler{Hook: func(context.Context, HookInput) (Decision, error) {
		return Decision{CustomResponse: &CustomResponseSpec{Status: 200}}, nil
	}}
	res := handleAndRead(t, h, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", res.StatusCode)
	}
}

func TestHandleFailWith(t *testing.T) {
	h := &Handler{Hook: func(context.Context, HookInput) (Decision, error) {
		return Decision{FailWith: http.StatusForbidden}, nil
	}}
	res := handleAndRead(t, h, "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if res.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", res.StatusCode)
	}
}

func TestHandleHookErrorHTTP(t *testing.T) {
	h := &Handler{Hook: func(context.Context, HookInput) (Decision, error) {
		return Decision{}, errors.New("boom")
	}}
	res := handleAndRead(t, h, "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if res.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", res.StatusCode)
	}
}

func TestHandleHookErrorConnect(t *testing.T) {
	h := &Handler{Hook: func(context.Context, HookInput) (Decision, error) {
		return Decision{}, errors.New("boom")
	}}
	res := handleAndRead(t, h, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")
	if res.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", res.StatusCode)
	}
}

func TestHandleForwardsToTarget(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "pong") //nolint:errcheck
	}))
	defer origin.Close()

	h := &Handler{}
	req := "GET http://" + origin.Listener.Addr().String() + "/ HTTP/1.1\r\nHost: " + origin.Listener.Addr().String() + "\r\n\r\n"
	res := handleAndRead(t, h, req)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "pong" {
		t.Errorf("body = %q, want pong", body)
	}
}

func TestHandleForwardsToUpstreamProxy(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "via-upstream") //nolint:errcheck
	}))
	defer origin.Close()

	proxyAuthc := make(chan string, 1)
	upstreamListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer upstreamListener.Close()
	go func() {
		c, err := upstreamListener.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		br := bufio.NewReader(c)
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		proxyAuthc <- req.Header.Get("Proxy-Authorization")
		originConn, err := net.Dial("tcp", origin.Listener.Addr().String())
		if err != nil {
			return
		}
		defer originConn.Close()
		req.Write(originConn) //nolint:errcheck
		res, err := http.ReadResponse(bufio.NewReader(originConn), req)
		if err != nil {
			return
		}
		res.Write(c) //nolint:errcheck
	}()

	upstream, err := url.Parse("http://alice:s3cret@" + upstreamListener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	h := &Handler{Hook: func(context.Context, HookInput) (Decision, error) {
		return Decision{Upstream: upstream}, nil
	}}
	req := "GET http://" + origin.Listener.Addr().String() + "/ HTTP/1.1\r\nHost: " + origin.Listener.Addr().String() + "\r\n\r\n"
	res := handleAndRead(t, h, req)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "via-upstream" {
		t.Errorf("body = %q, want via-upstream", body)
	}
	select {
	case got := <-proxyAuthc:
		if got != basicAuthValue("alice", "s3cret") {
			t.Errorf("Proxy-Authorization = %q, want injected basic auth", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("upstream never received the proxied request")
	}
}

func TestHandleConnectTunnelDirect(t *testing.T) {
	target, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer target.Close()
	go func() {
		c, err := target.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		io.Copy(c, c) //nolint:errcheck
	}()

	server, client := tcpPipe(t)
	defer client.Close()

	conn := NewConnection("test", server, nil)
	defer conn.Destroy()

	h := &Handler{}
	done := make(chan struct{})
	go func() {
		h.Handle(context.Background(), conn)
		close(done)
	}()

	req := "CONNECT " + target.Addr().String() + " HTTP/1.1\r\nHost: " + target.Addr().String() + "\r\n\r\n"
	if _, err := io.WriteString(client, req); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "HTTP/1.1 200 Connection Established\r\n" {
		t.Fatalf("connect response line = %q", line)
	}
	// consume the blank line terminating the (header-less) CONNECT response.
	if _, err := br.ReadString('\n'); err != nil {
		t.Fatal(err)
	}

	if _, err := io.WriteString(client, "ping"); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(br, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ping" {
		t.Errorf("echoed = %q, want ping", buf)
	}

	client.Close()
	<-done
}
