// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package dial implements the client side of an HTTP CONNECT handshake,
// used both for upstream-proxy chaining and by the createTunnel helper.
package dial

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// ContextDialerFunc dials addr on network, honoring ctx cancellation.
type ContextDialerFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// HTTPProxyDialer performs a client-role CONNECT handshake through an HTTP
// proxy, injecting Basic credentials carried by proxyURL if any.
type HTTPProxyDialer struct {
	dial     ContextDialerFunc
	proxyURL *url.URL
}

// New returns a dialer that tunnels through proxyURL (scheme must be http).
func New(dial ContextDialerFunc, proxyURL *url.URL) *HTTPProxyDialer {
	if dial == nil {
		panic("dial is required")
	}
	if proxyURL == nil {
		panic("proxy URL is required")
	}
	if proxyURL.Scheme != "http" {
		panic("proxy URL scheme must be http")
	}

	return &HTTPProxyDialer{dial: dial, proxyURL: proxyURL}
}

// DialContext dials addr through the configured proxy and returns the raw
// tunnel connection once the proxy has replied with a 2xx status.
func (d *HTTPProxyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	res, conn, err := d.DialContextR(ctx, network, addr)
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		b, dumpErr := httputil.DumpResponse(res, true)
		if dumpErr != nil {
			b = []byte(fmt.Sprintf("error dumping response: %s", dumpErr))
		}
		conn.Close()
		return nil, &ProxyError{StatusCode: res.StatusCode, Body: b}
	}

	return conn, nil
}

// ProxyError is returned when the upstream proxy replies to a CONNECT
// request with a non-2xx status.
type ProxyError struct {
	StatusCode int
	Body       []byte
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy CONNECT failed with status %d", e.StatusCode)
}

// DialContextR is like DialContext but also returns the raw HTTP response,
// letting the caller inspect a non-2xx status before giving up on conn.
// The caller owns res.Body and must close it.
func (d *HTTPProxyDialer) DialContextR(ctx context.Context, network, addr string) (*http.Response, net.Conn, error) {
	if network != "tcp" && network != "tcp4" && network != "tcp6" {
		return nil, nil, fmt.Errorf("unsupported network: %s", network)
	}

	conn, err := d.dial(ctx, "tcp", d.proxyURL.Host)
	if err != nil {
		return nil, nil, err
	}

	pbw := bufio.NewWriterSize(conn, 1024)
	pbr := bufio.NewReaderSize(conn, 1024)

	req := http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Host: addr},
		Host:   addr,
		Header: http.Header{},
	}

	// Don't send the default Go HTTP client User-Agent.
	req.Header.Set("User-Agent", "")
	if u := d.proxyURL.User; u != nil {
		pass, _ := u.Password()
		auth := u.Username() + ":" + pass
		req.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))
	}

	if err := req.Write(pbw); err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := pbw.Flush(); err != nil {
		conn.Close()
		return nil, nil, err
	}

	resCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)

	go func() {
		res, err := http.ReadResponse(pbr, &req) //nolint:bodyclose // caller closes it
		if err != nil {
			errCh <- err
			return
		}
		resCh <- res
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, nil, ctx.Err()
	case err := <-errCh:
		conn.Close()
		return nil, nil, err
	case res := <-resCh:
		return res, conn, nil
	}
}
