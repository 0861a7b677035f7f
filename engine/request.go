// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// MaxHeaderBytes bounds the size of a client request's header block; a
// request exceeding it fails with 431 per the request decoder's edge cases.
var MaxHeaderBytes = 1 << 20

// IncomingRequest is the decoded first line and headers of one client
// exchange. It wraps *http.Request, which gives RFC 7230-compliant line
// parsing; header names are stored in canonical form (e.g. "X-Foo"), so the
// client's original header-name case is not preserved when forwarding.
type IncomingRequest struct {
	*http.Request

	// Tunnel is true for CONNECT requests.
	Tunnel bool
	// Hostname and Port are the request's parsed target: from the
	// CONNECT authority for tunnels, from the absolute-form URI otherwise.
	Hostname string
	Port     int
}

// readRequestError carries the HTTP status the decoder wants written back
// to the client for a malformed request.
type readRequestError struct {
	status int
	msg    string
}

func (e *readRequestError) Error() string { return e.msg }

// readRequest reads one HTTP request (CONNECT or forward-HTTP) from br and
// classifies it. http.ReadRequest itself sets no limit on the header block;
// br must read from a bounded source so that an oversized header block
// surfaces as an error (Handle reads through a MaxHeaderBytes limit).
func readRequest(br *bufio.Reader) (*IncomingRequest, error) {
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, classifyReadError(err)
	}

	ir := &IncomingRequest{Request: req}

	if req.Method == http.MethodConnect {
		host, portStr, err := net.SplitHostPort(req.RequestURI)
		if err != nil {
			return nil, &readRequestError{status: http.StatusBadRequest, msg: "malformed CONNECT target: " + err.Error()}
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, &readRequestError{status: http.StatusBadRequest, msg: "invalid CONNECT port"}
		}
		ir.Tunnel = true
		ir.Hostname = host
		ir.Port = port
		return ir, nil
	}

	if req.URL == nil || req.URL.Host == "" {
		return nil, &readRequestError{status: http.StatusBadRequest, msg: "request-target is not absolute-form"}
	}

	host := req.URL.Hostname()
	portStr := req.URL.Port()
	if portStr == "" {
		portStr = "80"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, &readRequestError{status: http.StatusBadRequest, msg: "invalid request-target port"}
	}

	ir.Hostname = host
	ir.Port = port
	return ir, nil
}

func classifyReadError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "too long") || strings.Contains(err.Error(), "buffer full") {
		return &readRequestError{status: http.StatusRequestHeaderFieldsTooLarge, msg: "request header fields too large"}
	}
	return &readRequestError{status: http.StatusBadRequest, msg: "malformed request: " + err.Error()}
}

// proxyAuthorization extracts username/password from a successfully
// decoded Proxy-Authorization: Basic header. Both are "" when the header
// is absent or malformed, per the decision-hook invoker's contract.
func proxyAuthorization(req *http.Request) (username, password string) {
	auth := req.Header.Get("Proxy-Authorization")
	if auth == "" {
		return "", ""
	}
	const prefix = "Basic "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", ""
	}
	raw, err := base64.StdEncoding.DecodeString(auth[len(prefix):])
	if err != nil {
		return "", ""
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", ""
	}
	return user, pass
}

// basicAuthValue encodes credentials for a Proxy-Authorization header.
func basicAuthValue(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%s", username, password)))
}
