// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"bufio"
	"net/http"
	"strings"
	"testing"
)

func TestReadRequestAbsoluteForm(t *testing.T) {
	raw := "GET http://example.com:8080/foo HTTP/1.1\r\nHost: example.com\r\n\r\n"
	ir, err := readRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatal(err)
	}
	if ir.Tunnel {
		t.Error("Tunnel = true, want false")
	}
	if ir.Hostname != "example.com" || ir.Port != 8080 {
		t.Errorf("Hostname/Port = %s/%d, want example.com/8080", ir.Hostname, ir.Port)
	}
}

func TestReadRequestAbsoluteFormDefaultPort(t *testing.T) {
	raw := "GET http://example.com/foo HTTP/1.1\r\nHost: example.com\r\n\r\n"
	ir, err := readRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatal(err)
	}
	if ir.Port != 80 {
		t.Errorf("Port = %d, want 80", ir.Port)
	}
}

func TestReadRequestOriginFormRejected(t *testing.T) {
	raw := "GET /foo HTTP/1.1\r\nHost: example.com\r\n\r\n"
	_, err := readRequest(bufio.NewReader(strings.NewReader(raw)))
	if err == nil {
		t.Fatal("expected error for origin-form request-target")
	}
}

func TestReadRequestConnect(t *testing.T) {
	raw := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"
	ir, err := readRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatal(err)
	}
	if !ir.Tunnel {
		t.Error("Tunnel = false, want true")
	}
	if ir.Hostname != "example.com" || ir.Port != 443 {
		t.Errorf("Hostname/Port = %s/%d, want example.com/443", ir.Hostname, ir.Port)
	}
}

func TestReadRequestConnectMalformedTarget(t *testing.T) {
	raw := "CONNECT example.com HTTP/1.1\r\nHost: example.com\r\n\r\n"
	_, err := readRequest(bufio.NewReader(strings.NewReader(raw)))
	if err == nil {
		t.Fatal("expected error for CONNECT target without port")
	}
}

func TestProxyAuthorization(t *testing.T) {
	req := &http.Request{Header: http.Header{"Proxy-Authorization": []string{basicAuthValue("alice", "s3cret")}}}
	user, pass := proxyAuthorization(req)
	if user != "alice" || pass != "s3cret" {
		t.Errorf("user/pass = %s/%s, want alice/s3cret", user, pass)
	}
}

func TestProxyAuthorizationAbsent(t *testing.T) {
	req := &http.Request{Header: http.Header{}}
	user, pass := proxyAuthorization(req)
	if user != "" || pass != "" {
		t.Errorf("user/pass = %s/%s, want empty", user, pass)
	}
}

func TestProxyAuthorizationMalformed(t *testing.T) {
	req := &http.Request{Header: http.Header{"Proxy-Authorization": []string{"Basic not-base64!!"}}}
	user, pass := proxyAuthorization(req)
	if user != "" || pass != "" {
		t.Errorf("user/pass = %s/%s, want empty for malformed header", user, pass)
	}
}
