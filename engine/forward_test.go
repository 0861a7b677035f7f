// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"bufio"
	"context"
	"crypto/rand"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestHandleUpgradePassthrough verifies that a WebSocket handshake tunnels
// cleanly through forwardHTTP's 101 Switching Protocols path: once the
// upgrade response is relayed, the Handler stops interpreting the exchange
// and just pumps bytes both ways until either side closes.
func TestHandleUpgradePassthrough(t *testing.T) {
	var upgrader websocket.Upgrader
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		mt, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		c.WriteMessage(mt, msg) //nolint:errcheck
	}))
	defer origin.Close()

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

	addr := origin.Listener.Addr().String()
	req := "GET http://" + addr + "/ HTTP/1.1\r\n" +
		"Host: " + addr + "\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"\r\n"
	if _, err := io.WriteString(client, req); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	br := bufio.NewReader(client)
	res, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d, want 101", res.StatusCode)
	}
	if got := res.Header.Get("Upgrade"); got != "websocket" {
		t.Errorf("Upgrade header = %q, want websocket", got)
	}

	if _, err := client.Write(maskedTextFrame(t, "hello")); err != nil {
		t.Fatal(err)
	}

	payload, err := readTextFrame(br)
	if err != nil {
		t.Fatal(err)
	}
	if payload != "hello" {
		t.Errorf("echoed payload = %q, want hello", payload)
	}

	client.Close()
	<-done
}

// maskedTextFrame builds a single-frame masked WebSocket text message, as
// required of client-to-server frames by RFC 6455.
func maskedTextFrame(t *testing.T, payload string) []byte {
	t.Helper()
	var mask [4]byte
	if _, err := rand.Read(mask[:]); err != nil {
		t.Fatal(err)
	}
	p := []byte(payload)
	masked := make([]byte, len(p))
	for i, b := range p {
		masked[i] = b ^ mask[i%4]
	}

	frame := []byte{0x81, 0x80 | byte(len(p))}
	frame = append(frame, mask[:]...)
	frame = append(frame, masked...)
	return frame
}

// readTextFrame reads a single unmasked server-to-client text frame with a
// payload under 126 bytes, matching what gorilla/websocket's Upgrader sends.
func readTextFrame(br *bufio.Reader) (string, error) {
	head := make([]byte, 2)
	if _, err := io.ReadFull(br, head); err != nil {
		return "", err
	}
	n := int(head[1] & 0x7f)
	payload := make([]byte, n)
	if _, err := io.ReadFull(br, payload); err != nil {
		return "", err
	}
	return string(payload), nil
}
