// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// denyError carries an explicit status and message for the client (a
// malformed request, a hook failure or FailWith, a custom response for
// CONNECT, an upstream refusing CONNECT), as opposed to a dial or I/O error
// whose status errorResponse derives.
type denyError struct {
	status int
	msg    string
}

func (e *denyError) Error() string { return e.msg }

func newDenyError(status int, format string, args ...any) *denyError {
	return &denyError{status: status, msg: fmt.Sprintf(format, args...)}
}

// errorResponse maps err to the status code and body the engine writes
// back to the client, per the error-handling design's disposition table.
func errorResponse(err error) (status int, body []byte) {
	var de *denyError
	if errors.As(err, &de) {
		return de.status, []byte(de.msg)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return http.StatusGatewayTimeout, []byte("timed out connecting to upstream: " + err.Error())
		}
		return http.StatusBadGateway, []byte("failed to connect to upstream: " + err.Error())
	}

	return http.StatusBadGateway, []byte("failed to connect to upstream: " + err.Error())
}

// writeErrorResponse writes a plain-text error response with the mapped
// status code and a "Connection: close" header; it does not close the
// socket itself.
func writeErrorResponse(bw *bufio.Writer, err error) error {
	status, body := errorResponse(err)

	res := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}, "Connection": []string{"close"}},
		Body:          nopCloser{bytes.NewReader(body)},
		ContentLength: int64(len(body)),
	}
	if err := res.Write(bw); err != nil {
		return err
	}
	return bw.Flush()
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }
