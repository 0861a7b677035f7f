// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// writeCustomResponse serializes a hook-supplied synthetic response without
// ever contacting an origin. It always sets Content-Length itself (even if
// the caller's headers set one) and strips any caller-provided
// Transfer-Encoding, per the custom-response emitter's contract.
func writeCustomResponse(bw *bufio.Writer, spec *CustomResponseSpec) error {
	status := spec.Status
	if status == 0 {
		status = http.StatusOK
	}

	encoding := spec.Encoding
	if encoding == "" {
		encoding = "utf-8"
	}

	body, err := encodeBody(spec.Body, encoding)
	if err != nil {
		return fmt.Errorf("encode custom response body: %w", err)
	}

	hdr := make(http.Header, len(spec.Headers)+1)
	for k, v := range spec.Headers {
		hdr.Set(k, v)
	}
	hdr.Del("Transfer-Encoding")
	hdr.Set("Content-Length", strconv.Itoa(len(body)))

	res := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        hdr,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	if err := res.Write(bw); err != nil {
		return err
	}
	return bw.Flush()
}

// encodeBody interprets body under encoding. "utf-8" (the default) and
// "ascii" pass the string through as-is; "base64" decodes it. Any other
// value is rejected rather than silently treated as utf-8.
func encodeBody(body, encoding string) ([]byte, error) {
	switch encoding {
	case "utf-8", "utf8", "ascii", "":
		return []byte(body), nil
	case "base64":
		return base64.StdEncoding.DecodeString(body)
	default:
		return nil, fmt.Errorf("unsupported custom response encoding %q", encoding)
	}
}
