// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"bufio"
	"fmt"
	"net/http"
)

// realm is used in the Proxy-Authentication challenge header.
const realm = "hookproxy"

// writeAuthRequired writes a 407 Proxy Authentication Required response and
// challenges the client to resubmit credentials on a fresh request; per the
// authenticator's contract the connection is always closed afterward —
// credentials must be resubmitted on a new request, never on this socket.
func writeAuthRequired(bw *bufio.Writer) error {
	res := &http.Response{
		StatusCode: http.StatusProxyAuthRequired,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header: http.Header{
			"Proxy-Authentication": []string{fmt.Sprintf("Basic realm=%q", realm)},
			"Connection":           []string{"close"},
		},
	}
	if err := res.Write(bw); err != nil {
		return err
	}
	return bw.Flush()
}
