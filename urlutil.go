// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package hookproxy

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseProxyURL parses s into a proxy URL of the form [scheme://][user:pass@]host:port.
// The scheme defaults to http when omitted; it is the only scheme this engine chains
// through (see Non-goals: no SOCKS, no TLS-to-upstream).
func ParseProxyURL(s string) (*url.URL, error) {
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	if u.Scheme != "http" {
		return nil, fmt.Errorf("unsupported proxy scheme %q, only http is supported", u.Scheme)
	}
	if len(u.Hostname()) == 0 {
		return nil, fmt.Errorf("proxy URL is missing a host")
	}

	port := u.Port()
	if port == "" {
		u.Host = u.Hostname() + ":80"
	} else if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		return nil, fmt.Errorf("invalid proxy port %q", port)
	}

	return u, nil
}

// RedactURL returns u with its password, if any, replaced by replacement.
// Every other component is preserved verbatim.
func RedactURL(u *url.URL, replacement string) string {
	if u == nil {
		return ""
	}
	if replacement == "" {
		replacement = "<redacted>"
	}
	if _, has := u.User.Password(); !has {
		return u.String()
	}

	// url.Userinfo would percent-encode replacement, so splice the userinfo
	// in by hand to keep replacement literal.
	redacted := *u
	redacted.User = nil
	s := redacted.String()
	userinfo := url.User(u.User.Username()).String() + ":" + replacement + "@"
	if i := strings.Index(s, "//"); i >= 0 {
		return s[:i+2] + userinfo + s[i+2:]
	}
	return userinfo + s
}
