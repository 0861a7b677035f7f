// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package hookproxy

import (
	"context"
	"net/url"
	"sync"
)

// anonymizedEntry is one live anonymizeProxy front-end: a local Server
// whose hook unconditionally chains to upstream.
type anonymizedEntry struct {
	server   *Server
	upstream *url.URL
}

// AnonymizerRegistry tracks every proxy bound by AnonymizeProxy, keyed by
// the local URL returned to the caller, so CloseAnonymizedProxy can find
// and tear down the right Server. Safe for concurrent use.
type AnonymizerRegistry struct {
	mu      sync.Mutex
	entries map[string]*anonymizedEntry
}

var anonymizers = &AnonymizerRegistry{entries: make(map[string]*anonymizedEntry)}

// AnonymizeProxy returns a credential-less local proxy URL that forwards
// every request to upstream, injecting upstream's own Basic credentials.
// If upstream carries no credentials, it is returned unchanged and no
// Server is spawned: anonymizing a proxy that needs no anonymizing is a
// no-op, not an error.
func AnonymizeProxy(upstream *url.URL) (string, error) {
	if upstream.User == nil {
		return upstream.String(), nil
	}

	up := *upstream
	s := NewServer(Options{
		Hook: func(ctx context.Context, in HookInput) (Decision, error) {
			return Decision{Upstream: &up}, nil
		},
	})
	if err := s.Listen(); err != nil {
		return "", err
	}

	local := "http://" + s.Addr().String()

	anonymizers.mu.Lock()
	anonymizers.entries[local] = &anonymizedEntry{server: s, upstream: &up}
	anonymizers.mu.Unlock()

	return local, nil
}

// CloseAnonymizedProxy removes and tears down the Server AnonymizeProxy
// registered under local, per the remove-then-destroy ordering that keeps
// a concurrent second close from double-freeing it. Returns false if local
// is not a currently anonymized proxy.
func CloseAnonymizedProxy(local string, force bool) bool {
	anonymizers.mu.Lock()
	e, ok := anonymizers.entries[local]
	if ok {
		delete(anonymizers.entries, local)
	}
	anonymizers.mu.Unlock()
	if !ok {
		return false
	}

	e.server.Close(force) //nolint:errcheck
	return true
}
