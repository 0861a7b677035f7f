// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"context"
	"net/url"
)

// HookInput is passed to a Hook once per client request (or CONNECT).
type HookInput struct {
	// Request is the decoded first request of the connection.
	Request *IncomingRequest
	// Username and Password come from a successfully decoded
	// Proxy-Authorization: Basic header; both are "" when absent.
	Username string
	Password string
	// Hostname and Port identify the request's target.
	Hostname string
	Port     int
	// IsHTTP is true for forward-HTTP requests, false for CONNECT tunnels.
	IsHTTP bool
}

// HTTPStatus names a response disposition the hook asks the engine to use
// in place of completing the exchange normally.
type HTTPStatus int

// Decision is returned by a Hook. At most one of Upstream or CustomResponse
// may be set; CustomResponse is only valid when HookInput.IsHTTP is true.
type Decision struct {
	RequireAuth    bool
	Upstream       *url.URL
	CustomResponse *CustomResponseSpec
	FailWith       HTTPStatus
}

// CustomResponseSpec is a synthetic HTTP response the engine serializes
// without contacting any origin. HTTP mode only.
type CustomResponseSpec struct {
	Status   int
	Headers  map[string]string
	Body     string
	Encoding string
}

// HookFunc decides, per request, whether to demand credentials, which
// upstream (if any) to chain through, or whether to short-circuit with a
// synthetic response. It may block: the engine treats a hook that returns
// only after some delay the same as one that returns immediately, per the
// "deferred decision" design note. ctx is the context Handle was called
// with; tearing the connection down does not cancel it.
type HookFunc func(ctx context.Context, in HookInput) (Decision, error)

// noopHook is used when the engine is configured without a Hook: it never
// requires auth, never chains, and never emits a custom response.
func noopHook(context.Context, HookInput) (Decision, error) {
	return Decision{}, nil
}
