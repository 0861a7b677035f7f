// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package script

import (
	"context"
	"net/http"
	"testing"

	"github.com/hookproxy/hookproxy/engine"
)

func TestNewHookRejectsMissingDecide(t *testing.T) {
	if _, err := NewHook(`function notDecide() { return {} }`); err == nil {
		t.Fatal("expected error for script without decide()")
	}
}

func TestNewHookRejectsSyntaxError(t *testing.T) {
	if _, err := NewHook(`function decide(input) { return`); err == nil {
		t.Fatal("expected error for malformed script")
	}
}

func TestHookRequireAuthForMissingCredentials(t *testing.T) {
	h, err := NewHook(`
		function decide(input) {
			if (input.username === "") {
				return {requireAuth: true};
			}
			return {};
		}
	`)
	if err != nil {
		t.Fatal(err)
	}

	d, err := h.Func()(context.Background(), engine.HookInput{Request: &engine.IncomingRequest{Request: &http.Request{Method: "GET"}}})
	if err != nil {
		t.Fatal(err)
	}
	if !d.RequireAuth {
		t.Errorf("RequireAuth = false, want true")
	}
}

func TestHookCustomResponse(t *testing.T) {
	h, err := NewHook(`
		function decide(input) {
			return {customResponse: {status: 418, body: "teapot"}};
		}
	`)
	if err != nil {
		t.Fatal(err)
	}

	d, err := h.Func()(context.Background(), engine.HookInput{Request: &engine.IncomingRequest{Request: &http.Request{Method: "GET"}}})
	if err != nil {
		t.Fatal(err)
	}
	if d.CustomResponse == nil || d.CustomResponse.Status != 418 || d.CustomResponse.Body != "teapot" {
		t.Errorf("CustomResponse = %+v, want status 418 body teapot", d.CustomResponse)
	}
}

func TestHookUpstream(t *testing.T) {
	h, err := NewHook(`
		function decide(input) {
			return {upstream: "http://u:p@127.0.0.1:8080"};
		}
	`)
	if err != nil {
		t.Fatal(err)
	}

	d, err := h.Func()(context.Background(), engine.HookInput{Request: &engine.IncomingRequest{Request: &http.Request{Method: "GET"}}})
	if err != nil {
		t.Fatal(err)
	}
	if d.Upstream == nil || d.Upstream.Host != "127.0.0.1:8080" {
		t.Errorf("Upstream = %v, want host 127.0.0.1:8080", d.Upstream)
	}
}

func TestHookConcurrentCallsUsePooledRuntimes(t *testing.T) {
	h, err := NewHook(`function decide(input) { return {}; }`)
	if err != nil {
		t.Fatal(err)
	}

	const n = 16
	errc := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := h.Func()(context.Background(), engine.HookInput{Request: &engine.IncomingRequest{Request: &http.Request{Method: "GET"}}})
			errc <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errc; err != nil {
			t.Error(err)
		}
	}
}
