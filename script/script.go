// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package script adapts a JavaScript decision function into an
// engine.HookFunc, for operators who want to change decision logic
// without recompiling.
package script

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/dop251/goja"

	"github.com/hookproxy/hookproxy/engine"
)

// runtime wraps one goja.Runtime bound to a compiled decide function. A
// goja.Runtime is not safe for concurrent use, so runtimes are never
// shared between simultaneous calls; see Hook.
type runtime struct {
	vm     *goja.Runtime
	decide goja.Callable
}

func newRuntime(src string) (*runtime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if _, err := vm.RunString(src); err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}

	decide, ok := goja.AssertFunction(vm.Get("decide"))
	if !ok {
		return nil, fmt.Errorf("script: missing required function decide(input)")
	}

	return &runtime{vm: vm, decide: decide}, nil
}

// Hook adapts a compiled decide(input) JavaScript function to
// engine.HookFunc. Each call borrows a runtime from an internal pool
// (grounded on the same pattern as a PAC-script resolver pool) since a
// goja.Runtime cannot be called from two goroutines at once.
type Hook struct {
	pool sync.Pool
}

// NewHook compiles src, which must define a function decide(input) that
// returns an object shaped like Decision, and returns a Hook wrapping it.
// Compilation happens once per pooled runtime instantiation: NewHook
// compiles src eagerly so syntax errors surface immediately rather than
// on the first request.
func NewHook(src string) (*Hook, error) {
	if _, err := newRuntime(src); err != nil {
		return nil, err
	}

	h := &Hook{}
	h.pool.New = func() any {
		rt, err := newRuntime(src)
		if err != nil {
			// src already compiled successfully once above; a later
			// failure here would mean a non-deterministic script.
			panic(err)
		}
		return rt
	}
	return h, nil
}

// Func returns the engine.HookFunc view of h.
func (h *Hook) Func() engine.HookFunc {
	return h.decide
}

// decide implements engine.HookFunc by borrowing a pooled runtime,
// marshalling in to a plain JS object, invoking decide(input), and
// unmarshalling the result back into a Decision.
func (h *Hook) decide(ctx context.Context, in engine.HookInput) (engine.Decision, error) {
	rt := h.pool.Get().(*runtime) //nolint:forcetypeassert
	defer h.pool.Put(rt)

	jsIn := rt.vm.ToValue(map[string]any{
		"method":   in.Request.Method,
		"hostname": in.Hostname,
		"port":     in.Port,
		"isHttp":   in.IsHTTP,
		"username": in.Username,
		"password": in.Password,
	})

	v, err := rt.decide(goja.Undefined(), jsIn)
	if err != nil {
		return engine.Decision{}, fmt.Errorf("script: decide: %w", err)
	}

	var out jsDecision
	if err := rt.vm.ExportTo(v, &out); err != nil {
		return engine.Decision{}, fmt.Errorf("script: decide returned an unexpected value: %w", err)
	}

	return out.toDecision()
}

// jsDecision is the plain-object shape decide(input) must return; it's
// exported-to from the goja.Value via reflection, then converted to the
// engine's Decision.
type jsDecision struct {
	RequireAuth    bool          `json:"requireAuth"`
	Upstream       string        `json:"upstream"`
	CustomResponse *jsCustomResp `json:"customResponse"`
	FailWith       int           `json:"failWith"`
}

type jsCustomResp struct {
	Status   int               `json:"status"`
	Headers  map[string]string `json:"headers"`
	Body     string            `json:"body"`
	Encoding string            `json:"encoding"`
}

func (d jsDecision) toDecision() (engine.Decision, error) {
	out := engine.Decision{
		RequireAuth: d.RequireAuth,
		FailWith:    engine.HTTPStatus(d.FailWith),
	}

	if d.Upstream != "" {
		u, err := url.Parse(d.Upstream)
		if err != nil {
			return engine.Decision{}, fmt.Errorf("script: decide returned invalid upstream %q: %w", d.Upstream, err)
		}
		out.Upstream = u
	}

	if d.CustomResponse != nil {
		out.CustomResponse = &engine.CustomResponseSpec{
			Status:   d.CustomResponse.Status,
			Headers:  d.CustomResponse.Headers,
			Body:     d.CustomResponse.Body,
			Encoding: d.CustomResponse.Encoding,
		}
	}

	return out, nil
}
