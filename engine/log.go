// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"context"

	"github.com/hookproxy/hookproxy/log"
)

// logger is the package-wide structured logger. It defaults to a no-op so
// the engine can be used as a library without forcing a logging dependency.
var logger log.StructuredLogger = log.NopLogger

// SetLogger changes the logger used by the engine. Call it once before
// serving traffic; it is not safe to change concurrently with requests.
func SetLogger(l log.StructuredLogger) {
	if l == nil {
		l = log.NopLogger
	}
	logger = l
}

func logError(ctx context.Context, msg string, args ...any) { logger.ErrorContext(ctx, msg, args...) }
func logWarn(ctx context.Context, msg string, args ...any)  { logger.WarnContext(ctx, msg, args...) }
func logInfo(ctx context.Context, msg string, args ...any)  { logger.InfoContext(ctx, msg, args...) }
func logDebug(ctx context.Context, msg string, args ...any) { logger.DebugContext(ctx, msg, args...) }
