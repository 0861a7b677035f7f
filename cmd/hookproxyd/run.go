// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hookproxy/hookproxy"
	"github.com/hookproxy/hookproxy/bind"
	"github.com/hookproxy/hookproxy/log"
	"github.com/hookproxy/hookproxy/log/slog"
	"github.com/hookproxy/hookproxy/metrics"
	"github.com/hookproxy/hookproxy/script"
)

type runOptions struct {
	addr               string
	upstreamProxy      *url.URL
	requireAuthDefault bool
	hookScript         string
	metricsAddr        string
	logConfig          *log.Config
}

func runCommand() *cobra.Command {
	o := &runOptions{
		addr:      ":8080",
		logConfig: log.DefaultConfig(),
	}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the proxy server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd)
		},
	}

	fs := cmd.Flags()
	bind.Addr(fs, &o.addr)
	bind.UpstreamProxy(fs, &o.upstreamProxy)
	bind.RequireAuthDefault(fs, &o.requireAuthDefault)
	bind.HookScript(fs, &o.hookScript)
	bind.MetricsAddr(fs, &o.metricsAddr)
	bind.LogConfig(fs, o.logConfig)
	bind.AutoMarkFlagFilename(cmd)

	return cmd
}

func (o *runOptions) run(cmd *cobra.Command) error {
	if f := o.logConfig.File; f != nil {
		defer f.Close()
	}
	logger := slog.New(o.logConfig)
	defer logger.Close()

	logger.Info("configuration", "flags", bind.DescribeFlags(cmd.Flags()))

	var hook hookproxy.HookFunc
	if o.hookScript != "" {
		src, err := os.ReadFile(o.hookScript)
		if err != nil {
			return fmt.Errorf("read hook script: %w", err)
		}
		h, err := script.NewHook(string(src))
		if err != nil {
			return fmt.Errorf("compile hook script: %w", err)
		}
		hook = h.Func()
	} else if o.upstreamProxy != nil {
		up := o.upstreamProxy
		requireAuth := o.requireAuthDefault
		hook = func(context.Context, hookproxy.HookInput) (hookproxy.Decision, error) {
			return hookproxy.Decision{Upstream: up, RequireAuth: requireAuth}, nil
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	opts := hookproxy.Options{
		Addr:               o.addr,
		Hook:               hook,
		RequireAuthDefault: o.requireAuthDefault,
		TrackTraffic:       true,
		Logger:             logger,
		OnConnectionClosed: func(_ *hookproxy.Connection, stats hookproxy.Stats) {
			m.ObserveClosed(dispositionToResult(stats.Disposition), stats.BytesIn, stats.BytesOut, stats.Tunnel, stats.Duration.Seconds())
		},
	}

	s := hookproxy.NewServer(opts)
	if err := s.Listen(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("listening", "addr", s.Addr().String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)

	if o.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: o.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		eg.Go(func() error {
			<-ctx.Done()
			return metricsSrv.Shutdown(context.Background())
		})
		eg.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		logger.Info("serving metrics", "addr", o.metricsAddr)
	}

	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return s.Close(false)
	})

	return eg.Wait()
}

func dispositionToResult(d hookproxy.Disposition) metrics.Result {
	switch d {
	case hookproxy.DispositionOK:
		return metrics.ResultOK
	case hookproxy.DispositionClientError:
		return metrics.ResultClientError
	case hookproxy.DispositionAuthRequired:
		return metrics.ResultAuthRequired
	case hookproxy.DispositionHookError:
		return metrics.ResultHookError
	case hookproxy.DispositionUpstreamError:
		return metrics.ResultUpstreamError
	case hookproxy.DispositionDenied:
		return metrics.ResultDenied
	default:
		return metrics.ResultOK
	}
}
