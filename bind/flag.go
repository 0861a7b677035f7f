// Copyright 2023-2026 Sauce Labs Inc. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bind

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/mmatczuk/anyflag"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hookproxy/hookproxy"
	"github.com/hookproxy/hookproxy/log"
)

func ConfigFile(fs *pflag.FlagSet, configFile *string) {
	fs.StringVarP(configFile,
		"config-file", "c", *configFile, "<path>"+
			"Configuration file to load options from. "+
			"The supported formats are: JSON, YAML, TOML, HCL, and Java properties. "+
			"The file format is determined by the file extension, if not specified the default format is YAML. "+
			"The following precedence order of configuration sources is used: command flags, environment variables, config file, default values. ")
}

func Addr(fs *pflag.FlagSet, addr *string) {
	fs.StringVarP(addr,
		"addr", "a", *addr, "<host:port>"+
			"The address to listen on for proxy connections. "+
			"If the host is empty, the server listens on all available interfaces. "+
			"Port 0 lets the OS assign a free port. ")
}

func UpstreamProxy(fs *pflag.FlagSet, upstream **url.URL) {
	fs.VarP(anyflag.NewValueWithRedact[*url.URL](*upstream, upstream, hookproxy.ParseProxyURL, redactProxyURL),
		"upstream-proxy", "x", "[protocol://]host[:port]"+
			"Upstream HTTP proxy to chain every request through. "+
			"The basic authentication username and password can be specified in the host string, e.g. user:pass@host:port. "+
			"If empty, requests are sent directly to their target. ")
}

func redactProxyURL(u *url.URL) string {
	return hookproxy.RedactURL(u, "")
}

func RequireAuthDefault(fs *pflag.FlagSet, b *bool) {
	fs.BoolVar(b,
		"require-auth-default", *b,
		"Challenge every client with Basic proxy authentication when no hook script is configured. "+
			"Has no effect once --hook-script is set: the hook becomes the sole authority on whether to require auth. ")
}

func HookScript(fs *pflag.FlagSet, path *string) {
	fs.StringVar(path,
		"hook-script", *path, "<path>"+
			"Path to a JavaScript file defining a decide(input) function used as the per-request decision hook. "+
			"If empty, every request is allowed through without a hook. ")
}

func MetricsAddr(fs *pflag.FlagSet, addr *string) {
	fs.StringVar(addr,
		"metrics-addr", *addr, "<host:port>"+
			"The address to serve Prometheus metrics on at /metrics. "+
			"If empty, the metrics server is not started. ")
}

func LogConfig(fs *pflag.FlagSet, cfg *log.Config) {
	fs.VarP(NewFileFlag(&cfg.File, openLogFile),
		"log-file", "", "<path>"+
			"Path to the log file, if empty, logs to stdout. ")

	logLevels := []log.Level{
		log.ErrorLevel,
		log.WarnLevel,
		log.InfoLevel,
		log.DebugLevel,
	}
	fs.Var(anyflag.NewValue[log.Level](cfg.Level, &cfg.Level, anyflag.EnumParser[log.Level](logLevels...)),
		"log-level", "<error|warn|info|debug>"+
			"Log level. ")

	logFormats := []log.Format{
		log.TextFormat,
		log.JSONFormat,
	}
	fs.Var(anyflag.NewValue[log.Format](cfg.Format, &cfg.Format, anyflag.EnumParser[log.Format](logFormats...)),
		"log-format", "<text|json>"+
			"Log output format. ")
}

func openLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
}

func MarkFlagHidden(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := cmd.Flags().MarkHidden(name); err != nil {
			panic(err)
		}
	}
}

func MarkFlagRequired(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
}

func AutoMarkFlagFilename(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if strings.HasPrefix(f.Usage, "<path") ||
			strings.HasSuffix(f.Name, "-file") ||
			strings.HasSuffix(f.Name, "-dir") {
			MarkFlagFilename(cmd, f.Name)
		}
	})
}

func MarkFlagFilename(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := cmd.MarkFlagFilename(name); err != nil {
			panic(err)
		}
	}
}

func DescribeFlags(fs *pflag.FlagSet) string {
	var b strings.Builder
	fs.VisitAll(func(flag *pflag.Flag) {
		if flag.Hidden || flag.Name == "help" {
			return
		}
		b.WriteString(fmt.Sprintf("%s=%s\n", flag.Name, strings.Trim(flag.Value.String(), "[]")))
	})
	return b.String()
}
