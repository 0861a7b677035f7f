// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"fmt"
	"strings"

	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hookproxy/hookproxy/bind"
)

const envPrefix = "HOOKPROXY"

const helpWrapLimit = 80

var configFile string

func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hookproxyd",
		Short: "A programmable forward HTTP proxy",
		Long: wordwrap.WrapString(
			"hookproxyd is a forward HTTP proxy whose per-request behavior, "+
				"including client authentication, upstream chaining and synthetic "+
				"responses, is decided by a pluggable decision hook rather than "+
				"static configuration alone.",
			helpWrapLimit,
		),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(cmd.Flags())
		},
	}

	bind.ConfigFile(cmd.PersistentFlags(), &configFile)

	cmd.AddCommand(runCommand())
	cmd.AddCommand(versionCommand())

	return cmd
}

// bindFlags merges, in this order of increasing precedence, config file
// values, environment variables (HOOKPROXY_FOO_BAR for --foo-bar), and
// explicit command-line flags, into fs. Flags set explicitly on the
// command line are left untouched.
func bindFlags(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return err
	}

	var setErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if setErr != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := fs.Set(f.Name, v.GetString(f.Name)); err != nil {
			setErr = fmt.Errorf("set flag %q from config/env: %w", f.Name, err)
		}
	})
	return setErr
}
