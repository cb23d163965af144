// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/yumoh/sse-queue/config"
)

// options are the command line values. Set values override the file.
type options struct {
	configFile  string
	logLevel    string
	bind        string
	sslCert     string
	sslKey      string
	prefix      string
	showVersion bool

	flags *pflag.FlagSet
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := pflag.NewFlagSet("sse-queue", pflag.ContinueOnError)
	fs.StringVarP(&o.configFile, "config", "c", "", "Path to configuration file")
	fs.StringVarP(&o.logLevel, "log-level", "l", "", "Log level: debug, info, warn or error")
	fs.StringVarP(&o.bind, "bind", "b", "", "Listen addresses as host[:port], separated by ';'")
	fs.StringVar(&o.sslCert, "ssl-cert", "", "TLS certificate file")
	fs.StringVar(&o.sslKey, "ssl-key", "", "TLS private key file")
	fs.StringVar(&o.prefix, "prefix", "", "Additional path prefix every route is mounted under")
	fs.BoolVarP(&o.showVersion, "version", "v", false, "Print the version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.flags = fs
	return o, nil
}

// apply copies explicitly set flags over cfg.
func (o *options) apply(cfg *config.Config) {
	if o.flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if o.flags.Changed("bind") {
		cfg.Server.Bind = o.bind
	}
	if o.flags.Changed("ssl-cert") {
		cfg.Server.TLSCertFile = o.sslCert
	}
	if o.flags.Changed("ssl-key") {
		cfg.Server.TLSKeyFile = o.sslKey
	}
	if o.flags.Changed("prefix") {
		cfg.Server.Prefix = o.prefix
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
