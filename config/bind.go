// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ListenAddrs splits Bind into host:port pairs. A missing port defaults to
// 443 with TLS and 80 without. IPv6 hosts with a port need brackets:
// a bare literal such as "::1" is taken as a host.
func (s ServerConfig) ListenAddrs() ([]string, error) {
	defaultPort := "80"
	if s.TLSEnabled() {
		defaultPort = "443"
	}

	var addrs []string
	for _, part := range strings.Split(s.Bind, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, err := normalizeAddr(part, defaultPort)
		if err != nil {
			return nil, fmt.Errorf("server.bind: %w", err)
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("server.bind cannot be empty")
	}
	return addrs, nil
}

func normalizeAddr(v, defaultPort string) (string, error) {
	if host, port, err := net.SplitHostPort(v); err == nil {
		n, err := strconv.Atoi(port)
		if err != nil || n < 0 || n > 65535 {
			return "", fmt.Errorf("invalid port in %q", v)
		}
		return net.JoinHostPort(host, port), nil
	}

	host := strings.TrimSuffix(strings.TrimPrefix(v, "["), "]")
	if !strings.Contains(host, ":") || net.ParseIP(host) != nil {
		return net.JoinHostPort(host, defaultPort), nil
	}
	return "", fmt.Errorf("invalid address %q", v)
}
