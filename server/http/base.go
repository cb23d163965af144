// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/yumoh/sse-queue/ratelimit"
)

const timeLayout = "2006-01-02 15:04:05"

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeText(w, "sse event queue")
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeText(w, "pong")
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeText(w, s.config.Version)
}

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	writeText(w, time.Now().Format(timeLayout))
}

func (s *Server) handleIP(w http.ResponseWriter, r *http.Request) {
	writeText(w, clientIP(r))
}

// clientIP prefers proxy headers over the socket address.
func clientIP(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Real-Ip")); v != "" {
		return v
	}
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		first, _, _ := strings.Cut(v, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return ratelimit.HostOnly(r.RemoteAddr)
}
