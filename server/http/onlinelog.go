// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"
)

// channel reads the log channel and name from the path or query string.
func channel(r *http.Request) (string, string) {
	q := r.URL.Query()
	ch := r.PathValue("channel")
	if ch == "" {
		ch = q.Get("channel")
	}
	name := r.PathValue("name")
	if name == "" {
		name = q.Get("name")
	}
	return ch, name
}

func (s *Server) handleLogUpload(w http.ResponseWriter, r *http.Request) {
	ch, name := channel(r)
	h, err := s.files.OpenLog(ch, name)
	if err != nil {
		s.fail(w, r, "log_upload", err)
		return
	}
	n, err := h.WriteFrom(s.uploadBody(w, r))
	if n > 0 {
		s.metrics.RecordWrite(r.Context(), "upload", n)
	}
	if err != nil {
		s.fail(w, r, "log_upload", err)
		return
	}
	writeText(w, "ok")
}

func (s *Server) handleLogClose(w http.ResponseWriter, r *http.Request) {
	ch, name := channel(r)
	if err := s.files.CloseLog(ch, name); err != nil {
		s.fail(w, r, "log_close", err)
		return
	}
	writeText(w, "ok")
}
