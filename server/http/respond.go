// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/yumoh/sse-queue/filecache"
	"github.com/yumoh/sse-queue/internal/fspath"
	"github.com/yumoh/sse-queue/server/api"
	"github.com/yumoh/sse-queue/storage"
)

const msgTooLarge = "data too large"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.Error(msg))
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(body))
}

// statusFor maps an operation error onto a response status and message.
func statusFor(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, msgTooLarge
	case errors.Is(err, fspath.ErrInvalidPath):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, storage.ErrNotAFile), errors.Is(err, storage.ErrNotADir):
		return http.StatusConflict, err.Error()
	case errors.Is(err, filecache.ErrHandleClosed):
		return http.StatusConflict, err.Error()
	case errors.Is(err, filecache.ErrClosed):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// fail answers with the error envelope unless the response already started.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	attrs := []any{
		slog.String("request_id", RequestID(r.Context())),
		slog.String("op", op),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("http_op_failed", attrs...)
		s.metrics.RecordError(r.Context(), op)
	} else {
		s.logger.Debug("http_op_rejected", attrs...)
	}
	if headerSent(w) {
		return
	}
	writeError(w, status, msg)
}
