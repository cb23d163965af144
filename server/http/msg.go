// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/yumoh/sse-queue/server/api"
)

var (
	errMissingQueue   = errors.New("missing queue")
	errMissingContent = errors.New("missing content")
	errBadTimeout     = errors.New("invalid timeout")
	errBadIndex       = errors.New("invalid index")
)

// queueName reads the queue from the path, falling back to the query string.
func queueName(r *http.Request) (string, error) {
	if v := r.PathValue("queue"); v != "" {
		return v, nil
	}
	if v := r.URL.Query().Get("queue"); v != "" {
		return v, nil
	}
	return "", errMissingQueue
}

// maxWaitSeconds is the longest timeout a time.Duration can hold.
var maxWaitSeconds = float64(math.MaxInt64) / float64(time.Second)

// waitFor parses the timeout query parameter, given in seconds. A missing
// value means no wait; values above limit are clamped.
func waitFor(r *http.Request, limit time.Duration) (time.Duration, error) {
	v := r.URL.Query().Get("timeout")
	if v == "" {
		return 0, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, errBadTimeout
	}
	if limit > 0 && secs >= limit.Seconds() {
		return limit, nil
	}
	if secs >= maxWaitSeconds {
		return time.Duration(math.MaxInt64), nil
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func (s *Server) handlePutBody(w http.ResponseWriter, r *http.Request) {
	name, err := queueName(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body io.Reader = r.Body
	if s.config.MaxMessageSize > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.MaxMessageSize)
	}
	msg, err := io.ReadAll(body)
	if err != nil {
		s.fail(w, r, "queue_put", err)
		return
	}

	s.push(r, name, msg)
	writeJSON(w, http.StatusOK, api.Put())
}

func (s *Server) handlePutQuery(w http.ResponseWriter, r *http.Request) {
	name, err := queueName(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	if !q.Has("content") {
		writeError(w, http.StatusBadRequest, errMissingContent.Error())
		return
	}
	content := q.Get("content")
	if s.config.MaxMessageSize > 0 && int64(len(content)) > s.config.MaxMessageSize {
		writeError(w, http.StatusRequestEntityTooLarge, msgTooLarge)
		return
	}

	s.push(r, name, []byte(content))
	writeJSON(w, http.StatusOK, api.Put())
}

func (s *Server) push(r *http.Request, name string, msg []byte) {
	s.broker.Push(name, msg)
	s.metrics.RecordPush(r.Context(), len(msg))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	name, err := queueName(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	timeout, err := waitFor(r, s.config.MaxWait)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, ok := s.broker.PopWait(r.Context(), name, timeout)
	if ok {
		s.metrics.RecordPop(r.Context(), "get", len(msg))
	}
	writeJSON(w, http.StatusOK, api.Get(msg, ok))
}

func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	name, err := queueName(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	raw := r.PathValue("index")
	if raw == "" {
		raw = r.URL.Query().Get("index")
	}
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, errBadIndex.Error())
		return
	}

	msg, ok := s.broker.PeekAt(name, index)
	writeJSON(w, http.StatusOK, api.Get(msg, ok))
}

func (s *Server) handleFirst(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.broker.PeekOldest(r.PathValue("queue"))
	writeJSON(w, http.StatusOK, api.Get(msg, ok))
}

func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.broker.PeekNewest(r.PathValue("queue"))
	writeJSON(w, http.StatusOK, api.Get(msg, ok))
}

func (s *Server) handleLen(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.Size(int64(s.broker.Len(r.PathValue("queue")))))
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.Bool(s.broker.Exists(r.PathValue("queue"))))
}
