// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"github.com/yumoh/sse-queue/internal/bufpool"
	"github.com/yumoh/sse-queue/queue"
	"github.com/yumoh/sse-queue/server/api"
)

var eventStreamMediaTypes = []contenttype.MediaType{contenttype.NewMediaType("text/event-stream")}

// deadlineFor turns the timeout parameter into a stream deadline. No
// timeout streams until the client leaves.
func deadlineFor(r *http.Request, limit time.Duration) (time.Time, error) {
	timeout, err := waitFor(r, limit)
	if err != nil || timeout == 0 {
		return time.Time{}, err
	}
	return time.Now().Add(timeout), nil
}

// handleListen pops messages from a queue as server-sent events. Each
// message is one event whose data is the api.ResultGet JSON; a stream that
// reaches its deadline ends with a bye event.
func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	name, err := queueName(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeError(w, http.StatusNotAcceptable, "event stream not acceptable")
		return
	}
	deadline, err := deadlineFor(r, s.config.MaxWait)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := s.streamContext(r)
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.metrics.RecordStreamOpened(ctx, "sse")
	defer s.metrics.RecordStreamClosed(context.WithoutCancel(ctx), "sse")

	q := s.broker.Listen(name)
	err = s.broker.Stream(ctx, q, deadline, func(ev queue.Event) error {
		if err := writeEvent(w, ev); err != nil {
			return err
		}
		flusher.Flush()
		if ev.Type == queue.EventMessage {
			s.metrics.RecordPop(ctx, "listen", len(ev.Data))
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Debug("sse_stream_ended",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("queue", name),
			slog.String("error", err.Error()))
	}
}

// writeEvent writes one event frame.
func writeEvent(w http.ResponseWriter, ev queue.Event) error {
	if ev.Type == queue.EventIdle {
		_, err := io.WriteString(w, ": ping\n\n")
		return err
	}

	buf := bufpool.Get()
	defer bufpool.Put(buf)

	buf.WriteString("id: ")
	buf.WriteString(uuid.NewString())
	buf.WriteByte('\n')
	switch ev.Type {
	case queue.EventBye:
		buf.WriteString("event: bye\ndata: bye\n\n")
	default:
		buf.WriteString("data: ")
		payload, err := json.Marshal(api.Get(ev.Data, true))
		if err != nil {
			return err
		}
		buf.Write(payload)
		buf.WriteString("\n\n")
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// handleListenWS streams the same events over a WebSocket.
func (s *Server) handleListenWS(w http.ResponseWriter, r *http.Request) {
	deadline, err := deadlineFor(r, s.config.MaxWait)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := s.streamContext(r)
	defer cancel()
	s.ws.Serve(w, r.WithContext(ctx), r.PathValue("queue"), deadline)
}
