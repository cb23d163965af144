// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yumoh/sse-queue/queue"
	"github.com/yumoh/sse-queue/server/api"
	serverotel "github.com/yumoh/sse-queue/server/otel"
)

const (
	transport = "websocket"
	writeWait = 10 * time.Second

	// ByeFrame is the last text frame of a stream that ran to its deadline.
	ByeFrame = "bye"
)

// Handler streams queue messages to WebSocket clients. Each message is sent
// as one text frame carrying the api.ResultGet JSON.
type Handler struct {
	broker   *queue.Broker
	metrics  *serverotel.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a WebSocket stream handler. metrics may be nil.
func New(b *queue.Broker, metrics *serverotel.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		broker:  b,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Serve upgrades the request and pops messages from the named queue until
// the deadline passes, the peer goes away or the request context ends.
// A zero deadline streams until disconnect.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, name string, deadline time.Time) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket_upgrade_failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	h.logger.Debug("websocket_connection_accepted",
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("queue", name))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Control frames are only processed while someone reads; a read error
	// means the peer is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	h.metrics.RecordStreamOpened(ctx, transport)
	defer h.metrics.RecordStreamClosed(context.WithoutCancel(ctx), transport)

	q := h.broker.Listen(name)
	err = h.broker.Stream(ctx, q, deadline, func(ev queue.Event) error {
		switch ev.Type {
		case queue.EventIdle:
			return ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		case queue.EventBye:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			return ws.WriteMessage(websocket.TextMessage, []byte(ByeFrame))
		}

		ws.SetWriteDeadline(time.Now().Add(writeWait))

		payload, err := json.Marshal(api.Get(ev.Data, true))
		if err != nil {
			return err
		}
		if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			return err
		}
		h.metrics.RecordPop(ctx, "ws", len(ev.Data))
		return nil
	})
	if err != nil && ctx.Err() == nil {
		h.logger.Debug("websocket_stream_ended",
			slog.String("queue", name),
			slog.String("error", err.Error()))
		return
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
