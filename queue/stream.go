// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"log/slog"
	"time"
)

// EventType distinguishes stream events.
type EventType int

const (
	// EventMessage carries a popped message.
	EventMessage EventType = iota
	// EventBye is the last event of a stream whose deadline passed.
	EventBye
	// EventIdle is emitted when the stream was silent for the keep-alive
	// interval. It carries no data.
	EventIdle
)

func (t EventType) String() string {
	switch t {
	case EventMessage:
		return "message"
	case EventBye:
		return "bye"
	case EventIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Event is one item of a listen stream.
type Event struct {
	Type EventType
	Data []byte
}

// Stream pops messages from q and hands each one to emit until the
// deadline passes, ctx is done or emit fails. A zero deadline streams until
// ctx is done. When the deadline passes a final EventBye is emitted and
// Stream returns nil. While the queue stays empty an EventIdle is emitted
// every keep-alive interval so transports can keep the connection alive.
//
// A message is removed from the queue before emit is called; if emit fails
// the message is lost.
func (b *Broker) Stream(ctx context.Context, q *Queue, deadline time.Time, emit func(Event) error) error {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	var sent int
	lastEmit := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if msg, ok := q.TryPop(); ok {
			if err := emit(Event{Type: EventMessage, Data: msg}); err != nil {
				b.logger.Debug("queue_stream_emit_failed",
					slog.String("queue", q.Name()),
					slog.String("error", err.Error()))
				return err
			}
			sent++
			lastEmit = time.Now()
			continue
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			b.logger.Debug("queue_stream_deadline",
				slog.String("queue", q.Name()),
				slog.Int("sent", sent))
			return emit(Event{Type: EventBye})
		}

		if b.keepAlive > 0 && time.Since(lastEmit) >= b.keepAlive {
			if err := emit(Event{Type: EventIdle}); err != nil {
				return err
			}
			lastEmit = time.Now()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
