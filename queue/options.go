// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"log/slog"
	"time"
)

const (
	// DefaultPollInterval is how often waiting consumers re-check an empty queue.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultKeepAlive is how long a stream may stay silent before an
	// EventIdle is emitted.
	DefaultKeepAlive = 15 * time.Second
)

// Option configures a Broker.
type Option func(*Broker)

// WithPollInterval sets the interval used by PopWait and Stream while a
// queue is empty. Non-positive values keep the default.
func WithPollInterval(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.poll = d
		}
	}
}

// WithKeepAlive sets how long Stream stays silent before emitting an
// EventIdle. Zero disables idle events.
func WithKeepAlive(d time.Duration) Option {
	return func(b *Broker) {
		if d >= 0 {
			b.keepAlive = d
		}
	}
}

// WithLogger sets the broker logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}
