// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package queue implements the in-memory broker of named message queues.
// Queues are created on first push or listen and live for the whole
// process. Consumers pop destructively, either immediately, by long-polling
// until a timeout or by streaming until a deadline.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Broker owns the set of named queues.
type Broker struct {
	mu        sync.RWMutex
	queues    map[string]*Queue
	poll      time.Duration
	keepAlive time.Duration
	logger    *slog.Logger
}

// Stats is a point-in-time summary of the broker.
type Stats struct {
	Queues   int `json:"queues"`
	Messages int `json:"messages"`
}

// NewBroker creates an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		queues:    make(map[string]*Queue),
		poll:      DefaultPollInterval,
		keepAlive: DefaultKeepAlive,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PollInterval returns the interval waiting consumers use.
func (b *Broker) PollInterval() time.Duration {
	return b.poll
}

func (b *Broker) get(name string) *Queue {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.queues[name]
}

func (b *Broker) getOrCreate(name string) *Queue {
	if q := b.get(name); q != nil {
		return q
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return q
	}
	q := newQueue(name)
	b.queues[name] = q
	b.logger.Debug("queue_created", slog.String("queue", name))
	return q
}

// Push appends msg to the named queue, creating the queue if needed.
func (b *Broker) Push(name string, msg []byte) {
	b.getOrCreate(name).Push(msg)
}

// Pop removes and returns the oldest message of the named queue without
// waiting. A missing queue is reported as empty and is not created.
func (b *Broker) Pop(name string) ([]byte, bool) {
	q := b.get(name)
	if q == nil {
		return nil, false
	}
	return q.TryPop()
}

// PopWait is Pop with a long-poll. After a failed first attempt it retries
// every poll interval until a message arrives, timeout elapses or ctx is
// done. A non-positive timeout makes exactly one attempt.
func (b *Broker) PopWait(ctx context.Context, name string, timeout time.Duration) ([]byte, bool) {
	if msg, ok := b.Pop(name); ok || timeout <= 0 {
		return msg, ok
	}

	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(min(b.poll, timeout))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-timer.C:
		}

		if msg, ok := b.Pop(name); ok {
			return msg, true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		timer.Reset(min(b.poll, remaining))
	}
}

// PeekAt returns a copy of the message at index without removing it.
// Index 0 is the newest message.
func (b *Broker) PeekAt(name string, index int) ([]byte, bool) {
	q := b.get(name)
	if q == nil {
		return nil, false
	}
	return q.PeekAt(index)
}

// PeekOldest returns a copy of the message the next Pop would return.
func (b *Broker) PeekOldest(name string) ([]byte, bool) {
	q := b.get(name)
	if q == nil {
		return nil, false
	}
	return q.Oldest()
}

// PeekNewest returns a copy of the most recently pushed message.
func (b *Broker) PeekNewest(name string) ([]byte, bool) {
	q := b.get(name)
	if q == nil {
		return nil, false
	}
	return q.Newest()
}

// Len returns the depth of the named queue, 0 when it does not exist.
func (b *Broker) Len(name string) int {
	q := b.get(name)
	if q == nil {
		return 0
	}
	return q.Len()
}

// Exists reports whether the named queue holds at least one message.
func (b *Broker) Exists(name string) bool {
	return b.Len(name) > 0
}

// Listen returns the named queue, creating it if needed. Nothing is consumed.
func (b *Broker) Listen(name string) *Queue {
	return b.getOrCreate(name)
}

// Stats counts queues and buffered messages.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	queues := make([]*Queue, 0, len(b.queues))
	for _, q := range b.queues {
		queues = append(queues, q)
	}
	b.mu.RUnlock()

	st := Stats{Queues: len(queues)}
	for _, q := range queues {
		st.Messages += q.Len()
	}
	return st
}
