// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"bytes"
	"sync"
)

// Queue is a named in-memory message queue. Messages are kept oldest first.
// A Queue is safe for concurrent use; every operation holds the queue lock
// for its whole duration.
type Queue struct {
	name string
	mu   sync.Mutex
	msgs [][]byte
}

func newQueue(name string) *Queue {
	return &Queue{name: name}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Push appends msg at the new end. The queue takes ownership of msg.
func (q *Queue) Push(msg []byte) {
	q.mu.Lock()
	q.msgs = append(q.msgs, msg)
	q.mu.Unlock()
}

// TryPop removes and returns the oldest message.
func (q *Queue) TryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.msgs) == 0 {
		return nil, false
	}
	msg := q.msgs[0]
	q.msgs[0] = nil
	q.msgs = q.msgs[1:]
	if len(q.msgs) == 0 {
		q.msgs = nil
	}
	return msg, true
}

// PeekAt returns a copy of the message at index, counted from the newest
// message (0) towards the oldest (Len-1).
func (q *Queue) PeekAt(index int) ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.msgs) {
		return nil, false
	}
	return bytes.Clone(q.msgs[len(q.msgs)-1-index]), true
}

// Oldest returns a copy of the message the next TryPop would return.
func (q *Queue) Oldest() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.msgs) == 0 {
		return nil, false
	}
	return bytes.Clone(q.msgs[0]), true
}

// Newest returns a copy of the most recently pushed message.
func (q *Queue) Newest() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.msgs) == 0 {
		return nil, false
	}
	return bytes.Clone(q.msgs[len(q.msgs)-1]), true
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}
