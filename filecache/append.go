// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package filecache

import (
	"io"
	"log/slog"

	"github.com/yumoh/sse-queue/internal/fspath"
)

// AppendHandle is one writer's claim on a shared append file. A handle is
// not safe for concurrent use; each writer acquires its own.
type AppendHandle struct {
	c         *Cache
	container string
	name      string
	e         *entry
	released  bool
}

// Acquire registers a writer for <root>/<bucket>/<name>, opening the file
// if no other writer has it open.
func (c *Cache) Acquire(bucket, name string) (*AppendHandle, error) {
	e, err := c.acquireAppend(bucket, name)
	if err != nil {
		return nil, err
	}
	return &AppendHandle{c: c, container: bucket, name: name, e: e}, nil
}

func (c *Cache) acquireAppend(bucket, name string) (*entry, error) {
	e, err := c.acquire(c.appends, bucket, name)
	if err != nil {
		return nil, err
	}
	e.pending++
	e.mu.Unlock()
	return e, nil
}

// WriteFrom appends everything read from r. If the file was closed
// administratively since the handle was acquired, the handle registers
// with a fresh entry first.
func (h *AppendHandle) WriteFrom(r io.Reader) (int64, error) {
	if h.released {
		return 0, ErrHandleClosed
	}
	for range maxReattach {
		e := h.e
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			ne, err := h.c.acquireAppend(h.container, h.name)
			if err != nil {
				return 0, err
			}
			h.e = ne
			continue
		}
		n, err := writeLocked(h.c.logger, e, r)
		e.mu.Unlock()
		return n, err
	}
	return 0, ErrHandleClosed
}

// Release ends the writer's claim. The last writer closes the file unless
// hold is set, in which case the file stays open for the next Acquire.
// Releasing twice, or after the file was closed administratively, does
// nothing.
func (h *AppendHandle) Release(hold bool) error {
	if h.released {
		return nil
	}
	h.released = true

	e := h.e
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	if e.pending > 0 {
		e.pending--
	}
	if e.pending > 0 || hold {
		return nil
	}

	h.c.detach(h.c.appends, e)
	h.c.logger.Debug("append_handle_closed", slog.String("key", e.key))
	return e.closeLocked()
}

// CloseAppend closes the append file and drops it from the cache, even
// with writers in flight.
func (c *Cache) CloseAppend(bucket, name string) error {
	e := c.take(c.appends, fspath.Key(bucket, name))
	if e == nil {
		return nil
	}
	c.logger.Debug("append_handle_closed", slog.String("key", e.key))
	return c.shut(e)
}
