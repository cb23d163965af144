// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package filecache

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/yumoh/sse-queue/internal/bufpool"
	"github.com/yumoh/sse-queue/internal/fspath"
)

// LogHandle writes to a shared log file. Writes from concurrent handles to
// the same log are serialized but may interleave between calls.
type LogHandle struct {
	c         *Cache
	container string
	name      string
	e         *entry
}

// OpenLog returns a handle to <root>/<channel>/<name>, opening the file in
// append mode on first use.
func (c *Cache) OpenLog(channel, name string) (*LogHandle, error) {
	e, err := c.acquire(c.logs, channel, name)
	if err != nil {
		return nil, err
	}
	e.mu.Unlock()
	return &LogHandle{c: c, container: channel, name: name, e: e}, nil
}

// CloseLog closes the log file and drops it from the cache. Handles still
// pointing at it reopen the file on their next write.
func (c *Cache) CloseLog(channel, name string) error {
	e := c.take(c.logs, fspath.Key(channel, name))
	if e == nil {
		return nil
	}
	c.logger.Debug("log_handle_closed", slog.String("key", e.key))
	return c.shut(e)
}

// WriteFrom appends everything read from r to the log.
func (h *LogHandle) WriteFrom(r io.Reader) (int64, error) {
	for range maxReattach {
		e := h.e
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			ne, err := h.c.acquire(h.c.logs, h.container, h.name)
			if err != nil {
				return 0, err
			}
			ne.mu.Unlock()
			h.e = ne
			continue
		}
		n, err := writeLocked(h.c.logger, e, r)
		e.mu.Unlock()
		return n, err
	}
	return 0, ErrHandleClosed
}

// writeLocked copies r into the entry file. The entry lock must be held.
func writeLocked(logger *slog.Logger, e *entry, r io.Reader) (int64, error) {
	if e.f == nil {
		logger.Warn("file_handle_missing", slog.String("key", e.key))
		return 0, nil
	}
	n, err := bufpool.Copy(e.f, r)
	if err != nil {
		return n, fmt.Errorf("failed to write %s: %w", e.path, err)
	}
	return n, nil
}
