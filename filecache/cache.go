// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package filecache shares open file handles between concurrent writers.
//
// Two kinds of entries are kept, each keyed by "<container>/<name>":
//
//   - log entries are opened once and stay open until CloseLog,
//   - append entries count their writers and close the file when the last
//     one releases it, unless that writer asks to hold the file open.
//
// Every entry has its own lock. The map lock only guards lookups and is
// never held while waiting on an entry lock; an entry lock may be held
// while the map lock is taken to remove that entry.
package filecache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yumoh/sse-queue/internal/fspath"
)

// maxReattach bounds how often a writer follows an entry that was closed
// under it before giving up.
const maxReattach = 3

var (
	// ErrHandleClosed is returned when a writer keeps losing its entry to
	// concurrent closes.
	ErrHandleClosed = errors.New("file handle closed")

	// ErrClosed is returned once the cache itself has been closed.
	ErrClosed = errors.New("file cache closed")
)

// Cache holds the open log and append handles under one root directory.
type Cache struct {
	root     string
	fileMode fs.FileMode
	dirMode  fs.FileMode
	logger   *slog.Logger

	// The maps are allocated once and only changed under mu.
	mu      sync.Mutex
	closed  bool
	logs    map[string]*entry
	appends map[string]*entry
}

// Stats is a snapshot of the cache.
type Stats struct {
	Logs    int `json:"logs"`
	Appends int `json:"appends"`
	Pending int `json:"pending"`
}

type entry struct {
	key  string
	path string

	mu      sync.Mutex
	f       *os.File
	pending int
	closed  bool
}

// New creates a cache rooted at root.
func New(root string, opts ...Option) *Cache {
	c := &Cache{
		root:     root,
		fileMode: defaultFileMode,
		dirMode:  defaultDirMode,
		logger:   slog.Default(),
		logs:     make(map[string]*entry),
		appends:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the directory files are created under.
func (c *Cache) Root() string {
	return c.root
}

// lookup returns the entry for key, inserting an empty one if needed.
func (c *Cache) lookup(m map[string]*entry, key, path string) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	e, ok := m[key]
	if !ok {
		e = &entry{key: key, path: path}
		m[key] = e
	}
	return e, nil
}

// detach removes e from m if it is still the current entry for its key.
func (c *Cache) detach(m map[string]*entry, e *entry) {
	c.mu.Lock()
	if m[e.key] == e {
		delete(m, e.key)
	}
	c.mu.Unlock()
}

// take removes and returns the current entry for key.
func (c *Cache) take(m map[string]*entry, key string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := m[key]
	delete(m, key)
	return e
}

// acquire returns a locked, open entry from m. The caller must unlock it.
func (c *Cache) acquire(m map[string]*entry, container, name string) (*entry, error) {
	path, err := fspath.Join(c.root, container, name)
	if err != nil {
		return nil, err
	}
	key := fspath.Key(container, name)

	for {
		e, err := c.lookup(m, key, path)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		if e.closed {
			// Lost a race with a close; the entry is already out of the map.
			e.mu.Unlock()
			continue
		}
		if e.f == nil {
			f, err := c.open(path)
			if err != nil {
				e.closed = true
				c.detach(m, e)
				e.mu.Unlock()
				return nil, err
			}
			e.f = f
			c.logger.Debug("file_handle_opened", slog.String("key", key))
		}
		return e, nil
	}
}

func (c *Cache) open(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), c.dirMode); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, c.fileMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

// shut closes e unconditionally. It is a no-op for an already closed entry.
func (c *Cache) shut(e *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

func (e *entry) closeLocked() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.pending = 0
	f := e.f
	e.f = nil
	if f == nil {
		return nil
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", e.path, err)
	}
	return nil
}

// Evict closes the log and append handles cached for container/name. It is
// called after the file was replaced or removed so the next writer opens
// the file now at that path.
func (c *Cache) Evict(container, name string) error {
	key := fspath.Key(container, name)
	return c.shutAll(c.drain(func(k string) bool { return k == key }))
}

// EvictContainer closes every cached handle under container.
func (c *Cache) EvictContainer(container string) error {
	prefix := fspath.Key(container, "")
	return c.shutAll(c.drain(func(k string) bool { return strings.HasPrefix(k, prefix) }))
}

// Close closes every cached handle. Later opens fail with ErrClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.shutAll(c.drain(func(string) bool { return true }))
}

// drain removes the entries whose key matches from both maps.
func (c *Cache) drain(match func(key string) bool) []*entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entries []*entry
	for _, m := range []map[string]*entry{c.logs, c.appends} {
		for k, e := range m {
			if match(k) {
				entries = append(entries, e)
				delete(m, k)
			}
		}
	}
	return entries
}

func (c *Cache) shutAll(entries []*entry) error {
	var errs []error
	for _, e := range entries {
		c.logger.Debug("file_handle_evicted", slog.String("key", e.key))
		if err := c.shut(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats counts cached handles and in-flight append writers.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	st := Stats{Logs: len(c.logs), Appends: len(c.appends)}
	appends := make([]*entry, 0, len(c.appends))
	for _, e := range c.appends {
		appends = append(appends, e)
	}
	c.mu.Unlock()

	for _, e := range appends {
		e.mu.Lock()
		st.Pending += e.pending
		e.mu.Unlock()
	}
	return st
}
