// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package filecache

import (
	"io/fs"
	"log/slog"
)

const (
	defaultFileMode fs.FileMode = 0o644
	defaultDirMode  fs.FileMode = 0o755
)

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFileMode sets the permissions of newly created files.
func WithFileMode(m fs.FileMode) Option {
	return func(c *Cache) {
		c.fileMode = m
	}
}

// WithDirMode sets the permissions of newly created container directories.
func WithDirMode(m fs.FileMode) Option {
	return func(c *Cache) {
		c.dirMode = m
	}
}
