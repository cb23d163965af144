// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package storage keeps uploaded files in buckets under a workspace
// directory. Bucket b, file n lives at <workspace>/b/n.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/yumoh/sse-queue/internal/bufpool"
	"github.com/yumoh/sse-queue/internal/fspath"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
	ErrNotAFile = errors.New("not a regular file")
	ErrNotADir  = errors.New("not a bucket")
)

// Store is the file store of one workspace.
type Store struct {
	root     string
	fileMode fs.FileMode
	dirMode  fs.FileMode
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithModes sets the permissions of created files and bucket directories.
func WithModes(file, dir fs.FileMode) Option {
	return func(s *Store) {
		s.fileMode = file
		s.dirMode = dir
	}
}

// New creates a store rooted at workspace.
func New(workspace string, opts ...Option) *Store {
	s := &Store{
		root:     workspace,
		fileMode: 0o644,
		dirMode:  0o755,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the workspace directory.
func (s *Store) Root() string {
	return s.root
}

// Put replaces bucket/name with the contents of r. The file is written to a
// temporary sibling first, so readers never see a partial upload.
func (s *Store) Put(bucket, name string, r io.Reader) (int64, error) {
	path, err := fspath.Join(s.root, bucket, name)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.dirMode); err != nil {
		return 0, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	moved := false
	defer func() {
		_ = tmp.Close()
		if !moved {
			_ = os.Remove(tmp.Name())
		}
	}()

	written, err := bufpool.Copy(tmp, r)
	if err != nil {
		return written, fmt.Errorf("failed to write %s/%s: %w", bucket, name, err)
	}
	if err := tmp.Chmod(s.fileMode); err != nil {
		return written, fmt.Errorf("failed to chmod %s/%s: %w", bucket, name, err)
	}
	if err := tmp.Close(); err != nil {
		return written, fmt.Errorf("failed to close %s/%s: %w", bucket, name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return written, fmt.Errorf("failed to move %s/%s into place: %w", bucket, name, err)
	}
	moved = true

	s.logger.Debug("storage_put",
		slog.String("bucket", bucket),
		slog.String("name", name),
		slog.Int64("size", written))
	return written, nil
}

// Open opens bucket/name for reading and returns its size.
func (s *Store) Open(bucket, name string) (*os.File, int64, error) {
	path, err := fspath.Join(s.root, bucket, name)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, wrapPathError(bucket, name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat %s/%s: %w", bucket, name, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, 0, fmt.Errorf("%s/%s: %w", bucket, name, ErrNotAFile)
	}
	return f, info.Size(), nil
}

// Exists reports whether bucket/name is present.
func (s *Store) Exists(bucket, name string) (bool, error) {
	path, err := fspath.Join(s.root, bucket, name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s/%s: %w", bucket, name, err)
	}
	return true, nil
}

// Size returns the size of bucket/name in bytes.
func (s *Store) Size(bucket, name string) (int64, error) {
	path, err := fspath.Join(s.root, bucket, name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, wrapPathError(bucket, name, err)
	}
	return info.Size(), nil
}

// CreateBucket creates the bucket directory. Existing buckets are left alone.
func (s *Store) CreateBucket(bucket string) error {
	dir, err := fspath.Dir(s.root, bucket)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, s.dirMode); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

// Buckets lists the bucket names in the workspace.
func (s *Store) Buckets() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list workspace: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes bucket/name. A missing file is an error unless existsOK.
func (s *Store) Delete(bucket, name string, existsOK bool) error {
	path, err := fspath.Join(s.root, bucket, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if existsOK && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return wrapPathError(bucket, name, err)
	}
	s.logger.Debug("storage_delete", slog.String("bucket", bucket), slog.String("name", name))
	return nil
}

// DeleteBucket removes the bucket and everything in it. A missing bucket is
// an error unless existsOK.
func (s *Store) DeleteBucket(bucket string, existsOK bool) error {
	dir, err := fspath.Dir(s.root, bucket)
	if err != nil {
		return err
	}
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if existsOK {
			return nil
		}
		return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
	case err != nil:
		return fmt.Errorf("failed to stat bucket %s: %w", bucket, err)
	case !info.IsDir():
		return fmt.Errorf("bucket %s: %w", bucket, ErrNotADir)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete bucket %s: %w", bucket, err)
	}
	s.logger.Debug("storage_delete_bucket", slog.String("bucket", bucket))
	return nil
}

func wrapPathError(bucket, name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s/%s: %w", bucket, name, ErrNotFound)
	}
	return fmt.Errorf("%s/%s: %w", bucket, name, err)
}
