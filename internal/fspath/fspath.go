// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package fspath maps (container, name) pairs onto the on-disk layout
// <root>/<container>/<name> without letting either part escape the root.
package fspath

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for empty, absolute or parent-relative components.
var ErrInvalidPath = errors.New("invalid path component")

// Dir returns <root>/<container>.
func Dir(root, container string) (string, error) {
	if err := check(container); err != nil {
		return "", err
	}
	if strings.ContainsAny(container, `/\`) {
		return "", ErrInvalidPath
	}
	return filepath.Join(root, container), nil
}

// Join returns <root>/<container>/<name>. The name may contain forward
// slashes to address nested files inside the container.
func Join(root, container, name string) (string, error) {
	dir, err := Dir(root, container)
	if err != nil {
		return "", err
	}
	if err := check(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(name)), nil
}

// Key is the cache key used for a (container, name) pair.
func Key(container, name string) string {
	return container + "/" + name
}

func check(part string) error {
	if part == "" || part == "." || strings.ContainsRune(part, 0) {
		return ErrInvalidPath
	}
	if !filepath.IsLocal(filepath.FromSlash(part)) {
		return ErrInvalidPath
	}
	return nil
}
