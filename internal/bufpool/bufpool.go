// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bufpool pools the scratch memory used on hot I/O paths: frame
// buffers for server-push events and copy buffers for file streaming.
package bufpool

import (
	"bytes"
	"io"
	"sync"
)

const (
	maxFrameCap = 64 * 1024
	copySize    = 32 * 1024
)

var (
	frames = sync.Pool{New: func() any { return new(bytes.Buffer) }}
	copies = sync.Pool{New: func() any {
		b := make([]byte, copySize)
		return &b
	}}
)

// Get returns an empty frame buffer.
func Get() *bytes.Buffer {
	b := frames.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// Put returns a frame buffer to the pool. Buffers that grew past the frame
// cap are dropped so one large message does not pin memory.
func Put(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxFrameCap {
		return
	}
	frames.Put(b)
}

// Copy is io.Copy with a pooled buffer.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	bp := copies.Get().(*[]byte)
	defer copies.Put(bp)
	return io.CopyBuffer(dst, src, *bp)
}

// CopyN is io.CopyN with a pooled buffer.
func CopyN(dst io.Writer, src io.Reader, n int64) (int64, error) {
	written, err := Copy(dst, io.LimitReader(src, n))
	if written == n {
		return n, nil
	}
	if written < n && err == nil {
		err = io.EOF
	}
	return written, err
}
