// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package byterange

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/yumoh/sse-queue/internal/bufpool"
)

const octetStream = "application/octet-stream"

// ServeContent writes content to w, honouring a single-range Range header.
// Nothing is written when the header cannot be satisfied; the error is
// returned so the caller can answer with 416. HEAD requests get headers only.
func ServeContent(w http.ResponseWriter, r *http.Request, content io.ReadSeeker, size int64) error {
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", octetStream)
	}

	header := r.Header.Get("Range")
	if header == "" {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		if _, err := bufpool.Copy(w, content); err != nil {
			return fmt.Errorf("failed to stream content: %w", err)
		}
		return nil
	}

	rng, err := Select(header, size)
	if err != nil {
		return err
	}
	if _, err := content.Seek(rng.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to %d: %w", rng.Start, err)
	}

	h.Set("Content-Range", rng.ContentRange(size))
	h.Set("Content-Length", strconv.FormatInt(rng.Len(), 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := bufpool.CopyN(w, content, rng.Len()); err != nil {
		return fmt.Errorf("failed to stream range %d-%d: %w", rng.Start, rng.End, err)
	}
	return nil
}

// UnsatisfiedRange is the Content-Range value sent with a 416 response.
func UnsatisfiedRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}
