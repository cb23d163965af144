// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/yumoh/sse-queue/byterange"
	"github.com/yumoh/sse-queue/server/api"
)

var errBadFlag = errors.New("invalid boolean parameter")

// object reads bucket and name from the path, falling back to the query
// string. Missing parts come back empty and are rejected by the store.
func object(r *http.Request) (string, string) {
	q := r.URL.Query()
	bucket := r.PathValue("bucket")
	if bucket == "" {
		bucket = q.Get("bucket")
	}
	name := r.PathValue("name")
	if name == "" {
		name = q.Get("name")
	}
	return bucket, name
}

// flag parses an optional boolean query parameter. A bare ?key counts as true.
func flag(r *http.Request, key string) (bool, error) {
	q := r.URL.Query()
	if !q.Has(key) {
		return false, nil
	}
	v := q.Get(key)
	if v == "" {
		return true, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errBadFlag
	}
	return b, nil
}

func (s *Server) uploadBody(w http.ResponseWriter, r *http.Request) io.Reader {
	if s.config.MaxUploadSize > 0 {
		return http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)
	}
	return r.Body
}

func (s *Server) handleStoragePut(w http.ResponseWriter, r *http.Request) {
	bucket, name := object(r)
	n, err := s.store.Put(bucket, name, s.uploadBody(w, r))
	if err != nil {
		s.fail(w, r, "storage_put", err)
		return
	}
	s.evict(r, bucket, name)
	s.metrics.RecordWrite(r.Context(), "put", n)
	writeJSON(w, http.StatusOK, api.Put())
}

func (s *Server) handleStorageAppend(w http.ResponseWriter, r *http.Request) {
	bucket, name := object(r)
	hold, err := flag(r, "hold")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h, err := s.files.Acquire(bucket, name)
	if err != nil {
		s.fail(w, r, "storage_append", err)
		return
	}
	n, err := h.WriteFrom(s.uploadBody(w, r))
	if rerr := h.Release(hold); rerr != nil && err == nil {
		err = rerr
	}
	if n > 0 {
		s.metrics.RecordWrite(r.Context(), "append", n)
	}
	if err != nil {
		s.fail(w, r, "storage_append", err)
		return
	}
	writeJSON(w, http.StatusOK, api.Put())
}

func (s *Server) handleStorageCloseAppend(w http.ResponseWriter, r *http.Request) {
	bucket, name := object(r)
	if err := s.files.CloseAppend(bucket, name); err != nil {
		s.fail(w, r, "storage_close_append", err)
		return
	}
	writeJSON(w, http.StatusOK, api.Put())
}

func (s *Server) handleStorageGet(w http.ResponseWriter, r *http.Request) {
	bucket, name := object(r)
	f, size, err := s.store.Open(bucket, name)
	if err != nil {
		s.fail(w, r, "storage_get", err)
		return
	}
	defer f.Close()

	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}

	outcome := "full"
	if r.Header.Get("Range") != "" {
		outcome = "partial"
	}
	err = byterange.ServeContent(w, r, f, size)
	switch {
	case err == nil:
		s.metrics.RecordDownload(r.Context(), outcome)
	case errors.Is(err, byterange.ErrMalformed),
		errors.Is(err, byterange.ErrUnsatisfiable),
		errors.Is(err, byterange.ErrMultipart):
		s.metrics.RecordDownload(r.Context(), "unsatisfiable")
		w.Header().Del("Content-Type")
		w.Header().Set("Content-Range", byterange.UnsatisfiedRange(size))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, err.Error())
	default:
		s.fail(w, r, "storage_get", err)
	}
}

func (s *Server) handleStorageExists(w http.ResponseWriter, r *http.Request) {
	bucket, name := object(r)
	ok, err := s.store.Exists(bucket, name)
	if err != nil {
		s.fail(w, r, "storage_exists", err)
		return
	}
	writeJSON(w, http.StatusOK, api.Bool(ok))
}

func (s *Server) handleStorageSize(w http.ResponseWriter, r *http.Request) {
	bucket, name := object(r)
	n, err := s.store.Size(bucket, name)
	if err != nil {
		s.fail(w, r, "storage_fsize", err)
		return
	}
	writeJSON(w, http.StatusOK, api.Size(n))
}

func (s *Server) handleStorageNew(w http.ResponseWriter, r *http.Request) {
	bucket, _ := object(r)
	if err := s.store.CreateBucket(bucket); err != nil {
		s.fail(w, r, "storage_new", err)
		return
	}
	writeJSON(w, http.StatusOK, api.Put())
}

func (s *Server) handleStorageBuckets(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.Buckets()
	if err != nil {
		s.fail(w, r, "storage_buckets", err)
		return
	}
	writeJSON(w, http.StatusOK, api.List(names))
}

// handleStorageDelete removes one file, or the whole bucket when no name is
// given.
func (s *Server) handleStorageDelete(w http.ResponseWriter, r *http.Request) {
	bucket, name := object(r)
	existsOK, err := flag(r, "exists_ok")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if name == "" {
		err = s.store.DeleteBucket(bucket, existsOK)
	} else {
		err = s.store.Delete(bucket, name, existsOK)
	}
	if err != nil {
		s.fail(w, r, "storage_delete", err)
		return
	}
	s.evict(r, bucket, name)
	writeJSON(w, http.StatusOK, api.Put())
}

// evict drops cached handles for a file that was replaced or removed, or for
// a whole bucket when name is empty. Held handles would otherwise keep
// writing to the unlinked file.
func (s *Server) evict(r *http.Request, bucket, name string) {
	var err error
	if name == "" {
		err = s.files.EvictContainer(bucket)
	} else {
		err = s.files.Evict(bucket, name)
	}
	if err != nil {
		s.logger.Warn("file_handle_evict_failed",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("bucket", bucket),
			slog.String("name", name),
			slog.String("error", err.Error()))
	}
}
