// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// routes builds the handler chain. Every route is served at the root and,
// when a prefix is configured, again under the prefix.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	s.mount(mux)

	var h http.Handler = mux
	if p := s.config.Prefix; p != "" {
		outer := http.NewServeMux()
		outer.Handle("/", mux)
		outer.Handle(p+"/", http.StripPrefix(p, mux))
		h = outer
	}
	return s.observe(s.recoverPanic(s.rateLimit(h)))
}

func (s *Server) mount(mux *http.ServeMux) {
	open := func(method, path string, h http.HandlerFunc) {
		mux.Handle(method+" "+path, route(path, h))
	}
	guarded := func(method, path string, h http.HandlerFunc) {
		mux.Handle(method+" "+path, route(path, s.requireToken(h)))
	}

	open(http.MethodGet, "/{$}", s.handleIndex)
	open(http.MethodGet, "/ping", s.handlePing)
	open(http.MethodGet, "/version", s.handleVersion)
	open(http.MethodGet, "/time", s.handleTime)
	open(http.MethodGet, "/ip", s.handleIP)

	if s.config.PublicDir != "" {
		files := http.StripPrefix("/static/public/", http.FileServer(http.Dir(s.config.PublicDir)))
		open(http.MethodGet, "/static/public/", gzhttp.GzipHandler(files))
	}

	guarded(http.MethodPost, "/msg/queue/put", s.handlePutBody)
	guarded(http.MethodPost, "/msg/{queue}/put", s.handlePutBody)
	guarded(http.MethodGet, "/msg/{queue}/put", s.handlePutQuery)
	guarded(http.MethodGet, "/msg/queue/get", s.handleGet)
	guarded(http.MethodGet, "/msg/{queue}/get", s.handleGet)
	guarded(http.MethodGet, "/msg/queue/pick", s.handlePick)
	guarded(http.MethodGet, "/msg/{queue}/pick/{index}", s.handlePick)
	guarded(http.MethodGet, "/msg/{queue}/first", s.handleFirst)
	guarded(http.MethodGet, "/msg/{queue}/last", s.handleLast)
	guarded(http.MethodGet, "/msg/{queue}/len", s.handleLen)
	guarded(http.MethodGet, "/msg/{queue}/exists", s.handleExists)
	guarded(http.MethodGet, "/msg/queue/listen", s.handleListen)
	guarded(http.MethodGet, "/msg/{queue}/listen", s.handleListen)
	guarded(http.MethodGet, "/msg/{queue}/ws", s.handleListenWS)

	guarded(http.MethodPost, "/storage/put", s.handleStoragePut)
	guarded(http.MethodPost, "/storage/put/{bucket}/{name...}", s.handleStoragePut)
	guarded(http.MethodPost, "/storage/append", s.handleStorageAppend)
	guarded(http.MethodPost, "/storage/append/{bucket}/{name...}", s.handleStorageAppend)
	guarded(http.MethodGet, "/storage/closeappend", s.handleStorageCloseAppend)
	guarded(http.MethodGet, "/storage/closeappend/{bucket}/{name...}", s.handleStorageCloseAppend)
	guarded(http.MethodGet, "/storage/get", s.handleStorageGet)
	guarded(http.MethodGet, "/storage/get/{bucket}/{name...}", s.handleStorageGet)
	guarded(http.MethodGet, "/storage/exists", s.handleStorageExists)
	guarded(http.MethodGet, "/storage/exists/{bucket}/{name...}", s.handleStorageExists)
	guarded(http.MethodGet, "/storage/fsize", s.handleStorageSize)
	guarded(http.MethodGet, "/storage/fsize/{bucket}/{name...}", s.handleStorageSize)
	guarded(http.MethodGet, "/storage/new", s.handleStorageNew)
	guarded(http.MethodGet, "/storage/new/{bucket}", s.handleStorageNew)
	guarded(http.MethodGet, "/storage/buckets", s.handleStorageBuckets)
	guarded(http.MethodGet, "/storage/del", s.handleStorageDelete)
	guarded(http.MethodGet, "/storage/del/{bucket}", s.handleStorageDelete)
	guarded(http.MethodGet, "/storage/del/{bucket}/{name...}", s.handleStorageDelete)

	guarded(http.MethodPost, "/onlinelog/upload", s.handleLogUpload)
	guarded(http.MethodPost, "/onlinelog/upload/{channel}/{name...}", s.handleLogUpload)
	guarded(http.MethodGet, "/onlinelog/close", s.handleLogClose)
	guarded(http.MethodGet, "/onlinelog/close/{channel}/{name...}", s.handleLogClose)
}
