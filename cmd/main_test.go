// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yumoh/sse-queue/config"
	"github.com/yumoh/sse-queue/filecache"
	"github.com/yumoh/sse-queue/queue"
	"github.com/yumoh/sse-queue/server/http"
	"github.com/yumoh/sse-queue/storage"
)

func TestReload(t *testing.T) {
	root := t.TempDir()
	srv := http.New(http.Config{Token: "old"}, queue.NewBroker(), filecache.New(root), storage.New(root))

	status := func(token string) int {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/msg/q/len?token="+token, nil))
		return rec.Code
	}
	assert.Equal(t, nethttp.StatusOK, status("old"))

	cur := config.Default()
	cur.Auth.Token = "old"
	level := new(slog.LevelVar)

	next := config.Default()
	next.Auth.Token = "new"
	next.Log.Level = "debug"
	reload(cur, next, srv, level, slog.Default())

	assert.Equal(t, nethttp.StatusUnauthorized, status("old"))
	assert.Equal(t, nethttp.StatusOK, status("new"))
	assert.Equal(t, slog.LevelDebug, level.Level())
	assert.Equal(t, "new", cur.Auth.Token)

	bad := config.Default()
	bad.Auth.Token = "new"
	bad.Log.Level = "loud"
	reload(cur, bad, srv, level, slog.Default())
	assert.Equal(t, slog.LevelDebug, level.Level())
	assert.Equal(t, "debug", cur.Log.Level)
}
