// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bufio"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yumoh/sse-queue/filecache"
	"github.com/yumoh/sse-queue/queue"
	"github.com/yumoh/sse-queue/server/api"
	sqws "github.com/yumoh/sse-queue/server/websocket"
	"github.com/yumoh/sse-queue/storage"
)

func content(t *testing.T, body string) (string, bool) {
	t.Helper()
	got := decode[api.ResultGet](t, body)
	if got.Content == nil {
		assert.Equal(t, "empty", got.Msg)
		assert.False(t, got.Result)
		return "", false
	}
	assert.Equal(t, "ok", got.Msg)
	assert.True(t, got.Result)
	return *got.Content, true
}

func TestPutForms(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.post(t, "/msg/queue/put?queue=jobs", "first")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"code":1,"msg":"ok","result":true}`, body)

	resp, _ = env.post(t, "/msg/jobs/put", "second")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.get(t, "/msg/jobs/put?content=third")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 3, env.broker.Len("jobs"))
	for _, want := range []string{"first", "second", "third"} {
		_, body := env.get(t, "/msg/jobs/get")
		got, ok := content(t, body)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestPutRejects(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		msg    string
	}{
		{"body too large", http.MethodPost, "/msg/jobs/put", strings.Repeat("x", 1025), http.StatusRequestEntityTooLarge, "data too large"},
		{"query too large", http.MethodGet, "/msg/jobs/put?content=" + strings.Repeat("x", 1025), "", http.StatusRequestEntityTooLarge, "data too large"},
		{"missing content", http.MethodGet, "/msg/jobs/put", "", http.StatusBadRequest, "missing content"},
		{"missing queue", http.MethodPost, "/msg/queue/put", "x", http.StatusBadRequest, "missing queue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, tt.method, tt.path, strings.NewReader(tt.body), nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.msg, decode[api.ResultError](t, body).Msg)
		})
	}
	assert.Equal(t, 0, env.broker.Len("jobs"))
}

func TestPutMaxSizeAccepted(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.post(t, "/msg/jobs/put", strings.Repeat("x", 1024))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, env.broker.Len("jobs"))
}

func TestGet(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("empty", func(t *testing.T) {
		resp, body := env.get(t, "/msg/queue/get?queue=none")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"code":1,"msg":"empty","result":false,"content":null}`, body)
	})

	t.Run("bad timeout", func(t *testing.T) {
		for _, v := range []string{"abc", "-1", "NaN"} {
			resp, _ := env.get(t, "/msg/jobs/get?timeout="+v)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, v)
		}
	})

	t.Run("waits for push", func(t *testing.T) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			env.broker.Push("late", []byte("arrived"))
		}()
		_, body := env.get(t, "/msg/late/get?timeout=2")
		got, ok := content(t, body)
		require.True(t, ok)
		assert.Equal(t, "arrived", got)
	})

	t.Run("timeout expires", func(t *testing.T) {
		start := time.Now()
		_, body := env.get(t, "/msg/idle/get?timeout=0.1")
		_, ok := content(t, body)
		assert.False(t, ok)
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	})
}

func TestWaitForClamps(t *testing.T) {
	tests := []struct {
		query string
		want  time.Duration
	}{
		{"", 0},
		{"timeout=0", 0},
		{"timeout=1.5", 1500 * time.Millisecond},
		{"timeout=3600", 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r, err := http.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			require.NoError(t, err)
			got, err := waitFor(r, 5*time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWaitForUnbounded(t *testing.T) {
	tests := []struct {
		query string
		want  time.Duration
	}{
		{"timeout=90", 90 * time.Second},
		{"timeout=1e20", time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r, err := http.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			require.NoError(t, err)
			got, err := waitFor(r, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetHugeTimeoutWaits(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxWait = 0 })

	go func() {
		time.Sleep(50 * time.Millisecond)
		env.broker.Push("jobs", []byte("late"))
	}()
	resp, body := env.get(t, "/msg/jobs/get?timeout=1e20")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, ok := content(t, body)
	require.True(t, ok, "a huge timeout still waits for the message")
	assert.Equal(t, "late", got)
}

func TestPeekRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, m := range []string{"a", "b", "c"} {
		env.broker.Push("jobs", []byte(m))
	}

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"/msg/jobs/pick/0", "c", true},
		{"/msg/jobs/pick/2", "a", true},
		{"/msg/jobs/pick/3", "", false},
		{"/msg/queue/pick?queue=jobs&index=1", "b", true},
		{"/msg/jobs/first", "a", true},
		{"/msg/jobs/last", "c", true},
		{"/msg/none/first", "", false},
		{"/msg/none/last", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := env.get(t, tt.path)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			got, ok := content(t, body)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, 3, env.broker.Len("jobs"))

	for _, path := range []string{"/msg/jobs/pick/-1", "/msg/jobs/pick/x", "/msg/queue/pick?queue=jobs"} {
		resp, _ := env.get(t, path)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestLenAndExists(t *testing.T) {
	env := newTestEnv(t, nil)

	_, body := env.get(t, "/msg/jobs/exists")
	assert.JSONEq(t, `{"code":1,"msg":"ok","result":false}`, body)
	_, body = env.get(t, "/msg/jobs/len")
	assert.JSONEq(t, `{"code":1,"msg":"ok","result":0}`, body)

	env.broker.Push("jobs", []byte("x"))
	env.broker.Push("jobs", []byte("y"))

	_, body = env.get(t, "/msg/jobs/exists")
	assert.JSONEq(t, `{"code":1,"msg":"ok","result":true}`, body)
	_, body = env.get(t, "/msg/jobs/len")
	assert.JSONEq(t, `{"code":1,"msg":"ok","result":2}`, body)
}

func readEvents(t *testing.T, sc *bufio.Scanner, n int) [][]string {
	t.Helper()
	var events [][]string
	var cur []string
	for len(events) < n && sc.Scan() {
		line := sc.Text()
		if line == "" {
			if len(cur) > 0 {
				events = append(events, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	require.Len(t, events, n)
	return events
}

func TestListenSSE(t *testing.T) {
	env := newTestEnv(t, nil)
	env.broker.Push("jobs", []byte("one"))
	env.broker.Push("jobs", []byte("two"))

	resp, err := http.Get(env.http.URL + "/msg/jobs/listen?timeout=0.2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	events := readEvents(t, bufio.NewScanner(resp.Body), 3)
	for i, want := range []string{"one", "two"} {
		require.Len(t, events[i], 2)
		assert.True(t, strings.HasPrefix(events[i][0], "id: "))
		data, ok := strings.CutPrefix(events[i][1], "data: ")
		require.True(t, ok)
		got, ok := content(t, data)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, []string{"event: bye", "data: bye"}, events[2][1:])
	assert.Equal(t, 0, env.broker.Len("jobs"))
}

func TestListenSSEKeepAlive(t *testing.T) {
	b := queue.NewBroker(
		queue.WithPollInterval(5*time.Millisecond),
		queue.WithKeepAlive(20*time.Millisecond),
	)
	root := t.TempDir()
	files := filecache.New(root)
	t.Cleanup(func() { files.Close() })
	s := New(Config{ShutdownTimeout: time.Second, MaxWait: 5 * time.Second}, b, files, storage.New(root))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/msg/jobs/listen?timeout=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sc := bufio.NewScanner(resp.Body)
	events := readEvents(t, sc, 1)
	assert.Equal(t, []string{": ping"}, events[0], "an idle stream sends a comment frame")

	b.Push("jobs", []byte("after"))
	for range 20 {
		ev := readEvents(t, sc, 1)[0]
		if ev[0] == ": ping" {
			continue
		}
		require.Len(t, ev, 2)
		data, ok := strings.CutPrefix(ev[1], "data: ")
		require.True(t, ok)
		got, ok := content(t, data)
		require.True(t, ok)
		assert.Equal(t, "after", got)
		return
	}
	t.Fatal("message not delivered after keep-alive frames")
}

func TestListenSSEQueryForm(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.http.URL + "/msg/queue/listen?queue=jobs&timeout=2")
	require.NoError(t, err)
	defer resp.Body.Close()

	env.broker.Push("jobs", []byte("late"))
	events := readEvents(t, bufio.NewScanner(resp.Body), 1)
	data, _ := strings.CutPrefix(events[0][1], "data: ")
	got, ok := content(t, data)
	require.True(t, ok)
	assert.Equal(t, "late", got)
}

func TestListenSSERejects(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, http.MethodGet, "/msg/jobs/listen", nil, http.Header{"Accept": {"application/json"}})
	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)

	resp, _ = env.get(t, "/msg/jobs/listen?timeout=x")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.get(t, "/msg/queue/listen")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListenWebSocket(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Token = "secret" })
	env.broker.Push("jobs", []byte("hello"))

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/msg/jobs/ws?timeout=0.2"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"&token=secret", nil)
	require.NoError(t, err)
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	got, ok := content(t, string(data))
	require.True(t, ok)
	assert.Equal(t, "hello", got)

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, sqws.ByeFrame, string(data))
}
