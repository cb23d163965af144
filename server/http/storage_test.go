// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yumoh/sse-queue/server/api"
)

func readFile(t *testing.T, root string, parts ...string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(append([]string{root}, parts...)...))
	require.NoError(t, err)
	return string(b)
}

func TestStoragePutAndGet(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.post(t, "/storage/put/docs/a.txt", "0123456789")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"code":1,"msg":"ok","result":true}`, body)

	resp, _ = env.post(t, "/storage/put?bucket=docs&name=nested/b.bin", "abc")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc", readFile(t, env.root, "docs", "nested", "b.bin"))

	resp, body = env.get(t, "/storage/get/docs/a.txt")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0123456789", body)
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	resp, body = env.get(t, "/storage/get?bucket=docs&name=nested/b.bin")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc", body)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))

	resp, body = env.post(t, "/storage/put/docs/big", strings.Repeat("x", 4097))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "data too large", decode[api.ResultError](t, body).Msg)
}

func TestStorageRanges(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.post(t, "/storage/put/docs/a.txt", "0123456789")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tests := []struct {
		name   string
		rng    string
		status int
		body   string
		cr     string
	}{
		{"prefix", "bytes=0-3", http.StatusPartialContent, "0123", "bytes 0-3/10"},
		{"open end", "bytes=7-", http.StatusPartialContent, "789", "bytes 7-9/10"},
		{"suffix", "bytes=-2", http.StatusPartialContent, "89", "bytes 8-9/10"},
		{"end clamped", "bytes=5-100", http.StatusPartialContent, "56789", "bytes 5-9/10"},
		{"start past end", "bytes=10-", http.StatusRequestedRangeNotSatisfiable, "", "bytes */10"},
		{"malformed", "bytes=x-y", http.StatusRequestedRangeNotSatisfiable, "", "bytes */10"},
		{"multipart", "bytes=0-1,4-5", http.StatusRequestedRangeNotSatisfiable, "", "bytes */10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodGet, "/storage/get/docs/a.txt", nil, http.Header{"Range": {tt.rng}})
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.cr, resp.Header.Get("Content-Range"))
			if tt.status == http.StatusPartialContent {
				assert.Equal(t, tt.body, body)
			}
		})
	}
}

func TestStorageHead(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.post(t, "/storage/put/docs/a.txt", "0123456789")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodHead, "/storage/get/docs/a.txt", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(10), resp.ContentLength)
	assert.Empty(t, body)

	resp, _ = env.do(t, http.MethodHead, "/storage/get/docs/a.txt", nil, http.Header{"Range": {"bytes=2-5"}})
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 2-5/10", resp.Header.Get("Content-Range"))
}

func TestStorageMissingAndInvalid(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"get missing", "/storage/get/docs/none", http.StatusNotFound},
		{"fsize missing", "/storage/fsize/docs/none", http.StatusNotFound},
		{"get no name", "/storage/get?bucket=docs", http.StatusBadRequest},
		{"get traversal", "/storage/get?bucket=docs&name=../../etc/passwd", http.StatusBadRequest},
		{"exists traversal", "/storage/exists?bucket=..&name=x", http.StatusBadRequest},
		{"delete bad flag", "/storage/del/docs/x?exists_ok=maybe", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.get(t, tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.False(t, decode[api.ResultError](t, body).OK)
		})
	}
}

func TestStorageExistsAndSize(t *testing.T) {
	env := newTestEnv(t, nil)

	_, body := env.get(t, "/storage/exists/docs/a.txt")
	assert.JSONEq(t, `{"code":1,"msg":"ok","result":false}`, body)

	resp, _ := env.post(t, "/storage/put/docs/a.txt", "hello")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = env.get(t, "/storage/exists?bucket=docs&name=a.txt")
	assert.JSONEq(t, `{"code":1,"msg":"ok","result":true}`, body)
	_, body = env.get(t, "/storage/fsize/docs/a.txt")
	assert.JSONEq(t, `{"code":1,"msg":"ok","result":5}`, body)
	_, body = env.get(t, "/storage/fsize?bucket=docs&name=a.txt")
	assert.JSONEq(t, `{"code":1,"msg":"ok","result":5}`, body)
}

func TestStorageBuckets(t *testing.T) {
	env := newTestEnv(t, nil)

	_, body := env.get(t, "/storage/buckets")
	assert.JSONEq(t, `{"code":1,"msg":"ok","result":[]}`, body)

	for _, path := range []string{"/storage/new/b", "/storage/new?bucket=a"} {
		resp, _ := env.get(t, path)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	_, body = env.get(t, "/storage/buckets")
	assert.JSONEq(t, `{"code":1,"msg":"ok","result":["a","b"]}`, body)

	resp, _ := env.get(t, "/storage/new")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStorageAppend(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.post(t, "/storage/append/logs/run.log?hold=true", "one\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, env.files.Stats().Appends)

	resp, _ = env.post(t, "/storage/append?bucket=logs&name=run.log&hold", "two\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, env.files.Stats().Appends)

	resp, _ = env.get(t, "/storage/closeappend/logs/run.log")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, env.files.Stats().Appends)

	resp, _ = env.post(t, "/storage/append/logs/run.log", "three\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, env.files.Stats().Appends)

	resp, _ = env.get(t, "/storage/closeappend?bucket=logs&name=run.log")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "one\ntwo\nthree\n", readFile(t, env.root, "logs", "run.log"))

	resp, _ = env.post(t, "/storage/append/logs/run.log?hold=perhaps", "x")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStoragePutReplacesHeldAppend(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.post(t, "/storage/append/docs/log?hold=true", "old-")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.post(t, "/storage/put/docs/log", "fresh-")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, env.files.Stats().Appends, "put drops the held handle")

	resp, _ = env.post(t, "/storage/append/docs/log", "tail")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.get(t, "/storage/get/docs/log")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fresh-tail", body)
}

func TestStorageDeleteDropsHeldHandles(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.post(t, "/storage/append/docs/a?hold=true", "gone")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.post(t, "/onlinelog/upload/docs/b", "gone")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.post(t, "/storage/append/keep/c?hold=true", "kept")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.get(t, "/storage/del/docs/a")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.post(t, "/storage/append/docs/a", "new")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "new", readFile(t, env.root, "docs", "a"))

	resp, _ = env.get(t, "/storage/del/docs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := env.files.Stats()
	assert.Equal(t, 0, st.Logs)
	assert.Equal(t, 1, st.Appends, "other buckets keep their handles")

	resp, _ = env.post(t, "/onlinelog/upload/docs/b", "again")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "again", readFile(t, env.root, "docs", "b"))
}

func TestStorageDelete(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, name := range []string{"a", "b", "c"} {
		resp, _ := env.post(t, "/storage/put/docs/"+name, name)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"file", "/storage/del/docs/a", http.StatusOK},
		{"file again", "/storage/del/docs/a", http.StatusNotFound},
		{"file again ok", "/storage/del/docs/a?exists_ok=true", http.StatusOK},
		{"query file", "/storage/del?bucket=docs&name=b", http.StatusOK},
		{"query bucket", "/storage/del?bucket=docs", http.StatusOK},
		{"bucket gone", "/storage/del/docs", http.StatusNotFound},
		{"bucket gone ok", "/storage/del?bucket=docs&exists_ok=1", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := env.get(t, tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	_, err := os.Stat(filepath.Join(env.root, "docs"))
	assert.True(t, os.IsNotExist(err))
}

func TestStorageDeleteBucketPath(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.post(t, "/storage/put/tmp/x", "x")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.get(t, "/storage/del/tmp")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err := os.Stat(filepath.Join(env.root, "tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestOnlineLog(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.post(t, "/onlinelog/upload/build/42.log", "line 1\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)

	resp, _ = env.post(t, "/onlinelog/upload?channel=build&name=42.log", "line 2\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, env.files.Stats().Logs)

	resp, body = env.get(t, "/onlinelog/close/build/42.log")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)
	assert.Equal(t, 0, env.files.Stats().Logs)

	resp, _ = env.get(t, "/onlinelog/close?channel=build&name=42.log")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "line 1\nline 2\n", readFile(t, env.root, "build", "42.log"))

	resp, _ = env.post(t, "/onlinelog/upload?channel=build", "x")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
