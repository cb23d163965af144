// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package api holds the JSON envelopes shared by every client-facing
// transport. All envelopes carry code 1; success is signalled by msg and
// result, failures by ok=false.
package api

import (
	"strings"
)

const (
	codeOK   = 1
	msgOK    = "ok"
	msgEmpty = "empty"
)

// ResultPut acknowledges a write or reports a boolean result.
type ResultPut struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Result bool   `json:"result"`
}

// ResultGet carries an optional message body.
type ResultGet struct {
	Code    int     `json:"code"`
	Msg     string  `json:"msg"`
	Result  bool    `json:"result"`
	Content *string `json:"content"`
}

// ResultSize reports a file size in bytes.
type ResultSize struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Result int64  `json:"result"`
}

// ResultList carries a list of names.
type ResultList struct {
	Code   int      `json:"code"`
	Msg    string   `json:"msg"`
	Result []string `json:"result"`
}

// ResultError is the body of every non-2xx response.
type ResultError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	OK   bool   `json:"ok"`
}

// Put returns the positive acknowledgement.
func Put() ResultPut {
	return ResultPut{Code: codeOK, Msg: msgOK, Result: true}
}

// Bool returns an acknowledgement carrying v.
func Bool(v bool) ResultPut {
	return ResultPut{Code: codeOK, Msg: msgOK, Result: v}
}

// Get wraps a popped or peeked message. ok=false yields the empty envelope.
// Invalid UTF-8 in msg is replaced rather than rejected.
func Get(msg []byte, ok bool) ResultGet {
	if !ok {
		return ResultGet{Code: codeOK, Msg: msgEmpty}
	}
	content := strings.ToValidUTF8(string(msg), "�")
	return ResultGet{Code: codeOK, Msg: msgOK, Result: true, Content: &content}
}

// Size wraps a file size.
func Size(n int64) ResultSize {
	return ResultSize{Code: codeOK, Msg: msgOK, Result: n}
}

// List wraps a list of names. A nil list is sent as [].
func List(names []string) ResultList {
	if names == nil {
		names = []string{}
	}
	return ResultList{Code: codeOK, Msg: msgOK, Result: names}
}

// Error wraps a failure message.
func Error(msg string) ResultError {
	return ResultError{Code: codeOK, Msg: msg}
}
