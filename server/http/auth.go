// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"crypto/subtle"
	"net/http"
)

const (
	tokenHeader = "_token"
	msgBadToken = "token error"
)

// requestToken finds the client token: the _token header first, then the
// _token or token query parameters.
func requestToken(r *http.Request) string {
	if v := r.Header.Get(tokenHeader); v != "" {
		return v
	}
	q := r.URL.Query()
	if v := q.Get("_token"); v != "" {
		return v
	}
	return q.Get("token")
}

// requireToken rejects requests whose token does not match. With no token
// configured every request passes.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.currentToken()
		if want != "" && subtle.ConstantTimeCompare([]byte(requestToken(r)), []byte(want)) != 1 {
			writeError(w, http.StatusUnauthorized, msgBadToken)
			return
		}
		next.ServeHTTP(w, r)
	})
}
