// Copyright 2025 The go-rpckit Authors
// This file is part of the go-rpckit library.
//
// The go-rpckit library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-rpckit library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-rpckit library. If not, see <http://www.gnu.org/licenses/>.

package node

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/go-rpckit/rpc"
)

func TestVhosts(t *testing.T) {
	p, _ := NewProtocol("jsonrpc", nil)
	srv := rpc.NewServer(p, rpc.NewRegistry())
	handler := NewHTTPHandlerStack(srv, nil, []string{"Test"})

	tests := []struct {
		host string
		code int
	}{
		{"test", http.StatusOK},
		{"test:8545", http.StatusOK},
		{"127.0.0.1:8545", http.StatusOK},
		{"[::1]:8545", http.StatusOK},
		{"bad", http.StatusForbidden},
		{"bad:8545", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Host = tt.host
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, tt.code, rec.Code, "host %s", tt.host)
	}

	all := NewHTTPHandlerStack(srv, nil, []string{"*"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "anything"
	rec := httptest.NewRecorder()
	all.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPServerPrefix(t *testing.T) {
	conf := testNodeConfig()
	conf.HTTPPathPrefix = "/rpc"
	n := createNode(t, conf)
	require.NoError(t, n.Start())

	body := `{"jsonrpc":"2.0","id":1,"method":"rpc.protocol"}`
	resp, err := http.Post(n.HTTPEndpoint()+"/rpc", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(n.HTTPEndpoint()+"/other", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckPath(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
		want   bool
	}{
		{"/", "", true},
		{"/other", "", false},
		{"/rpc", "/rpc", true},
		{"/rpc/sub", "/rpc", true},
		{"/rp", "/rpc", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, tt.path, nil)
		assert.Equal(t, tt.want, checkPath(r, tt.prefix), "path %s prefix %s", tt.path, tt.prefix)
	}
}

func TestIsWebsocket(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, isWebsocket(r))
	r.Header.Set("upgrade", "websocket")
	assert.False(t, isWebsocket(r))
	r.Header.Set("connection", "upgrade")
	assert.True(t, isWebsocket(r))
	r.Header.Set("connection", "keep-alive, Upgrade")
	assert.True(t, isWebsocket(r))
	r.Header.Set("upgrade", "WebSocket")
	assert.True(t, isWebsocket(r))
}

func TestValidatePrefix(t *testing.T) {
	assert.NoError(t, validatePrefix("HTTP", ""))
	assert.NoError(t, validatePrefix("HTTP", "/rpc"))
	assert.Error(t, validatePrefix("HTTP", "rpc"))
	assert.Error(t, validatePrefix("HTTP", "/rpc#x"))
}

func TestSplitAndTrim(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitAndTrim(" a, b ,,c "))
	assert.Nil(t, splitAndTrim(""))
}
