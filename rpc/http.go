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

package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/cors"
)

const defaultBodyLimit = 5 * 1024 * 1024

// Media types accepted per protocol. The first entry is the one sent.
// https://www.jsonrpc.org/historical/json-rpc-over-http.html#id13
var mediaTypes = map[string][]string{
	"jsonrpc": {"application/json", "application/json-rpc", "application/jsonrequest"},
	"msgpack": {"application/msgpack", "application/x-msgpack", "application/vnd.msgpack"},
}

const fallbackMediaType = "application/octet-stream"

// contentType returns the media type sent for protocol p.
func contentType(p Protocol) string {
	if types, ok := mediaTypes[p.Name()]; ok {
		return types[0]
	}
	return fallbackMediaType
}

// HTTPTimeouts represents the configuration params for the HTTP RPC server.
type HTTPTimeouts struct {
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body.
	ReadTimeout time.Duration

	// ReadHeaderTimeout is the amount of time allowed to read
	// request headers. If ReadHeaderTimeout is zero, the value of
	// ReadTimeout is used.
	ReadHeaderTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out
	// writes of the response. Requests still running shortly before it
	// expires are answered with a timeout error.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled.
	IdleTimeout time.Duration
}

// DefaultHTTPTimeouts represents the default timeout values used if further
// configuration is not provided.
var DefaultHTTPTimeouts = HTTPTimeouts{
	ReadTimeout:       30 * time.Second,
	ReadHeaderTimeout: 30 * time.Second,
	WriteTimeout:      30 * time.Second,
	IdleTimeout:       120 * time.Second,
}

// PeerInfo contains information about the remote end of the network connection.
//
// This is available within handler methods via PeerInfoFromContext.
type PeerInfo struct {
	// Transport is name of the protocol used by the client.
	// This can be "http", "ws" or "inproc".
	Transport string

	// Address of client. This will usually contain the IP address and port.
	RemoteAddr string

	// Additional information for HTTP and WebSocket connections.
	HTTP struct {
		// Protocol version, i.e. "HTTP/1.1". This is not set for WebSocket.
		Version string
		// Header values sent by the client.
		UserAgent string
		Origin    string
		Host      string
	}
}

type peerInfoContextKey struct{}

// PeerInfoFromContext returns information about the client's network
// connection. Use this with the context passed to handler functions.
//
// The zero value is returned if no connection info is present in ctx.
func PeerInfoFromContext(ctx context.Context) PeerInfo {
	info, _ := ctx.Value(peerInfoContextKey{}).(PeerInfo)
	return info
}

type mdHeaderKey struct{}

// NewContextWithHeaders wraps the given context, adding HTTP headers. These
// headers will be applied by the HTTP client transport when sending a request.
// Headers added this way override those configured with WithHeader.
func NewContextWithHeaders(ctx context.Context, h http.Header) context.Context {
	var ctxh http.Header
	prev, ok := ctx.Value(mdHeaderKey{}).(http.Header)
	if ok {
		ctxh = setHeaders(prev.Clone(), h)
	} else {
		ctxh = h.Clone()
	}
	return context.WithValue(ctx, mdHeaderKey{}, ctxh)
}

// headersFromContext is used to extract http.Header from context.
func headersFromContext(ctx context.Context) http.Header {
	source, _ := ctx.Value(mdHeaderKey{}).(http.Header)
	return source
}

// setHeaders sets all headers from src in dst.
func setHeaders(dst http.Header, src http.Header) http.Header {
	for key, values := range src {
		dst[http.CanonicalHeaderKey(key)] = values
	}
	return dst
}

// HTTPClientTransport posts every message to a single endpoint. It is safe
// for concurrent use.
type HTTPClientTransport struct {
	client      *http.Client
	url         string
	contentType string
	mu          sync.Mutex // protects headers
	headers     http.Header
}

// NewHTTPClientTransport creates a transport posting to endpoint.
func NewHTTPClientTransport(endpoint string, protocol Protocol, options ...ClientOption) *HTTPClientTransport {
	cfg := new(clientConfig)
	for _, opt := range options {
		opt.applyOption(cfg)
	}
	return newHTTPClientTransport(endpoint, protocol, cfg)
}

func newHTTPClientTransport(endpoint string, protocol Protocol, cfg *clientConfig) *HTTPClientTransport {
	ct := contentType(protocol)
	headers := make(http.Header, 2+len(cfg.httpHeaders))
	headers.Set("accept", ct)
	headers.Set("content-type", ct)
	for key, values := range cfg.httpHeaders {
		headers[key] = values
	}
	client := cfg.httpClient
	if client == nil {
		client = new(http.Client)
	}
	return &HTTPClientTransport{
		client:      client,
		url:         endpoint,
		contentType: ct,
		headers:     headers,
	}
}

// SetHeader adds a custom HTTP header to all following requests.
func (hc *HTTPClientTransport) SetHeader(key, value string) {
	hc.mu.Lock()
	hc.headers.Set(key, value)
	hc.mu.Unlock()
}

// SendMessage implements ClientTransport. The reply of a one-way message is
// discarded; an empty reply body yields nil.
func (hc *HTTPClientTransport) SendMessage(ctx context.Context, msg []byte, expectReply bool) ([]byte, error) {
	respBody, err := hc.doRequest(ctx, msg)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()
	if !expectReply {
		io.Copy(io.Discard, respBody)
		return nil, nil
	}
	reply, err := io.ReadAll(respBody)
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 {
		return nil, nil
	}
	return reply, nil
}

func (hc *HTTPClientTransport) doRequest(ctx context.Context, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hc.url, io.NopCloser(bytes.NewReader(body)))
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(body))
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }

	// set headers
	hc.mu.Lock()
	req.Header = hc.headers.Clone()
	hc.mu.Unlock()
	setHeaders(req.Header, headersFromContext(ctx))

	// do request
	resp, err := hc.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var buf bytes.Buffer
		var body []byte
		if _, err := buf.ReadFrom(resp.Body); err == nil {
			body = buf.Bytes()
		}
		resp.Body.Close()
		return nil, HTTPError{
			Status:     resp.Status,
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}
	return resp.Body, nil
}

// ServeHTTP serves RPC requests over HTTP. Each POST body is one message and
// the reply is written as the response body. Requests producing no reply are
// answered with 204 No Content.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Permit dumb empty requests for remote health-checks (AWS)
	if r.Method == http.MethodGet && r.ContentLength == 0 && r.URL.RawQuery == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if code, err := s.validateRequest(r); err != nil {
		http.Error(w, err.Error(), code)
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(s.httpBodyLimit)+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > s.httpBodyLimit {
		err := fmt.Errorf("request body too large (>%d)", s.httpBodyLimit)
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	// Create request-scoped context.
	connInfo := PeerInfo{Transport: "http", RemoteAddr: r.RemoteAddr}
	connInfo.HTTP.Version = r.Proto
	connInfo.HTTP.Host = r.Host
	connInfo.HTTP.Origin = r.Header.Get("Origin")
	connInfo.HTTP.UserAgent = r.Header.Get("User-Agent")
	ctx := context.WithValue(r.Context(), peerInfoContextKey{}, connInfo)

	reply := s.Handle(ctx, body)
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("content-type", contentType(s.protocol))
	w.Header().Set("content-length", strconv.Itoa(len(reply)))
	w.WriteHeader(http.StatusOK)
	w.Write(reply)
}

// validateRequest returns a non-zero response code and error message if the
// request is invalid.
func (s *Server) validateRequest(r *http.Request) (int, error) {
	if r.Method == http.MethodPut || r.Method == http.MethodDelete {
		return http.StatusMethodNotAllowed, errors.New("method not allowed")
	}
	if r.ContentLength > int64(s.httpBodyLimit) {
		err := fmt.Errorf("content length too large (%d>%d)", r.ContentLength, s.httpBodyLimit)
		return http.StatusRequestEntityTooLarge, err
	}
	// Allow OPTIONS (regardless of content-type)
	if r.Method == http.MethodOptions {
		return 0, nil
	}
	accepted, known := mediaTypes[s.protocol.Name()]
	if !known {
		return 0, nil
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("content-type")); err == nil {
		for _, a := range accepted {
			if a == mt {
				return 0, nil
			}
		}
	}
	err := fmt.Errorf("invalid content type, only %s is supported", accepted[0])
	return http.StatusUnsupportedMediaType, err
}

// NewHTTPHandler returns an http.Handler serving srv. If corsOrigins is not
// empty, cross-origin requests from those origins are permitted.
func NewHTTPHandler(srv *Server, corsOrigins []string) http.Handler {
	return newCorsHandler(srv, corsOrigins)
}

func newCorsHandler(srv http.Handler, allowedOrigins []string) http.Handler {
	// disable CORS support if user has not specified a custom CORS configuration
	if len(allowedOrigins) == 0 {
		return srv
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet},
		AllowedHeaders: []string{"*"},
		MaxAge:         600,
	})
	return c.Handler(srv)
}

// ContextRequestTimeout returns the request timeout derived from the given context.
func ContextRequestTimeout(ctx context.Context) (time.Duration, bool) {
	timeout := time.Duration(math.MaxInt64)
	hasTimeout := false
	setTimeout := func(d time.Duration) {
		if d < timeout {
			timeout = d
			hasTimeout = true
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		setTimeout(time.Until(deadline))
	}

	// If the context is an HTTP request context, use the server's WriteTimeout.
	httpSrv, ok := ctx.Value(http.ServerContextKey).(*http.Server)
	if ok && httpSrv.WriteTimeout > 0 {
		wt := httpSrv.WriteTimeout
		// When a write timeout is configured, we need to send the response message before
		// the HTTP server cuts connection. So our internal timeout must be earlier than
		// the server's true timeout.
		//
		// Note: Timeouts are sanitized to be a minimum of 1 second.
		// Also see issue: https://github.com/golang/go/issues/47229
		wt -= 100 * time.Millisecond
		setTimeout(wt)
	}

	return timeout, hasTimeout
}
