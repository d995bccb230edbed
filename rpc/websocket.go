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
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"
	"github.com/sunyihoo/go-rpckit/log"
)

const (
	wsReadBuffer       = 1024
	wsWriteBuffer      = 1024
	wsPingInterval     = 30 * time.Second
	wsPingWriteTimeout = 5 * time.Second
	wsPongTimeout      = 30 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsDefaultReadLimit = 32 * 1024 * 1024
)

var wsBufferPool = new(sync.Pool)

// wsMessageType returns the frame type used for protocol p. Text protocols
// travel in text frames, everything else in binary frames.
func wsMessageType(p Protocol) int {
	if p.Name() == "jsonrpc" {
		return websocket.TextMessage
	}
	return websocket.BinaryMessage
}

// WebsocketHandler returns a handler that serves RPC to WebSocket connections.
// Every frame is one message; replies are sent as frames of the same type.
//
// allowedOrigins should be a comma-separated list of allowed origin URLs.
// To allow connections with any origin, pass "*".
func (s *Server) WebsocketHandler(allowedOrigins []string) http.Handler {
	var upgrader = websocket.Upgrader{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		WriteBufferPool: wsBufferPool,
		CheckOrigin:     wsHandshakeValidator(allowedOrigins),
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("WebSocket upgrade failed", "err", err)
			return
		}
		t := newWebsocketServerTransport(conn, r.Host, r.Header, wsMessageType(s.protocol), wsDefaultReadLimit)
		defer t.Close()
		ctx := context.WithValue(context.Background(), peerInfoContextKey{}, t.info)
		if err := s.Serve(ctx, t); err != nil {
			log.Debug("WebSocket connection failed", "remote", t.info.RemoteAddr, "err", err)
		}
	})
}

// wsHandshakeValidator returns a handler that verifies the origin during the
// websocket upgrade process. When a '*' is specified as an allowed origins all
// connections are accepted.
func wsHandshakeValidator(allowedOrigins []string) func(*http.Request) bool {
	origins := mapset.NewSet[string]()
	allowAllOrigins := false

	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAllOrigins = true
		}
		if origin != "" {
			origins.Add(origin)
		}
	}
	// allow localhost if no allowedOrigins are specified.
	if origins.Cardinality() == 0 {
		origins.Add("http://localhost")
		if hostname, err := os.Hostname(); err == nil {
			origins.Add("http://" + hostname)
		}
	}
	log.Debug(fmt.Sprintf("Allowed origin(s) for WS RPC interface %v", origins.ToSlice()))

	f := func(req *http.Request) bool {
		// Skip origin verification if no Origin header is present. The origin check
		// is supposed to protect against browser based attacks. Browsers always set
		// Origin. Non-browser software can put anything in origin and checking it doesn't
		// provide additional security.
		if _, ok := req.Header["Origin"]; !ok {
			return true
		}
		// Verify origin against allow list.
		origin := strings.ToLower(req.Header.Get("Origin"))
		if allowAllOrigins || originIsAllowed(origins, origin) {
			return true
		}
		log.Warn("Rejected WebSocket connection", "origin", origin)
		return false
	}

	return f
}

type wsHandshakeError struct {
	err    error
	status string
}

func (e wsHandshakeError) Error() string {
	s := e.err.Error()
	if e.status != "" {
		s += " (HTTP status " + e.status + ")"
	}
	return s
}

func (e wsHandshakeError) Unwrap() error {
	return e.err
}

func originIsAllowed(allowedOrigins mapset.Set[string], browserOrigin string) bool {
	for origin := range allowedOrigins.Iter() {
		if ruleAllowsOrigin(origin, browserOrigin) {
			return true
		}
	}
	return false
}

func ruleAllowsOrigin(allowedOrigin string, browserOrigin string) bool {
	allowedScheme, allowedHostname, allowedPort, err := parseOriginURL(allowedOrigin)
	if err != nil {
		log.Warn("Error parsing allowed origin specification", "spec", allowedOrigin, "error", err)
		return false
	}
	browserScheme, browserHostname, browserPort, err := parseOriginURL(browserOrigin)
	if err != nil {
		log.Warn("Error parsing browser 'Origin' field", "Origin", browserOrigin, "error", err)
		return false
	}
	if allowedScheme != "" && allowedScheme != browserScheme {
		return false
	}
	if allowedHostname != "" && allowedHostname != browserHostname {
		return false
	}
	if allowedPort != "" && allowedPort != browserPort {
		return false
	}
	return true
}

func parseOriginURL(origin string) (string, string, string, error) {
	parsedURL, err := url.Parse(strings.ToLower(origin))
	if err != nil {
		return "", "", "", err
	}
	var scheme, hostname, port string
	if strings.Contains(origin, "://") {
		scheme = parsedURL.Scheme
		hostname = parsedURL.Hostname()
		port = parsedURL.Port()
	} else {
		// "host" or "host:port"
		hostname = parsedURL.Scheme
		port = parsedURL.Opaque
		if hostname == "" {
			hostname = origin
		}
	}
	return scheme, hostname, port, nil
}

// websocketServerTransport is the server end of one websocket connection.
type websocketServerTransport struct {
	conn    *websocket.Conn
	msgType int
	info    PeerInfo

	writeMu      sync.Mutex
	closeOnce    sync.Once
	closed       chan struct{}
	wg           sync.WaitGroup
	pingReset    chan struct{}
	pongReceived chan struct{}
}

func newWebsocketServerTransport(conn *websocket.Conn, host string, req http.Header, msgType int, readLimit int64) *websocketServerTransport {
	conn.SetReadLimit(readLimit)
	t := &websocketServerTransport{
		conn:         conn,
		msgType:      msgType,
		closed:       make(chan struct{}),
		pingReset:    make(chan struct{}, 1),
		pongReceived: make(chan struct{}),
		info: PeerInfo{
			Transport:  "ws",
			RemoteAddr: conn.RemoteAddr().String(),
		},
	}
	// Fill in connection details.
	t.info.HTTP.Host = host
	t.info.HTTP.Origin = req.Get("Origin")
	t.info.HTTP.UserAgent = req.Get("User-Agent")
	// Start pinger.
	conn.SetPongHandler(func(appData string) error {
		select {
		case t.pongReceived <- struct{}{}:
		case <-t.closed:
		}
		return nil
	})
	t.wg.Add(1)
	go t.pingLoop()
	return t
}

// ReceiveMessage implements ServerTransport. Frames of the wrong type are
// dropped.
func (t *websocketServerTransport) ReceiveMessage(ctx context.Context) (*Inbound, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		typ, data, err := t.conn.ReadMessage()
		if err != nil {
			t.Close()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrTransportClosed
			}
			return nil, err
		}
		if typ != t.msgType {
			log.Debug("Dropped websocket frame of unexpected type", "type", typ, "remote", t.info.RemoteAddr)
			continue
		}
		return &Inbound{Data: data}, nil
	}
}

// SendReply implements ServerTransport.
func (t *websocketServerTransport) SendReply(ctx context.Context, token any, reply []byte) error {
	if reply == nil {
		return nil
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(wsWriteTimeout)
	}
	t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteMessage(t.msgType, reply); err != nil {
		return err
	}
	// Notify pingLoop to delay the next idle ping.
	select {
	case t.pingReset <- struct{}{}:
	default:
	}
	return nil
}

// Close closes the connection and waits for the ping loop to exit.
func (t *websocketServerTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	t.wg.Wait()
	return err
}

// pingLoop sends periodic ping frames when the connection is idle.
func (t *websocketServerTransport) pingLoop() {
	var pingTimer = time.NewTimer(wsPingInterval)
	defer t.wg.Done()
	defer pingTimer.Stop()

	for {
		select {
		case <-t.closed:
			return

		case <-t.pingReset:
			if !pingTimer.Stop() {
				<-pingTimer.C
			}
			pingTimer.Reset(wsPingInterval)

		case <-pingTimer.C:
			t.writeMu.Lock()
			t.conn.SetWriteDeadline(time.Now().Add(wsPingWriteTimeout))
			t.conn.WriteMessage(websocket.PingMessage, nil)
			t.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
			t.writeMu.Unlock()
			pingTimer.Reset(wsPingInterval)

		case <-t.pongReceived:
			t.conn.SetReadDeadline(time.Time{})
		}
	}
}

// websocketClientTransport is the client end of a websocket connection. A
// background reader keeps control frames flowing; calls are serialized so that
// the next data frame is always the reply to the message just written.
type websocketClientTransport struct {
	conn    *websocket.Conn
	msgType int

	mu        sync.Mutex // serializes round trips
	replies   chan []byte
	errMu     sync.Mutex
	readErr   error
	closeOnce sync.Once
	closed    chan struct{}
}

func dialWebsocket(ctx context.Context, endpoint string, protocol Protocol, cfg *clientConfig) (*websocketClientTransport, error) {
	dialer := cfg.wsDialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			ReadBufferSize:  wsReadBuffer,
			WriteBufferSize: wsWriteBuffer,
			WriteBufferPool: wsBufferPool,
			Proxy:           http.ProxyFromEnvironment,
		}
	}
	dialURL, header, err := wsClientHeaders(endpoint, "")
	if err != nil {
		return nil, err
	}
	for key, values := range cfg.httpHeaders {
		header[key] = values
	}
	conn, resp, err := dialer.DialContext(ctx, dialURL, header)
	if err != nil {
		hErr := wsHandshakeError{err: err}
		if resp != nil {
			hErr.status = resp.Status
		}
		return nil, hErr
	}
	messageSizeLimit := int64(wsDefaultReadLimit)
	if cfg.wsMessageSizeLimit != nil && *cfg.wsMessageSizeLimit >= 0 {
		messageSizeLimit = *cfg.wsMessageSizeLimit
	}
	conn.SetReadLimit(messageSizeLimit)

	t := &websocketClientTransport{
		conn:    conn,
		msgType: wsMessageType(protocol),
		replies: make(chan []byte, 1),
		closed:  make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// DialWebsocket creates a client that talks to the server listening on
// endpoint.
//
// The context is used for the initial connection establishment. It does not
// affect subsequent interactions with the client.
func DialWebsocket(ctx context.Context, endpoint string, protocol Protocol, options ...ClientOption) (*Client, error) {
	cfg := new(clientConfig)
	for _, opt := range options {
		opt.applyOption(cfg)
	}
	t, err := dialWebsocket(ctx, endpoint, protocol, cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(protocol, t), nil
}

func wsClientHeaders(endpoint, origin string) (string, http.Header, error) {
	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return endpoint, nil, err
	}
	header := make(http.Header)
	if origin != "" {
		header.Add("origin", origin)
	}
	if endpointURL.User != nil {
		b64auth := base64.StdEncoding.EncodeToString([]byte(endpointURL.User.String()))
		header.Add("authorization", "Basic "+b64auth)
		endpointURL.User = nil
	}
	return endpointURL.String(), header, nil
}

func (t *websocketClientTransport) readLoop() {
	defer t.Close()
	for {
		typ, data, err := t.conn.ReadMessage()
		if err != nil {
			t.errMu.Lock()
			t.readErr = err
			t.errMu.Unlock()
			return
		}
		if typ != t.msgType {
			continue
		}
		select {
		case t.replies <- data:
		case <-t.closed:
			return
		}
	}
}

// SendMessage implements ClientTransport.
func (t *websocketClientTransport) SendMessage(ctx context.Context, msg []byte, expectReply bool) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.closed:
		return nil, ErrTransportClosed
	default:
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(wsWriteTimeout)
	}
	t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteMessage(t.msgType, msg); err != nil {
		t.Close()
		return nil, err
	}
	if !expectReply {
		return nil, nil
	}
	select {
	case reply := <-t.replies:
		return reply, nil
	case <-t.closed:
		t.errMu.Lock()
		err := t.readErr
		t.errMu.Unlock()
		if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, err
		}
		return nil, ErrTransportClosed
	case <-ctx.Done():
		// The reply may still arrive and would be taken for the answer to the
		// next call, so the connection cannot be used any more.
		t.Close()
		return nil, ctx.Err()
	}
}

// Close closes the connection.
func (t *websocketClientTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}
