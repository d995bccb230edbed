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
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sunyihoo/go-rpckit/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Server receives request bytes from a transport, parses them with its
// Protocol, dispatches them on its Registry and hands back the reply bytes.
//
// Server 负责：从传输层接收字节，使用协议解析，通过注册表分发，并返回响应字节。
type Server struct {
	protocol Protocol
	registry *Registry
	log      log.Logger

	batchItemLimit   int
	batchConcurrency int
	requestTimeout   time.Duration
	limiter          *rate.Limiter
	httpBodyLimit    int

	run atomic.Bool
	wg  sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithBatchLimit sets the maximum number of members accepted in one batch.
// Larger batches are answered with a single error. Zero means no limit.
func WithBatchLimit(items int) ServerOption {
	return func(s *Server) { s.batchItemLimit = items }
}

// WithBatchConcurrency sets how many members of a batch are dispatched at the
// same time. Values below 2 dispatch members one after another.
func WithBatchConcurrency(n int) ServerOption {
	return func(s *Server) { s.batchConcurrency = n }
}

// WithRequestTimeout bounds the time spent dispatching a single request. A
// request that runs longer is answered with a "request timed out" error and
// its handler context is cancelled.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.requestTimeout = d }
}

// WithRateLimit limits the number of requests served per second. Requests over
// the limit are answered with an error instead of being dispatched.
func WithRateLimit(perSecond float64, burst int) ServerOption {
	return func(s *Server) { s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithHTTPBodyLimit sets the size limit for HTTP request bodies.
func WithHTTPBodyLimit(limit int) ServerOption {
	return func(s *Server) { s.httpBodyLimit = limit }
}

// WithServerLogger sets the logger of the server.
func WithServerLogger(l log.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// NewServer creates a server speaking protocol and dispatching on registry.
func NewServer(protocol Protocol, registry *Registry, opts ...ServerOption) *Server {
	s := &Server{
		protocol:      protocol,
		registry:      registry,
		httpBodyLimit: defaultBodyLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.Root().New("protocol", protocol.Name())
	}
	s.run.Store(true)
	return s
}

// Protocol returns the protocol the server speaks.
func (s *Server) Protocol() Protocol { return s.protocol }

// Handle processes one inbound message and returns the serialized reply, or
// nil if nothing must be sent back.
func (s *Server) Handle(ctx context.Context, data []byte) []byte {
	msg, err := s.protocol.ParseRequest(data)
	if err != nil {
		malformedRequestCounter.WithLabelValues(s.protocol.Name()).Inc()
		s.log.Debug("Rejected malformed request", "err", err)
		return s.serialize(s.protocol.ErrorRespond(err, nil))
	}
	switch msg := msg.(type) {
	case *Request:
		resp := s.serveRequest(ctx, msg)
		if resp == nil {
			return nil
		}
		return s.serialize(resp)
	case BatchRequest:
		resp := s.serveBatch(ctx, msg)
		if len(resp) == 0 {
			return nil
		}
		return s.serialize(resp)
	}
	return nil
}

// Serve reads messages from t until ctx is cancelled, the server is stopped or
// the transport fails. Every message is handled on its own goroutine and every
// message is answered through SendReply, with a nil reply if there is nothing
// to send. Serve waits for in-flight messages before returning.
func (s *Server) Serve(ctx context.Context, t ServerTransport) error {
	defer s.wg.Wait()
	for s.run.Load() {
		in, err := t.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrTransportClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			reply := s.Handle(ctx, in.Data)
			if err := t.SendReply(ctx, in.Token, reply); err != nil {
				s.log.Debug("Failed to send reply", "err", err)
			}
		}()
	}
	return nil
}

// Stop makes the server reject new messages. Messages being handled are
// finished.
func (s *Server) Stop() {
	if s.run.CompareAndSwap(true, false) {
		s.log.Debug("RPC server shutting down")
	}
}

func (s *Server) serveRequest(ctx context.Context, req *Request) Response {
	if !s.run.Load() {
		return errorReply(req, &ErrorObject{Code: int(ServerError), Message: "server is shutting down"})
	}
	if s.limiter != nil && req.Err == nil && !s.limiter.Allow() {
		s.log.Debug("Request rate limited", "method", req.Call.Method)
		return errorReply(req, &ErrorObject{Code: errcodeLimit, Message: errMsgRateLimit})
	}
	timeout, bounded := s.requestTimeout, s.requestTimeout > 0
	if d, ok := ContextRequestTimeout(ctx); ok && (!bounded || d < timeout) {
		timeout, bounded = d, true
	}
	if !bounded {
		return s.registry.Dispatch(ctx, req)
	}
	if timeout <= 0 {
		// The caller's deadline has already passed.
		s.log.Warn("Request timed out", "method", req.Call.Method, "reqid", req.ID, "timeout", timeout)
		return errorReply(req, &ErrorObject{Code: errcodeTimeout, Message: errMsgTimeout})
	}

	// Run the handler on its own goroutine so the timeout reply can be sent
	// while a handler ignoring its context is still running.
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan Response, 1)
	go func() { done <- s.registry.Dispatch(ctx, req) }()
	select {
	case resp := <-done:
		return resp
	case <-ctx.Done():
		s.log.Warn("Request timed out", "method", req.Call.Method, "reqid", req.ID, "timeout", timeout)
		return errorReply(req, &ErrorObject{Code: errcodeTimeout, Message: errMsgTimeout})
	}
}

// errorReply answers req with err. One-way requests get no reply.
func errorReply(req *Request, err error) Response {
	if resp := req.ErrorRespond(err); resp != nil {
		return resp
	}
	return nil
}

func (s *Server) serveBatch(ctx context.Context, batch BatchRequest) BatchResponse {
	if s.batchItemLimit > 0 && len(batch) > s.batchItemLimit {
		return s.respondWithBatchTooLarge(batch)
	}
	resps := make([]Response, len(batch))
	var g errgroup.Group
	if s.batchConcurrency > 1 {
		g.SetLimit(s.batchConcurrency)
	} else {
		g.SetLimit(1)
	}
	for i, req := range batch {
		g.Go(func() error {
			resps[i] = s.serveRequest(ctx, req)
			return nil
		})
	}
	g.Wait()

	var out BatchResponse
	for _, resp := range resps {
		if resp != nil {
			out = append(out, resp)
		}
	}
	return out
}

// respondWithBatchTooLarge answers an oversized batch with one error. It carries
// the id of the first call, as the protocol has no way of reporting an error
// for the entire batch.
func (s *Server) respondWithBatchTooLarge(batch BatchRequest) BatchResponse {
	var id ID
	for _, req := range batch {
		if req.Err == nil && !req.OneWay {
			id = req.ID
			break
		}
	}
	err := NewMalformedRequest(InvalidRequest, id, "%s (%d > %d)", errMsgBatchTooLong, len(batch), s.batchItemLimit)
	return BatchResponse{NewErrorResponse(err, id)}
}

func (s *Server) serialize(msg Message) []byte {
	data, err := s.protocol.Serialize(msg)
	if err == nil {
		return data
	}
	s.log.Error("Failed to encode reply", "err", err)
	resp, ok := msg.(Response)
	if !ok {
		// A batch: reply with the encoding error for the first entry only.
		if b, isBatch := msg.(BatchResponse); isBatch && len(b) > 0 {
			resp = b[0]
		}
	}
	var id ID
	if resp != nil {
		id = resp.ResponseID()
	}
	data, err = s.protocol.Serialize(s.protocol.ErrorRespond(&ErrorObject{Code: int(InternalError), Message: err.Error()}, id))
	if err != nil {
		return nil
	}
	return data
}
