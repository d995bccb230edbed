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

// Package msgpackrpc implements the MessagePack-RPC protocol. Messages are
// MessagePack arrays:
//
//	request      [0, msgid, method, params]
//	response     [1, msgid, error, result]
//	notification [2, method, params]
//
// The error of a response is nil on success, otherwise [code, message] or
// [code, message, data]. Batches and named arguments are not supported.
package msgpackrpc

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/sunyihoo/go-rpckit/rpc"
)

const (
	typeRequest      = 0
	typeResponse     = 1
	typeNotification = 2
)

var (
	errNamedArgs = errors.New("msgpackrpc: named arguments are not supported")
	errNoMethod  = errors.New("msgpackrpc: empty method name")
	errBatch     = errors.New("msgpackrpc: batches are not supported")
)

// Option configures a Protocol.
type Option func(*Protocol)

// WithIDGenerator replaces the default sequential id generator. The generator
// must produce integers.
func WithIDGenerator(gen rpc.IDGenerator) Option {
	return func(p *Protocol) { p.ids = gen }
}

// Protocol is the MessagePack-RPC codec. It is safe for concurrent use.
//
// Protocol 是 MessagePack-RPC 编解码器，不支持批量请求和命名参数。
type Protocol struct {
	ids    rpc.IDGenerator
	handle *codec.MsgpackHandle
}

var _ rpc.Protocol = (*Protocol)(nil)

// New creates a codec. Message ids start at 1 unless a generator is supplied.
func New(opts ...Option) *Protocol {
	p := &Protocol{handle: newHandle()}
	for _, opt := range opts {
		opt(p)
	}
	if p.ids == nil {
		p.ids = rpc.SequentialIDs(1)
	}
	return p
}

func newHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.RawToString = true
	h.WriteExt = true
	return h
}

// Name implements rpc.Protocol.
func (p *Protocol) Name() string { return "msgpack" }

// CreateRequest implements rpc.Protocol. Named arguments are rejected.
func (p *Protocol) CreateRequest(method string, args []any, kwargs map[string]any, oneWay bool) (*rpc.Request, error) {
	if method == "" {
		return nil, errNoMethod
	}
	if len(kwargs) > 0 {
		return nil, errNamedArgs
	}
	req := &rpc.Request{Call: rpc.NewCallSpec(method, args, nil), OneWay: oneWay}
	if !oneWay {
		id, ok := rpc.NormalizeValue(p.ids()).(int64)
		if !ok {
			return nil, errors.New("msgpackrpc: message ids must be integers")
		}
		req.ID = id
	}
	return req, nil
}

// ErrorRespond implements rpc.Protocol.
func (p *Protocol) ErrorRespond(err error, id rpc.ID) *rpc.ErrorResponse {
	return rpc.NewErrorResponse(err, id)
}

// ParseRequest implements rpc.Protocol.
func (p *Protocol) ParseRequest(data []byte) (rpc.RequestMessage, error) {
	v, err := p.decode(data)
	if err != nil {
		return nil, &rpc.MalformedRequestError{Kind: rpc.ParseError, Detail: err.Error()}
	}
	switch msg := v.(type) {
	case map[string]any:
		return nil, &rpc.MalformedRequestError{Kind: rpc.ParseError, Detail: "message is a map, not an array"}
	case []any:
		return parseRequest(msg)
	default:
		return nil, rpc.NewMalformedRequest(rpc.InvalidRequest, nil, "message must be an array")
	}
}

func parseRequest(msg []any) (*rpc.Request, error) {
	if len(msg) == 0 {
		return nil, rpc.NewMalformedRequest(rpc.InvalidRequest, nil, "empty message")
	}
	var (
		id     rpc.ID
		oneWay bool
		rest   []any
	)
	switch msg[0] {
	case int64(typeRequest):
		if len(msg) != 4 {
			return nil, rpc.NewMalformedRequest(rpc.InvalidRequest, nil, "request must have 4 elements, got %d", len(msg))
		}
		msgid, ok := msg[1].(int64)
		if !ok {
			return nil, rpc.NewMalformedRequest(rpc.InvalidRequest, nil, "message id must be an integer")
		}
		id, rest = msgid, msg[2:]
	case int64(typeNotification):
		if len(msg) != 3 {
			return nil, rpc.NewMalformedRequest(rpc.InvalidRequest, nil, "notification must have 3 elements, got %d", len(msg))
		}
		oneWay, rest = true, msg[1:]
	default:
		return nil, rpc.NewMalformedRequest(rpc.InvalidRequest, nil, "invalid message type %v", msg[0])
	}
	method, ok := rest[0].(string)
	if !ok || method == "" {
		return nil, rpc.NewMalformedRequest(rpc.InvalidRequest, id, "method must be a non-empty string")
	}
	params, ok := rest[1].([]any)
	if !ok {
		return nil, rpc.NewMalformedRequest(rpc.InvalidParams, id, "params must be an array")
	}
	return &rpc.Request{ID: id, Call: rpc.NewCallSpec(method, params, nil), OneWay: oneWay}, nil
}

// ParseReply implements rpc.Protocol. Besides [code, message] pairs it accepts
// error values of other shapes, which are reported as ServerError with the
// value's text as message.
func (p *Protocol) ParseReply(data []byte) (rpc.ReplyMessage, error) {
	v, err := p.decode(data)
	if err != nil {
		return nil, rpc.NewMalformedReply("%v", err)
	}
	msg, ok := v.([]any)
	if !ok {
		return nil, rpc.NewMalformedReply("reply must be an array")
	}
	if len(msg) != 4 {
		return nil, rpc.NewMalformedReply("reply must have 4 elements, got %d", len(msg))
	}
	if msg[0] != int64(typeResponse) {
		return nil, rpc.NewMalformedReply("invalid message type %v", msg[0])
	}
	var id rpc.ID
	switch msgid := msg[1].(type) {
	case int64:
		id = msgid
	case nil:
	default:
		return nil, rpc.NewMalformedReply("message id must be an integer")
	}
	errVal, result := msg[2], msg[3]
	switch {
	case errVal == nil:
		if id == nil {
			return nil, rpc.NewMalformedReply("success reply without id")
		}
		return &rpc.SuccessResponse{ID: id, Result: result}, nil
	case result != nil:
		return nil, rpc.NewMalformedReply("reply has both result and error")
	default:
		return &rpc.ErrorResponse{ID: id, Error: parseError(errVal)}, nil
	}
}

func parseError(v any) *rpc.ErrorObject {
	if pair, ok := v.([]any); ok && (len(pair) == 2 || len(pair) == 3) {
		code, codeOK := pair[0].(int64)
		msg, msgOK := pair[1].(string)
		if codeOK && msgOK {
			eo := &rpc.ErrorObject{Code: int(code), Message: msg}
			if len(pair) == 3 {
				eo.Data = pair[2]
			}
			return eo
		}
	}
	if msg, ok := v.(string); ok {
		return &rpc.ErrorObject{Code: int(rpc.ServerError), Message: msg}
	}
	return &rpc.ErrorObject{Code: int(rpc.ServerError), Message: fmt.Sprint(v), Data: v}
}

// Serialize implements rpc.Protocol.
func (p *Protocol) Serialize(msg rpc.Message) ([]byte, error) {
	var env []any
	switch msg := msg.(type) {
	case *rpc.Request:
		if msg.Err != nil {
			return nil, fmt.Errorf("msgpackrpc: can not serialize invalid request: %w", msg.Err)
		}
		if len(msg.Call.Kwargs) > 0 {
			return nil, errNamedArgs
		}
		params := msg.Call.Args
		if params == nil {
			params = []any{}
		}
		if msg.OneWay {
			env = []any{typeNotification, msg.Call.Method, params}
		} else {
			env = []any{typeRequest, msg.ID, msg.Call.Method, params}
		}
	case *rpc.SuccessResponse:
		env = []any{typeResponse, msg.ID, nil, msg.Result}
	case *rpc.ErrorResponse:
		eo := msg.Error
		if eo == nil {
			eo = rpc.ToErrorObject(rpc.InternalError)
		}
		errVal := []any{eo.Code, eo.Message}
		if eo.Data != nil {
			errVal = append(errVal, eo.Data)
		}
		env = []any{typeResponse, msg.ID, errVal, nil}
	case rpc.BatchRequest, rpc.BatchResponse:
		return nil, errBatch
	default:
		return nil, fmt.Errorf("msgpackrpc: can not serialize %T", msg)
	}
	return p.encode(env)
}

func (p *Protocol) encode(v any) (out []byte, err error) {
	// The encoder panics on some unsupported values, e.g. channels.
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("msgpackrpc: %v", r)
		}
	}()
	if err := codec.NewEncoderBytes(&out, p.handle).Encode(v); err != nil {
		return nil, fmt.Errorf("msgpackrpc: %w", err)
	}
	return out, nil
}

// decode reads exactly one MessagePack value from data.
func (p *Protocol) decode(data []byte) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("%v", r)
		}
	}()
	r := bytes.NewReader(data)
	if err := codec.NewDecoder(r, p.handle).Decode(&v); err != nil {
		return nil, err
	}
	if r.Len() > 0 {
		return nil, fmt.Errorf("%d trailing bytes after message", r.Len())
	}
	return rpc.NormalizeValue(v), nil
}
