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

// Package jsonrpc implements the JSON-RPC 2.0 protocol, including batches.
//
// Requests look like
//
//	{"jsonrpc": "2.0", "method": "calc.add", "params": [1, 2], "id": 1}
//
// and are answered with either a result or an error object:
//
//	{"jsonrpc": "2.0", "result": 3, "id": 1}
//	{"jsonrpc": "2.0", "error": {"code": -32601, "message": "Method not found"}, "id": 1}
//
// A request without id is a notification and is never answered. A top-level
// array is a batch; its reply holds one entry per non-notification member.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sunyihoo/go-rpckit/rpc"
)

const vsn = "2.0"

var (
	errMixedParams = errors.New("jsonrpc: positional and named arguments can not be combined")
	errNoMethod    = errors.New("jsonrpc: empty method name")
)

var (
	requestKeys = map[string]bool{"jsonrpc": true, "method": true, "params": true, "id": true}
	replyKeys   = map[string]bool{"jsonrpc": true, "result": true, "error": true, "id": true}
)

// Option configures a Protocol.
type Option func(*Protocol)

// WithIDGenerator replaces the default sequential id generator.
func WithIDGenerator(gen rpc.IDGenerator) Option {
	return func(p *Protocol) { p.ids = gen }
}

// Protocol is the JSON-RPC 2.0 codec. It is safe for concurrent use.
//
// Protocol 是 JSON-RPC 2.0 编解码器，可并发使用。
type Protocol struct {
	ids rpc.IDGenerator
}

var _ rpc.BatchProtocol = (*Protocol)(nil)

// New creates a codec. Request ids start at 1 unless a generator is supplied.
func New(opts ...Option) *Protocol {
	p := &Protocol{}
	for _, opt := range opts {
		opt(p)
	}
	if p.ids == nil {
		p.ids = rpc.SequentialIDs(1)
	}
	return p
}

// Name implements rpc.Protocol.
func (p *Protocol) Name() string { return "jsonrpc" }

// CreateRequest implements rpc.Protocol. Positional and named arguments are
// mutually exclusive.
func (p *Protocol) CreateRequest(method string, args []any, kwargs map[string]any, oneWay bool) (*rpc.Request, error) {
	if method == "" {
		return nil, errNoMethod
	}
	if len(args) > 0 && len(kwargs) > 0 {
		return nil, errMixedParams
	}
	req := &rpc.Request{Call: rpc.NewCallSpec(method, args, kwargs), OneWay: oneWay}
	if !oneWay {
		req.ID = p.ids()
	}
	return req, nil
}

// CreateBatchRequest implements rpc.BatchProtocol.
func (p *Protocol) CreateBatchRequest(reqs ...*rpc.Request) (rpc.BatchRequest, error) {
	for i, req := range reqs {
		if req == nil || req.Err != nil {
			return nil, fmt.Errorf("jsonrpc: batch member %d is not a valid request", i)
		}
	}
	return rpc.BatchRequest(reqs), nil
}

// ErrorRespond implements rpc.Protocol.
func (p *Protocol) ErrorRespond(err error, id rpc.ID) *rpc.ErrorResponse {
	return rpc.NewErrorResponse(err, id)
}

// ParseRequest implements rpc.Protocol. A batch is returned as rpc.BatchRequest;
// members which are invalid are kept in place with their Err field set.
func (p *Protocol) ParseRequest(data []byte) (rpc.RequestMessage, error) {
	v, err := decode(data)
	if err != nil {
		return nil, &rpc.MalformedRequestError{Kind: rpc.ParseError, Detail: err.Error()}
	}
	batch, ok := v.([]any)
	if !ok {
		req, merr := parseRequest(v)
		if merr != nil {
			return nil, merr
		}
		return req, nil
	}
	if len(batch) == 0 {
		return nil, rpc.NewMalformedRequest(rpc.InvalidRequest, nil, "empty batch")
	}
	reqs := make(rpc.BatchRequest, len(batch))
	for i, member := range batch {
		req, merr := parseRequest(member)
		if merr != nil {
			req = &rpc.Request{ID: merr.ID, Err: merr}
		}
		reqs[i] = req
	}
	return reqs, nil
}

func parseRequest(v any) (*rpc.Request, *rpc.MalformedRequestError) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, rpc.NewMalformedRequest(rpc.InvalidRequest, nil, "request must be an object")
	}
	id, idErr := parseID(obj)
	if idErr != nil {
		return nil, rpc.NewMalformedRequest(rpc.InvalidRequest, nil, "%v", idErr)
	}
	for key := range obj {
		if !requestKeys[key] {
			return nil, rpc.NewMalformedRequest(rpc.InvalidRequest, id, "unexpected field %q", key)
		}
	}
	if version, _ := obj["jsonrpc"].(string); version != vsn {
		return nil, rpc.NewMalformedRequest(rpc.InvalidRequest, id, "jsonrpc version must be %q", vsn)
	}
	method, ok := obj["method"].(string)
	if !ok || method == "" {
		return nil, rpc.NewMalformedRequest(rpc.InvalidRequest, id, "method must be a non-empty string")
	}
	var (
		args   []any
		kwargs map[string]any
	)
	switch params := obj["params"].(type) {
	case nil:
	case []any:
		args = params
	case map[string]any:
		kwargs = params
	default:
		return nil, rpc.NewMalformedRequest(rpc.InvalidParams, id, "params must be an array or an object")
	}
	return &rpc.Request{
		ID:     id,
		Call:   rpc.NewCallSpec(method, args, kwargs),
		OneWay: id == nil,
	}, nil
}

// parseID extracts the id member. A missing or null id yields nil.
func parseID(obj map[string]any) (rpc.ID, error) {
	switch id := rpc.NormalizeValue(obj["id"]).(type) {
	case nil:
		return nil, nil
	case int64, string:
		return id, nil
	case float64:
		return nil, fmt.Errorf("id must be an integer or a string, got %v", id)
	default:
		return nil, fmt.Errorf("id must be a number or a string, got %T", id)
	}
}

// ParseReply implements rpc.Protocol.
func (p *Protocol) ParseReply(data []byte) (rpc.ReplyMessage, error) {
	v, err := decode(data)
	if err != nil {
		return nil, rpc.NewMalformedReply("%v", err)
	}
	batch, ok := v.([]any)
	if !ok {
		resp, err := parseReply(v)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
	if len(batch) == 0 {
		return nil, rpc.NewMalformedReply("empty batch")
	}
	out := make(rpc.BatchResponse, len(batch))
	for i, member := range batch {
		resp, err := parseReply(member)
		if err != nil {
			return nil, rpc.NewMalformedReply("batch member %d: %s", i, err.Detail)
		}
		out[i] = resp
	}
	return out, nil
}

func parseReply(v any) (rpc.Response, *rpc.MalformedReplyError) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, rpc.NewMalformedReply("reply must be an object")
	}
	for key := range obj {
		if !replyKeys[key] {
			return nil, rpc.NewMalformedReply("unexpected field %q", key)
		}
	}
	if version, _ := obj["jsonrpc"].(string); version != vsn {
		return nil, rpc.NewMalformedReply("jsonrpc version must be %q", vsn)
	}
	if _, ok := obj["id"]; !ok {
		return nil, rpc.NewMalformedReply("missing id")
	}
	id, err := parseID(obj)
	if err != nil {
		return nil, rpc.NewMalformedReply("%v", err)
	}
	result, hasResult := obj["result"]
	errVal, hasError := obj["error"]
	switch {
	case hasResult && hasError:
		return nil, rpc.NewMalformedReply("reply has both result and error")
	case hasResult:
		if id == nil {
			return nil, rpc.NewMalformedReply("success reply without id")
		}
		return &rpc.SuccessResponse{ID: id, Result: rpc.NormalizeValue(result)}, nil
	case hasError:
		eo, err := parseErrorObject(errVal)
		if err != nil {
			return nil, err
		}
		return &rpc.ErrorResponse{ID: id, Error: eo}, nil
	default:
		return nil, rpc.NewMalformedReply("reply has neither result nor error")
	}
}

func parseErrorObject(v any) (*rpc.ErrorObject, *rpc.MalformedReplyError) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, rpc.NewMalformedReply("error must be an object")
	}
	code, ok := rpc.NormalizeValue(obj["code"]).(int64)
	if !ok {
		return nil, rpc.NewMalformedReply("error code must be an integer")
	}
	msg, ok := obj["message"].(string)
	if !ok {
		return nil, rpc.NewMalformedReply("error message must be a string")
	}
	return &rpc.ErrorObject{Code: int(code), Message: msg, Data: rpc.NormalizeValue(obj["data"])}, nil
}

// decode parses a single JSON value, keeping numbers exact.
func decode(data []byte) (any, error) {
	if !json.Valid(data) {
		return nil, errors.New("invalid JSON")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return rpc.NormalizeValue(v), nil
}
