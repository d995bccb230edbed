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
	"fmt"
	"io"
	"net/url"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

var (
	// ErrNoResult is returned when a two-way call receives no reply bytes.
	ErrNoResult = errors.New("no result in JSON-RPC response")
	// ErrMissingBatchResponse is set on batch elements the server did not answer.
	ErrMissingBatchResponse = errors.New("response batch did not contain a response to this call")
	// ErrBatchUnsupported is returned by CallAll if the protocol has no batches.
	ErrBatchUnsupported = errors.New("protocol does not support batch requests")
)

// Client sends requests through a ClientTransport and matches the replies.
// It is safe for concurrent use.
//
// Client 通过传输层发送请求，并将响应与请求相匹配。
type Client struct {
	protocol  Protocol
	transport ClientTransport
}

// NewClient creates a client speaking protocol over transport.
func NewClient(protocol Protocol, transport ClientTransport) *Client {
	return &Client{protocol: protocol, transport: transport}
}

// Dial creates a client for the given URL. The supported schemes are "http",
// "https", "ws" and "wss".
func Dial(ctx context.Context, rawurl string, protocol Protocol, options ...ClientOption) (*Client, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	cfg := new(clientConfig)
	for _, opt := range options {
		opt.applyOption(cfg)
	}
	var transport ClientTransport
	switch u.Scheme {
	case "http", "https":
		transport = newHTTPClientTransport(rawurl, protocol, cfg)
	case "ws", "wss":
		if transport, err = dialWebsocket(ctx, rawurl, protocol, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("no known transport for URL scheme %q", u.Scheme)
	}
	return NewClient(protocol, transport), nil
}

// Close releases the transport if it holds resources.
func (c *Client) Close() error {
	if closer, ok := c.transport.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Call performs a call with positional arguments and returns the result as
// decoded from the wire. If the server answers with an error it is returned as
// *ErrorObject.
func (c *Client) Call(ctx context.Context, method string, args ...any) (any, error) {
	return c.call(ctx, method, args, nil)
}

// CallNamed performs a call with named arguments.
func (c *Client) CallNamed(ctx context.Context, method string, kwargs map[string]any) (any, error) {
	return c.call(ctx, method, nil, kwargs)
}

// CallInto performs a call and decodes the result into the value pointed to by
// result. A nil result discards the value.
func (c *Client) CallInto(ctx context.Context, result any, method string, args ...any) error {
	res, err := c.call(ctx, method, args, nil)
	if err != nil {
		return err
	}
	return decodeResult(res, result)
}

// Notify sends a one-way request. It returns once the message is handed to the
// transport; failures on the server side are not reported.
func (c *Client) Notify(ctx context.Context, method string, args ...any) error {
	return c.notify(ctx, method, args, nil)
}

func (c *Client) notify(ctx context.Context, method string, args []any, kwargs map[string]any) error {
	req, err := c.protocol.CreateRequest(method, args, kwargs, true)
	if err != nil {
		return err
	}
	data, err := c.protocol.Serialize(req)
	if err != nil {
		return err
	}
	_, err = c.transport.SendMessage(ctx, data, false)
	return err
}

func (c *Client) call(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error) {
	req, err := c.protocol.CreateRequest(method, args, kwargs, false)
	if err != nil {
		return nil, err
	}
	data, err := c.protocol.Serialize(req)
	if err != nil {
		return nil, err
	}
	reply, err := c.transport.SendMessage(ctx, data, true)
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 {
		return nil, ErrNoResult
	}
	msg, err := c.protocol.ParseReply(reply)
	if err != nil {
		return nil, err
	}
	switch resp := msg.(type) {
	case *SuccessResponse:
		if resp.ID != req.ID {
			return nil, NewMalformedReply("unsolicited reply with id %v to request %v", resp.ID, req.ID)
		}
		return resp.Result, nil
	case *ErrorResponse:
		// A null id is used when the server could not read the request at all.
		if resp.ID != nil && resp.ID != req.ID {
			return nil, NewMalformedReply("unsolicited reply with id %v to request %v", resp.ID, req.ID)
		}
		return nil, resp.Error
	default:
		return nil, NewMalformedReply("unexpected %T to a single request", msg)
	}
}

// BatchElem is an element in a batch request.
type BatchElem struct {
	Method string
	Args   []any
	Kwargs map[string]any

	// Result receives the result. If it is a pointer the result is decoded into
	// the value it points to, otherwise it is replaced by the raw result.
	Result any
	// Error is set if the server returns an error for this request, or if
	// the reply could not be matched or decoded.
	Error error
}

// CallAll sends all elements as a single batch and fills in their results in
// the order of b. The returned error only reports failures of the batch as a
// whole; per element failures are set on the elements.
func (c *Client) CallAll(ctx context.Context, b []BatchElem) error {
	bp, ok := c.protocol.(BatchProtocol)
	if !ok {
		return ErrBatchUnsupported
	}
	reqs := make([]*Request, len(b))
	byID := make(map[ID]int, len(b))
	for i, elem := range b {
		req, err := bp.CreateRequest(elem.Method, elem.Args, elem.Kwargs, false)
		if err != nil {
			return err
		}
		reqs[i] = req
		byID[req.ID] = i
	}
	batch, err := bp.CreateBatchRequest(reqs...)
	if err != nil {
		return err
	}
	data, err := bp.Serialize(batch)
	if err != nil {
		return err
	}
	reply, err := c.transport.SendMessage(ctx, data, true)
	if err != nil {
		return err
	}
	if len(reply) == 0 {
		return ErrNoResult
	}
	msg, err := bp.ParseReply(reply)
	if err != nil {
		return err
	}
	var resps BatchResponse
	switch msg := msg.(type) {
	case BatchResponse:
		resps = msg
	case *ErrorResponse:
		// The batch was rejected as a whole.
		return msg.Error
	default:
		return NewMalformedReply("unexpected %T to a batch request", msg)
	}

	answered := make([]bool, len(b))
	for _, resp := range resps {
		i, known := byID[resp.ResponseID()]
		if !known || answered[i] {
			continue
		}
		answered[i] = true
		elem := &b[i]
		switch resp := resp.(type) {
		case *SuccessResponse:
			if elem.Result != nil && isPointer(elem.Result) {
				elem.Error = decodeResult(resp.Result, elem.Result)
			} else {
				elem.Result = resp.Result
			}
		case *ErrorResponse:
			elem.Error = resp.Error
		}
	}
	for i := range b {
		if !answered[i] {
			b[i].Error = ErrMissingBatchResponse
		}
	}
	return nil
}

// Proxy prefixes method names with a namespace, e.g. a proxy for "calc." turns
// Call(ctx, "add", 1, 2) into a call of "calc.add".
type Proxy struct {
	client *Client
	prefix string
	oneWay bool
}

// Proxy returns a proxy for the methods under prefix. Calls of a one-way proxy
// are sent as notifications and always return a nil result.
func (c *Client) Proxy(prefix string, oneWay bool) *Proxy {
	return &Proxy{client: c, prefix: prefix, oneWay: oneWay}
}

// Call invokes prefix+method.
func (p *Proxy) Call(ctx context.Context, method string, args ...any) (any, error) {
	if p.oneWay {
		return nil, p.client.notify(ctx, p.prefix+method, args, nil)
	}
	return p.client.Call(ctx, p.prefix+method, args...)
}

// CallNamed invokes prefix+method with named arguments.
func (p *Proxy) CallNamed(ctx context.Context, method string, kwargs map[string]any) (any, error) {
	if p.oneWay {
		return nil, p.client.notify(ctx, p.prefix+method, nil, kwargs)
	}
	return p.client.CallNamed(ctx, p.prefix+method, kwargs)
}

func isPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && !rv.IsNil()
}

// decodeResult converts a wire value into the value pointed to by target.
func decodeResult(v any, target any) error {
	if target == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "json",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("cannot decode result: %w", err)
	}
	return nil
}
