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
	"fmt"
	"math"
	"strconv"
)

// ID is a correlation identifier linking a reply to the request that produced it.
// Codecs only ever produce int64 or string values. A nil ID means the id is absent
// (requests) or null (error replies to requests that could not be parsed).
//
// ID 是关联请求与响应的标识符。nil 表示不存在（通知）或为 null。
type ID = any

// CallSpec describes the intent to invoke a method. It is protocol agnostic.
type CallSpec struct {
	Method string
	Args   []any
	Kwargs map[string]any
}

func (c CallSpec) String() string {
	return fmt.Sprintf("%s(args=%v, kwargs=%v)", c.Method, c.Args, c.Kwargs)
}

// Message is implemented by every value a Protocol can serialize.
type Message interface {
	isMessage()
}

// RequestMessage is the result of parsing request bytes: either a *Request or a
// BatchRequest.
type RequestMessage interface {
	Message
	isRequestMessage()
}

// ReplyMessage is the result of parsing reply bytes: a *SuccessResponse, an
// *ErrorResponse or a BatchResponse.
type ReplyMessage interface {
	Message
	isReplyMessage()
}

// Response is a single reply, either *SuccessResponse or *ErrorResponse.
type Response interface {
	ReplyMessage
	ResponseID() ID
}

// Request is a single method invocation. A request without an id is one-way:
// no response is ever produced for it.
type Request struct {
	ID     ID
	Call   CallSpec
	OneWay bool

	// Err is set on batch members which could not be parsed. Such members are
	// answered with an error in place of a result.
	Err *MalformedRequestError
}

// Respond creates the success reply for r, or nil if r is one-way.
func (r *Request) Respond(result any) *SuccessResponse {
	if r.OneWay {
		return nil
	}
	return &SuccessResponse{ID: r.ID, Result: result}
}

// ErrorRespond creates the error reply for r, or nil if r is one-way.
func (r *Request) ErrorRespond(err error) *ErrorResponse {
	if r.OneWay && r.Err == nil {
		return nil
	}
	return NewErrorResponse(err, r.ID)
}

func (r *Request) String() string {
	if r.Err != nil {
		return "invalid request: " + r.Err.Error()
	}
	if r.OneWay {
		return "notification " + r.Call.String()
	}
	return fmt.Sprintf("call id=%v %s", r.ID, r.Call)
}

// BatchRequest is an ordered group of requests transmitted as one wire unit.
type BatchRequest []*Request

// expectsResponse reports whether any member of the batch will be answered.
func (b BatchRequest) expectsResponse() bool {
	for _, req := range b {
		if req.Err != nil || !req.OneWay {
			return true
		}
	}
	return false
}

// SuccessResponse carries the result of a successful call.
type SuccessResponse struct {
	ID     ID
	Result any
}

// ResponseID returns the correlation id.
func (r *SuccessResponse) ResponseID() ID { return r.ID }

// ErrorResponse carries a failure. ID is nil when the failing request could not
// be parsed far enough to recover its id.
type ErrorResponse struct {
	ID    ID
	Error *ErrorObject
}

// ResponseID returns the correlation id.
func (r *ErrorResponse) ResponseID() ID { return r.ID }

// BatchResponse holds one reply per non-one-way member of a BatchRequest.
type BatchResponse []Response

func (*Request) isMessage()         {}
func (BatchRequest) isMessage()     {}
func (*SuccessResponse) isMessage() {}
func (*ErrorResponse) isMessage()   {}
func (BatchResponse) isMessage()    {}

func (*Request) isRequestMessage()     {}
func (BatchRequest) isRequestMessage() {}

func (*SuccessResponse) isReplyMessage() {}
func (*ErrorResponse) isReplyMessage()   {}
func (BatchResponse) isReplyMessage()    {}

// Protocol converts between raw bytes and the message types above for one wire
// format. Implementations must be safe for concurrent use.
//
// Protocol 负责字节与请求/响应对象之间的相互转换，必须是并发安全的。
type Protocol interface {
	// Name returns a short identifier such as "jsonrpc".
	Name() string

	// CreateRequest builds an outgoing request. A fresh id is allocated unless
	// oneWay is set.
	CreateRequest(method string, args []any, kwargs map[string]any, oneWay bool) (*Request, error)

	// ParseRequest decodes request bytes. Failures are returned as
	// *MalformedRequestError, ready to be turned into an error reply.
	ParseRequest(data []byte) (RequestMessage, error)

	// ParseReply decodes reply bytes. Failures are *MalformedReplyError.
	ParseReply(data []byte) (ReplyMessage, error)

	// Serialize encodes a message. It only fails if an application supplied
	// value cannot be represented in the wire format.
	Serialize(msg Message) ([]byte, error)

	// ErrorRespond builds an error reply from an ErrorKind or any error value.
	ErrorRespond(err error, id ID) *ErrorResponse
}

// BatchProtocol is implemented by protocols which support batches.
type BatchProtocol interface {
	Protocol

	// CreateBatchRequest groups requests created by CreateRequest.
	CreateBatchRequest(reqs ...*Request) (BatchRequest, error)
}

// NormalizeValue converts decoded wire values into the canonical forms used by
// the data model: integers become int64, other numbers float64, sequences []any
// and mappings map[string]any. Codecs call it on everything they decode so that
// values compare equal regardless of the wire format they came from.
func NormalizeValue(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return normalizeUint(uint64(v))
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return normalizeUint(v)
	case float32:
		return normalizeFloat(float64(v))
	case float64:
		return normalizeFloat(v)
	case interface{ Int64() (int64, error) }:
		// json.Number
		if n, err := v.Int64(); err == nil {
			return n
		}
		if s, ok := v.(fmt.Stringer); ok {
			if f, err := strconv.ParseFloat(s.String(), 64); err == nil {
				return normalizeFloat(f)
			}
		}
		return v
	case []byte:
		return string(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = NormalizeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = NormalizeValue(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[fmt.Sprint(NormalizeValue(k))] = NormalizeValue(e)
		}
		return out
	default:
		return v
	}
}

func normalizeUint(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 && !math.IsInf(f, 0) {
		return int64(f)
	}
	return f
}

// NewCallSpec builds a CallSpec with normalized argument values. Empty argument
// lists are stored as nil so that specs compare equal after a round trip.
func NewCallSpec(method string, args []any, kwargs map[string]any) CallSpec {
	c := CallSpec{Method: method}
	if len(args) > 0 {
		c.Args = NormalizeValue(args).([]any)
	}
	if len(kwargs) > 0 {
		c.Kwargs = NormalizeValue(kwargs).(map[string]any)
	}
	return c
}
