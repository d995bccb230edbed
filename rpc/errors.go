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
	"errors"
	"fmt"
)

// HTTPError is returned by client operations when the HTTP status code of the
// response is not a 2xx status.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (err HTTPError) Error() string {
	if len(err.Body) == 0 {
		return err.Status
	}
	return fmt.Sprintf("%v: %s", err.Status, err.Body)
}

// Error wraps RPC errors, which contain an error code in addition to the message.
type Error interface {
	Error() string  // returns the message
	ErrorCode() int // returns the code
}

// A DataError contains some data in addition to the error message.
type DataError interface {
	Error() string          // returns the message
	ErrorData() interface{} // returns the error data
}

// ErrorKind is one of the standard error conditions shared by every protocol.
// Its value is the numeric code put on the wire.
//
// ErrorKind 是所有协议共享的标准错误类型，其值即为线上传输的错误码。
type ErrorKind int

const (
	ParseError     ErrorKind = -32700
	InvalidRequest ErrorKind = -32600
	MethodNotFound ErrorKind = -32601
	InvalidParams  ErrorKind = -32602
	InternalError  ErrorKind = -32603
	ServerError    ErrorKind = -32000
)

const (
	errcodeTimeout = -32002
	errcodePanic   = -32603
	errcodeLimit   = -32005
)

const (
	errMsgTimeout      = "request timed out"
	errMsgPanic        = "method handler crashed"
	errMsgRateLimit    = "request rate limit exceeded"
	errMsgBatchTooLong = "batch too large"
)

var (
	_ Error     = ParseError
	_ Error     = new(ErrorObject)
	_ DataError = new(ErrorObject)
	_ Error     = new(TaggedError)
	_ DataError = new(TaggedError)
	_ Error     = new(MalformedRequestError)
	_ Error     = new(MalformedReplyError)
	_ Error     = new(MethodNotFoundError)
	_ Error     = new(InvalidParamsError)
	_ DataError = new(InvalidParamsError)
	_ Error     = new(handlerPanic)
)

// ErrorCode returns the wire code of the kind.
func (k ErrorKind) ErrorCode() int { return int(k) }

// Message returns the default message sent for the kind.
func (k ErrorKind) Message() string {
	switch k {
	case ParseError:
		return "Parse error"
	case InvalidRequest:
		return "Invalid Request"
	case MethodNotFound:
		return "Method not found"
	case InvalidParams:
		return "Invalid params"
	case InternalError:
		return "Internal error"
	}
	if k.IsServerError() {
		return "Server error"
	}
	return fmt.Sprintf("error %d", int(k))
}

func (k ErrorKind) Error() string { return k.Message() }

// IsServerError reports whether k lies in the range reserved for
// implementation-defined server conditions.
func (k ErrorKind) IsServerError() bool {
	return k <= -32000 && k >= -32099
}

// IsReserved reports whether the code is reserved by the protocol, i.e. it can
// not be used by application errors.
func IsReserved(code int) bool {
	return code >= -32768 && code <= -32000
}

// matchKind implements errors.Is for all errors carrying a code.
func matchKind(code int, target error) bool {
	if k, ok := target.(ErrorKind); ok {
		return int(k) == code
	}
	return false
}

// ErrorObject is the error value carried by an ErrorResponse. On the client side
// it is returned for calls which the remote end answered with an error.
type ErrorObject struct {
	Code    int
	Message string
	Data    any
}

func (e *ErrorObject) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("json-rpc error %d", e.Code)
	}
	return e.Message
}

// ErrorCode returns the error code.
func (e *ErrorObject) ErrorCode() int { return e.Code }

// ErrorData returns the attached data, nil if there is none.
func (e *ErrorObject) ErrorData() interface{} { return e.Data }

// Is allows matching remote errors against the standard kinds:
//
//	if errors.Is(err, rpc.MethodNotFound) { ... }
func (e *ErrorObject) Is(target error) bool { return matchKind(e.Code, target) }

// TaggedError is an application failure with a fixed code, message and optional
// data. Handlers return it to have the triple copied verbatim into the reply.
//
// TaggedError 是携带固定错误码、消息和可选数据的应用错误，会被原样写入响应。
type TaggedError struct {
	Code    int
	Message string
	Data    any
}

// NewError creates a tagged error.
func NewError(code int, message string, data any) *TaggedError {
	return &TaggedError{Code: code, Message: message, Data: data}
}

func (e *TaggedError) Error() string          { return e.Message }
func (e *TaggedError) ErrorCode() int         { return e.Code }
func (e *TaggedError) ErrorData() interface{} { return e.Data }
func (e *TaggedError) Is(target error) bool   { return matchKind(e.Code, target) }

// MalformedRequestError is returned by Protocol.ParseRequest. It carries the
// code to answer with and, when it could be recovered, the id of the request.
type MalformedRequestError struct {
	Kind   ErrorKind
	Detail string
	ID     ID
}

func (e *MalformedRequestError) Error() string {
	if e.Detail == "" {
		return e.Kind.Message()
	}
	return e.Kind.Message() + ": " + e.Detail
}

func (e *MalformedRequestError) ErrorCode() int       { return int(e.Kind) }
func (e *MalformedRequestError) Is(target error) bool { return matchKind(int(e.Kind), target) }

func parseErrorf(format string, args ...any) *MalformedRequestError {
	return &MalformedRequestError{Kind: ParseError, Detail: fmt.Sprintf(format, args...)}
}

// NewMalformedRequest creates a parse failure of the given kind.
func NewMalformedRequest(kind ErrorKind, id ID, format string, args ...any) *MalformedRequestError {
	return &MalformedRequestError{Kind: kind, ID: id, Detail: fmt.Sprintf(format, args...)}
}

// MalformedReplyError is returned by Protocol.ParseReply and by the client when
// a reply can not be matched to its request.
type MalformedReplyError struct {
	Detail string
}

// NewMalformedReply creates a reply parse failure.
func NewMalformedReply(format string, args ...any) *MalformedReplyError {
	return &MalformedReplyError{Detail: fmt.Sprintf(format, args...)}
}

func (e *MalformedReplyError) Error() string  { return "invalid reply: " + e.Detail }
func (e *MalformedReplyError) ErrorCode() int { return int(InvalidRequest) }

// MethodNotFoundError is returned by Registry.GetMethod.
type MethodNotFoundError struct {
	Method string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("the method %s does not exist/is not available", e.Method)
}

func (e *MethodNotFoundError) ErrorCode() int       { return int(MethodNotFound) }
func (e *MethodNotFoundError) Is(target error) bool { return matchKind(int(MethodNotFound), target) }

// InvalidParamsError reports arguments which do not fit the handler signature.
type InvalidParamsError struct {
	Detail string
}

func (e *InvalidParamsError) Error() string          { return e.Detail }
func (e *InvalidParamsError) ErrorCode() int         { return int(InvalidParams) }
func (e *InvalidParamsError) ErrorData() interface{} { return e.Detail }
func (e *InvalidParamsError) Is(target error) bool   { return matchKind(int(InvalidParams), target) }

func invalidParamsf(format string, args ...any) *InvalidParamsError {
	return &InvalidParamsError{Detail: fmt.Sprintf(format, args...)}
}

// ToErrorObject converts any error into the code/message/data triple sent on the
// wire. Standard kinds use their default message, tagged errors are copied
// verbatim and untagged errors become InternalError with the error text.
func ToErrorObject(err error) *ErrorObject {
	var (
		kind   ErrorKind
		obj    *ErrorObject
		tagged *TaggedError
		mreq   *MalformedRequestError
		mnf    *MethodNotFoundError
		ipe    *InvalidParamsError
	)
	switch {
	case err == nil:
		return &ErrorObject{Code: int(InternalError), Message: InternalError.Message()}
	case errors.As(err, &obj):
		return &ErrorObject{Code: obj.Code, Message: obj.Message, Data: obj.Data}
	case errors.As(err, &tagged):
		return &ErrorObject{Code: tagged.Code, Message: tagged.Message, Data: tagged.Data}
	case errors.As(err, &mnf):
		return &ErrorObject{Code: int(MethodNotFound), Message: MethodNotFound.Message()}
	case errors.As(err, &ipe):
		return &ErrorObject{Code: int(InvalidParams), Message: InvalidParams.Message(), Data: ipe.Detail}
	case errors.As(err, &mreq):
		eo := &ErrorObject{Code: int(mreq.Kind), Message: mreq.Kind.Message()}
		if mreq.Detail != "" {
			eo.Data = mreq.Detail
		}
		return eo
	case errors.As(err, &kind):
		return &ErrorObject{Code: int(kind), Message: kind.Message()}
	}

	eo := &ErrorObject{Code: int(InternalError), Message: err.Error()}
	var ec Error
	if errors.As(err, &ec) {
		eo.Code = ec.ErrorCode()
	}
	var de DataError
	if errors.As(err, &de) {
		eo.Data = de.ErrorData()
	}
	return eo
}

// NewErrorResponse builds the error reply for err. If err is a
// *MalformedRequestError carrying a recovered id and id is nil, that id is used.
func NewErrorResponse(err error, id ID) *ErrorResponse {
	var mreq *MalformedRequestError
	if id == nil && errors.As(err, &mreq) {
		id = mreq.ID
	}
	return &ErrorResponse{ID: id, Error: ToErrorObject(err)}
}
