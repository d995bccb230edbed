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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindMessages(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		code int
		msg  string
	}{
		{ParseError, -32700, "Parse error"},
		{InvalidRequest, -32600, "Invalid Request"},
		{MethodNotFound, -32601, "Method not found"},
		{InvalidParams, -32602, "Invalid params"},
		{InternalError, -32603, "Internal error"},
		{ServerError, -32000, "Server error"},
		{ErrorKind(-32099), -32099, "Server error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, tt.kind.ErrorCode())
		assert.Equal(t, tt.msg, tt.kind.Message())
	}
	assert.True(t, ErrorKind(-32050).IsServerError())
	assert.False(t, ErrorKind(-32100).IsServerError())
	assert.True(t, IsReserved(-32768))
	assert.False(t, IsReserved(-31999))
	assert.False(t, IsReserved(99))
}

func TestToErrorObject(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want *ErrorObject
	}{
		{"kind", InvalidRequest, &ErrorObject{Code: -32600, Message: "Invalid Request"}},
		{"tagged", NewError(99, "Ah, that's cheating!", "x"), &ErrorObject{Code: 99, Message: "Ah, that's cheating!", Data: "x"}},
		{"wrapped tagged", fmt.Errorf("ctx: %w", NewError(5, "five", nil)), &ErrorObject{Code: 5, Message: "five"}},
		{"method not found", &MethodNotFoundError{Method: "x"}, &ErrorObject{Code: -32601, Message: "Method not found"}},
		{"invalid params", invalidParamsf("bad %d", 1), &ErrorObject{Code: -32602, Message: "Invalid params", Data: "bad 1"}},
		{"parse", parseErrorf("unexpected EOF"), &ErrorObject{Code: -32700, Message: "Parse error", Data: "unexpected EOF"}},
		{"untagged", errors.New("boom"), &ErrorObject{Code: -32603, Message: "boom"}},
		{"remote", &ErrorObject{Code: 1, Message: "m", Data: []any{"d"}}, &ErrorObject{Code: 1, Message: "m", Data: []any{"d"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToErrorObject(tt.err))
		})
	}
}

func TestNewErrorResponseRecoversID(t *testing.T) {
	merr := NewMalformedRequest(InvalidRequest, "abc", "bad version")
	assert.Equal(t, "abc", NewErrorResponse(merr, nil).ID)
	assert.Equal(t, int64(1), NewErrorResponse(merr, int64(1)).ID)
	assert.Nil(t, NewErrorResponse(ParseError, nil).ID)
}

func TestErrorIs(t *testing.T) {
	remote := &ErrorObject{Code: -32601, Message: "Method not found"}
	assert.ErrorIs(t, remote, MethodNotFound)
	assert.NotErrorIs(t, remote, InvalidParams)
	assert.ErrorIs(t, parseErrorf("x"), ParseError)
	assert.ErrorIs(t, invalidParamsf("x"), InvalidParams)
	assert.ErrorIs(t, NewError(-32602, "custom", nil), InvalidParams)
}

func TestHTTPErrorText(t *testing.T) {
	assert.Equal(t, "404 Not Found", HTTPError{StatusCode: 404, Status: "404 Not Found"}.Error())
	assert.Equal(t, "500 Internal Server Error: oops", HTTPError{StatusCode: 500, Status: "500 Internal Server Error", Body: []byte("oops")}.Error())
}
