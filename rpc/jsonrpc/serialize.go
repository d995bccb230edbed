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

package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sunyihoo/go-rpckit/rpc"
)

type jsonRequest struct {
	Version string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      any    `json:"id,omitempty"`
}

type jsonSuccess struct {
	Version string `json:"jsonrpc"`
	Result  any    `json:"result"`
	ID      any    `json:"id"`
}

type jsonFailure struct {
	Version string     `json:"jsonrpc"`
	Error   *jsonError `json:"error"`
	ID      any        `json:"id"`
}

type jsonError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Serialize implements rpc.Protocol. A BatchResponse without entries, i.e. the
// reply to a batch of notifications only, serializes to nil.
func (p *Protocol) Serialize(msg rpc.Message) ([]byte, error) {
	switch msg := msg.(type) {
	case rpc.BatchResponse:
		if len(msg) == 0 {
			return nil, nil
		}
		envs := make([]any, len(msg))
		for i, resp := range msg {
			env, err := envelope(resp)
			if err != nil {
				return nil, err
			}
			envs[i] = env
		}
		return marshal(envs)
	case rpc.BatchRequest:
		if len(msg) == 0 {
			return nil, errors.New("jsonrpc: empty batch")
		}
		envs := make([]any, len(msg))
		for i, req := range msg {
			env, err := envelope(req)
			if err != nil {
				return nil, err
			}
			envs[i] = env
		}
		return marshal(envs)
	default:
		env, err := envelope(msg)
		if err != nil {
			return nil, err
		}
		return marshal(env)
	}
}

func envelope(msg rpc.Message) (any, error) {
	switch msg := msg.(type) {
	case *rpc.Request:
		if msg.Err != nil {
			return nil, fmt.Errorf("jsonrpc: can not serialize invalid request: %w", msg.Err)
		}
		env := &jsonRequest{Version: vsn, Method: msg.Call.Method}
		switch {
		case len(msg.Call.Kwargs) > 0 && len(msg.Call.Args) > 0:
			return nil, errMixedParams
		case len(msg.Call.Kwargs) > 0:
			env.Params = msg.Call.Kwargs
		case len(msg.Call.Args) > 0:
			env.Params = msg.Call.Args
		}
		if !msg.OneWay {
			env.ID = msg.ID
		}
		return env, nil
	case *rpc.SuccessResponse:
		return &jsonSuccess{Version: vsn, Result: msg.Result, ID: msg.ID}, nil
	case *rpc.ErrorResponse:
		eo := msg.Error
		if eo == nil {
			eo = rpc.ToErrorObject(rpc.InternalError)
		}
		return &jsonFailure{
			Version: vsn,
			Error:   &jsonError{Code: eo.Code, Message: eo.Message, Data: eo.Data},
			ID:      msg.ID,
		}, nil
	case nil:
		return nil, errors.New("jsonrpc: nil message")
	default:
		return nil, fmt.Errorf("jsonrpc: can not serialize %T", msg)
	}
}

func marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: %w", err)
	}
	return b, nil
}
