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
	"time"
)

// Dispatch resolves and invokes the handler for req and converts the outcome
// into a response. It returns nil for one-way requests, whatever the outcome.
// Failures of one-way requests are logged and passed to the
// NotificationErrorHandler instead.
//
// Dispatch 调用请求对应的处理函数，并将结果转换为响应。单向请求总是返回 nil。
func (r *Registry) Dispatch(ctx context.Context, req *Request) Response {
	if req.Err != nil {
		return NewErrorResponse(req.Err, req.ID)
	}
	start := time.Now()
	result, err := r.invoke(ctx, req)
	elapsed := time.Since(start)
	label := req.Call.Method
	if _, ok := err.(*MethodNotFoundError); ok {
		label = "unknown"
	}
	updateServeMetrics(label, err == nil, elapsed)

	if req.OneWay {
		if err != nil {
			r.notificationFailed(req, err)
		} else {
			r.log.Debug("Served "+req.Call.Method, "duration", elapsed)
		}
		return nil
	}
	if err != nil {
		resp := NewErrorResponse(err, req.ID)
		logctx := []any{"reqid", req.ID, "duration", elapsed, "err", resp.Error.Message}
		if resp.Error.Data != nil {
			logctx = append(logctx, "errdata", resp.Error.Data)
		}
		r.log.Warn("Served "+req.Call.Method, logctx...)
		return resp
	}
	r.log.Debug("Served "+req.Call.Method, "reqid", req.ID, "duration", elapsed)
	return &SuccessResponse{ID: req.ID, Result: result}
}

func (r *Registry) invoke(ctx context.Context, req *Request) (any, error) {
	h, err := r.GetMethod(req.Call.Method)
	if err != nil {
		return nil, err
	}
	res, err := h.Call(ctx, req.Call.Args, req.Call.Kwargs)
	var crash *handlerPanic
	if errors.As(err, &crash) {
		r.log.Error("RPC method " + crash.method + " crashed: " + fmt.Sprintf("%v\n%s", crash.value, crash.stack))
	}
	return res, err
}

func (r *Registry) notificationFailed(req *Request, err error) {
	eo := ToErrorObject(err)
	notificationFailureCounter.Inc()
	r.log.Warn("Failed notification "+req.Call.Method, "code", eo.Code, "err", eo.Message)
	if r.onNotifyE != nil {
		r.onNotifyE(req, eo)
	}
}

// DispatchBatch dispatches every member of b in order and collects the
// responses of the two-way members. The result is nil when no member expects a
// reply.
func (r *Registry) DispatchBatch(ctx context.Context, b BatchRequest) BatchResponse {
	var resp BatchResponse
	for _, req := range b {
		if res := r.Dispatch(ctx, req); res != nil {
			resp = append(resp, res)
		}
	}
	return resp
}
