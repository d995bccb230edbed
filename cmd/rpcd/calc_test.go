// Copyright 2025 The go-rpckit Authors
// This file is part of go-rpckit.
//
// go-rpckit is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-rpckit is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-rpckit. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/go-rpckit/rpc"
	"github.com/sunyihoo/go-rpckit/rpc/jsonrpc"
	"github.com/sunyihoo/go-rpckit/rpc/msgpackrpc"
)

func newCalcClient(t *testing.T, protocol rpc.Protocol) *rpc.Client {
	t.Helper()
	reg := rpc.NewRegistry()
	require.NoError(t, reg.RegisterReceiver("calc.", calcService{}))
	srv := rpc.NewServer(protocol, reg)
	t.Cleanup(srv.Stop)
	client := rpc.DialInProc(srv)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCalcMethods(t *testing.T) {
	for _, p := range []rpc.Protocol{jsonrpc.New(), msgpackrpc.New()} {
		t.Run(p.Name(), func(t *testing.T) {
			var (
				ctx    = context.Background()
				client = newCalcClient(t, p)
				calc   = client.Proxy("calc.", false)
			)
			res, err := calc.Call(ctx, "reverse", "héllo")
			require.NoError(t, err)
			assert.Equal(t, "olléh", res)

			res, err = calc.Call(ctx, "add", 1, 2)
			require.NoError(t, err)
			assert.EqualValues(t, 3, res)

			res, err = calc.Call(ctx, "subtract", 10, 2.5)
			require.NoError(t, err)
			assert.EqualValues(t, 7.5, res)

			res, err = calc.CallNamed(ctx, "scale", map[string]any{"value": 1.5, "factor": 4})
			if p.Name() == "msgpack" {
				assert.ErrorContains(t, err, "named arguments are not supported")
			} else {
				require.NoError(t, err)
				assert.EqualValues(t, 6, res)

				_, err = calc.CallNamed(ctx, "subtract", map[string]any{"a": 5, "b": 3})
				assert.ErrorIs(t, err, rpc.InvalidParams)
			}

			res, err = calc.Call(ctx, "sum", []any{1, 2, 3, 4})
			require.NoError(t, err)
			assert.EqualValues(t, 10, res)

			res, err = calc.Call(ctx, "echo", map[string]any{"a": []any{1, "b"}})
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"a": []any{int64(1), "b"}}, res)

			_, err = calc.Call(ctx, "divide", 1, 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, rpc.InternalError)
			assert.Contains(t, err.Error(), "division by zero")
		})
	}
}

func TestCalcCheat(t *testing.T) {
	client := newCalcClient(t, jsonrpc.New())
	_, err := client.Call(context.Background(), "calc.cheat")

	var obj *rpc.ErrorObject
	require.ErrorAs(t, err, &obj)
	assert.Equal(t, 99, obj.Code)
	assert.Equal(t, "Ah, that's cheating!", obj.Message)
	assert.Equal(t, map[string]any{"msg": "x"}, obj.Data)
}

func TestCalcSleepCancelled(t *testing.T) {
	client := newCalcClient(t, jsonrpc.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Call(ctx, "calc.sleep", 10000)
	assert.Error(t, err)
}
