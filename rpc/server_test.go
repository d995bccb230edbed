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

package rpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/go-rpckit/rpc"
	"github.com/sunyihoo/go-rpckit/rpc/jsonrpc"
	"github.com/sunyihoo/go-rpckit/rpc/msgpackrpc"
)

type testService struct{}

type person struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func (testService) Add(a, b int) int { return a + b }

func (testService) Sum(nums []int) int {
	var total int
	for _, n := range nums {
		total += n
	}
	return total
}

func (testService) Reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func (testService) Echo(v any) any { return v }

func (testService) Person(name string, age int) person { return person{Name: name, Age: age} }

func (testService) Cheat() error {
	return rpc.NewError(99, "Ah, that's cheating!", map[string]any{"msg": "x"})
}

func (testService) Sleep(ctx context.Context, ms int) (string, error) {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (testService) Peer(ctx context.Context) string {
	return rpc.PeerInfoFromContext(ctx).Transport
}

func newTestRegistry(t *testing.T) *rpc.Registry {
	t.Helper()
	reg := rpc.NewRegistry()
	require.NoError(t, reg.RegisterReceiver("test.", testService{}))
	return reg
}

func newTestServer(t *testing.T, protocol rpc.Protocol, opts ...rpc.ServerOption) *rpc.Server {
	t.Helper()
	return rpc.NewServer(protocol, newTestRegistry(t), opts...)
}

func TestServerHandleJSON(t *testing.T) {
	srv := newTestServer(t, jsonrpc.New())
	ctx := context.Background()

	tests := []struct {
		name, in, want string
	}{
		{
			name: "call",
			in:   `{"jsonrpc":"2.0","method":"test.add","params":[1,2],"id":1}`,
			want: `{"jsonrpc":"2.0","result":3,"id":1}`,
		},
		{
			name: "reverse",
			in:   `{"jsonrpc":"2.0","method":"test.reverse","params":["hello"],"id":"a"}`,
			want: `{"jsonrpc":"2.0","result":"olleh","id":"a"}`,
		},
		{
			name: "unknown method",
			in:   `{"jsonrpc":"2.0","method":"test.missing","id":2}`,
			want: `{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":2}`,
		},
		{
			name: "tagged error",
			in:   `{"jsonrpc":"2.0","method":"test.cheat","id":3}`,
			want: `{"jsonrpc":"2.0","error":{"code":99,"message":"Ah, that's cheating!","data":{"msg":"x"}},"id":3}`,
		},
		{
			name: "batch",
			in:   `[{"jsonrpc":"2.0","method":"test.add","params":[1,2],"id":1},{"jsonrpc":"2.0","method":"test.add","params":[3,4]},{"jsonrpc":"2.0","method":"test.sum","params":[[1,2,3]],"id":2}]`,
			want: `[{"jsonrpc":"2.0","result":3,"id":1},{"jsonrpc":"2.0","result":6,"id":2}]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, string(srv.Handle(ctx, []byte(tt.in))))
		})
	}

	assert.Nil(t, srv.Handle(ctx, []byte(`{"jsonrpc":"2.0","method":"test.add","params":[1,2]}`)))
	assert.Nil(t, srv.Handle(ctx, []byte(`{"jsonrpc":"2.0","method":"test.missing"}`)))
	assert.Nil(t, srv.Handle(ctx, []byte(`[{"jsonrpc":"2.0","method":"test.add","params":[1,2]}]`)))
}

func TestServerHandleParseError(t *testing.T) {
	srv := newTestServer(t, jsonrpc.New())
	reply := srv.Handle(context.Background(), []byte(`{not json`))

	var resp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		ID any `json:"id"`
	}
	require.NoError(t, json.Unmarshal(reply, &resp))
	assert.Equal(t, -32700, resp.Error.Code)
	assert.Equal(t, "Parse error", resp.Error.Message)
	assert.Nil(t, resp.ID)
	assert.Contains(t, string(reply), `"id":null`)
}

func TestServerHandleMsgpack(t *testing.T) {
	p := msgpackrpc.New()
	srv := newTestServer(t, p)
	ctx := context.Background()

	req, err := p.CreateRequest("test.reverse", []any{"hello"}, nil, false)
	require.NoError(t, err)
	data, err := p.Serialize(req)
	require.NoError(t, err)

	reply, err := p.ParseReply(srv.Handle(ctx, data))
	require.NoError(t, err)
	assert.Equal(t, &rpc.SuccessResponse{ID: req.ID, Result: "olleh"}, reply)

	note, err := p.CreateRequest("test.missing", nil, nil, true)
	require.NoError(t, err)
	data, err = p.Serialize(note)
	require.NoError(t, err)
	assert.Nil(t, srv.Handle(ctx, data))
}

func TestServerRequestTimeout(t *testing.T) {
	srv := newTestServer(t, jsonrpc.New(), rpc.WithRequestTimeout(50*time.Millisecond))
	reply := srv.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"test.sleep","params":[5000],"id":1}`))
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32002,"message":"request timed out"},"id":1}`, string(reply))

	reply = srv.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"test.sleep","params":[1],"id":2}`))
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"done","id":2}`, string(reply))
}

func TestServerExpiredDeadline(t *testing.T) {
	var calls atomic.Int32
	reg := rpc.NewRegistry()
	require.NoError(t, reg.AddMethod("count", func() int { return int(calls.Add(1)) }))
	srv := rpc.NewServer(jsonrpc.New(), reg)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	reply := srv.Handle(ctx, []byte(`{"jsonrpc":"2.0","method":"count","id":1}`))
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32002,"message":"request timed out"},"id":1}`, string(reply))
	assert.Zero(t, calls.Load())

	reply = srv.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"count","id":2}`))
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":1,"id":2}`, string(reply))
}

func TestServerRateLimit(t *testing.T) {
	srv := newTestServer(t, jsonrpc.New(), rpc.WithRateLimit(0.001, 1))
	ctx := context.Background()
	in := []byte(`{"jsonrpc":"2.0","method":"test.add","params":[1,2],"id":1}`)

	assert.JSONEq(t, `{"jsonrpc":"2.0","result":3,"id":1}`, string(srv.Handle(ctx, in)))
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32005,"message":"request rate limit exceeded"},"id":1}`, string(srv.Handle(ctx, in)))
}

func TestServerBatchLimit(t *testing.T) {
	srv := newTestServer(t, jsonrpc.New(), rpc.WithBatchLimit(2))
	in := `[
		{"jsonrpc":"2.0","method":"test.add","params":[1,2]},
		{"jsonrpc":"2.0","method":"test.add","params":[1,2],"id":7},
		{"jsonrpc":"2.0","method":"test.add","params":[1,2],"id":8}
	]`
	reply := srv.Handle(context.Background(), []byte(in))

	var resps []map[string]any
	require.NoError(t, json.Unmarshal(reply, &resps))
	require.Len(t, resps, 1)
	assert.Equal(t, float64(7), resps[0]["id"])
	errObj := resps[0]["error"].(map[string]any)
	assert.Equal(t, float64(-32600), errObj["code"])
	assert.Contains(t, errObj["data"], "batch too large")
}

func TestServerBatchConcurrencyKeepsOrder(t *testing.T) {
	srv := newTestServer(t, jsonrpc.New(), rpc.WithBatchConcurrency(4))
	var b strings.Builder
	b.WriteString("[")
	delays := []int{80, 10, 40, 0, 20}
	for i, d := range delays {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"jsonrpc":"2.0","method":"test.sleep","params":[`)
		b.WriteString(strconv.Itoa(d))
		b.WriteString(`],"id":`)
		b.WriteString(strconv.Itoa(i))
		b.WriteString("}")
	}
	b.WriteString("]")

	start := time.Now()
	reply := srv.Handle(context.Background(), []byte(b.String()))
	elapsed := time.Since(start)

	var resps []struct {
		ID     int    `json:"id"`
		Result string `json:"result"`
	}
	require.NoError(t, json.Unmarshal(reply, &resps))
	require.Len(t, resps, len(delays))
	for i, r := range resps {
		assert.Equal(t, i, r.ID)
		assert.Equal(t, "done", r.Result)
	}
	// Sequential execution would take at least the sum of all delays.
	assert.Less(t, elapsed, 150*time.Millisecond)
}

func TestServerStop(t *testing.T) {
	srv := newTestServer(t, jsonrpc.New())
	srv.Stop()
	reply := srv.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"test.add","params":[1,2],"id":1}`))
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32000,"message":"server is shutting down"},"id":1}`, string(reply))
}

func TestServeInProc(t *testing.T) {
	srv := newTestServer(t, jsonrpc.New())
	transport := rpc.NewInProcTransport()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, transport) }()

	reply, err := transport.SendMessage(ctx, []byte(`{"jsonrpc":"2.0","method":"test.add","params":[2,2],"id":1}`), true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":4,"id":1}`, string(reply))

	reply, err = transport.SendMessage(ctx, []byte(`{"jsonrpc":"2.0","method":"test.add","params":[2,2]}`), true)
	require.NoError(t, err)
	assert.Nil(t, reply)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	transport.Close()
	_, err = transport.SendMessage(context.Background(), []byte(`{}`), true)
	assert.True(t, errors.Is(err, rpc.ErrTransportClosed))
}
