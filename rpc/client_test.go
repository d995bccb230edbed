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
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/go-rpckit/rpc"
	"github.com/sunyihoo/go-rpckit/rpc/jsonrpc"
	"github.com/sunyihoo/go-rpckit/rpc/msgpackrpc"
)

func TestClientCall(t *testing.T) {
	for _, p := range []rpc.Protocol{jsonrpc.New(), msgpackrpc.New()} {
		t.Run(p.Name(), func(t *testing.T) {
			client := rpc.DialInProc(newTestServer(t, p))
			defer client.Close()
			ctx := context.Background()

			res, err := client.Call(ctx, "test.add", 1, 2)
			require.NoError(t, err)
			assert.Equal(t, int64(3), res)

			res, err = client.Call(ctx, "test.echo", []any{"a", 1.5, nil})
			require.NoError(t, err)
			assert.Equal(t, []any{"a", 1.5, nil}, res)

			var sum int
			require.NoError(t, client.CallInto(ctx, &sum, "test.sum", []int{1, 2, 3, 4}))
			assert.Equal(t, 10, sum)

			_, err = client.Call(ctx, "test.missing")
			assert.ErrorIs(t, err, rpc.MethodNotFound)

			_, err = client.Call(ctx, "test.cheat")
			var eo *rpc.ErrorObject
			require.ErrorAs(t, err, &eo)
			assert.Equal(t, 99, eo.Code)
			assert.Equal(t, "Ah, that's cheating!", eo.Message)
			assert.Equal(t, map[string]any{"msg": "x"}, eo.Data)

			require.NoError(t, client.Notify(ctx, "test.add", 1, 2))
		})
	}
}

func TestClientCallInto(t *testing.T) {
	client := rpc.DialInProc(newTestServer(t, jsonrpc.New()))
	defer client.Close()

	var p person
	require.NoError(t, client.CallInto(context.Background(), &p, "test.person", "Ada", 36))
	assert.Equal(t, person{Name: "Ada", Age: 36}, p)

	var s string
	err := client.CallInto(context.Background(), &s, "test.add", 1, 2)
	assert.Error(t, err)
}

func TestClientCallNamed(t *testing.T) {
	reg := rpc.NewRegistry()
	require.NoError(t, reg.AddMethod("greet", func(p person) string { return p.Name }))
	client := rpc.DialInProc(rpc.NewServer(jsonrpc.New(), reg))
	defer client.Close()

	res, err := client.CallNamed(context.Background(), "greet", map[string]any{"name": "Ada", "age": 36})
	require.NoError(t, err)
	assert.Equal(t, "Ada", res)
}

func TestClientNotifyRunsHandler(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
		done = make(chan struct{})
	)
	reg := rpc.NewRegistry()
	require.NoError(t, reg.AddMethod("log", func(msg string) {
		mu.Lock()
		seen = append(seen, msg)
		mu.Unlock()
		close(done)
	}))
	client := rpc.DialInProc(rpc.NewServer(msgpackrpc.New(), reg))
	defer client.Close()

	require.NoError(t, client.Notify(context.Background(), "log", "hello"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notification was not handled")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello"}, seen)
}

func TestClientCallAll(t *testing.T) {
	client := rpc.DialInProc(newTestServer(t, jsonrpc.New()))
	defer client.Close()

	var sum int
	batch := []rpc.BatchElem{
		{Method: "test.add", Args: []any{1, 2}},
		{Method: "test.missing"},
		{Method: "test.sum", Args: []any{[]int{1, 2, 3}}, Result: &sum},
		{Method: "test.reverse", Args: []any{"abc"}},
	}
	require.NoError(t, client.CallAll(context.Background(), batch))

	assert.NoError(t, batch[0].Error)
	assert.Equal(t, int64(3), batch[0].Result)
	assert.ErrorIs(t, batch[1].Error, rpc.MethodNotFound)
	assert.NoError(t, batch[2].Error)
	assert.Equal(t, 6, sum)
	assert.NoError(t, batch[3].Error)
	assert.Equal(t, "cba", batch[3].Result)
}

func TestClientCallAllUnsupported(t *testing.T) {
	client := rpc.DialInProc(newTestServer(t, msgpackrpc.New()))
	defer client.Close()

	err := client.CallAll(context.Background(), []rpc.BatchElem{{Method: "test.add", Args: []any{1, 2}}})
	assert.ErrorIs(t, err, rpc.ErrBatchUnsupported)
}

func TestClientProxy(t *testing.T) {
	client := rpc.DialInProc(newTestServer(t, jsonrpc.New()))
	defer client.Close()
	ctx := context.Background()

	res, err := client.Proxy("test.", false).Call(ctx, "reverse", "abc")
	require.NoError(t, err)
	assert.Equal(t, "cba", res)

	res, err = client.Proxy("test.", true).Call(ctx, "reverse", "abc")
	require.NoError(t, err)
	assert.Nil(t, res)
}

// recordingTransport keeps every message sent through it.
type recordingTransport struct {
	msgs        []string
	expectReply []bool
}

func (t *recordingTransport) SendMessage(ctx context.Context, msg []byte, expectReply bool) ([]byte, error) {
	t.msgs = append(t.msgs, string(msg))
	t.expectReply = append(t.expectReply, expectReply)
	return nil, nil
}

func TestClientOneWayProxy(t *testing.T) {
	tr := new(recordingTransport)
	client := rpc.NewClient(jsonrpc.New(), tr)
	ctx := context.Background()
	proxy := client.Proxy("calc.", true)

	res, err := proxy.Call(ctx, "add", 1, 2)
	require.NoError(t, err)
	assert.Nil(t, res)
	res, err = proxy.CallNamed(ctx, "scale", map[string]any{"value": 2})
	require.NoError(t, err)
	assert.Nil(t, res)
	require.NoError(t, client.Notify(ctx, "calc.echo", "x"))

	require.Len(t, tr.msgs, 3)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"calc.add","params":[1,2]}`, tr.msgs[0])
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"calc.scale","params":{"value":2}}`, tr.msgs[1])
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"calc.echo","params":["x"]}`, tr.msgs[2])
	assert.Equal(t, []bool{false, false, false}, tr.expectReply)

	// Codec restrictions apply to one-way calls too.
	_, err = rpc.NewClient(msgpackrpc.New(), tr).Proxy("calc.", true).CallNamed(ctx, "scale", map[string]any{"value": 2})
	assert.Error(t, err)
	assert.Len(t, tr.msgs, 3)
}

// replayTransport answers every message with a fixed reply.
type replayTransport struct {
	reply string
}

func (t replayTransport) SendMessage(ctx context.Context, msg []byte, expectReply bool) ([]byte, error) {
	return []byte(t.reply), nil
}

func TestClientRejectsUnsolicitedReply(t *testing.T) {
	p := jsonrpc.New()
	client := rpc.NewClient(p, replayTransport{reply: `{"jsonrpc":"2.0","result":1,"id":42}`})
	_, err := client.Call(context.Background(), "x")
	var merr *rpc.MalformedReplyError
	assert.ErrorAs(t, err, &merr)

	// Errors without id are reported as they are.
	client = rpc.NewClient(p, replayTransport{reply: `{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse error"},"id":null}`})
	_, err = client.Call(context.Background(), "x")
	assert.ErrorIs(t, err, rpc.ParseError)

	client = rpc.NewClient(p, replayTransport{reply: ``})
	_, err = client.Call(context.Background(), "x")
	assert.ErrorIs(t, err, rpc.ErrNoResult)
}

func TestClientMissingBatchResponse(t *testing.T) {
	p := jsonrpc.New()
	// The ids 1 and 2 are allocated by the batch below.
	client := rpc.NewClient(p, replayTransport{reply: `[{"jsonrpc":"2.0","result":"first","id":1}]`})
	batch := []rpc.BatchElem{{Method: "a"}, {Method: "b"}}
	require.NoError(t, client.CallAll(context.Background(), batch))
	assert.Equal(t, "first", batch[0].Result)
	assert.ErrorIs(t, batch[1].Error, rpc.ErrMissingBatchResponse)
}

func TestHTTPTransport(t *testing.T) {
	for _, p := range []rpc.Protocol{jsonrpc.New(), msgpackrpc.New()} {
		t.Run(p.Name(), func(t *testing.T) {
			ts := httptest.NewServer(newTestServer(t, p))
			defer ts.Close()
			ctx := context.Background()

			client, err := rpc.Dial(ctx, ts.URL, p)
			require.NoError(t, err)
			defer client.Close()

			res, err := client.Call(ctx, "test.reverse", "hello")
			require.NoError(t, err)
			assert.Equal(t, "olleh", res)

			res, err = client.Call(ctx, "test.peer")
			require.NoError(t, err)
			assert.Equal(t, "http", res)

			require.NoError(t, client.Notify(ctx, "test.add", 1, 2))
		})
	}
}

func TestHTTPServerRequests(t *testing.T) {
	srv := newTestServer(t, jsonrpc.New(), rpc.WithHTTPBodyLimit(128))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	post := func(contentType, body string) *http.Response {
		resp, err := http.Post(ts.URL, contentType, strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post("application/json", `{"jsonrpc":"2.0","method":"test.add","params":[1,2],"id":1}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("content-type"))

	resp = post("application/json-rpc", `{"jsonrpc":"2.0","method":"test.add","params":[1,2]}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = post("text/plain", `{"jsonrpc":"2.0","method":"test.add","params":[1,2],"id":1}`)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp = post("application/json", `{"jsonrpc":"2.0","method":"test.echo","params":["`+strings.Repeat("x", 200)+`"],"id":1}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPErrorStatus(t *testing.T) {
	// A msgpack client talking to a JSON server is rejected by content type.
	ts := httptest.NewServer(newTestServer(t, jsonrpc.New()))
	defer ts.Close()

	client, err := rpc.Dial(context.Background(), ts.URL, msgpackrpc.New())
	require.NoError(t, err)
	_, err = client.Call(context.Background(), "test.add", 1, 2)

	var herr rpc.HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, http.StatusUnsupportedMediaType, herr.StatusCode)
}

func TestHTTPHeaders(t *testing.T) {
	var got http.Header
	inner := newTestServer(t, jsonrpc.New())
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		inner.ServeHTTP(w, r)
	}))
	defer ts.Close()

	client, err := rpc.Dial(context.Background(), ts.URL, jsonrpc.New(), rpc.WithHeader("x-api", "one"))
	require.NoError(t, err)

	ctx := rpc.NewContextWithHeaders(context.Background(), http.Header{"X-Trace": {"abc"}})
	_, err = client.Call(ctx, "test.add", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "one", got.Get("X-Api"))
	assert.Equal(t, "abc", got.Get("X-Trace"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
}

func TestHTTPHandlerCORS(t *testing.T) {
	ts := httptest.NewServer(rpc.NewHTTPHandler(newTestServer(t, jsonrpc.New()), []string{"http://example.com"}))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL, nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ = http.NewRequest(http.MethodOptions, ts.URL, nil)
	req.Header.Set("Origin", "http://evil.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestWebsocketTransport(t *testing.T) {
	for _, p := range []rpc.Protocol{jsonrpc.New(), msgpackrpc.New()} {
		t.Run(p.Name(), func(t *testing.T) {
			srv := newTestServer(t, p)
			ts := httptest.NewServer(srv.WebsocketHandler([]string{"*"}))
			defer ts.Close()
			ctx := context.Background()

			client, err := rpc.Dial(ctx, wsURL(ts), p)
			require.NoError(t, err)
			defer client.Close()

			res, err := client.Call(ctx, "test.add", 40, 2)
			require.NoError(t, err)
			assert.Equal(t, int64(42), res)

			require.NoError(t, client.Notify(ctx, "test.missing"))

			res, err = client.Call(ctx, "test.peer")
			require.NoError(t, err)
			assert.Equal(t, "ws", res)

			_, err = client.Call(ctx, "test.cheat")
			var eo *rpc.ErrorObject
			require.ErrorAs(t, err, &eo)
			assert.Equal(t, 99, eo.Code)
		})
	}
}

func TestWebsocketConcurrentCalls(t *testing.T) {
	srv := newTestServer(t, jsonrpc.New())
	ts := httptest.NewServer(srv.WebsocketHandler(nil))
	defer ts.Close()

	client, err := rpc.DialWebsocket(context.Background(), wsURL(ts), jsonrpc.New())
	require.NoError(t, err)
	defer client.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var sum int
			err := client.CallInto(context.Background(), &sum, "test.add", i, i)
			assert.NoError(t, err)
			assert.Equal(t, 2*i, sum)
		}()
	}
	wg.Wait()

	batch := []rpc.BatchElem{{Method: "test.add", Args: []any{1, 1}}, {Method: "test.reverse", Args: []any{"ab"}}}
	require.NoError(t, client.CallAll(context.Background(), batch))
	assert.Equal(t, int64(2), batch[0].Result)
	assert.Equal(t, "ba", batch[1].Result)
}

func TestWebsocketOriginCheck(t *testing.T) {
	srv := newTestServer(t, jsonrpc.New())
	ts := httptest.NewServer(srv.WebsocketHandler([]string{"http://good.example"}))
	defer ts.Close()

	_, err := rpc.DialWebsocket(context.Background(), wsURL(ts), jsonrpc.New(), rpc.WithHeader("Origin", "http://evil.example"))
	require.Error(t, err)

	client, err := rpc.DialWebsocket(context.Background(), wsURL(ts), jsonrpc.New(), rpc.WithHeader("Origin", "http://good.example"))
	require.NoError(t, err)
	client.Close()
}

func TestDialUnknownScheme(t *testing.T) {
	_, err := rpc.Dial(context.Background(), "ftp://localhost", jsonrpc.New())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, rpc.ErrTransportClosed))
}
