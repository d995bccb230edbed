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

package node

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/go-rpckit/rpc"
)

func testNodeConfig() *Config {
	return &Config{
		Name:             "test node",
		Version:          "1.0",
		Protocol:         "jsonrpc",
		HTTPHost:         "127.0.0.1",
		HTTPVirtualHosts: []string{"localhost"},
		HTTPTimeouts:     rpc.DefaultHTTPTimeouts,
	}
}

func createNode(t *testing.T, conf *Config) *Node {
	t.Helper()
	n, err := New(conf)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

type echoService struct{}

func (echoService) Echo(s string) string { return s }

func (echoService) Add(a, b int) int { return a + b }

type recordingLifecycle struct {
	name     string
	events   *[]string
	startErr error
}

func (l *recordingLifecycle) Start() error {
	if l.startErr != nil {
		return l.startErr
	}
	*l.events = append(*l.events, "start "+l.name)
	return nil
}

func (l *recordingLifecycle) Stop() error {
	*l.events = append(*l.events, "stop "+l.name)
	return nil
}

// Tests that an empty node can be started and stopped, and that invalid state
// transitions are reported.
func TestNodeLifeCycle(t *testing.T) {
	n, err := New(testNodeConfig())
	require.NoError(t, err)

	require.NoError(t, n.Start())
	assert.ErrorIs(t, n.Start(), ErrNodeRunning)
	require.NoError(t, n.Close())
	assert.ErrorIs(t, n.Close(), ErrNodeStopped)
	assert.ErrorIs(t, n.Start(), ErrNodeStopped)
}

func TestNodeCloseWithoutStart(t *testing.T) {
	n, err := New(testNodeConfig())
	require.NoError(t, err)
	require.NoError(t, n.Close())
	n.Wait()
}

func TestNodeInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"name", func(c *Config) { c.Name = "a/b" }},
		{"protocol", func(c *Config) { c.Protocol = "xml" }},
		{"http prefix", func(c *Config) { c.HTTPPathPrefix = "rpc" }},
		{"ws prefix", func(c *Config) { c.WSPathPrefix = "/ws?x" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := testNodeConfig()
			tt.modify(conf)
			_, err := New(conf)
			assert.Error(t, err)
		})
	}
}

func TestLifecycleOrder(t *testing.T) {
	var events []string
	n := createNode(t, testNodeConfig())
	n.RegisterLifecycle(&recordingLifecycle{name: "a", events: &events})
	n.RegisterLifecycle(&recordingLifecycle{name: "b", events: &events})

	require.NoError(t, n.Start())
	require.NoError(t, n.Close())
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, events)
}

func TestLifecycleStartFailure(t *testing.T) {
	var events []string
	failure := errors.New("boom")
	n := createNode(t, testNodeConfig())
	n.RegisterLifecycle(&recordingLifecycle{name: "a", events: &events})
	n.RegisterLifecycle(&recordingLifecycle{name: "b", events: &events, startErr: failure})
	n.RegisterLifecycle(&recordingLifecycle{name: "c", events: &events})

	assert.ErrorIs(t, n.Start(), failure)
	assert.Equal(t, []string{"start a", "stop a"}, events)
}

func TestRegisterLifecycleTwice(t *testing.T) {
	var events []string
	n := createNode(t, testNodeConfig())
	l := &recordingLifecycle{name: "a", events: &events}
	n.RegisterLifecycle(l)
	assert.Panics(t, func() { n.RegisterLifecycle(l) })
}

func TestNodeHTTP(t *testing.T) {
	for _, proto := range []string{"jsonrpc", "msgpack"} {
		t.Run(proto, func(t *testing.T) {
			conf := testNodeConfig()
			conf.Protocol = proto
			n := createNode(t, conf)
			require.NoError(t, n.RegisterReceiver("echo.", echoService{}))
			require.NoError(t, n.Start())

			p, err := NewProtocol(proto, nil)
			require.NoError(t, err)
			client, err := rpc.Dial(context.Background(), n.HTTPEndpoint(), p)
			require.NoError(t, err)
			defer client.Close()

			res, err := client.Call(context.Background(), "echo.add", 2, 3)
			require.NoError(t, err)
			assert.EqualValues(t, 5, res)
		})
	}
}

func TestNodeWebsocket(t *testing.T) {
	conf := testNodeConfig()
	conf.WSEnabled = true
	conf.WSPathPrefix = "/ws"
	n := createNode(t, conf)
	require.NoError(t, n.RegisterReceiver("echo.", echoService{}))
	require.NoError(t, n.Start())

	p, _ := NewProtocol("jsonrpc", nil)
	client, err := rpc.DialWebsocket(context.Background(), n.WSEndpoint(), p)
	require.NoError(t, err)
	defer client.Close()

	res, err := client.Call(context.Background(), "echo.echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", res)
}

func TestNodeMetrics(t *testing.T) {
	conf := testNodeConfig()
	conf.MetricsEnabled = true
	n := createNode(t, conf)
	require.NoError(t, n.RegisterReceiver("echo.", echoService{}))
	require.NoError(t, n.Start())

	client := n.Attach()
	_, err := client.Call(context.Background(), "echo.echo", "x")
	require.NoError(t, err)

	resp, err := http.Get(n.HTTPEndpoint() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "rpc_requests_total")
}

func TestMetadataAPI(t *testing.T) {
	n := createNode(t, testNodeConfig())
	client := n.Attach()
	ctx := context.Background()

	var methods []string
	require.NoError(t, client.CallInto(ctx, &methods, "rpc.methods"))
	assert.Contains(t, methods, "rpc.version")
	assert.Contains(t, methods, "admin.startHTTP")
	assert.NotContains(t, methods, "debug.stacks")

	version, err := client.Call(ctx, "rpc.version")
	require.NoError(t, err)
	assert.Equal(t, "test node/v1.0", version)

	protocol, err := client.Call(ctx, "rpc.protocol")
	require.NoError(t, err)
	assert.Equal(t, "jsonrpc", protocol)
}

func TestDebugAPIRegistration(t *testing.T) {
	conf := testNodeConfig()
	conf.DebugAPI = true
	n := createNode(t, conf)
	assert.Contains(t, n.Registry().Methods(), "debug.stacks")
	assert.Contains(t, n.Registry().Methods(), "debug.verbosity")
}

func TestAdminStartStopHTTP(t *testing.T) {
	conf := testNodeConfig()
	conf.HTTPHost = ""
	n := createNode(t, conf)
	require.NoError(t, n.RegisterReceiver("echo.", echoService{}))
	require.NoError(t, n.Start())
	ctx := context.Background()
	admin := n.Attach()

	ok, err := admin.Call(ctx, "admin.startHTTP", "127.0.0.1", 0)
	require.NoError(t, err)
	assert.Equal(t, true, ok)

	p, _ := NewProtocol("jsonrpc", nil)
	client, err := rpc.Dial(ctx, n.HTTPEndpoint(), p)
	require.NoError(t, err)
	res, err := client.Call(ctx, "echo.echo", "over http")
	require.NoError(t, err)
	assert.Equal(t, "over http", res)

	// Enabling RPC twice is refused.
	_, err = admin.Call(ctx, "admin.startHTTP", "127.0.0.1", 0)
	assert.Error(t, err)

	_, err = admin.Call(ctx, "admin.stopHTTP")
	require.NoError(t, err)
	_, err = client.Call(ctx, "echo.echo", "gone")
	assert.Error(t, err)
}

func TestNewProtocol(t *testing.T) {
	for name, want := range map[string]string{
		"":           "jsonrpc",
		"json":       "jsonrpc",
		"JSONRPC":    "jsonrpc",
		"msgpack":    "msgpack",
		"msgpackrpc": "msgpack",
	} {
		p, err := NewProtocol(name, rpc.SequentialIDs(1))
		require.NoError(t, err, name)
		assert.Equal(t, want, p.Name())
	}
	_, err := NewProtocol("xml", nil)
	assert.Error(t, err)
}
