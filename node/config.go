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
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sunyihoo/go-rpckit/log"
	"github.com/sunyihoo/go-rpckit/rpc"
	"github.com/sunyihoo/go-rpckit/rpc/jsonrpc"
	"github.com/sunyihoo/go-rpckit/rpc/msgpackrpc"
)

// Config represents a small collection of configuration values to fine tune the
// RPC endpoint of a node. It is loaded from the [Node] section of the TOML
// configuration file.
//
// Config 表示节点 RPC 端点的配置。
type Config struct {
	// Name sets the instance name of the node. It is reported by rpc.version.
	Name string `toml:"-"`

	// Version should be set to the version number of the program.
	Version string `toml:"-"`

	// Protocol selects the wire format: "jsonrpc" or "msgpack".
	Protocol string

	// HTTPHost is the host interface on which to start the HTTP RPC server. If this
	// field is empty, no HTTP API endpoint will be started.
	HTTPHost string

	// HTTPPort is the TCP port number on which to start the HTTP RPC server. The
	// default zero value is valid and will pick a port number randomly.
	HTTPPort int `toml:",omitempty"`

	// HTTPCors is the Cross-Origin Resource Sharing header to send to requesting
	// clients. Please be aware that CORS is a browser enforced security, it's fully
	// useless for custom HTTP clients.
	HTTPCors []string `toml:",omitempty"`

	// HTTPVirtualHosts is the list of virtual hostnames which are allowed on incoming requests.
	// This is by default {'localhost'}. Using this prevents attacks like
	// DNS rebinding, which bypasses SOP by simply masquerading as being within the same
	// origin. Requests using ip address directly are not affected.
	HTTPVirtualHosts []string `toml:",omitempty"`

	// HTTPTimeouts allows for customization of the timeout values used by the HTTP RPC
	// interface.
	HTTPTimeouts rpc.HTTPTimeouts

	// HTTPPathPrefix specifies a path prefix on which http-rpc is to be served.
	HTTPPathPrefix string `toml:",omitempty"`

	// HTTPBodyLimit is the maximum size of an HTTP request body. Zero uses the
	// server default.
	HTTPBodyLimit int `toml:",omitempty"`

	// WSEnabled serves WebSocket connections on the HTTP endpoint.
	WSEnabled bool `toml:",omitempty"`

	// WSPathPrefix specifies a path prefix on which ws-rpc is to be served.
	WSPathPrefix string `toml:",omitempty"`

	// WSOrigins is the list of domain to accept websocket requests from. Please be
	// aware that the server can only act upon the HTTP request the client sends and
	// cannot verify the validity of the request header.
	WSOrigins []string `toml:",omitempty"`

	// BatchRequestLimit is the maximum number of requests in a batch.
	BatchRequestLimit int `toml:",omitempty"`

	// BatchConcurrency is the number of batch members dispatched in parallel.
	BatchConcurrency int `toml:",omitempty"`

	// RequestTimeout bounds the dispatch of a single request. Zero disables it.
	RequestTimeout time.Duration `toml:",omitempty"`

	// RateLimit is the number of requests per second served by the node. Zero
	// disables rate limiting.
	RateLimit float64 `toml:",omitempty"`

	// RateBurst is the burst size of the rate limiter.
	RateBurst int `toml:",omitempty"`

	// MetricsEnabled exposes the prometheus registry on /metrics.
	MetricsEnabled bool `toml:",omitempty"`

	// DebugAPI registers the runtime debugging methods under "debug.". They
	// can write profiles to the local file system.
	DebugAPI bool `toml:",omitempty"`

	// Logger is a custom logger to use with the node.
	Logger log.Logger `toml:",omitempty"`
}

// HTTPEndpoint resolves an HTTP endpoint based on the configured host interface
// and port parameters.
func (c *Config) HTTPEndpoint() string {
	if c.HTTPHost == "" {
		return ""
	}
	return net.JoinHostPort(c.HTTPHost, strconv.Itoa(c.HTTPPort))
}

// serverOptions converts the dispatch settings into rpc.Server options.
func (c *Config) serverOptions() []rpc.ServerOption {
	opts := []rpc.ServerOption{
		rpc.WithBatchLimit(c.BatchRequestLimit),
		rpc.WithBatchConcurrency(c.BatchConcurrency),
		rpc.WithRequestTimeout(c.RequestTimeout),
		rpc.WithServerLogger(c.Logger),
	}
	if c.RateLimit > 0 {
		burst := c.RateBurst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, rpc.WithRateLimit(c.RateLimit, burst))
	}
	if c.HTTPBodyLimit > 0 {
		opts = append(opts, rpc.WithHTTPBodyLimit(c.HTTPBodyLimit))
	}
	return opts
}

// NewProtocol returns the codec registered under name. "json" and "jsonrpc"
// select JSON-RPC 2.0, "msgpack" and "msgpackrpc" select MessagePack-RPC. ids
// may be nil to keep the codec's default generator.
//
// NewProtocol 根据名称返回对应的协议编解码器。
func NewProtocol(name string, ids rpc.IDGenerator) (rpc.Protocol, error) {
	switch strings.ToLower(name) {
	case "", "json", "jsonrpc":
		if ids != nil {
			return jsonrpc.New(jsonrpc.WithIDGenerator(ids)), nil
		}
		return jsonrpc.New(), nil
	case "msgpack", "msgpackrpc":
		if ids != nil {
			return msgpackrpc.New(msgpackrpc.WithIDGenerator(ids)), nil
		}
		return msgpackrpc.New(), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", name)
	}
}
