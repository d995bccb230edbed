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

// Package utils contains internal helper functions for go-rpckit commands.
package utils

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/sunyihoo/go-rpckit/internal/flags"
	"github.com/sunyihoo/go-rpckit/node"
	"github.com/sunyihoo/go-rpckit/rpc"
	"github.com/urfave/cli/v2"
)

// These are all the command line flags we support.
// If you add to this list, please remember to include the
// flag in the appropriate command definition.
//
// The flags are defined here so their names and help texts
// are the same for all commands.

var (
	// General settings
	ProtocolFlag = &cli.StringFlag{
		Name:     "protocol",
		Usage:    "Wire protocol (json|msgpack)",
		Value:    "json",
		Category: flags.ServerCategory,
	}

	// RPC server settings
	BatchRequestLimitFlag = &cli.IntFlag{
		Name:     "rpc.batch-request-limit",
		Usage:    "Maximum number of requests in a batch",
		Value:    node.DefaultConfig.BatchRequestLimit,
		Category: flags.ServerCategory,
	}
	BatchConcurrencyFlag = &cli.IntFlag{
		Name:     "rpc.batch-concurrency",
		Usage:    "Number of batch members dispatched in parallel",
		Value:    node.DefaultConfig.BatchConcurrency,
		Category: flags.ServerCategory,
	}
	RequestTimeoutFlag = &cli.DurationFlag{
		Name:     "rpc.requesttimeout",
		Usage:    "Maximum time spent dispatching a single request (0 = no limit)",
		Category: flags.ServerCategory,
	}
	RateLimitFlag = &cli.Float64Flag{
		Name:     "rpc.ratelimit",
		Usage:    "Maximum number of requests served per second (0 = no limit)",
		Category: flags.ServerCategory,
	}
	RateBurstFlag = &cli.IntFlag{
		Name:     "rpc.rateburst",
		Usage:    "Burst size of the request rate limiter",
		Value:    1,
		Category: flags.ServerCategory,
	}
	DebugAPIFlag = &cli.BoolFlag{
		Name:     "rpc.debug",
		Usage:    "Expose the runtime debugging methods under the debug namespace",
		Category: flags.ServerCategory,
	}

	// HTTP and WebSocket settings
	HTTPListenAddrFlag = &cli.StringFlag{
		Name:     "http.addr",
		Usage:    "HTTP-RPC server listening interface, optionally with port (host[:port])",
		Value:    node.DefaultHTTPHost,
		Category: flags.TransportCategory,
	}
	HTTPPortFlag = &cli.IntFlag{
		Name:     "http.port",
		Usage:    "HTTP-RPC server listening port",
		Value:    node.DefaultHTTPPort,
		Category: flags.TransportCategory,
	}
	HTTPCORSDomainFlag = &cli.StringFlag{
		Name:     "http.corsdomain",
		Usage:    "Comma separated list of domains from which to accept cross origin requests (browser enforced)",
		Value:    "",
		Category: flags.TransportCategory,
	}
	HTTPVirtualHostsFlag = &cli.StringFlag{
		Name:     "http.vhosts",
		Usage:    "Comma separated list of virtual hostnames from which to accept requests (server enforced). Accepts '*' wildcard.",
		Value:    strings.Join(node.DefaultConfig.HTTPVirtualHosts, ","),
		Category: flags.TransportCategory,
	}
	HTTPPathPrefixFlag = &cli.StringFlag{
		Name:     "http.rpcprefix",
		Usage:    "HTTP path prefix on which RPC is served. Use '/' to serve on all paths.",
		Value:    "",
		Category: flags.TransportCategory,
	}
	HTTPBodyLimitFlag = &cli.IntFlag{
		Name:     "http.bodylimit",
		Usage:    "Maximum size of an HTTP request body in bytes",
		Category: flags.TransportCategory,
	}
	WSEnabledFlag = &cli.BoolFlag{
		Name:     "ws",
		Usage:    "Enable the WS-RPC server on the HTTP endpoint",
		Category: flags.TransportCategory,
	}
	WSAllowedOriginsFlag = &cli.StringFlag{
		Name:     "ws.origins",
		Usage:    "Origins from which to accept websockets requests",
		Value:    "",
		Category: flags.TransportCategory,
	}
	WSPathPrefixFlag = &cli.StringFlag{
		Name:     "ws.rpcprefix",
		Usage:    "HTTP path prefix on which WS-RPC is served. Use '/' to serve on all paths.",
		Value:    "",
		Category: flags.TransportCategory,
	}

	// Metrics
	MetricsEnabledFlag = &cli.BoolFlag{
		Name:     "metrics",
		Usage:    "Expose prometheus metrics on /metrics of the HTTP endpoint",
		Category: flags.MetricsCategory,
	}

	// Client settings
	EndpointFlag = &cli.StringFlag{
		Name:     "endpoint",
		Usage:    "URL of the RPC server (http://, https://, ws:// or wss://)",
		Value:    "http://" + net.JoinHostPort(node.DefaultHTTPHost, strconv.Itoa(node.DefaultHTTPPort)),
		Category: flags.ClientCategory,
	}
	NotifyFlag = &cli.BoolFlag{
		Name:     "notify",
		Usage:    "Send a one-way request and don't wait for a result",
		Category: flags.ClientCategory,
	}
	NamedArgsFlag = &cli.BoolFlag{
		Name:     "named",
		Usage:    "Treat arguments as name=value pairs and send them as named parameters",
		Category: flags.ClientCategory,
	}
	IDGeneratorFlag = &cli.StringFlag{
		Name:     "ids",
		Usage:    "Request id generator (seq|hex|random|uuid), msgpack only supports seq",
		Value:    "seq",
		Category: flags.ClientCategory,
	}
	HeaderFlag = &cli.StringSliceFlag{
		Name:     "header",
		Aliases:  []string{"H"},
		Usage:    "Extra HTTP header sent with every request (\"Key: Value\")",
		Category: flags.ClientCategory,
	}
	TimeoutFlag = &cli.DurationFlag{
		Name:     "timeout",
		Usage:    "Time to wait for the reply",
		Category: flags.ClientCategory,
	}
)

var (
	// ServerFlags are the flags of commands hosting a node.
	ServerFlags = []cli.Flag{
		ProtocolFlag,
		BatchRequestLimitFlag,
		BatchConcurrencyFlag,
		RequestTimeoutFlag,
		RateLimitFlag,
		RateBurstFlag,
		DebugAPIFlag,
		HTTPListenAddrFlag,
		HTTPPortFlag,
		HTTPCORSDomainFlag,
		HTTPVirtualHostsFlag,
		HTTPPathPrefixFlag,
		HTTPBodyLimitFlag,
		WSEnabledFlag,
		WSAllowedOriginsFlag,
		WSPathPrefixFlag,
		MetricsEnabledFlag,
	}

	// ClientFlags are the flags of commands calling a remote node.
	ClientFlags = []cli.Flag{
		ProtocolFlag,
		EndpointFlag,
		NotifyFlag,
		NamedArgsFlag,
		IDGeneratorFlag,
		HeaderFlag,
		TimeoutFlag,
	}
)

// SplitAndTrim splits input separated by a comma
// and trims excessive white space from the substrings.
func SplitAndTrim(input string) (ret []string) {
	l := strings.Split(input, ",")
	for _, r := range l {
		if r = strings.TrimSpace(r); r != "" {
			ret = append(ret, r)
		}
	}
	return ret
}

// SetNodeConfig applies node-related command line flags to the config. Only
// flags set by the user override values loaded from the config file.
func SetNodeConfig(ctx *cli.Context, cfg *node.Config) error {
	if ctx.IsSet(ProtocolFlag.Name) {
		cfg.Protocol = ctx.String(ProtocolFlag.Name)
	}
	if ctx.IsSet(BatchRequestLimitFlag.Name) {
		cfg.BatchRequestLimit = ctx.Int(BatchRequestLimitFlag.Name)
	}
	if ctx.IsSet(BatchConcurrencyFlag.Name) {
		cfg.BatchConcurrency = ctx.Int(BatchConcurrencyFlag.Name)
	}
	if ctx.IsSet(RequestTimeoutFlag.Name) {
		cfg.RequestTimeout = ctx.Duration(RequestTimeoutFlag.Name)
	}
	if ctx.IsSet(RateLimitFlag.Name) {
		cfg.RateLimit = ctx.Float64(RateLimitFlag.Name)
	}
	if ctx.IsSet(RateBurstFlag.Name) {
		cfg.RateBurst = ctx.Int(RateBurstFlag.Name)
	}
	if ctx.IsSet(DebugAPIFlag.Name) {
		cfg.DebugAPI = ctx.Bool(DebugAPIFlag.Name)
	}
	if err := setHTTP(ctx, cfg); err != nil {
		return err
	}
	setWS(ctx, cfg)
	if ctx.IsSet(MetricsEnabledFlag.Name) {
		cfg.MetricsEnabled = ctx.Bool(MetricsEnabledFlag.Name)
	}
	return nil
}

// setHTTP creates the HTTP RPC listener interface string from the set
// command line flags. --http.addr also accepts a host:port pair.
func setHTTP(ctx *cli.Context, cfg *node.Config) error {
	if ctx.IsSet(HTTPListenAddrFlag.Name) {
		addr := ctx.String(HTTPListenAddrFlag.Name)
		if host, port, err := net.SplitHostPort(addr); err == nil {
			p, err := strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("invalid --%s port %q", HTTPListenAddrFlag.Name, port)
			}
			if host == "" {
				host = "0.0.0.0"
			}
			cfg.HTTPHost, cfg.HTTPPort = host, p
		} else {
			cfg.HTTPHost = addr
		}
	}
	if ctx.IsSet(HTTPPortFlag.Name) {
		cfg.HTTPPort = ctx.Int(HTTPPortFlag.Name)
	}
	if ctx.IsSet(HTTPCORSDomainFlag.Name) {
		cfg.HTTPCors = SplitAndTrim(ctx.String(HTTPCORSDomainFlag.Name))
	}
	if ctx.IsSet(HTTPVirtualHostsFlag.Name) {
		cfg.HTTPVirtualHosts = SplitAndTrim(ctx.String(HTTPVirtualHostsFlag.Name))
	}
	if ctx.IsSet(HTTPPathPrefixFlag.Name) {
		cfg.HTTPPathPrefix = ctx.String(HTTPPathPrefixFlag.Name)
	}
	if ctx.IsSet(HTTPBodyLimitFlag.Name) {
		cfg.HTTPBodyLimit = ctx.Int(HTTPBodyLimitFlag.Name)
	}
	return nil
}

// setWS creates the WebSocket RPC listener interface string from the set
// command line flags.
func setWS(ctx *cli.Context, cfg *node.Config) {
	if ctx.IsSet(WSEnabledFlag.Name) {
		cfg.WSEnabled = ctx.Bool(WSEnabledFlag.Name)
	}
	if ctx.IsSet(WSAllowedOriginsFlag.Name) {
		cfg.WSOrigins = SplitAndTrim(ctx.String(WSAllowedOriginsFlag.Name))
	}
	if ctx.IsSet(WSPathPrefixFlag.Name) {
		cfg.WSPathPrefix = ctx.String(WSPathPrefixFlag.Name)
	}
}

// MakeIDGenerator returns the request id generator selected by name.
func MakeIDGenerator(name string) (rpc.IDGenerator, error) {
	switch name {
	case "", "seq", "sequential":
		return rpc.SequentialIDs(1), nil
	case "hex":
		return rpc.HexIDs(1), nil
	case "random":
		return rpc.RandomIDs(8), nil
	case "uuid":
		return rpc.UUIDs(), nil
	default:
		return nil, fmt.Errorf("unknown id generator %q", name)
	}
}

// stringIDGenerators are the --ids values producing string ids.
var stringIDGenerators = map[string]bool{"hex": true, "random": true, "uuid": true}

// MakeClientProtocol creates the codec selected by --protocol, allocating ids
// with the generator selected by --ids. MessagePack-RPC ids are integers, so
// string generators are refused for it.
func MakeClientProtocol(ctx *cli.Context) (rpc.Protocol, error) {
	idsName := ctx.String(IDGeneratorFlag.Name)
	ids, err := MakeIDGenerator(idsName)
	if err != nil {
		return nil, err
	}
	protocol, err := node.NewProtocol(ctx.String(ProtocolFlag.Name), ids)
	if err != nil {
		return nil, err
	}
	if protocol.Name() == "msgpack" && stringIDGenerators[idsName] {
		return nil, fmt.Errorf("--%s %s produces string ids, which %s does not support (use --%s seq)",
			IDGeneratorFlag.Name, idsName, protocol.Name(), IDGeneratorFlag.Name)
	}
	return protocol, nil
}

// ParseHeaders parses "Key: Value" pairs as given to --header.
func ParseHeaders(values []string) (map[string]string, error) {
	headers := make(map[string]string, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, ":")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Key: Value\"", v)
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return headers, nil
}
