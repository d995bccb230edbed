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
	"strings"

	"github.com/sunyihoo/go-rpckit/internal/debug"
)

// apis registers the built-in namespaces on the node's registry.
func (n *Node) apis() error {
	if err := n.registry.RegisterReceiver("rpc.", &metadataAPI{n}); err != nil {
		return err
	}
	if err := n.registry.RegisterReceiver("admin.", &adminAPI{n}); err != nil {
		return err
	}
	if n.config.DebugAPI {
		return n.registry.RegisterReceiver("debug.", debug.Handler)
	}
	return nil
}

// metadataAPI describes the node to its callers.
type metadataAPI struct {
	node *Node
}

// Methods returns the names of all registered methods.
func (api *metadataAPI) Methods() []string {
	return api.node.registry.Methods()
}

// Version returns the node name and version.
func (api *metadataAPI) Version() string {
	if api.node.config.Version == "" {
		return api.node.config.Name
	}
	return api.node.config.Name + "/v" + api.node.config.Version
}

// Protocol returns the name of the wire protocol spoken by the node.
func (api *metadataAPI) Protocol() string {
	return api.node.server.Protocol().Name()
}

// adminAPI is the collection of administrative API methods.
//
// adminAPI 提供运行时开启和关闭 HTTP/WebSocket 端点的方法。
type adminAPI struct {
	node *Node
}

// StartHTTP starts the HTTP RPC API server.
func (api *adminAPI) StartHTTP(host *string, port *int, cors *string, vhosts *string) (bool, error) {
	api.node.lock.Lock()
	defer api.node.lock.Unlock()

	// Determine host and port.
	if host == nil {
		h := DefaultHTTPHost
		if api.node.config.HTTPHost != "" {
			h = api.node.config.HTTPHost
		}
		host = &h
	}
	if port == nil {
		port = &api.node.config.HTTPPort
	}

	// Determine config.
	config := httpConfig{
		CorsAllowedOrigins: api.node.config.HTTPCors,
		Vhosts:             api.node.config.HTTPVirtualHosts,
		prefix:             api.node.config.HTTPPathPrefix,
	}
	if cors != nil {
		config.CorsAllowedOrigins = splitAndTrim(*cors)
	}
	if vhosts != nil {
		config.Vhosts = splitAndTrim(*vhosts)
	}

	if err := api.node.http.setListenAddr(*host, *port); err != nil {
		return false, err
	}
	if err := api.node.http.enableRPC(api.node.server, config); err != nil {
		return false, err
	}
	if err := api.node.http.start(); err != nil {
		return false, err
	}
	return true, nil
}

// StopHTTP shuts down the HTTP server.
func (api *adminAPI) StopHTTP() bool {
	api.node.http.stop()
	return true
}

// StartWS enables WebSocket connections on the HTTP endpoint.
func (api *adminAPI) StartWS(allowedOrigins *string) (bool, error) {
	api.node.lock.Lock()
	defer api.node.lock.Unlock()

	config := wsConfig{
		Origins: api.node.config.WSOrigins,
		prefix:  api.node.config.WSPathPrefix,
	}
	if allowedOrigins != nil {
		config.Origins = splitAndTrim(*allowedOrigins)
	}
	if err := api.node.http.enableWS(api.node.server, config); err != nil {
		return false, err
	}
	if err := api.node.http.start(); err != nil {
		return false, err
	}
	api.node.log.Info("WebSocket endpoint opened", "url", api.node.WSEndpoint())
	return true, nil
}

// StopWS disables WebSocket connections. Established connections stay open.
func (api *adminAPI) StopWS() bool {
	api.node.http.stopWS()
	return true
}

// splitAndTrim splits input separated by a comma
// and trims excessive white space from the substrings.
func splitAndTrim(input string) (ret []string) {
	l := strings.Split(input, ",")
	for _, r := range l {
		if r = strings.TrimSpace(r); r != "" {
			ret = append(ret, r)
		}
	}
	return ret
}
