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
	"github.com/sunyihoo/go-rpckit/rpc"
)

const (
	DefaultHTTPHost = "localhost" // Default host interface for the HTTP RPC server
	DefaultHTTPPort = 8545        // Default TCP port for the HTTP RPC server
	DefaultProtocol = "jsonrpc"   // Default wire protocol
)

// DefaultConfig contains reasonable default settings.
// DefaultConfig 包含合理的默认设置。
var DefaultConfig = Config{
	Protocol:          DefaultProtocol,
	HTTPHost:          DefaultHTTPHost,
	HTTPPort:          DefaultHTTPPort,
	HTTPVirtualHosts:  []string{"localhost"},
	HTTPTimeouts:      rpc.DefaultHTTPTimeouts,
	BatchRequestLimit: 1000,
	BatchConcurrency:  1,
}
