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

/*
Package node hosts an RPC server on the network.

A Node owns a method registry, the rpc.Server dispatching on it and an HTTP
endpoint that carries both plain HTTP requests and WebSocket connections.
Services register their methods on the node before it is started. Components
which need to run alongside the endpoint implement Lifecycle.

# Node Lifecycle

The Node object has a lifecycle consisting of three basic states, INITIALIZING, RUNNING
and CLOSED.

	●───────┐
	     New()
	        │
	        ▼
	  INITIALIZING ────Start()─┐
	        │                  │
	        │                  ▼
	    Close()             RUNNING
	        │                  │
	        ▼                  │
	     CLOSED ◀──────Close()─┘

Creating a Node builds the registry and the server and registers the built-in
"rpc." namespace. Methods can be registered in the INITIALIZING state and are
also accepted while running.

Start opens the HTTP listener and starts all registered Lifecycle objects. If
any of them fails to start, the ones already started are stopped again and the
node returns to INITIALIZING.

Close stops the listener, stops all Lifecycle objects in reverse order and
releases the server. Closing a node that was never started is allowed.

# Endpoints

The HTTP endpoint is bound to HTTPHost:HTTPPort. Requests below HTTPPathPrefix
are served by the RPC handler, WebSocket upgrades below WSPathPrefix by the
WebSocket handler when WSEnabled is set. With MetricsEnabled the prometheus
registry is exposed on /metrics of the same listener.
*/
package node
