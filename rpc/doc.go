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
Package rpc implements the protocol-neutral core of go-rpckit: the request and
reply data model, the error taxonomy, correlation id generators, a method
registry with dispatch, a server and the client side helpers. Wire formats
live in the subpackages jsonrpc (JSON-RPC 2.0) and msgpackrpc (MessagePack-RPC).

# Methods

Handlers are registered on a Registry under a name. A handler is either a
HandlerFunc, which receives the decoded positional and named arguments as
generic values, or any other function, in which case arguments are converted
to its parameter types:

	reg := rpc.NewRegistry()
	reg.AddMethod("add", func(a, b int) int { return a + b })

Exported methods of a receiver are registered with RegisterReceiver. A method
must return 0, 1 (result or error) or 2 (result and error) values. Its first
parameter may be a context.Context.

	type CalcService struct{}

	func (s *CalcService) Div(a, b int) (int, error) {
		if b == 0 {
			return 0, errors.New("divide by zero")
		}
		return a / b, nil
	}

	reg.RegisterReceiver("calc.", new(CalcService))

Optional arguments are supported by accepting pointer values as arguments.
Trailing pointer arguments may be left out by the caller and are passed as
nil. Named arguments are accepted by handlers taking a single struct or map
parameter.

Errors returned by a handler become error replies. Errors created with
NewError, or implementing the Error and DataError interfaces, keep their code,
message and data. Any other error is reported as an internal error carrying
the error text. A panicking handler is answered with an internal error.

# Serving

A Server combines a Protocol and a Registry. Server.Handle turns request bytes
into reply bytes. Server.Serve runs that loop over any ServerTransport; the
package offers an in-process transport, HTTP (Server.ServeHTTP) and WebSocket
(Server.WebsocketHandler).

	srv := rpc.NewServer(jsonrpc.New(), reg, rpc.WithBatchLimit(100))
	http.ListenAndServe(":8545", rpc.NewHTTPHandler(srv, nil))

One-way requests never receive a reply, not even when they fail. Failures are
logged and reported to the registry's NotificationErrorHandler.

# Calling

A Client sends requests through a ClientTransport:

	client, err := rpc.Dial(ctx, "http://localhost:8545", jsonrpc.New())
	var sum int
	err = client.CallInto(ctx, &sum, "calc.add", 1, 2)
*/
package rpc
