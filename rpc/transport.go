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

package rpc

import (
	"context"
	"errors"
)

// ErrTransportClosed is returned by transports which have been closed.
var ErrTransportClosed = errors.New("rpc: transport closed")

// Inbound is a message received by a ServerTransport. Token identifies the
// sender and is handed back to SendReply.
type Inbound struct {
	Data  []byte
	Token any
}

// ServerTransport is the receiving end of a byte channel. Transports know
// nothing about envelopes; they only move opaque messages.
type ServerTransport interface {
	// ReceiveMessage blocks until a message arrives or ctx is done.
	ReceiveMessage(ctx context.Context) (*Inbound, error)

	// SendReply answers the message identified by token. A nil reply means
	// there is nothing to send; transports use it to release the sender.
	SendReply(ctx context.Context, token any, reply []byte) error
}

// ClientTransport is the sending end of a byte channel.
type ClientTransport interface {
	// SendMessage transmits msg. If expectReply is set it waits for and returns
	// the reply bytes, which may be nil if the server had nothing to answer.
	SendMessage(ctx context.Context, msg []byte, expectReply bool) ([]byte, error)
}
