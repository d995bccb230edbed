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
	"sync"
)

// InProcTransport connects a Client and a Server within one process through a
// channel. It implements both ServerTransport and ClientTransport.
//
// InProcTransport 通过 channel 在同一进程内连接客户端与服务端。
type InProcTransport struct {
	msgs      chan inprocMsg
	closeOnce sync.Once
	closed    chan struct{}
}

type inprocMsg struct {
	data  []byte
	reply chan []byte // nil if no reply is expected
}

// NewInProcTransport creates an in-process transport.
func NewInProcTransport() *InProcTransport {
	return &InProcTransport{
		msgs:   make(chan inprocMsg),
		closed: make(chan struct{}),
	}
}

// DialInProc serves srv on a new in-process transport and returns a client
// connected to it. Closing the client stops serving.
func DialInProc(srv *Server) *Client {
	t := NewInProcTransport()
	go srv.Serve(context.Background(), t)
	return NewClient(srv.Protocol(), t)
}

// ReceiveMessage implements ServerTransport.
func (t *InProcTransport) ReceiveMessage(ctx context.Context) (*Inbound, error) {
	select {
	case msg := <-t.msgs:
		return &Inbound{Data: msg.data, Token: msg.reply}, nil
	case <-t.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendReply implements ServerTransport.
func (t *InProcTransport) SendReply(ctx context.Context, token any, reply []byte) error {
	ch, _ := token.(chan []byte)
	if ch == nil {
		return nil
	}
	// The channel is buffered, so this never blocks.
	ch <- reply
	return nil
}

// SendMessage implements ClientTransport.
func (t *InProcTransport) SendMessage(ctx context.Context, msg []byte, expectReply bool) ([]byte, error) {
	m := inprocMsg{data: msg}
	if expectReply {
		m.reply = make(chan []byte, 1)
	}
	select {
	case t.msgs <- m:
	case <-t.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if !expectReply {
		return nil, nil
	}
	select {
	case reply := <-m.reply:
		return reply, nil
	case <-t.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the transport down. Blocked senders and receivers return
// ErrTransportClosed.
func (t *InProcTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}
