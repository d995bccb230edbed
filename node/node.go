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
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/sunyihoo/go-rpckit/log"
	"github.com/sunyihoo/go-rpckit/rpc"
)

// Node is a container on which services can be registered.
type Node struct {
	config        *Config
	log           log.Logger
	stop          chan struct{} // Channel to wait for termination notifications
	startStopLock sync.Mutex    // Start/Stop are protected by an additional lock
	state         int           // Tracks state of node lifecycle

	lock       sync.Mutex
	lifecycles []Lifecycle // All registered backends, services, and auxiliary services that have a lifecycle
	registry   *rpc.Registry
	server     *rpc.Server // Serves HTTP, WebSocket and in-process requests
	http       *httpServer
}

const (
	initializingState = iota
	runningState
	closedState
)

// New creates a new node with the built-in namespaces registered.
//
// New 创建节点并注册内置的命名空间。
func New(conf *Config) (*Node, error) {
	// Copy config so future changes by the caller don't affect the node.
	confCopy := *conf
	conf = &confCopy
	if conf.Logger == nil {
		conf.Logger = log.New()
	}
	if strings.ContainsAny(conf.Name, `/\`) {
		return nil, errors.New(`Config.Name must not contain '/' or '\'`)
	}
	if err := validatePrefix("HTTP", conf.HTTPPathPrefix); err != nil {
		return nil, err
	}
	if err := validatePrefix("WebSocket", conf.WSPathPrefix); err != nil {
		return nil, err
	}
	protocol, err := NewProtocol(conf.Protocol, nil)
	if err != nil {
		return nil, err
	}
	registry := rpc.NewRegistry(
		rpc.WithLogger(conf.Logger.New("module", "rpc")),
		rpc.WithNotificationErrorHandler(func(req *rpc.Request, err *rpc.ErrorObject) {
			conf.Logger.Debug("Notification failed", "method", req.Call.Method, "code", err.Code, "err", err.Message)
		}),
	)
	node := &Node{
		config:   conf,
		log:      conf.Logger,
		stop:     make(chan struct{}),
		registry: registry,
		server:   rpc.NewServer(protocol, registry, conf.serverOptions()...),
	}
	node.http = newHTTPServer(node.log, conf.HTTPTimeouts)

	// Register built-in APIs.
	if err := node.apis(); err != nil {
		return nil, err
	}
	return node, nil
}

// Start starts all registered lifecycles and the HTTP endpoint. Note that the
// node can not be restarted once stopped.
func (n *Node) Start() error {
	n.startStopLock.Lock()
	defer n.startStopLock.Unlock()

	n.lock.Lock()
	switch n.state {
	case runningState:
		n.lock.Unlock()
		return ErrNodeRunning
	case closedState:
		n.lock.Unlock()
		return ErrNodeStopped
	}
	n.state = runningState
	// open networking and RPC endpoints
	err := n.openEndpoints()
	lifecycles := make([]Lifecycle, len(n.lifecycles))
	copy(lifecycles, n.lifecycles)
	n.lock.Unlock()

	// Check if endpoint startup failed.
	if err != nil {
		n.doClose(nil)
		return err
	}
	// Start all registered lifecycles.
	var started []Lifecycle
	for _, lifecycle := range lifecycles {
		if err = lifecycle.Start(); err != nil {
			break
		}
		started = append(started, lifecycle)
	}
	// Check if any lifecycle failed to start.
	if err != nil {
		n.stopServices(started)
		n.doClose(nil)
	}
	return err
}

// Close stops the Node and releases resources acquired in
// Node constructor New.
func (n *Node) Close() error {
	n.startStopLock.Lock()
	defer n.startStopLock.Unlock()

	n.lock.Lock()
	state := n.state
	n.lock.Unlock()
	switch state {
	case initializingState:
		// The node was never started.
		return n.doClose(nil)
	case runningState:
		// The node was started, release resources acquired by Start().
		var errs []error
		if err := n.stopServices(n.lifecycles); err != nil {
			errs = append(errs, err)
		}
		return n.doClose(errs)
	case closedState:
		return ErrNodeStopped
	default:
		panic(fmt.Sprintf("node is in unknown state %d", state))
	}
}

// doClose releases resources acquired by New(), collecting errors.
func (n *Node) doClose(errs []error) error {
	n.lock.Lock()
	n.state = closedState
	n.server.Stop()
	n.lock.Unlock()

	// Unblock n.Wait.
	close(n.stop)

	// Report any errors that might have occurred.
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return fmt.Errorf("%v", errs)
	}
}

// openEndpoints starts the HTTP endpoint. The caller must hold n.lock.
func (n *Node) openEndpoints() error {
	n.log.Info("Starting RPC node", "protocol", n.server.Protocol().Name(), "methods", len(n.registry.Methods()))
	if n.config.HTTPHost == "" {
		return nil
	}
	if err := n.http.setListenAddr(n.config.HTTPHost, n.config.HTTPPort); err != nil {
		return err
	}
	if n.config.MetricsEnabled {
		n.http.registerMetrics()
	}
	err := n.http.enableRPC(n.server, httpConfig{
		CorsAllowedOrigins: n.config.HTTPCors,
		Vhosts:             n.config.HTTPVirtualHosts,
		prefix:             n.config.HTTPPathPrefix,
	})
	if err != nil {
		return err
	}
	if n.config.WSEnabled {
		err := n.http.enableWS(n.server, wsConfig{
			Origins: n.config.WSOrigins,
			prefix:  n.config.WSPathPrefix,
		})
		if err != nil {
			return err
		}
	}
	if err := n.http.start(); err != nil {
		n.http.stop()
		return err
	}
	return nil
}

// stopServices terminates running services, RPC and p2p networking.
// It is the inverse of Start.
func (n *Node) stopServices(running []Lifecycle) error {
	n.http.stop()

	// Stop running lifecycles in reverse order.
	failure := &StopError{Services: make(map[reflect.Type]error)}
	for i := len(running) - 1; i >= 0; i-- {
		if err := running[i].Stop(); err != nil {
			failure.Services[reflect.TypeOf(running[i])] = err
		}
	}
	if len(failure.Services) > 0 {
		return failure
	}
	return nil
}

// Wait blocks until the node is closed.
func (n *Node) Wait() {
	<-n.stop
}

// RegisterLifecycle registers the given Lifecycle on the node.
func (n *Node) RegisterLifecycle(lifecycle Lifecycle) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.state != initializingState {
		panic("can't register lifecycle on running/stopped node")
	}
	for _, l := range n.lifecycles {
		if l == lifecycle {
			panic(fmt.Sprintf("attempt to register lifecycle %T more than once", lifecycle))
		}
	}
	n.lifecycles = append(n.lifecycles, lifecycle)
}

// RegisterReceiver exposes the suitable methods of rcvr under prefix, see
// rpc.Registry.RegisterReceiver.
func (n *Node) RegisterReceiver(prefix string, rcvr any) error {
	return n.registry.RegisterReceiver(prefix, rcvr)
}

// RegisterNamespace registers the public entries of methods under prefix.
func (n *Node) RegisterNamespace(prefix string, methods []rpc.Method) error {
	return n.registry.RegisterNamespace(prefix, methods)
}

// Registry returns the method registry of the node.
func (n *Node) Registry() *rpc.Registry {
	return n.registry
}

// Server returns the RPC server of the node.
func (n *Node) Server() *rpc.Server {
	return n.server
}

// Attach creates an RPC client attached to an in-process API handler.
func (n *Node) Attach() *rpc.Client {
	return rpc.DialInProc(n.server)
}

// Config returns the configuration of node.
func (n *Node) Config() *Config {
	return n.config
}

// HTTPEndpoint returns the URL of the HTTP server. Note that this URL does not
// contain the JSON-RPC path prefix set by HTTPPathPrefix.
func (n *Node) HTTPEndpoint() string {
	return "http://" + n.http.listenAddr()
}

// WSEndpoint returns the current WebSocket endpoint.
func (n *Node) WSEndpoint() string {
	return "ws://" + n.http.listenAddr() + n.http.wsConfig.prefix
}
