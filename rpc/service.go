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
	"fmt"
	"maps"
	"reflect"
	"runtime"
	"slices"
	"sync"
	"unicode"

	"github.com/mitchellh/mapstructure"
	"github.com/sunyihoo/go-rpckit/log"
)

var (
	contextType     = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType       = reflect.TypeOf((*error)(nil)).Elem()
	handlerFuncType = reflect.TypeOf(HandlerFunc(nil))
)

// HandlerFunc is the low level handler signature. It receives the call arguments
// exactly as decoded from the wire.
type HandlerFunc func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Method is an entry of a namespace registration. Only entries with Public set
// are exposed.
type Method struct {
	Name    string
	Handler any
	Public  bool
}

// NotificationErrorHandler is called for every one-way request whose dispatch
// failed. No reply is ever sent for those.
type NotificationErrorHandler func(req *Request, err *ErrorObject)

// Registry maps method names to handlers and turns requests into responses.
// It is safe for concurrent use; methods may be added while serving.
//
// Registry 维护方法名到处理函数的映射，并将请求转换为响应。
type Registry struct {
	mu      sync.RWMutex
	methods map[string]*Handler

	log       log.Logger
	onNotifyE NotificationErrorHandler
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l log.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// WithNotificationErrorHandler installs fn to observe failed one-way requests.
func WithNotificationErrorHandler(fn NotificationErrorHandler) RegistryOption {
	return func(r *Registry) { r.onNotifyE = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{methods: make(map[string]*Handler)}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = log.Root().New("module", "rpc")
	}
	return r
}

// AddMethod registers fn under name. A previous registration of the same name is
// replaced. fn is either a HandlerFunc or any function whose parameters can be
// filled from call arguments (see Handler).
func (r *Registry) AddMethod(name string, fn any) error {
	h, err := newHandler(name, fn)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[name] = h
	return nil
}

// RegisterNamespace registers every public entry of methods under prefix+Name.
// Nothing is registered if one of the public entries is unsuitable.
func (r *Registry) RegisterNamespace(prefix string, methods []Method) error {
	handlers := make(map[string]*Handler, len(methods))
	for _, m := range methods {
		if !m.Public {
			continue
		}
		h, err := newHandler(prefix+m.Name, m.Handler)
		if err != nil {
			return err
		}
		handlers[h.name] = h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	maps.Copy(r.methods, handlers)
	return nil
}

// RegisterReceiver exposes all exported methods of rcvr which are suitable as
// handlers. They are registered as prefix followed by the method name with its
// first letter lowercased, e.g. prefix "calc." and method Add gives "calc.add".
func (r *Registry) RegisterReceiver(prefix string, rcvr any) error {
	rcvrVal := reflect.ValueOf(rcvr)
	if !rcvrVal.IsValid() {
		return errors.New("rpc: nil receiver")
	}
	callbacks := suitableCallbacks(rcvrVal)
	if len(callbacks) == 0 {
		return fmt.Errorf("receiver %T doesn't have any suitable methods to expose", rcvr)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, cb := range callbacks {
		r.methods[prefix+name] = &Handler{name: prefix + name, cb: cb}
	}
	return nil
}

// GetMethod resolves name. It fails with *MethodNotFoundError.
func (r *Registry) GetMethod(name string) (*Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h := r.methods[name]; h != nil {
		return h, nil
	}
	return nil, &MethodNotFoundError{Method: name}
}

// Methods returns the sorted names of all registered methods.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.methods))
}

// Handler is a registered method.
type Handler struct {
	name string
	fn   HandlerFunc // set for raw handlers
	cb   *callback   // set for reflected functions
}

// Name returns the name the handler is registered under.
func (h *Handler) Name() string { return h.name }

// Call invokes the handler. Argument mismatches are reported as
// *InvalidParamsError, a panicking handler as an InternalError.
func (h *Handler) Call(ctx context.Context, args []any, kwargs map[string]any) (res any, err error) {
	if h.fn != nil {
		defer func() {
			if rec := recover(); rec != nil {
				err = crashed(h.name, rec)
			}
		}()
		return h.fn(ctx, args, kwargs)
	}
	rargs, err := h.cb.parseArguments(args, kwargs)
	if err != nil {
		return nil, err
	}
	return h.cb.call(ctx, h.name, rargs)
}

func newHandler(name string, fn any) (*Handler, error) {
	if name == "" {
		return nil, errors.New("rpc: empty method name")
	}
	switch f := fn.(type) {
	case nil:
		return nil, fmt.Errorf("rpc: nil handler for method %s", name)
	case HandlerFunc:
		return &Handler{name: name, fn: f}, nil
	case func(context.Context, []any, map[string]any) (any, error):
		return &Handler{name: name, fn: f}, nil
	}
	fnVal := reflect.ValueOf(fn)
	if fnVal.Kind() != reflect.Func {
		return nil, fmt.Errorf("rpc: handler for method %s is %T, not a function", name, fn)
	}
	if fnVal.Type().ConvertibleTo(handlerFuncType) {
		return &Handler{name: name, fn: fnVal.Convert(handlerFuncType).Interface().(HandlerFunc)}, nil
	}
	cb := newCallback(reflect.Value{}, fnVal)
	if cb == nil {
		return nil, fmt.Errorf("rpc: handler for method %s has unsuitable signature %s", name, fnVal.Type())
	}
	return &Handler{name: name, cb: cb}, nil
}

// callback is a Go function or method exposed as an RPC handler.
type callback struct {
	fn       reflect.Value  // the function
	rcvr     reflect.Value  // receiver object of method, set if fn is method
	argTypes []reflect.Type // input argument types
	hasCtx   bool           // method's first argument is a context (not included in argTypes)
	errPos   int            // err return idx, of -1 when method cannot return error
}

// suitableCallbacks iterates over the methods of the given type and returns the
// ones which satisfy the criteria for an RPC callback, keyed by formatted name.
func suitableCallbacks(receiver reflect.Value) map[string]*callback {
	typ := receiver.Type()
	callbacks := make(map[string]*callback)
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		if method.PkgPath != "" {
			continue // method not exported
		}
		cb := newCallback(receiver, method.Func)
		if cb == nil {
			continue // function invalid
		}
		callbacks[formatName(method.Name)] = cb
	}
	return callbacks
}

// newCallback turns fn (a function) into a callback object. It returns nil if the function
// is unsuitable as an RPC callback.
func newCallback(receiver, fn reflect.Value) *callback {
	fntype := fn.Type()
	c := &callback{fn: fn, rcvr: receiver, errPos: -1}
	c.makeArgTypes()

	// Verify return types. The function must return at most one error
	// and/or one other non-error value.
	outs := make([]reflect.Type, fntype.NumOut())
	for i := 0; i < fntype.NumOut(); i++ {
		outs[i] = fntype.Out(i)
	}
	if len(outs) > 2 {
		return nil
	}
	// If an error is returned, it must be the last returned value.
	switch {
	case len(outs) == 1 && isErrorType(outs[0]):
		c.errPos = 0
	case len(outs) == 2:
		if isErrorType(outs[0]) || !isErrorType(outs[1]) {
			return nil
		}
		c.errPos = 1
	}
	return c
}

// makeArgTypes composes the argTypes list.
func (c *callback) makeArgTypes() {
	fntype := c.fn.Type()
	// Skip receiver and context.Context parameter (if present).
	firstArg := 0
	if c.rcvr.IsValid() {
		firstArg++
	}
	if fntype.NumIn() > firstArg && fntype.In(firstArg) == contextType {
		c.hasCtx = true
		firstArg++
	}
	c.argTypes = make([]reflect.Type, fntype.NumIn()-firstArg)
	for i := firstArg; i < fntype.NumIn(); i++ {
		c.argTypes[i-firstArg] = fntype.In(i)
	}
}

// parseArguments converts wire arguments into values of the callback's parameter
// types. Named arguments are accepted only by callbacks taking a single struct
// (or map) parameter, which is then filled from them.
func (c *callback) parseArguments(args []any, kwargs map[string]any) ([]reflect.Value, error) {
	if len(kwargs) > 0 {
		if len(args) > 0 {
			return nil, invalidParamsf("mixing positional and named arguments is not supported")
		}
		if len(c.argTypes) != 1 || !acceptsNamed(c.argTypes[0]) {
			return nil, invalidParamsf("named arguments are not supported by this method")
		}
		v, err := convertArgument(kwargs, c.argTypes[0], true)
		if err != nil {
			return nil, invalidParamsf("invalid named arguments: %v", err)
		}
		return []reflect.Value{v}, nil
	}
	if len(args) > len(c.argTypes) {
		return nil, invalidParamsf("too many arguments, want at most %d", len(c.argTypes))
	}
	rargs := make([]reflect.Value, 0, len(c.argTypes))
	for i, arg := range args {
		v, err := convertArgument(arg, c.argTypes[i], false)
		if err != nil {
			return nil, invalidParamsf("invalid argument %d: %v", i, err)
		}
		rargs = append(rargs, v)
	}
	// Set any missing args to nil.
	for i := len(rargs); i < len(c.argTypes); i++ {
		if c.argTypes[i].Kind() != reflect.Ptr {
			return nil, invalidParamsf("missing value for required argument %d", i)
		}
		rargs = append(rargs, reflect.Zero(c.argTypes[i]))
	}
	return rargs, nil
}

func acceptsNamed(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct || t.Kind() == reflect.Map
}

// convertArgument turns a decoded wire value into a value of type t.
func convertArgument(arg any, t reflect.Type, strict bool) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}
	if reflect.TypeOf(arg).AssignableTo(t) {
		return reflect.ValueOf(arg), nil
	}
	target := reflect.New(t)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      target.Interface(),
		TagName:     "json",
		ErrorUnused: strict,
		DecodeHook:  mapstructure.ComposeDecodeHookFunc(floatToIntHook),
	})
	if err != nil {
		return reflect.Value{}, err
	}
	if err := dec.Decode(arg); err != nil {
		return reflect.Value{}, err
	}
	return target.Elem(), nil
}

// floatToIntHook rejects fractional numbers for integer parameters.
func floatToIntHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if f, ok := data.(float64); ok && f != float64(int64(f)) {
			return nil, fmt.Errorf("number %v is not an integer", f)
		}
	}
	return data, nil
}

// call invokes the callback.
func (c *callback) call(ctx context.Context, method string, args []reflect.Value) (res interface{}, errRes error) {
	// Create the argument slice.
	fullargs := make([]reflect.Value, 0, 2+len(args))
	if c.rcvr.IsValid() {
		fullargs = append(fullargs, c.rcvr)
	}
	if c.hasCtx {
		fullargs = append(fullargs, reflect.ValueOf(ctx))
	}
	fullargs = append(fullargs, args...)

	// Catch panic while running the callback.
	defer func() {
		if err := recover(); err != nil {
			res, errRes = nil, crashed(method, err)
		}
	}()
	// Run the callback.
	results := c.fn.Call(fullargs)
	if len(results) == 0 {
		return nil, nil
	}
	if c.errPos >= 0 && !results[c.errPos].IsNil() {
		// Method has returned non-nil error value.
		err := results[c.errPos].Interface().(error)
		return nil, err
	}
	if c.errPos == 0 {
		return nil, nil
	}
	return results[0].Interface(), nil
}

// handlerPanic is returned for a handler which panicked. It is answered like
// an InternalError; the registry logs value and stack.
type handlerPanic struct {
	method string
	value  any
	stack  []byte
}

func (e *handlerPanic) Error() string  { return errMsgPanic }
func (e *handlerPanic) ErrorCode() int { return errcodePanic }

// crashed captures a recovered handler panic.
func crashed(method string, err any) error {
	const size = 64 << 10
	buf := make([]byte, size)
	buf = buf[:runtime.Stack(buf, false)]
	return &handlerPanic{method: method, value: err, stack: buf}
}

// Does t satisfy the error interface?
func isErrorType(t reflect.Type) bool {
	return t.Implements(errorType)
}

// formatName converts to first character of name to lowercase.
func formatName(name string) string {
	ret := []rune(name)
	if len(ret) > 0 {
		ret[0] = unicode.ToLower(ret[0])
	}
	return string(ret)
}
