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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sunyihoo/go-rpckit/cmd/utils"
	"github.com/sunyihoo/go-rpckit/rpc"
	"github.com/urfave/cli/v2"
)

var callCommand = &cli.Command{
	Action:    call,
	Name:      "call",
	Usage:     "Invoke a method on a remote node",
	ArgsUsage: "<method> [arg...]",
	Flags:     utils.ClientFlags,
	Description: `
The call command sends one request to --endpoint and prints the result as JSON.
Arguments are parsed as JSON values; anything that isn't valid JSON is sent as
a string. With --named every argument must be a name=value pair.

    rpcd call --endpoint http://localhost:8545 calc.add 1 2
    rpcd call --protocol msgpack calc.reverse hello
    rpcd call --notify calc.echo '{"a":1}'`,
}

func call(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return errors.New("method name required")
	}
	method := ctx.Args().First()
	args, kwargs, err := parseCallArgs(ctx.Args().Tail(), ctx.Bool(utils.NamedArgsFlag.Name))
	if err != nil {
		return err
	}

	protocol, err := utils.MakeClientProtocol(ctx)
	if err != nil {
		return err
	}
	headers, err := utils.ParseHeaders(ctx.StringSlice(utils.HeaderFlag.Name))
	if err != nil {
		return err
	}
	var opts []rpc.ClientOption
	for k, v := range headers {
		opts = append(opts, rpc.WithHeader(k, v))
	}

	cctx := context.Background()
	if timeout := ctx.Duration(utils.TimeoutFlag.Name); timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(cctx, timeout)
		defer cancel()
	}
	client, err := rpc.Dial(cctx, ctx.String(utils.EndpointFlag.Name), protocol, opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	proxy := client.Proxy("", ctx.Bool(utils.NotifyFlag.Name))
	var result any
	if kwargs != nil {
		result, err = proxy.CallNamed(cctx, method, kwargs)
	} else {
		result, err = proxy.Call(cctx, method, args...)
	}
	if err != nil {
		return formatCallError(err)
	}
	if ctx.Bool(utils.NotifyFlag.Name) {
		return nil
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, string(out))
	return nil
}

// parseCallArgs converts command line arguments into call arguments.
func parseCallArgs(raw []string, named bool) ([]any, map[string]any, error) {
	if !named {
		args := make([]any, len(raw))
		for i, s := range raw {
			args[i] = parseCallValue(s)
		}
		return args, nil, nil
	}
	kwargs := make(map[string]any, len(raw))
	for _, s := range raw {
		name, value, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return nil, nil, fmt.Errorf("invalid named argument %q, want name=value", s)
		}
		kwargs[name] = parseCallValue(value)
	}
	return nil, kwargs, nil
}

// parseCallValue decodes s as JSON, falling back to the literal string.
func parseCallValue(s string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	return rpc.NormalizeValue(v)
}

func formatCallError(err error) error {
	var obj *rpc.ErrorObject
	if errors.As(err, &obj) {
		if obj.Data != nil {
			return fmt.Errorf("error %d: %s (data: %v)", obj.Code, obj.Message, obj.Data)
		}
		return fmt.Errorf("error %d: %s", obj.Code, obj.Message)
	}
	return err
}
