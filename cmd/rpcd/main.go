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

// rpcd serves and calls JSON-RPC 2.0 and MessagePack-RPC endpoints.
package main

import (
	"fmt"
	"os"
	"runtime"
	"sort"

	"github.com/sunyihoo/go-rpckit/cmd/utils"
	"github.com/sunyihoo/go-rpckit/internal/debug"
	"github.com/sunyihoo/go-rpckit/internal/flags"
	"github.com/sunyihoo/go-rpckit/internal/version"
	"github.com/sunyihoo/go-rpckit/log"
	"github.com/sunyihoo/go-rpckit/node"
	"github.com/urfave/cli/v2"
)

const (
	clientIdentifier = "rpcd" // Client identifier reported by rpc.version
)

var (
	serveCommand = &cli.Command{
		Action:    serve,
		Name:      "serve",
		Usage:     "Serve the demo calc namespace over HTTP and WebSocket",
		ArgsUsage: "",
		Flags:     flags.Merge([]cli.Flag{configFileFlag}, utils.ServerFlags),
		Description: `
The serve command starts a node speaking the selected protocol on the HTTP
endpoint. The calc namespace (reverse, add, subtract, sum, divide, scale, echo,
cheat, sleep) is registered next to the built-in rpc and admin namespaces.`,
	}
	versionCommand = &cli.Command{
		Action:    printVersion,
		Name:      "version",
		Usage:     "Print version numbers",
		ArgsUsage: " ",
	}
)

func newApp() *cli.App {
	app := flags.NewApp("JSON-RPC 2.0 and MessagePack-RPC server and client")
	app.Commands = []*cli.Command{
		serveCommand,
		callCommand,
		dumpConfigCommand,
		versionCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))
	app.Flags = debug.Flags
	app.Before = func(ctx *cli.Context) error {
		return debug.Setup(ctx)
	}
	app.After = func(ctx *cli.Context) error {
		debug.Exit()
		return nil
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// registerServices adds the demo namespaces to the node.
func registerServices(stack *node.Node) error {
	return stack.RegisterReceiver("calc.", calcService{})
}

// serve is the main entry point of the serve command. It creates a node based
// on the command line arguments and runs it in blocking mode, waiting for it
// to be shut down.
func serve(ctx *cli.Context) error {
	if args := ctx.Args().Slice(); len(args) > 0 {
		return fmt.Errorf("invalid command: %s", args[0])
	}
	stack, cfg, err := makeConfigNode(ctx)
	if err != nil {
		return err
	}
	defer stack.Close()

	if err := registerServices(stack); err != nil {
		return err
	}
	log.Info("Starting rpcd", "version", version.Info(), "protocol", cfg.Node.Protocol, "ws", cfg.Node.WSEnabled)
	utils.StartNode(ctx, stack)
	stack.Wait()
	return nil
}

func printVersion(ctx *cli.Context) error {
	w := ctx.App.Writer
	fmt.Fprintln(w, "rpcd")
	fmt.Fprintln(w, "Version:", version.WithMeta)
	if git, ok := version.VCS(); ok {
		fmt.Fprintln(w, "Git Commit:", git.Commit)
		fmt.Fprintln(w, "Git Commit Date:", git.Date)
	}
	fmt.Fprintln(w, "Architecture:", runtime.GOARCH)
	fmt.Fprintln(w, "Go Version:", runtime.Version())
	fmt.Fprintln(w, "Operating System:", runtime.GOOS)
	return nil
}
