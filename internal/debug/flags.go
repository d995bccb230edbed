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

package debug

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sunyihoo/go-rpckit/internal/flags"
	"github.com/sunyihoo/go-rpckit/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logging
var (
	verbosityFlag = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "Log level: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value:    3,
		Category: flags.LoggingCategory,
	}
	logFormatFlag = &cli.StringFlag{
		Name:     "log.format",
		Usage:    "Log record format (terminal|logfmt|json)",
		Value:    "terminal",
		Category: flags.LoggingCategory,
	}
	logFileFlag = &cli.StringFlag{
		Name:     "log.file",
		Usage:    "Also write log records to this file",
		Category: flags.LoggingCategory,
	}
	logRotateFlag = &cli.BoolFlag{
		Name:     "log.rotate",
		Usage:    "Rotate the log file once it reaches --log.maxsize",
		Category: flags.LoggingCategory,
	}
	logMaxSizeFlag = &cli.IntFlag{
		Name:     "log.maxsize",
		Usage:    "Size in megabytes at which a log file is rotated",
		Value:    100,
		Category: flags.LoggingCategory,
	}
	logMaxBackupsFlag = &cli.IntFlag{
		Name:     "log.maxbackups",
		Usage:    "Number of rotated log files to keep",
		Value:    10,
		Category: flags.LoggingCategory,
	}
	logMaxAgeFlag = &cli.IntFlag{
		Name:     "log.maxage",
		Usage:    "Days to keep rotated log files",
		Value:    30,
		Category: flags.LoggingCategory,
	}
	logCompressFlag = &cli.BoolFlag{
		Name:     "log.compress",
		Usage:    "Gzip rotated log files",
		Category: flags.LoggingCategory,
	}
)

// Profiling
var (
	pprofFlag = &cli.BoolFlag{
		Name:     "pprof",
		Usage:    "Serve runtime profiles over HTTP",
		Category: flags.LoggingCategory,
	}
	pprofAddrFlag = &cli.StringFlag{
		Name:     "pprof.addr",
		Usage:    "Listening interface of the profiling server",
		Value:    "127.0.0.1",
		Category: flags.LoggingCategory,
	}
	pprofPortFlag = &cli.IntFlag{
		Name:     "pprof.port",
		Usage:    "Listening port of the profiling server",
		Value:    6060,
		Category: flags.LoggingCategory,
	}
	memProfileRateFlag = &cli.IntFlag{
		Name:     "pprof.memprofilerate",
		Usage:    "Sample one memory allocation per this many bytes",
		Value:    runtime.MemProfileRate,
		Category: flags.LoggingCategory,
	}
	blockProfileRateFlag = &cli.IntFlag{
		Name:     "pprof.blockprofilerate",
		Usage:    "Sample one blocking event per this many nanoseconds (0 disables)",
		Category: flags.LoggingCategory,
	}
	cpuProfileFlag = &cli.StringFlag{
		Name:     "pprof.cpuprofile",
		Usage:    "Write a CPU profile to this file until exit",
		Category: flags.LoggingCategory,
	}
	goTraceFlag = &cli.StringFlag{
		Name:     "go-execution-trace",
		Usage:    "Write a Go execution trace to this file until exit",
		Category: flags.LoggingCategory,
	}
)

// Flags holds the logging and profiling flags shared by all commands.
var Flags = []cli.Flag{
	verbosityFlag,
	logFormatFlag,
	logFileFlag,
	logRotateFlag,
	logMaxSizeFlag,
	logMaxBackupsFlag,
	logMaxAgeFlag,
	logCompressFlag,
	pprofFlag,
	pprofAddrFlag,
	pprofPortFlag,
	memProfileRateFlag,
	blockProfileRateFlag,
	cpuProfileFlag,
	goTraceFlag,
}

var (
	// levels is the verbosity filter in front of the root handler. The debug
	// API adjusts it at runtime.
	levels = log.NewLevelHandler(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelTrace, false))

	// logOutputFile is the open log file, if any. Exit closes it.
	logOutputFile io.WriteCloser
)

// Setup configures logging and profiling from the command line. It should run
// before anything else logs.
//
// Setup 根据命令行标志初始化日志与性能分析，应尽早调用。
func Setup(ctx *cli.Context) error {
	location, err := openLogFile(ctx)
	if err != nil {
		return err
	}
	format := ctx.String(logFormatFlag.Name)
	handler, err := newLogHandler(format, logOutputFile)
	if err != nil {
		return err
	}
	levels = log.NewLevelHandler(handler)
	levels.Verbosity(log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)))
	log.SetDefault(log.NewLogger(levels))
	if location != "" {
		log.Info("Logging configured", "format", format, "rotate", ctx.Bool(logRotateFlag.Name), "location", location)
	}

	if err := setupProfiling(ctx); err != nil {
		return err
	}
	if ctx.Bool(pprofFlag.Name) {
		StartPProf(net.JoinHostPort(ctx.String(pprofAddrFlag.Name), strconv.Itoa(ctx.Int(pprofPortFlag.Name))))
	}
	return nil
}

// openLogFile opens the file named by --log.file, through lumberjack when
// rotation is enabled, and stores it in logOutputFile. It returns the path of
// the file, or "" when logs only go to the terminal.
func openLogFile(ctx *cli.Context) (string, error) {
	path := flags.ExpandPath(ctx.String(logFileFlag.Name))
	if path != "" {
		if err := validateLogLocation(filepath.Dir(path)); err != nil {
			return "", fmt.Errorf("failed to initialize file logger: %v", err)
		}
	}
	if ctx.Bool(logRotateFlag.Name) {
		logOutputFile = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    ctx.Int(logMaxSizeFlag.Name),
			MaxBackups: ctx.Int(logMaxBackupsFlag.Name),
			MaxAge:     ctx.Int(logMaxAgeFlag.Name),
			Compress:   ctx.Bool(logCompressFlag.Name),
		}
		if path == "" {
			// lumberjack picks <process>-lumberjack.log in the temp dir.
			path = filepath.Join(os.TempDir(), filepath.Base(os.Args[0])+"-lumberjack.log")
		}
		return path, nil
	}
	if path == "" {
		return "", nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}
	logOutputFile = f
	return path, nil
}

// newLogHandler creates the root handler for format, writing to stderr and
// to file if it is not nil. Colours are only used on a real terminal.
func newLogHandler(format string, file io.Writer) (slog.Handler, error) {
	var (
		stderr   io.Writer = os.Stderr
		useColor bool
	)
	if format == "" || format == "terminal" {
		fd := os.Stderr.Fd()
		useColor = (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)) && os.Getenv("TERM") != "dumb"
		if useColor {
			stderr = colorable.NewColorableStderr()
		}
	}
	out := stderr
	if file != nil {
		out = io.MultiWriter(file, stderr)
	}
	switch format {
	case "json":
		return log.JSONHandlerWithLevel(out, log.LevelTrace), nil
	case "logfmt":
		return log.LogfmtHandlerWithLevel(out, log.LevelTrace), nil
	case "", "terminal":
		return log.NewTerminalHandlerWithLevel(out, log.LevelTrace, useColor), nil
	default:
		return nil, fmt.Errorf("unknown log format: %v", format)
	}
}

// setupProfiling applies the sampling rates and starts the file based
// profilers requested on the command line.
func setupProfiling(ctx *cli.Context) error {
	runtime.MemProfileRate = ctx.Int(memProfileRateFlag.Name)
	Handler.SetBlockProfileRate(ctx.Int(blockProfileRateFlag.Name))

	if file := ctx.String(goTraceFlag.Name); file != "" {
		if err := Handler.StartGoTrace(file); err != nil {
			return err
		}
	}
	if file := ctx.String(cpuProfileFlag.Name); file != "" {
		if err := Handler.StartCPUProfile(file); err != nil {
			return err
		}
	}
	return nil
}

// StartPProf starts the pprof HTTP server. The prometheus registry is served
// next to the profiles under /debug/metrics/prometheus.
func StartPProf(address string) {
	http.Handle("/debug/metrics/prometheus", promhttp.Handler())
	log.Info("Starting pprof server", "addr", fmt.Sprintf("http://%s/debug/pprof", address))
	go func() {
		if err := http.ListenAndServe(address, nil); err != nil {
			log.Error("Failure in running pprof server", "err", err)
		}
	}()
}

// Exit stops the running profilers and closes the log file.
func Exit() {
	Handler.StopCPUProfile()
	Handler.StopGoTrace()
	if logOutputFile != nil {
		logOutputFile.Close()
		logOutputFile = nil
	}
}

// validateLogLocation creates dir if needed and checks that it is writable.
func validateLogLocation(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("error creating the directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return err
	}
	tmp.Close()
	return os.Remove(tmp.Name())
}
