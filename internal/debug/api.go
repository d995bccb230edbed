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

// Package debug exposes Go runtime debugging facilities through the command
// line and as an RPC namespace.
package debug

import (
	"bytes"
	"errors"
	"io"
	"os"
	"regexp"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-bexpr"
	"github.com/sunyihoo/go-rpckit/internal/flags"
	"github.com/sunyihoo/go-rpckit/log"
)

// Handler is the global debugging handler. rpcd registers it under the
// "debug." prefix when the debug API is enabled.
var Handler = new(HandlerT)

// HandlerT implements the debugging API.
// Do not create values of this type, use the one
// in the Handler variable instead.
//
// HandlerT 实现调试 API，请使用 Handler 变量中的实例。
type HandlerT struct {
	mu        sync.Mutex
	cpuW      io.WriteCloser
	cpuFile   string
	traceW    io.WriteCloser
	traceFile string
}

// Verbosity sets the log verbosity ceiling using the legacy numeric levels
// (0=silent ... 5=trace).
func (*HandlerT) Verbosity(level int) {
	levels.Verbosity(log.FromLegacyLevel(level))
}

// MemStats returns detailed runtime memory statistics.
func (*HandlerT) MemStats() *runtime.MemStats {
	s := new(runtime.MemStats)
	runtime.ReadMemStats(s)
	return s
}

// GcStats returns GC statistics.
func (*HandlerT) GcStats() *debug.GCStats {
	s := new(debug.GCStats)
	debug.ReadGCStats(s)
	return s
}

// CpuProfile turns on CPU profiling for nsec seconds and writes
// profile data to file.
func (h *HandlerT) CpuProfile(file string, nsec uint) error {
	if err := h.StartCPUProfile(file); err != nil {
		return err
	}
	time.Sleep(time.Duration(nsec) * time.Second)
	return h.StopCPUProfile()
}

// StartCPUProfile turns on CPU profiling, writing to the given file.
func (h *HandlerT) StartCPUProfile(file string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cpuW != nil {
		return errors.New("CPU profiling already in progress")
	}
	f, err := os.Create(flags.ExpandPath(file))
	if err != nil {
		return err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return err
	}
	h.cpuW = f
	h.cpuFile = file
	log.Info("CPU profiling started", "dump", h.cpuFile)
	return nil
}

// StopCPUProfile stops an ongoing CPU profile.
func (h *HandlerT) StopCPUProfile() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	pprof.StopCPUProfile()
	if h.cpuW == nil {
		return errors.New("CPU profiling not in progress")
	}
	log.Info("Done writing CPU profile", "dump", h.cpuFile)
	h.cpuW.Close()
	h.cpuW = nil
	h.cpuFile = ""
	return nil
}

// GoTrace turns on tracing for nsec seconds and writes
// trace data to file.
func (h *HandlerT) GoTrace(file string, nsec uint) error {
	if err := h.StartGoTrace(file); err != nil {
		return err
	}
	time.Sleep(time.Duration(nsec) * time.Second)
	return h.StopGoTrace()
}

// SetBlockProfileRate sets the rate of goroutine block profile data collection.
// rate 0 disables block profiling.
func (*HandlerT) SetBlockProfileRate(rate int) {
	runtime.SetBlockProfileRate(rate)
}

// WriteBlockProfile writes a goroutine blocking profile to the given file.
func (*HandlerT) WriteBlockProfile(file string) error {
	return writeProfile("block", file)
}

// WriteMemProfile writes an allocation profile to the given file.
// The profiling rate can only be set on the command line.
func (*HandlerT) WriteMemProfile(file string) error {
	return writeProfile("heap", file)
}

var (
	stackFilterIdent = regexp.MustCompile(`[:/\.A-Za-z0-9_-]+`)
	stackFilterNot   = regexp.MustCompile("!(`[:/\\.A-Za-z0-9_-]+`)")
)

// Stacks returns a printed representation of the stacks of all goroutines.
// The optional filter is a boolean expression of package names, for example
// "rpc && !websocket". Only goroutines whose stack matches are returned.
//
// Stacks 返回所有 goroutine 的栈信息，可用包名布尔表达式过滤。
func (*HandlerT) Stacks(filter *string) (string, error) {
	buf := new(bytes.Buffer)
	pprof.Lookup("goroutine").WriteTo(buf, 2)
	if filter == nil || len(*filter) == 0 {
		return buf.String(), nil
	}
	// (rpc || log) && !http -> (`rpc` in Value or `log` in Value) and `http` not in Value
	expanded := stackFilterIdent.ReplaceAllString(*filter, "`$0` in Value")
	expanded = stackFilterNot.ReplaceAllString(expanded, "$1 not")
	expanded = strings.ReplaceAll(expanded, "||", "or")
	expanded = strings.ReplaceAll(expanded, "&&", "and")
	log.Debug("Expanded stack filter", "filter", *filter, "expanded", expanded)

	expr, err := bexpr.CreateEvaluator(expanded)
	if err != nil {
		return "", err
	}
	dump := buf.String()
	buf.Reset()
	for _, trace := range strings.Split(dump, "\n\n") {
		if ok, _ := expr.Evaluate(map[string]string{"Value": trace}); ok {
			buf.WriteString(trace)
			buf.WriteString("\n\n")
		}
	}
	return buf.String(), nil
}

// FreeOSMemory forces a garbage collection.
func (*HandlerT) FreeOSMemory() {
	debug.FreeOSMemory()
}

// SetGCPercent sets the garbage collection target percentage. It returns the previous
// setting. A negative value disables GC.
func (*HandlerT) SetGCPercent(v int) int {
	return debug.SetGCPercent(v)
}

func writeProfile(name, file string) error {
	p := pprof.Lookup(name)
	log.Info("Writing profile records", "count", p.Count(), "type", name, "dump", file)
	f, err := os.Create(flags.ExpandPath(file))
	if err != nil {
		return err
	}
	defer f.Close()
	return p.WriteTo(f, 0)
}
