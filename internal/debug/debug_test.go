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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/go-rpckit/log"
	"github.com/urfave/cli/v2"
)

func runSetup(t *testing.T, args ...string) error {
	t.Helper()
	t.Cleanup(func() {
		Exit()
		log.SetDefault(log.NewLogger(log.DiscardHandler()))
	})
	app := &cli.App{
		Flags:  Flags,
		Action: Setup,
	}
	return app.Run(append([]string{"rpcd"}, args...))
}

func TestSetupLogFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "rpcd.log")
	require.NoError(t, runSetup(t, "--log.file", file, "--log.format", "json", "--verbosity", "4"))

	log.Debug("Debug line", "n", 1)
	log.Trace("Trace line")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Debug line"`)
	assert.NotContains(t, string(data), "Trace line")
}

func TestSetupUnknownFormat(t *testing.T) {
	err := runSetup(t, "--log.format", "xml")
	assert.ErrorContains(t, err, "unknown log format")
}

func TestVerbosity(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rpcd.log")
	require.NoError(t, runSetup(t, "--log.file", file, "--log.format", "logfmt"))

	Handler.Verbosity(2)
	log.Info("Info line")
	log.Warn("Warn line")
	Handler.Verbosity(5)
	log.Trace("Trace line")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Info line")
	assert.Contains(t, string(data), "Warn line")
	assert.Contains(t, string(data), "Trace line")
}

func TestStacks(t *testing.T) {
	all, err := Handler.Stacks(nil)
	require.NoError(t, err)
	assert.Contains(t, all, "goroutine")

	filter := "debug && !nonexistentpkg"
	filtered, err := Handler.Stacks(&filter)
	require.NoError(t, err)
	assert.Contains(t, filtered, "TestStacks")

	filter = "nonexistentpkg"
	filtered, err = Handler.Stacks(&filter)
	require.NoError(t, err)
	assert.Empty(t, filtered)

	filter = "(("
	_, err = Handler.Stacks(&filter)
	assert.Error(t, err)
}

func TestCPUProfile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "cpu.prof")
	require.NoError(t, Handler.StartCPUProfile(file))
	assert.Error(t, Handler.StartCPUProfile(file))
	require.NoError(t, Handler.StopCPUProfile())
	assert.Error(t, Handler.StopCPUProfile())
	assert.FileExists(t, file)
}
