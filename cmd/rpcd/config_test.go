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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rpcd.toml")
	content := `
[Node]
Protocol = "msgpack"
HTTPHost = "0.0.0.0"
HTTPPort = 9000
HTTPCors = ["https://example.org"]
WSEnabled = true
BatchRequestLimit = 10
RequestTimeout = 5000000000
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))

	cfg := rpcdConfig{Node: defaultNodeConfig()}
	require.NoError(t, loadConfig(file, &cfg))
	assert.Equal(t, "msgpack", cfg.Node.Protocol)
	assert.Equal(t, "0.0.0.0", cfg.Node.HTTPHost)
	assert.Equal(t, 9000, cfg.Node.HTTPPort)
	assert.Equal(t, []string{"https://example.org"}, cfg.Node.HTTPCors)
	assert.True(t, cfg.Node.WSEnabled)
	assert.Equal(t, 10, cfg.Node.BatchRequestLimit)
	assert.Equal(t, 5*time.Second, cfg.Node.RequestTimeout)
	// Untouched values keep their defaults.
	assert.Equal(t, []string{"localhost"}, cfg.Node.HTTPVirtualHosts)
	assert.Equal(t, clientIdentifier, cfg.Node.Name)
}

func TestLoadConfigUnknownField(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rpcd.toml")
	require.NoError(t, os.WriteFile(file, []byte("[Node]\nBogus = 1\n"), 0644))

	cfg := rpcdConfig{Node: defaultNodeConfig()}
	err := loadConfig(file, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'Bogus' is not defined")
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg := rpcdConfig{Node: defaultNodeConfig()}
	assert.Error(t, loadConfig(filepath.Join(t.TempDir(), "missing.toml"), &cfg))
}

func TestDumpConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "dump.toml")
	_, err := runRpcd(t, "dumpconfig", "--protocol", "msgpack", "--http.port", "9100", "--ws", file)
	require.NoError(t, err)

	cfg := rpcdConfig{Node: defaultNodeConfig()}
	require.NoError(t, loadConfig(file, &cfg))
	assert.Equal(t, "msgpack", cfg.Node.Protocol)
	assert.Equal(t, 9100, cfg.Node.HTTPPort)
	assert.True(t, cfg.Node.WSEnabled)

	// The dump is written to stdout when no file is given.
	out, err := runRpcd(t, "dumpconfig")
	require.NoError(t, err)
	assert.Contains(t, out, "[Node]")
	assert.Contains(t, out, `Protocol = "jsonrpc"`)
}

func TestDumpConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.toml")
	require.NoError(t, os.WriteFile(in, []byte("[Node]\nHTTPPort = 7000\n"), 0644))

	out, err := runRpcd(t, "dumpconfig", "--config", in, "--rpc.batch-request-limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "HTTPPort = 7000")
	assert.Contains(t, out, "BatchRequestLimit = 5")
}

func TestVersionCommand(t *testing.T) {
	out, err := runRpcd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: ")
	assert.Contains(t, out, "Go Version: ")
}
