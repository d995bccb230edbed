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

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalHandlerFormat(t *testing.T) {
	out := new(bytes.Buffer)
	l := NewLogger(NewTerminalHandler(out, false)).With("module", "rpc")
	l.Info("Served calc.add", "reqid", 7, "err", "bad input")

	line := out.String()
	assert.True(t, strings.HasPrefix(line, "INFO ["), line)
	assert.Contains(t, line, "Served calc.add")
	assert.Contains(t, line, "module=rpc")
	assert.Contains(t, line, "reqid=7")
	assert.Contains(t, line, `err="bad input"`)
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestTerminalHandlerLevel(t *testing.T) {
	out := new(bytes.Buffer)
	l := NewLogger(NewTerminalHandlerWithLevel(out, LevelWarn, false))
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
}

func TestJSONHandler(t *testing.T) {
	out := new(bytes.Buffer)
	l := NewLogger(JSONHandlerWithLevel(out, LevelTrace))
	l.Trace("tracing", "count", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &rec))
	assert.Equal(t, "trace", rec["lvl"])
	assert.Equal(t, "tracing", rec["msg"])
	assert.Equal(t, float64(3), rec["count"])
	assert.Contains(t, rec, "t")
}

func TestLogfmtHandlerOddArgs(t *testing.T) {
	out := new(bytes.Buffer)
	l := NewLogger(LogfmtHandler(out))
	l.Error("odd", "key")
	assert.Contains(t, out.String(), "lvl=error")
	assert.Contains(t, out.String(), errorKey)
}

func TestLevels(t *testing.T) {
	tests := []struct {
		legacy int
		level  string
	}{
		{0, "crit"}, {1, "error"}, {2, "warn"}, {3, "info"}, {4, "debug"}, {5, "trace"}, {9, "trace"},
	}
	for _, tt := range tests {
		lvl := FromLegacyLevel(tt.legacy)
		assert.Equal(t, tt.level, LevelString(lvl))
		parsed, err := LvlFromString(tt.level)
		require.NoError(t, err)
		assert.Equal(t, lvl, parsed)
	}
	_, err := LvlFromString("loud")
	assert.Error(t, err)
}

func TestRootDiscardsByDefault(t *testing.T) {
	assert.False(t, Root().Enabled(context.Background(), LevelCrit))
}
