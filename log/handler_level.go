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
	"context"
	"log/slog"
)

// LevelHandler filters records below an adjustable verbosity before passing
// them on. It fills the role of a global verbosity knob: the wrapped handler
// should accept every level.
//
// LevelHandler 在运行时可调的级别之下丢弃日志记录。
type LevelHandler struct {
	level   *slog.LevelVar
	handler slog.Handler
}

// NewLevelHandler wraps h. Records at LevelInfo and above are emitted until
// Verbosity is called.
func NewLevelHandler(h slog.Handler) *LevelHandler {
	return &LevelHandler{level: new(slog.LevelVar), handler: h}
}

// Verbosity sets the lowest level that is emitted.
func (h *LevelHandler) Verbosity(level slog.Level) {
	h.level.Set(level)
}

// Level returns the current verbosity.
func (h *LevelHandler) Level() slog.Level {
	return h.level.Level()
}

func (h *LevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level() && h.handler.Enabled(ctx, level)
}

func (h *LevelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

// WithAttrs shares the verbosity with the returned handler.
func (h *LevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *LevelHandler) WithGroup(name string) slog.Handler {
	return &LevelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}
