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

package flags

import "github.com/urfave/cli/v2"

const (
	// ServerCategory 是与 RPC 服务端相关的标志的类别。
	ServerCategory = "SERVER"
	// TransportCategory 是与 HTTP 和 WebSocket 传输相关的标志的类别。
	TransportCategory = "TRANSPORT"
	// ClientCategory 是与 RPC 客户端相关的标志的类别。
	ClientCategory = "CLIENT"
	// LoggingCategory 是与 Logging and Debugging 相关的标志的类别。
	LoggingCategory = "LOGGING AND DEBUGGING"
	// MetricsCategory 是与 Metrics 相关的标志的类别。
	MetricsCategory = "METRICS"
	// MiscCategory 是与 Miscellaneous 相关的标志的类别。
	MiscCategory = "MISC"
)

func init() {
	cli.HelpFlag.(*cli.BoolFlag).Category = MiscCategory
	cli.VersionFlag.(*cli.BoolFlag).Category = MiscCategory
}
