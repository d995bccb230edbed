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
	"context"
	"errors"
	"time"

	"github.com/sunyihoo/go-rpckit/rpc"
)

// calcService is the demo service registered under "calc.".
//
// calcService 是注册在 "calc." 下的示例服务。
type calcService struct{}

// Reverse returns s with its characters in reverse order.
func (calcService) Reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func (calcService) Add(a, b float64) float64 { return a + b }

func (calcService) Subtract(a, b float64) float64 { return a - b }

// Sum adds up all given numbers.
func (calcService) Sum(nums []float64) float64 {
	var total float64
	for _, n := range nums {
		total += n
	}
	return total
}

func (calcService) Divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, errors.New("division by zero")
	}
	return a / b, nil
}

type scaleArgs struct {
	Value  float64 `json:"value"`
	Factor float64 `json:"factor"`
}

// Scale multiplies value by factor. It takes named arguments.
func (calcService) Scale(args scaleArgs) float64 { return args.Value * args.Factor }

// Echo returns its argument unchanged.
func (calcService) Echo(v any) any { return v }

// Cheat always fails with an application defined error.
func (calcService) Cheat() error {
	return rpc.NewError(99, "Ah, that's cheating!", map[string]any{"msg": "x"})
}

// Sleep blocks for ms milliseconds or until the request is cancelled.
func (calcService) Sleep(ctx context.Context, ms int) error {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
