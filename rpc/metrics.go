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

package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequestCounter        = promauto.NewCounter(prometheus.CounterOpts{Name: "rpc_requests_total", Help: "Number of dispatched RPC requests."})
	successfulRequestCounter = promauto.NewCounter(prometheus.CounterOpts{Name: "rpc_success_total", Help: "Number of RPC requests served without error."})
	failedRequestCounter     = promauto.NewCounter(prometheus.CounterOpts{Name: "rpc_failure_total", Help: "Number of RPC requests which failed."})

	notificationFailureCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpc_notification_failures_total",
		Help: "Number of one-way requests whose dispatch failed.",
	})

	malformedRequestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_malformed_requests_total",
		Help: "Number of requests rejected by the protocol codec.",
	}, []string{"protocol"})

	// rpcServingTime tracks per method serving time, labelled with the outcome.
	rpcServingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_duration_seconds",
		Help:    "Serving time of RPC requests.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"method", "result"})
)

// updateServeMetrics tracks the serving time of a remote RPC call.
func updateServeMetrics(method string, success bool, elapsed time.Duration) {
	rpcRequestCounter.Inc()
	note := "success"
	if success {
		successfulRequestCounter.Inc()
	} else {
		failedRequestCounter.Inc()
		note = "failure"
	}
	rpcServingTime.WithLabelValues(method, note).Observe(elapsed.Seconds())
}
