// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package panicsafe recovers panics inside long-lived background
// goroutines (the H2C background flusher, the C2H async scheduler) so
// that a single misbehaving device sink cannot take the whole process
// down with it.
package panicsafe

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/qdmacore/qdmacore/common"
	"github.com/qdmacore/qdmacore/logger"
)

var panicTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: common.App,
		Name:      "panic_total",
		Help:      "background goroutines that recovered from a panic",
	},
)

var Handlers = []func(any){
	incPanicCounter,
	logPanic,
}

func incPanicCounter(_ any) {
	panicTotal.Inc()
}

func logPanic(r any) {
	const size = 64 << 10
	stacktrace := make([]byte, size)
	stacktrace = stacktrace[:runtime.Stack(stacktrace, false)]
	if _, ok := r.(string); ok {
		logger.Errorf("recovered from a panic: %s\n%s", r, stacktrace)
	} else {
		logger.Errorf("recovered from a panic: %#v (%v)\n%s", r, r, stacktrace)
	}
}

// Recover must be deferred at the top of a background goroutine.
func Recover() {
	if r := recover(); r != nil {
		for _, fn := range Handlers {
			fn(r)
		}
	}
}
