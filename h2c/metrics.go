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

package h2c

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/qdmacore/qdmacore/common"
)

var (
	bytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "h2c",
		Name:      "bytes_written_total",
		Help:      "Bytes accepted into the host-to-card accumulation buffer.",
	})

	flushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "h2c",
		Name:      "flushes_total",
		Help:      "Flushes of the accumulation buffer to the device, by trigger.",
	}, []string{"trigger"})

	flushErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "h2c",
		Name:      "flush_errors_total",
		Help:      "Flushes that returned an error from the device file.",
	})
)
