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

package c2hasync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/qdmacore/qdmacore/common"
)

var (
	beatsRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "c2hasync",
		Name:      "beats_read_total",
		Help:      "Positional beats successfully read and committed (pos advanced).",
	})

	cancellations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "c2hasync",
		Name:      "cancellations_total",
		Help:      "NextPacket calls that returned due to context cancellation.",
	})
)
