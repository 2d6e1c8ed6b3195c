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

package c2h

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/qdmacore/qdmacore/common"
)

var (
	beatsRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "c2h",
		Name:      "beats_read_total",
		Help:      "Fixed-size beats read off the card-to-host stream.",
	})

	ctrlBeats = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "c2h",
		Name:      "ctrl_beats_total",
		Help:      "Beats recognized as control beats by their CTRL_SEQ prefix.",
	})

	frameTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "c2h",
		Name:      "frames_total",
		Help:      "Complete frames decoded by NextStreamPacket reaching is_last.",
	})

	protocolViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "c2h",
		Name:      "protocol_violations_total",
		Help:      "PrevIsLast control words observed with no previous beat in hand.",
	})
)
