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

package common

const (
	// App is the program name used in logs, metric namespaces and the CLI.
	App = "qdmacore"

	// Version is the program version reported by the CLI.
	Version = "v0.0.1"

	// PacketSize is the fixed size of a single DMA beat, in bytes.
	PacketSize = 4096

	// Align is the required base-address and size alignment for any
	// buffer submitted to the device for DMA.
	Align = 4096

	// CtrlSize is the size of a control word following a CTRL_SEQ beat.
	CtrlSize = 4

	// DmaCtlBinary is the external administration tool invoked to
	// add/start/stop/delete queues.
	DmaCtlBinary = "dma-ctl"
)
