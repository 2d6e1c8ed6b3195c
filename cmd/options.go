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

package cmd

import (
	"strings"

	"github.com/qdmacore/qdmacore/common"
)

// setFlags holds the raw --set key=value pairs a subcommand was given;
// each subcommand declares its own --set flag bound to this slice
// since cobra flags are per-command, not shared across the root.
var setFlags []string

// parseSetFlags turns a list of "key=value" pairs into an Options map,
// silently dropping any entry without an "=". Later entries win over
// earlier ones with the same key.
func parseSetFlags(pairs []string) common.Options {
	opts := common.NewOptions()
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		opts.Merge(k, v)
	}
	return opts
}
