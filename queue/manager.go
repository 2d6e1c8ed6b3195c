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

package queue

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/qdmacore/qdmacore/logger"
)

// Manager tracks every Handle opened through it and tears all of them
// down on Close, one queue's failure never aborting the others.
type Manager struct {
	mut     sync.Mutex
	handles []*Handle
}

func NewManager() *Manager {
	return &Manager{}
}

// Start opens a queue exactly like Start, and additionally registers
// the resulting Handle with the Manager for group teardown.
func (m *Manager) Start(ctx context.Context, device string, idx int, dir Direction) (*Handle, error) {
	h, err := Start(ctx, device, idx, dir)
	if err != nil {
		return nil, err
	}

	m.mut.Lock()
	m.handles = append(m.handles, h)
	m.mut.Unlock()
	return h, nil
}

// Len returns the number of handles still registered with the
// Manager.
func (m *Manager) Len() int {
	m.mut.Lock()
	defer m.mut.Unlock()
	return len(m.handles)
}

// Close tears down every registered Handle. Administration (stop/del)
// failures are only ever logged, by Handle.CloseContext itself; a
// failure closing a handle's device file is logged here and folded
// into the returned error, but never prevents the remaining handles
// from being closed.
func (m *Manager) Close() error {
	return m.CloseContext(context.Background())
}

func (m *Manager) CloseContext(ctx context.Context) error {
	m.mut.Lock()
	handles := m.handles
	m.handles = nil
	m.mut.Unlock()

	var result *multierror.Error
	for _, h := range handles {
		if err := h.CloseContext(ctx); err != nil {
			logger.Errorf("queue manager: close idx=%d dir=%s failed: %v", h.Queue(), h.Direction(), err)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
