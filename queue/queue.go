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

// Package queue lifts raw /dev/<device>-ST-<queue> character-device
// nodes into RAII-style Handles: the kernel queue is added and started
// through the external dma-ctl tool before the device is opened, and
// stopped and deleted when the Handle is closed.
package queue

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/qdmacore/qdmacore/common"
	"github.com/qdmacore/qdmacore/logger"
)

// Direction is the data direction of a queue.
type Direction string

const (
	C2H Direction = "c2h"
	H2C Direction = "h2c"
)

func (d Direction) String() string {
	return string(d)
}

// Handle binds a device name, a queue index and direction to an
// opened device file. Construction runs `q add` then `q start`
// through dma-ctl; Close runs `q stop` then `q del` and is idempotent.
type Handle struct {
	id     string
	device string
	idx    int
	dir    Direction
	file   *os.File
	closed bool
}

// Start adds and starts the queue idx on device in direction dir, then
// opens its device node with the access mode appropriate to dir
// (read-only for C2H, read+write for H2C). On failure of any step the
// queue is left exactly as it was found: Start never leaks a started-
// but-unopened queue behind a discarded error.
func Start(ctx context.Context, device string, idx int, dir Direction) (*Handle, error) {
	if err := runDmaCtl(ctx, dir, addArgs(device, idx, dir)...); err != nil {
		return nil, errors.Wrapf(err, "queue: add idx=%d dir=%s failed", idx, dir)
	}
	if err := runDmaCtl(ctx, dir, startArgs(device, idx, dir)...); err != nil {
		// The queue was successfully added but failed to start: best-effort
		// undo so we don't strand an added-but-unstarted queue.
		if delErr := runDmaCtl(ctx, dir, delArgs(device, idx, dir)...); delErr != nil {
			logger.Errorf("queue: rollback of add idx=%d dir=%s after failed start: %v", idx, dir, delErr)
		}
		return nil, errors.Wrapf(err, "queue: start idx=%d dir=%s failed", idx, dir)
	}

	path := devicePath(device, idx)
	flag := os.O_RDONLY
	if dir == H2C {
		flag = os.O_RDWR
	}
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		if stopErr := stop(ctx, device, idx, dir); stopErr != nil {
			logger.Errorf("queue: rollback of start idx=%d dir=%s after failed open: %v", idx, dir, stopErr)
		}
		return nil, errors.Wrapf(err, "queue: open %s failed", path)
	}

	h := &Handle{
		id:     uuid.New().String(),
		device: device,
		idx:    idx,
		dir:    dir,
		file:   file,
	}
	logger.Infof("queue[%s]: started device=%s idx=%d dir=%s", h.id, device, idx, dir)
	return h, nil
}

// ID returns the handle's diagnostic identifier, stable for its
// lifetime, used to correlate log lines across add/start/stop/del.
func (h *Handle) ID() string {
	return h.id
}

func (h *Handle) Device() string {
	return h.device
}

func (h *Handle) Queue() int {
	return h.idx
}

func (h *Handle) Direction() Direction {
	return h.dir
}

// Read implements io.Reader; valid only for a C2H handle.
func (h *Handle) Read(p []byte) (int, error) {
	return h.file.Read(p)
}

// ReadAt implements io.ReaderAt, used by the async C2H stream's
// positional reads.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	return h.file.ReadAt(p, off)
}

// Write implements io.Writer; valid only for an H2C handle.
func (h *Handle) Write(p []byte) (int, error) {
	return h.file.Write(p)
}

// Close runs `q stop` then `q del` and closes the device file. It is
// safe to call more than once: a Handle already closed simply logs and
// returns nil, matching the idempotent-teardown requirement on the
// queue lifecycle.
func (h *Handle) Close() error {
	return h.CloseContext(context.Background())
}

// CloseContext is Close with an explicit context, primarily so a
// Manager can bound the teardown of many queues with one deadline.
func (h *Handle) CloseContext(ctx context.Context) error {
	if h.closed {
		logger.Debugf("queue[%s]: close on already-closed handle idx=%d dir=%s", h.id, h.idx, h.dir)
		return nil
	}
	h.closed = true

	closeErr := h.file.Close()
	if err := stop(ctx, h.device, h.idx, h.dir); err != nil {
		// Administration errors on teardown are logged, not propagated:
		// the file is already closed and there is nothing left for a
		// caller to retry or compensate for.
		logger.Errorf("queue[%s]: stop idx=%d dir=%s failed: %v", h.id, h.idx, h.dir, err)
	}
	return closeErr
}

func stop(ctx context.Context, device string, idx int, dir Direction) error {
	if err := runDmaCtl(ctx, dir, stopArgs(device, idx, dir)...); err != nil {
		return errors.Wrapf(err, "queue: stop idx=%d dir=%s failed", idx, dir)
	}
	if err := runDmaCtl(ctx, dir, delArgs(device, idx, dir)...); err != nil {
		return errors.Wrapf(err, "queue: del idx=%d dir=%s failed", idx, dir)
	}
	return nil
}

// devicePath is a var so tests can redirect it at a temp directory
// instead of the real /dev.
var devicePath = func(device string, idx int) string {
	return fmt.Sprintf("/dev/%s-ST-%d", device, idx)
}

func addArgs(device string, idx int, dir Direction) []string {
	return []string{device, "q", "add", "idx", strconv.Itoa(idx), "mode", "st", "dir", dir.String()}
}

func startArgs(device string, idx int, dir Direction) []string {
	args := []string{device, "q", "start", "idx", strconv.Itoa(idx), "dir", dir.String()}
	if dir == H2C {
		args = append(args, "fetch_credit", "h2c")
	}
	return args
}

func stopArgs(device string, idx int, dir Direction) []string {
	return []string{device, "q", "stop", "idx", strconv.Itoa(idx), "dir", dir.String()}
}

func delArgs(device string, idx int, dir Direction) []string {
	return []string{device, "q", "del", "idx", strconv.Itoa(idx), "dir", dir.String()}
}

func runDmaCtl(ctx context.Context, dir Direction, args ...string) error {
	cmd := exec.CommandContext(ctx, common.DmaCtlBinary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		dmaCtlErrorsTotal.WithLabelValues(dir.String()).Inc()
		return errors.Errorf("%s %v: %v: %s", common.DmaCtlBinary, args, err, stderr.String())
	}
	return nil
}
