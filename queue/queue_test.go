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
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qdmacore/qdmacore/common"
)

// installFakeDmaCtl points common.DmaCtlBinary's $PATH lookup at a
// shell script that logs its invocation to a file and creates the
// expected /dev/<device>-ST-<idx> node so Start can open it.
func installFakeDmaCtl(t *testing.T, devDir string, fail bool) {
	t.Helper()

	binDir := t.TempDir()
	script := fmt.Sprintf(`#!/bin/sh
echo "$@" >> %q
if [ "$3" = "add" ]; then
  : > "%s/$1-ST-$5"
fi
if [ %t = true ]; then
  echo "boom" >&2
  exit 1
fi
exit 0
`, filepath.Join(binDir, "calls.log"), devDir, fail)

	path := filepath.Join(binDir, "dma-ctl")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestStartAndCloseHappyPath(t *testing.T) {
	devDir := t.TempDir()
	installFakeDmaCtl(t, devDir, false)

	oldPath := devicePath
	devicePath = func(device string, idx int) string {
		return filepath.Join(devDir, fmt.Sprintf("%s-ST-%d", device, idx))
	}
	defer func() { devicePath = oldPath }()

	h, err := Start(context.Background(), "qdma0", 0, C2H)
	require.NoError(t, err)
	require.NotEmpty(t, h.ID())

	require.NoError(t, h.Close())
	require.NoError(t, h.Close(), "second close must be a no-op, not an error")
}

// installFakeDmaCtlFailOn behaves like installFakeDmaCtl but only
// fails invocations whose dma-ctl subcommand (the 3rd argument, after
// the device name) matches failOn, so add/start can succeed while
// stop/del fail (or vice versa).
func installFakeDmaCtlFailOn(t *testing.T, devDir string, failOn string) {
	t.Helper()

	binDir := t.TempDir()
	script := fmt.Sprintf(`#!/bin/sh
echo "$@" >> %q
if [ "$3" = "add" ]; then
  : > "%s/$1-ST-$5"
fi
if [ "$3" = %q ]; then
  echo "boom" >&2
  exit 1
fi
exit 0
`, filepath.Join(binDir, "calls.log"), devDir, failOn)

	path := filepath.Join(binDir, "dma-ctl")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// TestCloseLogsButDoesNotPropagateStopFailure confirms a failing
// `dma-ctl … q stop` (or the `del` that follows it) during Close is
// only logged, never returned: the device file close is independent
// of administration teardown, and there is nothing left for a caller
// to retry once Close has been called.
func TestCloseLogsButDoesNotPropagateStopFailure(t *testing.T) {
	devDir := t.TempDir()
	installFakeDmaCtlFailOn(t, devDir, "stop")

	oldPath := devicePath
	devicePath = func(device string, idx int) string {
		return filepath.Join(devDir, fmt.Sprintf("%s-ST-%d", device, idx))
	}
	defer func() { devicePath = oldPath }()

	h, err := Start(context.Background(), "qdma0", 0, C2H)
	require.NoError(t, err)

	require.NoError(t, h.Close(), "a failing stop/del must be logged, not returned")
}

func TestStartFailurePropagatesDmaCtlStderr(t *testing.T) {
	devDir := t.TempDir()
	installFakeDmaCtl(t, devDir, true)

	_, err := Start(context.Background(), common.DmaCtlBinary, 0, H2C)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}
