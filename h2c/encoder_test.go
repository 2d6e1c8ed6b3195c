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
	"bytes"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qdmacore/qdmacore/common"
)

// syncWriter wraps a bytes.Buffer so the background flusher and the
// test goroutine can safely race on it.
type syncWriter struct {
	mut sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mut.Lock()
	defer w.mut.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) Bytes() []byte {
	w.mut.Lock()
	defer w.mut.Unlock()
	return append([]byte(nil), w.buf.Bytes()...)
}

func newTestEncoder(t *testing.T, w Writer, capacity, threshold int, interval time.Duration) *Encoder {
	t.Helper()
	e, err := New(w, capacity, threshold, interval)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// TestWriteBelowThresholdStaysBuffered checks a write smaller than the
// flush threshold does not reach the sink until an explicit Flush.
func TestWriteBelowThresholdStaysBuffered(t *testing.T) {
	w := &syncWriter{}
	e := newTestEncoder(t, w, common.Align, common.Align, time.Hour)

	n, err := e.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Empty(t, w.Bytes())

	require.NoError(t, e.Flush())
	assert.Equal(t, []byte("hello"), w.Bytes())
}

// TestWriteCrossingThresholdAutoFlushes checks a write that pushes the
// fill level at or past flushThreshold triggers an immediate flush.
func TestWriteCrossingThresholdAutoFlushes(t *testing.T) {
	w := &syncWriter{}
	e := newTestEncoder(t, w, common.Align*2, 10, time.Hour)

	payload := bytes.Repeat([]byte{0x42}, 20)
	_, err := e.Write(payload)
	require.NoError(t, err)

	assert.Equal(t, payload, w.Bytes())
}

// TestBackgroundFlusherDrainsOnTimer verifies the background flusher
// eventually delivers a small write even though it never crosses the
// flush threshold and is never flushed explicitly.
func TestBackgroundFlusherDrainsOnTimer(t *testing.T) {
	w := &syncWriter{}
	e := newTestEncoder(t, w, common.Align, common.Align, 20*time.Millisecond)

	_, err := e.Write([]byte("tick"))
	require.NoError(t, err)
	assert.Empty(t, w.Bytes(), "must not have flushed yet")

	require.Eventually(t, func() bool {
		return bytes.Equal(w.Bytes(), []byte("tick"))
	}, time.Second, 5*time.Millisecond)
}

// TestWriteRemainingRejectsEmptyPayload confirms the panic-on-empty
// behaviour of the original implementation is surfaced here as an
// ordinary error.
func TestWriteRemainingRejectsEmptyPayload(t *testing.T) {
	w := &syncWriter{}
	e := newTestEncoder(t, w, common.Align, common.Align, time.Hour)

	err := e.WriteRemaining(nil)
	assert.ErrorIs(t, err, ErrEmptyRemaining)
}

// TestWriteRemainingEmitsCountThenPayload checks the wire shape: a
// 4-byte little-endian beat count, computed as ceil(len/PACKET_SIZE),
// immediately followed by the payload itself.
func TestWriteRemainingEmitsCountThenPayload(t *testing.T) {
	w := &syncWriter{}
	e := newTestEncoder(t, w, common.Align*4, common.Align*4, time.Hour)

	payload := bytes.Repeat([]byte{0x7A}, common.PacketSize+10)
	require.NoError(t, e.WriteRemaining(payload))

	out := w.Bytes()
	require.GreaterOrEqual(t, len(out), common.CtrlSize+len(payload))

	count := binary.LittleEndian.Uint32(out[:common.CtrlSize])
	assert.Equal(t, uint32(2), count)
	assert.Equal(t, payload, out[common.CtrlSize:common.CtrlSize+len(payload)])
}

// TestWriteCompleteStreamCopiesExactLength checks the count-prefixed
// framing and the reported byte count for a reader yielding exactly
// length bytes.
func TestWriteCompleteStreamCopiesExactLength(t *testing.T) {
	w := &syncWriter{}
	e := newTestEncoder(t, w, common.Align*4, common.Align*4, time.Hour)

	payload := bytes.Repeat([]byte{0x3C}, common.PacketSize*2)
	n, err := e.WriteCompleteStream(bytes.NewReader(payload), len(payload))
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	out := w.Bytes()
	count := binary.LittleEndian.Uint32(out[:common.CtrlSize])
	assert.Equal(t, uint32(2), count)
	assert.Equal(t, payload, out[common.CtrlSize:common.CtrlSize+len(payload)])
}

// TestWriteCompleteStreamLengthMismatchErrors checks a reader that
// falls short of the announced length is reported as an error rather
// than silently truncated.
func TestWriteCompleteStreamLengthMismatchErrors(t *testing.T) {
	w := &syncWriter{}
	e := newTestEncoder(t, w, common.Align*4, common.Align*4, time.Hour)

	short := bytes.Repeat([]byte{0x01}, 10)
	_, err := e.WriteCompleteStream(bytes.NewReader(short), 100)
	assert.Error(t, err)
}

// TestOrderingIsPreservedAcrossFlushes checks bytes written across
// several calls, some crossing the flush threshold and some not, are
// delivered to the sink in the order they were written.
func TestOrderingIsPreservedAcrossFlushes(t *testing.T) {
	w := &syncWriter{}
	e := newTestEncoder(t, w, common.Align*4, 100, time.Hour)

	var want bytes.Buffer
	for i := byte(0); i < 10; i++ {
		chunk := bytes.Repeat([]byte{i}, 30)
		want.Write(chunk)
		_, err := e.Write(chunk)
		require.NoError(t, err)
	}
	require.NoError(t, e.Flush())

	assert.Equal(t, want.Bytes(), w.Bytes())
}

// TestCloseIsIdempotent checks calling Close twice does not error or
// panic on the already-stopped flusher.
func TestCloseIsIdempotent(t *testing.T) {
	w := &syncWriter{}
	e, err := New(w, common.Align, common.Align, time.Hour)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}
