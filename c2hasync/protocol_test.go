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
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qdmacore/qdmacore/c2h"
	"github.com/qdmacore/qdmacore/common"
)

func dataBeat(fill byte) []byte {
	b := make([]byte, common.PacketSize)
	for i := range b {
		b[i] = fill
	}
	if b[0] == c2h.CtrlSeq[0] {
		b[0]++
	}
	return b
}

// ctrlBeat builds a control beat for ProtocolStream's wire layout: the
// control word lives inside the same fixed PACKET_SIZE beat, at
// [CtrlSize:CtrlSize*2]. This intentionally diverges from c2h's wire
// format, where the control word follows the beat as a separate
// CtrlSize-byte read (see c2h/decoder_test.go's own ctrlBeat) — the two
// are not interchangeable, per the same-beat control-word adaptation
// documented on ProtocolStream.
func ctrlBeat(ctrl uint32) []byte {
	b := make([]byte, common.PacketSize)
	copy(b, c2h.CtrlSeq[:])
	binary.LittleEndian.PutUint32(b[common.CtrlSize:common.CtrlSize*2], ctrl)
	return b
}

func newProtocolStream(t *testing.T, beats ...[]byte) *ProtocolStream {
	t.Helper()
	var data []byte
	for _, b := range beats {
		data = append(data, b...)
	}
	raw, err := New(&fakeReaderAt{data: data})
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return NewProtocolStream(raw)
}

func TestProtocolStreamSingleBeatFrame(t *testing.T) {
	p := newProtocolStream(t, ctrlBeat(0x1000))

	isLast, data, err := p.NextStreamPacket(context.Background())
	require.NoError(t, err)
	assert.True(t, isLast)
	assert.Len(t, data, 0x1000)
	assert.Equal(t, c2h.CtrlSeq[:], data[:4])
}

// TestProtocolStreamMultiBeatOrdering checks the one-beat look-behind
// never reorders or drops a beat, and that the frame's closing chunk
// is the terminating control beat's own body truncated to its
// announced length, not the beat that precedes it — matching the
// synchronous decoder's NextStreamPacket exactly.
func TestProtocolStreamMultiBeatOrdering(t *testing.T) {
	beat1 := dataBeat(0x01)
	beat2 := dataBeat(0x02)
	beat3 := dataBeat(0x03)
	closing := ctrlBeat(500)

	p := newProtocolStream(t, beat1, beat2, beat3, closing)
	ctx := context.Background()

	isLast, data, err := p.NextStreamPacket(ctx)
	require.NoError(t, err)
	assert.False(t, isLast)
	assert.Equal(t, beat1, data)

	isLast, data, err = p.NextStreamPacket(ctx)
	require.NoError(t, err)
	assert.False(t, isLast)
	assert.Equal(t, beat2, data)

	isLast, data, err = p.NextStreamPacket(ctx)
	require.NoError(t, err)
	assert.False(t, isLast)
	assert.Equal(t, beat3, data)

	isLast, data, err = p.NextStreamPacket(ctx)
	require.NoError(t, err)
	assert.True(t, isLast)
	assert.Len(t, data, 500)
	assert.Equal(t, c2h.CtrlSeq[:], data[:4])
}

func TestProtocolStreamPrevIsLast(t *testing.T) {
	const signBit = 1 << 31
	beat1 := dataBeat(0xAA)
	terminator := ctrlBeat(signBit | 123)

	p := newProtocolStream(t, beat1, terminator)

	isLast, data, err := p.NextStreamPacket(context.Background())
	require.NoError(t, err)
	assert.True(t, isLast)
	assert.Equal(t, beat1[:123], data)
}

func TestProtocolStreamBarePrevIsLastIsViolation(t *testing.T) {
	const signBit = 1 << 31
	p := newProtocolStream(t, ctrlBeat(signBit|5))

	_, _, err := p.NextStreamPacket(context.Background())
	assert.ErrorIs(t, err, ErrProtocolViolation)
}
