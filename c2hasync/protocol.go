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
	"errors"

	"github.com/qdmacore/qdmacore/c2h"
	"github.com/qdmacore/qdmacore/common"
)

// ErrProtocolViolation mirrors c2h.ErrProtocolViolation for the async
// path: a PrevIsLast control word observed with no beat in hand.
var ErrProtocolViolation = errors.New("c2hasync: PrevIsLast observed with no previous beat in hand")

type protoState int

const (
	notSet protoState = iota
	dataState
	lastState
)

// ProtocolStream lifts the raw positional beat stream into the same
// frame-relative view c2h.Decoder gives the synchronous path, reusing
// c2h's classification table (c2h.Classify) rather than
// reimplementing the control-word rules. Because NextPacket always
// reads one fixed PACKET_SIZE beat with no separate follow-up read,
// a control beat's trailing control word is decoded from within that
// same beat (immediately after its CtrlSeq prefix) instead of a
// further positional read.
type ProtocolStream struct {
	raw     *Stream
	ctrlSeq [4]byte

	cur, prev []byte
	state     protoState
	lastLen   int
}

// NewProtocolStream wraps an already-open raw Stream with protocol
// interpretation.
func NewProtocolStream(raw *Stream) *ProtocolStream {
	return &ProtocolStream{
		raw:     raw,
		ctrlSeq: c2h.CtrlSeq,
		cur:     make([]byte, common.PacketSize),
		prev:    make([]byte, common.PacketSize),
	}
}

// WithLegacyCtrlSeq switches p to the reversed legacy control-sequence
// byte ordering.
func (p *ProtocolStream) WithLegacyCtrlSeq() *ProtocolStream {
	p.ctrlSeq = c2h.LegacyCtrlSeq
	return p
}

func (p *ProtocolStream) readBeat(ctx context.Context, into []byte) (c2h.Classification, error) {
	data, err := p.raw.NextPacket(ctx)
	if err != nil {
		return c2h.Classification{}, err
	}
	copy(into, data)

	if !c2h.HasCtrlSeq(into, p.ctrlSeq) {
		return c2h.Classify(0), nil
	}
	word := c2h.DecodeCtrlWord(into[common.CtrlSize : common.CtrlSize*2])
	return c2h.Classify(word), nil
}

// NextStreamPacket is the async analog of c2h.Decoder.NextStreamPacket:
// same one-beat look-behind state machine, same classification rules,
// driven by cancellable positional reads instead of blocking ones.
func (p *ProtocolStream) NextStreamPacket(ctx context.Context) (bool, []byte, error) {
	if p.state == lastState {
		p.state = notSet
		return true, p.cur[:p.lastLen], nil
	}

	if p.state == notSet {
		p.state = dataState
		c, err := p.readBeat(ctx, p.prev)
		if err != nil {
			return false, nil, err
		}
		switch c.Meta() {
		case c2h.ThisIsData:
			// fall through to read the next beat below
		case c2h.ThisIsLast:
			p.state = notSet
			return true, p.prev[:c.Len()], nil
		case c2h.PrevIsLast:
			p.state = notSet
			return false, nil, ErrProtocolViolation
		}
	}

	c, err := p.readBeat(ctx, p.cur)
	if err != nil {
		return false, nil, err
	}

	switch c.Meta() {
	case c2h.ThisIsData:
		p.cur, p.prev = p.prev, p.cur
		return false, p.cur, nil
	case c2h.ThisIsLast:
		p.state = lastState
		p.lastLen = c.Len()
		return false, p.prev, nil
	default: // PrevIsLast
		p.state = notSet
		return true, p.prev[:c.Len()], nil
	}
}
