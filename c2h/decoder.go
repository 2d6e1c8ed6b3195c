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
	"errors"
	"io"

	"github.com/qdmacore/qdmacore/common"
	"github.com/qdmacore/qdmacore/internal/alignbuf"
)

// ErrProtocolViolation is returned when a PrevIsLast control word is
// observed while the decoder has no beat in hand to attribute it to.
var ErrProtocolViolation = errors.New("c2h: PrevIsLast observed with no previous beat in hand")

// state is the decoder's protocol state across calls to
// NextStreamPacket.
type state int

const (
	notSet state = iota
	dataState
	lastState
)

// Reader is the minimal capability the decoder needs from a device
// handle: an exact-length read. *queue.Handle and *os.File both
// satisfy it via io.Reader, wrapped here with io.ReadFull.
type Reader interface {
	io.Reader
}

// Decoder reads fixed-size beats from a Reader and exposes both a raw
// mode (no protocol interpretation) and a protocol mode that decodes
// the QAXIS frame structure using a one-beat look-behind.
type Decoder struct {
	r Reader

	cur, prev *alignbuf.Buffer
	ctrl      [common.CtrlSize]byte
	ctrlSeq   [4]byte

	protoState state
	lastLen    int
}

// Option configures a Decoder at construction time.
type Option func(*Decoder)

// WithLegacyCtrlSeq switches the decoder to the earlier, reversed
// control-sequence byte ordering. The canonical ordering is the
// default; use this only against devices still running the older
// firmware revision.
func WithLegacyCtrlSeq() Option {
	return func(d *Decoder) {
		d.ctrlSeq = LegacyCtrlSeq
	}
}

// New creates a Decoder reading beats from r.
func New(r Reader, opts ...Option) (*Decoder, error) {
	cur, err := alignbuf.New(common.PacketSize)
	if err != nil {
		return nil, err
	}
	prev, err := alignbuf.New(common.PacketSize)
	if err != nil {
		cur.Close()
		return nil, err
	}

	d := &Decoder{
		r:       r,
		cur:     cur,
		prev:    prev,
		ctrlSeq: CtrlSeq,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Close releases the decoder's beat buffers.
func (d *Decoder) Close() error {
	err1 := d.cur.Close()
	err2 := d.prev.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// NextRawPacket reads and returns the next PACKET_SIZE bytes verbatim,
// with no protocol interpretation.
func (d *Decoder) NextRawPacket() ([]byte, error) {
	return d.NextRawPacketWithLen(common.PacketSize)
}

// NextRawPacketWithLen reads min(len, PACKET_SIZE) bytes as a single
// read of that shortened length, with no protocol interpretation.
func (d *Decoder) NextRawPacketWithLen(n int) ([]byte, error) {
	if n > common.PacketSize {
		n = common.PacketSize
	}
	slice := d.cur.Region()[:n]
	if _, err := io.ReadFull(d.r, slice); err != nil {
		return nil, err
	}
	beatsRead.Inc()
	return slice, nil
}

// NextStreamPacket decodes and returns the next frame-relative beat:
// isLast reports whether data is the final beat of its frame.
//
// State machine (one-beat look-behind):
//
//	NotSet + ThisIsData  -> place beat in `prev`, advance to Data
//	NotSet + ThisIsLast  -> single-beat frame, emit prev[:N], stay NotSet
//	NotSet + PrevIsLast  -> protocol violation, nothing was ever read into prev
//	Data  + ThisIsData   -> swap cur/prev, emit the pre-swap prev as non-last data
//	Data  + ThisIsLast   -> remember pending last, emit the held-over prev as non-last
//	Data  + PrevIsLast   -> prev was the frame's last beat, emit prev[:N], go NotSet
//	Last(N) (no read)    -> emit the beat already classified as last, go NotSet
func (d *Decoder) NextStreamPacket() (bool, []byte, error) {
	if d.protoState == lastState {
		d.protoState = notSet
		frameTotal.Inc()
		return true, d.cur.Region()[:d.lastLen], nil
	}

	if d.protoState == notSet {
		d.protoState = dataState
		c, err := d.readBeat(d.prev)
		if err != nil {
			return false, nil, err
		}
		switch c.meta {
		case thisIsData:
			// fall through to read the next beat below
		case thisIsLast:
			d.protoState = notSet
			frameTotal.Inc()
			return true, d.prev.Region()[:c.len], nil
		case prevIsLast:
			d.protoState = notSet
			protocolViolations.Inc()
			return false, nil, ErrProtocolViolation
		}
	}

	c, err := d.readBeat(d.cur)
	if err != nil {
		return false, nil, err
	}

	switch c.meta {
	case thisIsData:
		// Swap current<->previous: the beat that was `previous` before
		// this swap (the one held back from an earlier call) is what
		// the now-relabeled `current` points at, and is what we emit;
		// the beat just read becomes the new `previous`, held for the
		// following call.
		d.cur, d.prev = d.prev, d.cur
		return false, d.cur.Region()[:common.PacketSize], nil
	case thisIsLast:
		d.protoState = lastState
		d.lastLen = c.len
		return false, d.prev.Region()[:common.PacketSize], nil
	default: // prevIsLast
		d.protoState = notSet
		frameTotal.Inc()
		return true, d.prev.Region()[:c.len], nil
	}
}

// ReadCompleteStream drains a complete frame into w, returning the
// total number of bytes written.
func (d *Decoder) ReadCompleteStream(w io.Writer) (int, error) {
	var total int
	for {
		isLast, data, err := d.NextStreamPacket()
		if err != nil {
			return total, err
		}
		n, err := w.Write(data)
		total += n
		if err != nil {
			return total, err
		}
		if isLast {
			return total, nil
		}
	}
}

// readBeat reads exactly one PACKET_SIZE beat into buf and classifies
// it: a beat not starting with ctrlSeq is plain data, otherwise its
// trailing control word is read and interpreted.
func (d *Decoder) readBeat(buf *alignbuf.Buffer) (classified, error) {
	slice := buf.Region()[:common.PacketSize]
	if _, err := io.ReadFull(d.r, slice); err != nil {
		return classified{}, err
	}
	beatsRead.Inc()

	if !hasPrefix(slice, d.ctrlSeq[:]) {
		return classified{meta: thisIsData}, nil
	}

	ctrlBeats.Inc()
	if _, err := io.ReadFull(d.r, d.ctrl[:]); err != nil {
		return classified{}, err
	}
	return classify(decodeCtrlWord(d.ctrl[:])), nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
