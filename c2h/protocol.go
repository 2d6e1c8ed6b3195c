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

// Package c2h decodes the card-to-host QAXIS stream protocol: a
// sequence of fixed-size DMA beats in which a control beat introduces
// a trailing control word that classifies either itself or the beat
// already read before it as the last beat of a frame.
package c2h

import (
	"encoding/binary"

	"github.com/qdmacore/qdmacore/common"
)

// CtrlSeq is the canonical, little-endian control-sequence prefix
// that marks a beat as a control beat rather than payload.
var CtrlSeq = [4]byte{0x5C, 0xF1, 0x37, 0x4A}

// LegacyCtrlSeq is the reversed byte ordering seen in an earlier
// revision of the wire protocol, offered only as an explicit
// compatibility mode, never the default.
var LegacyCtrlSeq = [4]byte{0x4A, 0x37, 0xF1, 0x5C}

// beatMeta is the classification of a single beat once its control
// word (if any) has been read.
type beatMeta int

const (
	thisIsData beatMeta = iota
	thisIsLast          // control beat: this beat itself is the frame's last, truncated to len
	prevIsLast          // control beat: the already-read previous beat was the last
)

// classified pairs a beatMeta with the truncation length carried by
// thisIsLast/prevIsLast; zero for thisIsData.
type classified struct {
	meta beatMeta
	len  int
}

// classify interprets a beat already known to start with ctrlSeq, given
// its trailing 4-byte little-endian control word.
func classify(ctrl uint32) classified {
	const signBit = 1 << 31

	switch {
	case ctrl == 0:
		// A genuine data beat that happened to start with ctrlSeq; the
		// zero control word disambiguates it from an actual control beat.
		return classified{meta: thisIsData}
	case ctrl&signBit == 0:
		return classified{meta: thisIsLast, len: truncate(ctrl)}
	default:
		return classified{meta: prevIsLast, len: truncate(ctrl &^ signBit)}
	}
}

func truncate(n uint32) int {
	if n > common.PacketSize {
		return common.PacketSize
	}
	return int(n)
}

func decodeCtrlWord(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// BeatMeta, Classification and Classify expose this package's
// classification table to other packages that need to interpret a
// control word without reimplementing the rules above. c2hasync's
// protocol-mode lifting is the primary consumer: the synchronous
// decoder's state machine stays the single source of truth for what a
// control word means.
type (
	BeatMeta       = beatMeta
	Classification = classified
)

const (
	ThisIsData = thisIsData
	ThisIsLast = thisIsLast
	PrevIsLast = prevIsLast
)

// Classify interprets a beat already known to start with a CtrlSeq
// prefix, given its trailing 4-byte little-endian control word.
func Classify(ctrlWord uint32) Classification {
	return classify(ctrlWord)
}

// Meta reports which of ThisIsData/ThisIsLast/PrevIsLast a
// Classification carries.
func (c Classification) Meta() BeatMeta {
	return c.meta
}

// Len reports the truncation length carried by ThisIsLast/PrevIsLast;
// zero for ThisIsData.
func (c Classification) Len() int {
	return c.len
}

// HasCtrlSeq reports whether beat begins with the given control
// sequence (CtrlSeq or LegacyCtrlSeq).
func HasCtrlSeq(beat []byte, seq [4]byte) bool {
	return hasPrefix(beat, seq[:])
}

// DecodeCtrlWord decodes a 4-byte little-endian control word.
func DecodeCtrlWord(b []byte) uint32 {
	return decodeCtrlWord(b)
}
