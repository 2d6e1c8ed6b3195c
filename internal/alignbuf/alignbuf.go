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

// Package alignbuf provides a byte buffer whose backing storage is
// page-aligned, for use as the accumulation ring on the H2C write path
// and the beat storage on the C2H read path. Go's heap allocator gives
// no alignment guarantee for an arbitrary-size []byte, so the region
// is obtained through an anonymous mmap instead.
package alignbuf

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/qdmacore/qdmacore/common"
)

// Buffer is a fixed-capacity, page-aligned byte region with an
// explicit fill level. It never grows past its capacity.
type Buffer struct {
	region []byte // mmap'd, len == capacity, always Align-aligned
	len    int
}

// New allocates a Buffer of the given capacity, which must be a
// multiple of common.Align.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 || capacity%common.Align != 0 {
		return nil, errors.Errorf("alignbuf: capacity %d is not a positive multiple of %d", capacity, common.Align)
	}

	region, err := unix.Mmap(-1, 0, capacity, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrap(err, "alignbuf: mmap failed")
	}

	return &Buffer{region: region}, nil
}

// Len returns the number of valid bytes currently buffered.
func (b *Buffer) Len() int {
	return b.len
}

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.region)
}

// Region exposes the full backing, page-aligned storage. It is meant
// for callers that use the Buffer as fixed-size aligned scratch space
// read into directly (the C2H beat slots) rather than through the
// Write/WriteInto accumulation API (the H2C ring); it does not
// interact with Len.
func (b *Buffer) Region() []byte {
	return b.region
}

// Write appends as many bytes of p as fit before the buffer is full
// and returns the count accepted. It never grows the buffer and never
// returns an error; callers that need every byte accepted must loop.
func (b *Buffer) Write(p []byte) (int, error) {
	room := len(b.region) - b.len
	n := len(p)
	if n > room {
		n = room
	}
	copy(b.region[b.len:b.len+n], p[:n])
	b.len += n
	return n, nil
}

// WriteInto drains every buffered byte into w in at most two writes:
// one aligned write of floor(len/Align)*Align bytes, followed by one
// write of the len%Align trailing remainder, if any. On success len
// is reset to zero. Short or failing writes from w propagate
// unchanged and leave len untouched; if the remainder write fails after
// the aligned write succeeded, the aligned bytes have already reached w
// and a repeated drain sends them again.
func (b *Buffer) WriteInto(w io.Writer) error {
	if b.len == 0 {
		return nil
	}

	aligned := (b.len / common.Align) * common.Align
	if _, err := w.Write(b.region[:aligned]); err != nil {
		return err
	}

	if remainder := b.len - aligned; remainder > 0 {
		if _, err := w.Write(b.region[aligned:b.len]); err != nil {
			return err
		}
	}

	b.len = 0
	return nil
}

// Close releases the underlying mapping. The Buffer must not be used
// afterwards.
func (b *Buffer) Close() error {
	if b.region == nil {
		return nil
	}
	err := unix.Munmap(b.region)
	b.region = nil
	return err
}
