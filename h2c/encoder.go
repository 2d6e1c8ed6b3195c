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

// Package h2c buffers host-to-card writes into page-aligned blocks and
// frames them with the QAXIS "remaining count" terminator, backed by a
// background flusher that bounds worst-case latency for small writes.
package h2c

import (
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/qdmacore/qdmacore/common"
	"github.com/qdmacore/qdmacore/internal/alignbuf"
	"github.com/qdmacore/qdmacore/internal/panicsafe"
	"github.com/qdmacore/qdmacore/logger"
)

// ErrEmptyRemaining is returned by WriteRemaining when called with a
// zero-length payload: the original implementation paniced here, but
// a misuse of this shape is a condition callers can reasonably check
// for and recover from, so it is reported as an error instead.
var ErrEmptyRemaining = errors.New("h2c: WriteRemaining called with an empty payload")

// Writer is the minimal capability the encoder needs from a device
// handle: *queue.Handle and *os.File both satisfy it.
type Writer interface {
	io.Writer
}

// Encoder accumulates user bytes into a page-aligned buffer and
// drains them to a device in aligned blocks, either on demand, once
// the buffer crosses flushThreshold, or from its background flusher.
type Encoder struct {
	mut       sync.Mutex
	buf       *alignbuf.Buffer
	w         Writer
	lastFlush time.Time

	flushThreshold int
	flushInterval  time.Duration

	alive     atomic.Bool
	flusherWG sync.WaitGroup
	done      chan struct{}
}

// New allocates a capacity-byte aligned buffer over w and starts its
// background flusher. capacity must be a multiple of common.Align.
func New(w Writer, capacity, flushThreshold int, flushInterval time.Duration) (*Encoder, error) {
	buf, err := alignbuf.New(capacity)
	if err != nil {
		return nil, err
	}

	e := &Encoder{
		buf:            buf,
		w:              w,
		lastFlush:      time.Now(),
		flushThreshold: flushThreshold,
		flushInterval:  flushInterval,
		done:           make(chan struct{}),
	}
	e.alive.Store(true)

	e.flusherWG.Add(1)
	go e.runFlusher()

	return e, nil
}

// Write appends p to the buffer, accepting as many bytes as fit
// before the capacity is reached, and flushes if the fill level has
// crossed flushThreshold. Partial writes are legal; a caller needing
// every byte accepted must loop, matching alignbuf.Buffer.Write.
func (e *Encoder) Write(p []byte) (int, error) {
	e.mut.Lock()
	defer e.mut.Unlock()

	n, _ := e.buf.Write(p)
	bytesWritten.Add(float64(n))

	if e.buf.Len() >= e.flushThreshold {
		if err := e.flushLocked("threshold"); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Flush drains the buffer into the device immediately.
func (e *Encoder) Flush() error {
	e.mut.Lock()
	defer e.mut.Unlock()
	return e.flushLocked("manual")
}

func (e *Encoder) flushLocked(trigger string) error {
	e.lastFlush = time.Now()
	err := e.buf.WriteInto(e.w)
	flushesTotal.WithLabelValues(trigger).Inc()
	if err != nil {
		flushErrorsTotal.Inc()
	}
	return err
}

// writeAllLocked loops over buf.Write until every byte of p has been
// accepted, flushing whenever the buffer fills in between. The mutex
// must already be held.
func (e *Encoder) writeAllLocked(p []byte) error {
	for len(p) > 0 {
		n, _ := e.buf.Write(p)
		p = p[n:]
		bytesWritten.Add(float64(n))

		if len(p) > 0 || e.buf.Len() >= e.flushThreshold {
			if err := e.flushLocked("threshold"); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteRemainingPacketCount announces that the current frame ends
// after count more beats: it flushes any pending data so the count
// lands at a deterministic position, writes the little-endian 32-bit
// count through the buffered path, then flushes again so the count is
// delivered immediately rather than waiting on the next threshold or
// background tick.
func (e *Encoder) WriteRemainingPacketCount(count uint32) error {
	e.mut.Lock()
	defer e.mut.Unlock()
	return e.writeRemainingPacketCountLocked(count)
}

func (e *Encoder) writeRemainingPacketCountLocked(count uint32) error {
	if err := e.flushLocked("manual"); err != nil {
		return err
	}
	word := make([]byte, common.CtrlSize)
	binary.LittleEndian.PutUint32(word, count)
	if err := e.writeAllLocked(word); err != nil {
		return err
	}
	return e.flushLocked("manual")
}

// WriteRemaining announces, writes and flushes remaining as the final
// beats of a frame: the announced count is ceil(len(remaining) /
// PACKET_SIZE).
func (e *Encoder) WriteRemaining(remaining []byte) error {
	if len(remaining) == 0 {
		return ErrEmptyRemaining
	}

	e.mut.Lock()
	defer e.mut.Unlock()

	count := ceilDiv(len(remaining), common.PacketSize)
	if err := e.writeRemainingPacketCountLocked(uint32(count)); err != nil {
		return err
	}
	if err := e.writeAllLocked(remaining); err != nil {
		return err
	}
	return e.flushLocked("manual")
}

// WriteCompleteStream announces length bytes as the count-terminated
// remainder of the frame, copies exactly length bytes from r through
// the encoder, flushes, and reports the number of bytes copied. A
// length mismatch against what r actually yielded is reported as an
// error (the original implementation paniced on this condition).
func (e *Encoder) WriteCompleteStream(r io.Reader, length int) (int, error) {
	if length <= 0 {
		return 0, errors.Errorf("h2c: WriteCompleteStream called with non-positive length %d", length)
	}

	e.mut.Lock()
	defer e.mut.Unlock()

	count := ceilDiv(length, common.PacketSize)
	if err := e.writeRemainingPacketCountLocked(uint32(count)); err != nil {
		return 0, err
	}

	written, err := e.copyLocked(r, length)
	if err != nil {
		return written, err
	}
	if err := e.flushLocked("manual"); err != nil {
		return written, err
	}
	if written != length {
		return written, errors.Errorf("h2c: copied %d bytes, expected %d", written, length)
	}
	return written, nil
}

func (e *Encoder) copyLocked(r io.Reader, length int) (int, error) {
	chunk := make([]byte, common.PacketSize)
	total := 0
	for total < length {
		want := len(chunk)
		if remaining := length - total; remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(r, chunk[:want])
		if n > 0 {
			if werr := e.writeAllLocked(chunk[:n]); werr != nil {
				return total, werr
			}
			total += n
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close stops the background flusher, performs a best-effort final
// flush, and releases the buffer. It is safe to call more than once.
func (e *Encoder) Close() error {
	if !e.alive.CompareAndSwap(true, false) {
		return nil
	}
	close(e.done)
	e.flusherWG.Wait()

	e.mut.Lock()
	flushErr := e.flushLocked("manual")
	e.mut.Unlock()

	closeErr := e.buf.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// runFlusher is the background flush loop, bound 1:1 to this encoder
// for its lifetime, grounded on the ticker/done-channel shape of
// common/socket.TTLCache's gc loop: measure elapsed time since the
// last flush, sleep the remainder outside the lock if any is left, or
// flush-then-sleep a full interval if the deadline already passed.
func (e *Encoder) runFlusher() {
	defer e.flusherWG.Done()
	defer panicsafe.Recover()

	for {
		e.mut.Lock()
		elapsed := time.Since(e.lastFlush)
		remaining := e.flushInterval - elapsed
		e.mut.Unlock()

		if remaining > 0 {
			select {
			case <-time.After(remaining):
			case <-e.done:
				return
			}
			continue
		}

		e.mut.Lock()
		if err := e.flushLocked("background"); err != nil {
			logger.Errorf("h2c: background flush failed: %v", err)
		}
		e.mut.Unlock()

		select {
		case <-time.After(e.flushInterval):
		case <-e.done:
			return
		}
	}
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}
