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

// Package c2hasync provides the asynchronous, cancellable read half of
// the card-to-host path: a single dedicated goroutine (the scheduler)
// owns the device handle, the one page-aligned beat buffer and the
// read position, and performs strictly sequential positional reads on
// behalf of any number of calling goroutines.
package c2hasync

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/qdmacore/qdmacore/common"
	"github.com/qdmacore/qdmacore/internal/alignbuf"
	"github.com/qdmacore/qdmacore/internal/panicsafe"
)

// ErrClosed is returned by NextPacket once the stream has been closed.
var ErrClosed = errors.New("c2hasync: stream is closed")

// Reader is the minimal capability the scheduler needs: a positional
// read. *queue.Handle and *os.File both satisfy it.
type Reader interface {
	io.ReaderAt
}

type request struct {
	ctx  context.Context
	resp chan response
}

type response struct {
	data []byte
	err  error
}

// Stream owns a Reader and serves positional beat reads through a
// single scheduler goroutine; pos only advances past a beat once the
// read has completed and the calling context was not cancelled.
type Stream struct {
	requests chan request
	done     chan struct{}
	closeWG  sync.WaitGroup
	closeOne sync.Once
}

// New opens the asynchronous read path over r, starting its scheduler
// goroutine.
func New(r Reader) (*Stream, error) {
	buf, err := alignbuf.New(common.PacketSize)
	if err != nil {
		return nil, err
	}

	s := &Stream{
		requests: make(chan request),
		done:     make(chan struct{}),
	}
	s.closeWG.Add(1)
	go s.run(r, buf)
	return s, nil
}

// NextPacket performs one positional, PACKET_SIZE-aligned read at the
// stream's current position and advances it by PACKET_SIZE. If ctx is
// cancelled before the scheduler commits the read, pos is left
// unchanged and the partially-issued read's result, if any, is
// discarded.
func (s *Stream) NextPacket(ctx context.Context) ([]byte, error) {
	resp := make(chan response, 1)
	select {
	case s.requests <- request{ctx: ctx, resp: resp}:
	case <-ctx.Done():
		cancellations.Inc()
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	}

	select {
	case r := <-resp:
		if r.err != nil {
			if ctx.Err() != nil && errors.Is(r.err, ctx.Err()) {
				cancellations.Inc()
			}
			return nil, r.err
		}
		return r.data, nil
	case <-ctx.Done():
		cancellations.Inc()
		return nil, ctx.Err()
	}
}

// Close stops the scheduler goroutine and releases its buffer. Safe
// to call more than once.
func (s *Stream) Close() error {
	s.closeOne.Do(func() { close(s.done) })
	s.closeWG.Wait()
	return nil
}

func (s *Stream) run(r Reader, buf *alignbuf.Buffer) {
	defer s.closeWG.Done()
	defer panicsafe.Recover()
	defer buf.Close()

	var pos int64
	for {
		select {
		case req := <-s.requests:
			s.serve(r, buf, &pos, req)
		case <-s.done:
			return
		}
	}
}

// serve performs one beat's worth of positional read on behalf of
// req. pos advances only if req's context was still live both before
// the read was issued and after it completed; either side being
// cancelled leaves pos untouched, per the no-advance-on-cancel
// contract.
func (s *Stream) serve(r Reader, buf *alignbuf.Buffer, pos *int64, req request) {
	if err := req.ctx.Err(); err != nil {
		req.resp <- response{err: err}
		return
	}

	slice := buf.Region()[:common.PacketSize]
	n, err := r.ReadAt(slice, *pos)
	if err != nil && !(err == io.EOF && n == common.PacketSize) {
		req.resp <- response{err: err}
		return
	}

	if cerr := req.ctx.Err(); cerr != nil {
		req.resp <- response{err: cerr}
		return
	}

	*pos += int64(common.PacketSize)
	beatsRead.Inc()

	out := make([]byte, common.PacketSize)
	copy(out, slice)
	req.resp <- response{data: out}
}
