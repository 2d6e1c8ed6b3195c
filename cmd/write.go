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

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/qdmacore/qdmacore/common"
	"github.com/qdmacore/qdmacore/h2c"
	"github.com/qdmacore/qdmacore/logger"
	"github.com/qdmacore/qdmacore/queue"
)

var (
	writeDevice         string
	writeQueue          int
	writeCapacity       int
	writeFlushThreshold int
	writeFlushInterval  time.Duration
	writeComplete       bool
)

var writeCmd = &cobra.Command{
	Use:     "write",
	Short:   "Stream stdin to a DMA queue as host-to-card frames",
	Example: "  cat frame.bin | qdmacore write --device qdma0 --queue 0 --complete",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyWriteOverrides(parseSetFlags(setFlags))

		ctx := context.Background()
		handle, err := queue.Start(ctx, writeDevice, writeQueue, queue.H2C)
		if err != nil {
			return fmt.Errorf("failed to start queue: %w", err)
		}
		defer func() {
			if err := handle.Close(); err != nil {
				logger.Errorf("failed to close queue: %v", err)
			}
		}()

		enc, err := h2c.New(handle, writeCapacity, writeFlushThreshold, writeFlushInterval)
		if err != nil {
			return fmt.Errorf("failed to create encoder: %w", err)
		}
		defer func() {
			if err := enc.Close(); err != nil {
				logger.Errorf("failed to close encoder: %v", err)
			}
		}()

		if writeComplete {
			return writeCompleteFrame(enc)
		}
		return writeStreamed(enc)
	},
}

// writeCompleteFrame buffers all of stdin so its length is known up
// front, then hands it to WriteCompleteStream as a single
// count-terminated frame.
func writeCompleteFrame(enc *h2c.Encoder) error {
	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("write --complete requires non-empty stdin")
	}
	n, err := enc.WriteCompleteStream(bytes.NewReader(payload), len(payload))
	if err != nil {
		return err
	}
	logger.Infof("write: wrote %d bytes", n)
	return nil
}

// writeStreamed copies stdin through the encoder as it arrives, of
// unknown total length, relying on the threshold and background
// flusher to bound delivery latency rather than a single framed call.
func writeStreamed(enc *h2c.Encoder) error {
	buf := make([]byte, common.PacketSize)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if _, werr := enc.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return enc.Flush()
		}
		if err != nil {
			return err
		}
	}
}

// applyWriteOverrides lets --set capacity=N / flush-threshold=N /
// complete=true override the corresponding --flag default, for
// scripted callers that build up a config map rather than a fixed
// argv. A key absent from opts, or one that doesn't parse as the
// expected type, leaves the flag-derived value untouched.
func applyWriteOverrides(opts common.Options) {
	if v, err := opts.GetInt("capacity"); err == nil {
		writeCapacity = v
	}
	if v, err := opts.GetInt("flush-threshold"); err == nil {
		writeFlushThreshold = v
	}
	if v, err := opts.GetBool("complete"); err == nil {
		writeComplete = v
	}
}

func init() {
	writeCmd.Flags().StringVar(&writeDevice, "device", "", "device name")
	writeCmd.Flags().IntVar(&writeQueue, "queue", 0, "queue index")
	writeCmd.Flags().IntVar(&writeCapacity, "capacity", common.Align*256, "encoder buffer capacity in bytes, must be a multiple of the page alignment")
	writeCmd.Flags().IntVar(&writeFlushThreshold, "flush-threshold", common.Align*256, "fill level in bytes that triggers an immediate flush")
	writeCmd.Flags().DurationVar(&writeFlushInterval, "flush-interval", 100*time.Millisecond, "maximum time a partially-filled buffer waits before the background flusher drains it")
	writeCmd.Flags().BoolVar(&writeComplete, "complete", false, "buffer all of stdin and write it as a single length-framed stream")
	writeCmd.Flags().StringArrayVar(&setFlags, "set", nil, "override a flag via key=value, e.g. --set capacity=1048576 (repeatable)")
	_ = writeCmd.MarkFlagRequired("device")
	rootCmd.AddCommand(writeCmd)
}
