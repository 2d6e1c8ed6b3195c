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
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/qdmacore/qdmacore/c2h"
	"github.com/qdmacore/qdmacore/common"
	"github.com/qdmacore/qdmacore/internal/sigs"
	"github.com/qdmacore/qdmacore/logger"
	"github.com/qdmacore/qdmacore/queue"
)

var (
	readDevice        string
	readQueue         int
	readLegacyCtrlSeq bool
	readRaw           bool
)

var readCmd = &cobra.Command{
	Use:     "read",
	Short:   "Stream card-to-host frames from a DMA queue to stdout",
	Example: "  qdmacore read --device qdma0 --queue 0 > frame.bin",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyReadOverrides(parseSetFlags(setFlags))

		ctx := context.Background()
		handle, err := queue.Start(ctx, readDevice, readQueue, queue.C2H)
		if err != nil {
			return fmt.Errorf("failed to start queue: %w", err)
		}
		defer func() {
			if err := handle.Close(); err != nil {
				logger.Errorf("failed to close queue: %v", err)
			}
		}()

		var opts []c2h.Option
		if readLegacyCtrlSeq {
			opts = append(opts, c2h.WithLegacyCtrlSeq())
		}
		dec, err := c2h.New(handle, opts...)
		if err != nil {
			return fmt.Errorf("failed to create decoder: %w", err)
		}
		defer func() {
			if err := dec.Close(); err != nil {
				logger.Errorf("failed to close decoder: %v", err)
			}
		}()

		done := sigs.Terminate()
		errCh := make(chan error, 1)
		go func() {
			for {
				if readRaw {
					data, err := dec.NextRawPacket()
					if err != nil {
						errCh <- err
						return
					}
					if _, err := os.Stdout.Write(data); err != nil {
						errCh <- err
						return
					}
					continue
				}
				if _, err := dec.ReadCompleteStream(os.Stdout); err != nil {
					errCh <- err
					return
				}
			}
		}()

		select {
		case <-done:
			logger.Infof("read: received termination signal")
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return err
		}
	},
}

// applyReadOverrides lets --set legacy-ctrl-seq=true / raw=true
// override the corresponding --flag default. A key absent from opts,
// or one that doesn't parse as a bool, leaves the flag-derived value
// untouched.
func applyReadOverrides(opts common.Options) {
	if v, err := opts.GetBool("legacy-ctrl-seq"); err == nil {
		readLegacyCtrlSeq = v
	}
	if v, err := opts.GetBool("raw"); err == nil {
		readRaw = v
	}
}

func init() {
	readCmd.Flags().StringVar(&readDevice, "device", "", "device name")
	readCmd.Flags().IntVar(&readQueue, "queue", 0, "queue index")
	readCmd.Flags().BoolVar(&readLegacyCtrlSeq, "legacy-ctrl-seq", false, "use the reversed legacy CTRL_SEQ byte ordering")
	readCmd.Flags().BoolVar(&readRaw, "raw", false, "skip protocol interpretation and emit raw beats")
	readCmd.Flags().StringArrayVar(&setFlags, "set", nil, "override a flag via key=value, e.g. --set legacy-ctrl-seq=true (repeatable)")
	_ = readCmd.MarkFlagRequired("device")
	rootCmd.AddCommand(readCmd)
}
