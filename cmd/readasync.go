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
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qdmacore/qdmacore/c2hasync"
	"github.com/qdmacore/qdmacore/internal/sigs"
	"github.com/qdmacore/qdmacore/logger"
	"github.com/qdmacore/qdmacore/queue"
)

var (
	readAsyncDevice        string
	readAsyncQueue         int
	readAsyncLegacyCtrlSeq bool
)

var readAsyncCmd = &cobra.Command{
	Use:     "read-async",
	Short:   "Stream card-to-host frames using the cancellable async reader",
	Example: "  qdmacore read-async --device qdma0 --queue 0 > frame.bin",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		handle, err := queue.Start(ctx, readAsyncDevice, readAsyncQueue, queue.C2H)
		if err != nil {
			return fmt.Errorf("failed to start queue: %w", err)
		}
		defer func() {
			if err := handle.Close(); err != nil {
				logger.Errorf("failed to close queue: %v", err)
			}
		}()

		raw, err := c2hasync.New(handle)
		if err != nil {
			return fmt.Errorf("failed to create async stream: %w", err)
		}
		defer func() {
			if err := raw.Close(); err != nil {
				logger.Errorf("failed to close async stream: %v", err)
			}
		}()

		stream := c2hasync.NewProtocolStream(raw)
		if readAsyncLegacyCtrlSeq {
			stream.WithLegacyCtrlSeq()
		}

		go func() {
			<-sigs.Terminate()
			logger.Infof("read-async: received termination signal")
			cancel()
		}()

		for {
			_, data, err := stream.NextStreamPacket(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			if _, err := os.Stdout.Write(data); err != nil {
				return err
			}
		}
	},
}

func init() {
	readAsyncCmd.Flags().StringVar(&readAsyncDevice, "device", "", "device name")
	readAsyncCmd.Flags().IntVar(&readAsyncQueue, "queue", 0, "queue index")
	readAsyncCmd.Flags().BoolVar(&readAsyncLegacyCtrlSeq, "legacy-ctrl-seq", false, "use the reversed legacy CTRL_SEQ byte ordering")
	_ = readAsyncCmd.MarkFlagRequired("device")
	rootCmd.AddCommand(readAsyncCmd)
}
