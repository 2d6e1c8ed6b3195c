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

// Package cmd wires the qdmacore subcommands together on top of cobra,
// following the same per-file command registration the rest of this
// tree uses: each subcommand owns its flags and an init() that adds it
// to rootCmd.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/qdmacore/qdmacore/common"
	"github.com/qdmacore/qdmacore/confengine"
	"github.com/qdmacore/qdmacore/logger"
	"github.com/qdmacore/qdmacore/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     common.App,
	Short:   "Userspace DMA streaming toolkit for QAXIS-framed accelerator queues",
	Version: common.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

// Execute runs the root command, terminating the process with a
// non-zero exit code on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional configuration file path")
}

// setup runs once before any subcommand: it tunes GOMAXPROCS for the
// cgroup the process actually runs in, then, if --config was given,
// loads the logger and debug-server sections of the config file.
func setup() error {
	if _, err := maxprocs.Set(maxprocs.Logger(logger.Infof)); err != nil {
		logger.Warnf("automaxprocs: %v", err)
	}

	if configPath == "" {
		return nil
	}
	cfg, err := confengine.LoadConfigPath(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", configPath, err)
	}

	if cfg.Has("log") {
		var opt logger.Options
		if err := cfg.UnpackChild("log", &opt); err != nil {
			return fmt.Errorf("failed to parse log config: %w", err)
		}
		logger.SetOptions(opt)
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build debug server: %w", err)
	}
	if srv != nil {
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				logger.Errorf("debug server stopped: %v", err)
			}
		}()
	}
	return nil
}
