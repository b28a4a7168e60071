// Copyright 2025 Emiliano Spinella (eminwux)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/eminwux/rendervisor/cmd/config"
	"github.com/eminwux/rendervisor/internal/env"
	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/internal/keypress"
	"github.com/eminwux/rendervisor/internal/logging"
	"github.com/eminwux/rendervisor/internal/supervisor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Command      string = "run"
	CommandAlias string = "r"
)

func NewRunCmd() *cobra.Command {
	// runCmd represents the run command.
	runCmd := &cobra.Command{
		Use:     Command,
		Aliases: []string{CommandAlias},
		Short:   "Run the session supervisor",
		Long: `Run the session supervisor in the foreground.

The supervisor loads every instance under the instances root, opens the
command channel on the control address and waits for a controller.
It stops on SIGINT/SIGTERM, on a SHUTDOWN request, or when the quit key
is pressed on an interactive terminal.

Examples:
  rendervisor run --instances-root /opt/openspace
  rendervisor run --address 0.0.0.0:4699 --start-services
`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			logFile := viper.GetString(env.LOG_FILE.ViperKey)
			if logFile == "" {
				logFile = config.DefaultLogFile(viper.GetString(env.RUN_PATH.ViperKey))
			}
			return logging.SetupLogger(cmd, logFile, viper.GetString(env.LOG_LEVEL.ViperKey))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, ok := logging.FromContext(cmd.Context())
			if !ok {
				return errdefs.ErrLoggerNotFound
			}

			spec, err := config.SupervisorSpec()
			if err != nil {
				logger.Error("Failed to build supervisor spec", "error", err)
				return err
			}

			logger.DebugContext(cmd.Context(), "supervisor spec values",
				"root", spec.Layout.Root,
				"control_address", spec.ControlAddress,
				"stop_timeout", spec.StopTimeout,
				"engine_args", spec.Commands.EngineArgs,
				"frontend_dir", spec.Commands.Frontend.Dir,
				"signaling_dir", spec.Commands.Signaling.Dir,
				"log_dir", spec.Commands.LogDir,
				"start_services", spec.StartServices,
				"watch_instances", spec.WatchInstances,
			)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			ctrl := supervisor.NewController(ctx, logger)

			quit := keypress.New(logger, os.Stdin, viper.GetString(env.QUIT_KEY.ViperKey))
			quitDone := make(chan struct{})
			go func() {
				defer close(quitDone)
				_ = quit.Run(ctx, func() {
					if errC := ctrl.Close(errdefs.ErrQuitKey); errC != nil {
						logger.Error("close after quit key failed", "error", errC)
					}
				})
			}()

			runErr := runSupervisor(ctx, cancel, logger, ctrl, spec)
			// the terminal leaves raw mode before we return
			<-quitDone

			if errors.Is(runErr, errdefs.ErrContextDone) {
				logger.Info("supervisor stopped by signal")
				return nil
			}
			return runErr
		},
		PostRunE: func(cmd *cobra.Command, _ []string) error {
			logging.CloseFromContext(cmd.Context())
			return nil
		},
	}

	setupRunCmdFlags(runCmd)
	return runCmd
}

func setupRunCmdFlags(runCmd *cobra.Command) {
	flags := runCmd.Flags()
	config.BindFlag(flags, "address", "Control address of the command channel", env.CONTROL_ADDRESS)
	config.BindFlag(flags, "frontend-dir", "Working directory of the frontend", env.FRONTEND_DIR)
	config.BindFlag(flags, "signaling-dir", "Working directory of the signaling relay", env.SIGNALING_DIR)
	config.BindFlag(flags, "stop-timeout", "Grace period before a process is killed", env.STOP_TIMEOUT)
	config.BindFlag(flags, "quit-key", "Key that shuts the supervisor down on a terminal", env.QUIT_KEY)
	config.BindBoolFlag(flags, "start-services", "Start frontend and signaling relay on boot", env.START_SERVICES_ON_BOOT)
}

// runSupervisor drives ctrl until it exits or ctx is canceled. A normal
// shutdown (SHUTDOWN request or quit key) returns nil; a startup or
// channel failure is returned so the process exits non-zero.
func runSupervisor(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *slog.Logger,
	ctrl supervisor.SupervisorController,
	spec *supervisor.Spec,
) error {
	defer cancel()

	errCh := make(chan error, 1)

	logger.DebugContext(
		ctx,
		"starting supervisor controller goroutine",
		"root", spec.Layout.Root,
		"control_address", spec.ControlAddress,
	)
	go func() {
		errCh <- ctrl.Run(spec)
		close(errCh)
		logger.DebugContext(ctx, "controller goroutine exited")
	}()

	logger.DebugContext(ctx, "waiting for controller to signal ready")
	if err := ctrl.WaitReady(); err != nil {
		logger.DebugContext(ctx, "controller not ready", "error", err)
		return fmt.Errorf("%w: %w", errdefs.ErrWaitOnReady, err)
	}

	logger.DebugContext(ctx, "controller ready, entering supervisor event loop")
	select {
	case <-ctx.Done():
		logger.DebugContext(ctx, "context canceled, waiting for controller to exit")
		if errC := ctrl.WaitClose(); errC != nil {
			return fmt.Errorf("%w: %w: %w", errdefs.ErrContextDone, errdefs.ErrWaitOnClose, errC)
		}
		logger.DebugContext(ctx, "context canceled, controller exited")
		return errdefs.ErrContextDone

	case err := <-errCh:
		logger.DebugContext(ctx, "controller stopped", "error", err)
		if err == nil || errors.Is(err, errdefs.ErrCloseReq) {
			return nil
		}
		err = fmt.Errorf("%w: %w", errdefs.ErrChildExit, err)
		if errC := ctrl.WaitClose(); errC != nil {
			err = fmt.Errorf("%w: %w: %w", err, errdefs.ErrWaitOnClose, errC)
		}
		logger.DebugContext(ctx, "controller exited after error")
		return err
	}
}
