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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/eminwux/rendervisor/internal/env"
	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/internal/instance"
	"github.com/eminwux/rendervisor/internal/provision"
	"github.com/eminwux/rendervisor/internal/supervisor"
	"github.com/eminwux/rendervisor/internal/supervisor/procmgr"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultStopTimeout = 10 * time.Second

// LoadConfig reads config.yaml from --config or $HOME/.rendervisor and binds
// every RENDERVISOR_* variable. A missing config file is not an error.
func LoadConfig() error {
	if cfgFile := viper.GetString(env.CONFIG_FILE.ViperKey); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultHome())
	}

	if err := env.BindAll(); err != nil {
		return fmt.Errorf("%w: bind env: %w", errdefs.ErrConfig, err)
	}
	env.RUN_PATH.SetDefault(DefaultRunPath())

	if err := viper.ReadInConfig(); err != nil {
		// File not found is OK if ENV is set
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %w", errdefs.ErrConfig, err)
		}
	}
	return nil
}

// BindFlag registers a string flag and binds it to v's viper key.
func BindFlag(flags *pflag.FlagSet, name, usage string, v env.Var) {
	flags.String(name, "", usage)
	_ = viper.BindPFlag(v.ViperKey, flags.Lookup(name))
}

// BindBoolFlag is BindFlag for boolean switches.
func BindBoolFlag(flags *pflag.FlagSet, name, usage string, v env.Var) {
	flags.Bool(name, false, usage)
	_ = viper.BindPFlag(v.ViperKey, flags.Lookup(name))
}

func InstanceLayout() (instance.Layout, error) {
	root := viper.GetString(env.INSTANCES_ROOT.ViperKey)
	if root == "" {
		return instance.Layout{}, fmt.Errorf(
			"%w: instances root not set (--instances-root or %s)",
			errdefs.ErrConfig, env.INSTANCES_ROOT.EnvKey(),
		)
	}
	l := instance.DefaultLayout(root)
	setIfSet(&l.Template, env.INSTANCES_TEMPLATE)
	setIfSet(&l.Prefix, env.INSTANCES_PREFIX)
	setIfSet(&l.EngineConfig, env.INSTANCES_ENGINE_CONFIG)
	setIfSet(&l.OutputConfig, env.INSTANCES_OUTPUT_CONFIG)
	setIfSet(&l.Executable, env.ENGINE_EXECUTABLE)
	return l, nil
}

func ProvisionConfig() (provision.Config, error) {
	l, err := InstanceLayout()
	if err != nil {
		return provision.Config{}, err
	}
	cfg := provision.DefaultConfig(l.Root)
	cfg.Layout = l
	setIfSet(&cfg.SyncEnv, env.PROVISION_SYNC_ENV)

	if raw := viper.GetString(env.PROVISION_HEADROOM.ViperKey); raw != "" {
		headroom, errP := humanize.ParseBytes(raw)
		if errP != nil {
			return provision.Config{}, fmt.Errorf("%w: headroom %q: %w", errdefs.ErrConfig, raw, errP)
		}
		cfg.Headroom = headroom
	}

	if viper.IsSet(env.PROVISION_PORT_BASE.ViperKey) {
		cfg.PortBase = viper.GetInt(env.PROVISION_PORT_BASE.ViperKey)
	}
	if viper.IsSet(env.PROVISION_STREAM_BASE.ViperKey) {
		cfg.StreamBase = viper.GetInt(env.PROVISION_STREAM_BASE.ViperKey)
	}
	if cfg.PortBase <= 0 || cfg.StreamBase < 0 {
		return provision.Config{}, fmt.Errorf(
			"%w: invalid allocation base (port %d, stream %d)",
			errdefs.ErrConfig, cfg.PortBase, cfg.StreamBase,
		)
	}

	if dirs := strings.Fields(viper.GetString(env.PROVISION_COPY_DIRS.ViperKey)); len(dirs) > 0 {
		cfg.CopyDirs = dirs
	}
	if files := strings.Fields(viper.GetString(env.PROVISION_COPY_FILES.ViperKey)); len(files) > 0 {
		cfg.CopyFiles = files
	}
	return cfg, nil
}

// SupervisorSpec resolves everything `rendervisor run` needs.
func SupervisorSpec() (*supervisor.Spec, error) {
	l, err := InstanceLayout()
	if err != nil {
		return nil, err
	}

	engineArgs := strings.Fields(viper.GetString(env.ENGINE_ARGS.ViperKey))
	if len(engineArgs) == 0 {
		engineArgs = procmgr.DefaultEngineArgs()
	}

	stopTimeout := defaultStopTimeout
	if viper.IsSet(env.STOP_TIMEOUT.ViperKey) {
		stopTimeout = viper.GetDuration(env.STOP_TIMEOUT.ViperKey)
	}
	if stopTimeout <= 0 {
		return nil, fmt.Errorf("%w: stop timeout must be positive, got %q",
			errdefs.ErrConfig, viper.GetString(env.STOP_TIMEOUT.ViperKey))
	}

	runPath := viper.GetString(env.RUN_PATH.ViperKey)

	return &supervisor.Spec{
		Layout: l,
		Commands: procmgr.Commands{
			Layout:     l,
			EngineArgs: engineArgs,
			EngineTTY:  viper.GetBool(env.ENGINE_TTY.ViperKey),
			Signaling: procmgr.ServiceCommand{
				Dir:     serviceDir(env.SIGNALING_DIR, l.Root, "signalingserver"),
				Command: stringOr(env.SIGNALING_COMMAND),
				TTY:     viper.GetBool(env.SIGNALING_TTY.ViperKey),
			},
			Frontend: procmgr.ServiceCommand{
				Dir:     serviceDir(env.FRONTEND_DIR, l.Root, "frontend"),
				Command: stringOr(env.FRONTEND_COMMAND),
				TTY:     viper.GetBool(env.FRONTEND_TTY.ViperKey),
			},
			LogDir: filepath.Join(runPath, "logs"),
			Env:    os.Environ(),
		},
		ControlAddress: stringOr(env.CONTROL_ADDRESS),
		StopTimeout:    stopTimeout,
		StartServices:  viper.GetBool(env.START_SERVICES_ON_BOOT.ViperKey),
		WatchInstances: !viper.IsSet(env.WATCH_INSTANCES.ViperKey) || viper.GetBool(env.WATCH_INSTANCES.ViperKey),
	}, nil
}

// stringOr falls back to the variable's declared default.
func stringOr(v env.Var) string {
	if s := viper.GetString(v.ViperKey); s != "" {
		return s
	}
	return v.Default
}

func setIfSet(dst *string, v env.Var) {
	if s := viper.GetString(v.ViperKey); s != "" {
		*dst = s
	}
}

// serviceDir defaults a shared service to a sibling of the instances root.
func serviceDir(v env.Var, root, name string) string {
	if dir := viper.GetString(v.ViperKey); dir != "" {
		return dir
	}
	return filepath.Join(filepath.Dir(root), name)
}
