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

package env

import (
	"os"

	"github.com/spf13/viper"
)

const Prefix = "RENDERVISOR"

type Var struct {
	Key        string // e.g. "RENDERVISOR_RUN_PATH"
	ViperKey   string // optional, e.g. "rendervisor.runPath"
	Default    string // optional
	HasDefault bool
}

func DefineKV(envName, viperKey string, defaultVal ...string) Var {
	v := Var{Key: Prefix + "_" + envName, ViperKey: viperKey}
	if len(defaultVal) > 0 {
		v.Default = defaultVal[0]
		v.HasDefault = true
	}
	return v
}

func Define(envName string, defaultVal ...string) Var {
	return DefineKV(envName, "", defaultVal...)
}

func (v Var) EnvKey() string               { return v.Key }
func (v Var) DefaultValue() (string, bool) { return v.Default, v.HasDefault }

// Precedence: viper (if ViperKey set and value present) → OS env → default → "".
func (v Var) ValueOrDefault() string {
	if v.ViperKey != "" && viper.IsSet(v.ViperKey) {
		return viper.GetString(v.ViperKey)
	}
	if val, ok := os.LookupEnv(v.Key); ok {
		return val
	}
	if v.HasDefault {
		return v.Default
	}
	return ""
}

// Safe if ViperKey is empty: does nothing.
func (v Var) BindEnv() error {
	if v.ViperKey == "" {
		return nil
	}
	return viper.BindEnv(v.ViperKey, v.Key)
}

func (v Var) Set(value string) error { return os.Setenv(v.Key, value) }

func (v *Var) SetDefault(val string) {
	v.Default = val
	v.HasDefault = true
	if v.ViperKey != "" {
		viper.SetDefault(v.ViperKey, val)
	}
}

// BindAll binds and applies the default of every declared variable.
func BindAll() error {
	for _, v := range All() {
		if err := v.BindEnv(); err != nil {
			return err
		}
		if v.HasDefault && v.ViperKey != "" {
			viper.SetDefault(v.ViperKey, v.Default)
		}
	}
	return nil
}

func KV(v Var, value string) string { return v.Key + "=" + value }

// ---- Declare statically (Viper key optional per var) ----.
//
//nolint:revive,gochecknoglobals,staticcheck // ignore linter warning about these variables
var (
	CONFIG_FILE = DefineKV("CONFIG_FILE", "rendervisor.configFile")
	RUN_PATH    = DefineKV("RUN_PATH", "rendervisor.runPath")
	LOG_LEVEL   = DefineKV("LOG_LEVEL", "rendervisor.logLevel", "info")
	LOG_FILE    = DefineKV("LOG_FILE", "rendervisor.logFile")

	INSTANCES_ROOT          = DefineKV("INSTANCES_ROOT", "rendervisor.instances.root")
	INSTANCES_TEMPLATE      = DefineKV("INSTANCES_TEMPLATE", "rendervisor.instances.template", "OpenSpace")
	INSTANCES_PREFIX        = DefineKV("INSTANCES_PREFIX", "rendervisor.instances.prefix", "OpenSpace_s")
	INSTANCES_ENGINE_CONFIG = DefineKV("INSTANCES_ENGINE_CONFIG", "rendervisor.instances.engineConfig", "openspace.cfg")
	INSTANCES_OUTPUT_CONFIG = DefineKV(
		"INSTANCES_OUTPUT_CONFIG",
		"rendervisor.instances.outputConfig",
		"config/remote_gstreamer_output.json",
	)

	ENGINE_EXECUTABLE = DefineKV("ENGINE_EXECUTABLE", "rendervisor.engine.executable", "bin/RelWithDebInfo/OpenSpace")
	ENGINE_ARGS       = DefineKV(
		"ENGINE_ARGS",
		"rendervisor.engine.args",
		"--config {outputConfig} --profile default --bypassLauncher",
	)

	FRONTEND_DIR      = DefineKV("FRONTEND_DIR", "rendervisor.frontend.dir")
	FRONTEND_COMMAND  = DefineKV("FRONTEND_COMMAND", "rendervisor.frontend.command", "npm start")
	SIGNALING_DIR     = DefineKV("SIGNALING_DIR", "rendervisor.signaling.dir")
	SIGNALING_COMMAND = DefineKV("SIGNALING_COMMAND", "rendervisor.signaling.command", "node signalingserver")
	ENGINE_TTY        = DefineKV("ENGINE_TTY", "rendervisor.engine.tty", "false")
	FRONTEND_TTY      = DefineKV("FRONTEND_TTY", "rendervisor.frontend.tty", "false")
	SIGNALING_TTY     = DefineKV("SIGNALING_TTY", "rendervisor.signaling.tty", "false")

	CONTROL_ADDRESS        = DefineKV("CONTROL_ADDRESS", "rendervisor.control.address", "localhost:4699")
	STOP_TIMEOUT           = DefineKV("STOP_TIMEOUT", "rendervisor.stopTimeout", "10s")
	START_SERVICES_ON_BOOT = DefineKV("START_SERVICES_ON_BOOT", "rendervisor.startServicesOnBoot", "false")
	QUIT_KEY               = DefineKV("QUIT_KEY", "rendervisor.quitKey", "q")
	WATCH_INSTANCES        = DefineKV("WATCH_INSTANCES", "rendervisor.watchInstances", "true")

	PROVISION_SYNC_ENV    = DefineKV("PROVISION_SYNC_ENV", "rendervisor.provision.syncEnv", "OPENSPACE_SYNC")
	PROVISION_HEADROOM    = DefineKV("PROVISION_HEADROOM", "rendervisor.provision.headroom", "512MiB")
	PROVISION_PORT_BASE   = DefineKV("PROVISION_PORT_BASE", "rendervisor.provision.portBase", "4682")
	PROVISION_STREAM_BASE = DefineKV("PROVISION_STREAM_BASE", "rendervisor.provision.streamBase", "0")
	PROVISION_COPY_DIRS   = DefineKV(
		"PROVISION_COPY_DIRS",
		"rendervisor.provision.copyDirs",
		"apps bin config data documentation modules scripts shaders support user",
	)
	PROVISION_COPY_FILES = DefineKV("PROVISION_COPY_FILES", "rendervisor.provision.copyFiles", "openspace.cfg")
)

// All lists every declared variable.
func All() []Var {
	return []Var{
		CONFIG_FILE, RUN_PATH, LOG_LEVEL, LOG_FILE,
		INSTANCES_ROOT, INSTANCES_TEMPLATE, INSTANCES_PREFIX, INSTANCES_ENGINE_CONFIG, INSTANCES_OUTPUT_CONFIG,
		ENGINE_EXECUTABLE, ENGINE_ARGS,
		FRONTEND_DIR, FRONTEND_COMMAND, SIGNALING_DIR, SIGNALING_COMMAND,
		ENGINE_TTY, FRONTEND_TTY, SIGNALING_TTY,
		CONTROL_ADDRESS, STOP_TIMEOUT, START_SERVICES_ON_BOOT, QUIT_KEY, WATCH_INSTANCES,
		PROVISION_SYNC_ENV, PROVISION_HEADROOM, PROVISION_PORT_BASE, PROVISION_STREAM_BASE,
		PROVISION_COPY_DIRS, PROVISION_COPY_FILES,
	}
}
