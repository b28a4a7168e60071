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

package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/internal/instance"
	"github.com/eminwux/rendervisor/pkg/api"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

// DefaultHeadroom is the free space that must remain after the copy.
const DefaultHeadroom = 512 * humanize.MiByte

type Config struct {
	Layout     instance.Layout
	SyncEnv    string // environment variable naming the shared storage dir
	Headroom   uint64
	PortBase   int
	StreamBase int
	CopyDirs   []string
	CopyFiles  []string
}

func DefaultConfig(root string) Config {
	return Config{
		Layout:     instance.DefaultLayout(root),
		SyncEnv:    "OPENSPACE_SYNC",
		Headroom:   DefaultHeadroom,
		PortBase:   4682,
		StreamBase: 0,
		CopyDirs: []string{
			"apps", "bin", "config", "data", "documentation",
			"modules", "scripts", "shaders", "support", "user",
		},
		CopyFiles: []string{"openspace.cfg"},
	}
}

// Plan is everything Provision will do, computed without touching the disk.
type Plan struct {
	ID            api.ID   `yaml:"id"`
	Dir           string   `yaml:"dir"`
	Template      string   `yaml:"template"`
	Port          int      `yaml:"port"`
	StreamID      int      `yaml:"streamId"`
	SyncDir       string   `yaml:"syncDir"`
	RequiredBytes uint64   `yaml:"requiredBytes"`
	Required      string   `yaml:"required"`
	FreeBytes     uint64   `yaml:"freeBytes"`
	Free          string   `yaml:"free"`
	CopyDirs      []string `yaml:"copyDirs"`
	CopyFiles     []string `yaml:"copyFiles"`
	Gaps          []api.ID `yaml:"gaps,omitempty"`
}

type Provisioner struct {
	logger *slog.Logger
	cfg    Config

	LookupEnv func(key string) (string, bool)
	FreeSpace func(path string) (uint64, error)
}

func NewProvisioner(logger *slog.Logger, cfg Config) *Provisioner {
	return &Provisioner{
		logger:    logger,
		cfg:       cfg,
		LookupEnv: os.LookupEnv,
		FreeSpace: StatfsFree,
	}
}

// StatfsFree returns the bytes available to unprivileged users on the
// filesystem holding path.
func StatfsFree(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	//nolint:gosec,unconvert // Bsize is positive
	return st.Bavail * uint64(st.Bsize), nil
}

// Plan checks the preconditions and allocates the next identity, port and
// stream identifier. It never modifies the filesystem.
func (p *Provisioner) Plan(ctx context.Context) (*Plan, error) {
	syncDir, err := p.checkSyncEnv()
	if err != nil {
		return nil, err
	}

	instances, err := instance.Scan(ctx, p.logger, p.cfg.Layout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrPrecondition, err)
	}
	// an unreadable port or stream id could be handed out again
	for _, inst := range instances {
		if !inst.HasPort || !inst.HasStream {
			return nil, fmt.Errorf("%w: instance %d in %s has no readable port or stream id: %s",
				errdefs.ErrPrecondition, inst.ID, inst.Dir, strings.Join(inst.Problems, "; "))
		}
	}
	id, gaps, err := instance.NextID(instances)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrPrecondition, err)
	}
	if len(gaps) > 0 {
		p.logger.WarnContext(ctx, "Plan: identity gaps found; gaps are not reused", "gaps", gaps, "next", id)
	}

	required, err := p.requiredBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrPrecondition, err)
	}
	free, err := p.FreeSpace(p.cfg.Layout.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: statfs %s: %w", errdefs.ErrResource, p.cfg.Layout.Root, err)
	}
	p.logger.InfoContext(ctx, "Plan: space check",
		"required", humanize.IBytes(required),
		"free", humanize.IBytes(free),
	)
	if free < required {
		return nil, fmt.Errorf("%w: need %s, %s available", errdefs.ErrResource,
			humanize.IBytes(required), humanize.IBytes(free))
	}

	plan := &Plan{
		ID:            id,
		Dir:           p.cfg.Layout.Dir(id),
		Template:      p.cfg.Layout.TemplateDir(),
		Port:          instance.Allocate(p.cfg.PortBase, instance.UsedPorts(instances)),
		StreamID:      instance.Allocate(p.cfg.StreamBase, instance.UsedStreams(instances)),
		SyncDir:       syncDir,
		RequiredBytes: required,
		Required:      humanize.IBytes(required),
		FreeBytes:     free,
		Free:          humanize.IBytes(free),
		CopyDirs:      p.cfg.CopyDirs,
		CopyFiles:     p.cfg.CopyFiles,
		Gaps:          gaps,
	}
	return plan, nil
}

// Provision creates the next instance. On failure nothing new is left on
// disk: preconditions are checked before any write and a failed copy or
// rewrite removes the staging directory.
func (p *Provisioner) Provision(ctx context.Context) (*Plan, error) {
	plan, err := p.Plan(ctx)
	if err != nil {
		return nil, err
	}

	if entries, errR := os.ReadDir(plan.Dir); errR == nil && len(entries) > 0 {
		return nil, fmt.Errorf("%w: %s already exists", errdefs.ErrPrecondition, plan.Dir)
	}

	staging := filepath.Join(p.cfg.Layout.Root, "."+filepath.Base(plan.Dir)+".staging")
	if errS := p.build(ctx, plan, staging); errS != nil {
		p.logger.ErrorContext(ctx, "Provision: rolling back", "staging", staging, "error", errS)
		if errRm := os.RemoveAll(staging); errRm != nil {
			p.logger.ErrorContext(ctx, "Provision: rollback failed", "staging", staging, "error", errRm)
			errS = errors.Join(errS, errRm)
		}
		return nil, fmt.Errorf("%w: %w", errdefs.ErrPartialFailure, errS)
	}

	p.logger.InfoContext(ctx, "Provision: instance created",
		"id", plan.ID, "dir", plan.Dir, "port", plan.Port, "streamId", plan.StreamID)
	return plan, nil
}

func (p *Provisioner) build(ctx context.Context, plan *Plan, staging string) error {
	if _, err := os.Lstat(staging); err == nil {
		p.logger.WarnContext(ctx, "build: removing stale staging directory", "staging", staging)
		if errRm := os.RemoveAll(staging); errRm != nil {
			return errRm
		}
	}
	if err := os.Mkdir(staging, 0o755); err != nil {
		return err
	}

	if err := p.copyTemplate(ctx, plan.Template, staging); err != nil {
		return err
	}

	l := p.cfg.Layout
	if err := rewriteFile(filepath.Join(staging, l.EngineConfig), func(b []byte) ([]byte, error) {
		return instance.RewritePort(b, plan.Port)
	}); err != nil {
		return err
	}
	if err := rewriteFile(filepath.Join(staging, l.OutputConfig), func(b []byte) ([]byte, error) {
		return instance.RewriteStream(b, plan.StreamID)
	}); err != nil {
		return err
	}

	// rename(2) replaces an empty directory left at the final name.
	return os.Rename(staging, plan.Dir)
}

func (p *Provisioner) copyTemplate(ctx context.Context, template, staging string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, d := range p.cfg.CopyDirs {
		src := filepath.Join(template, d)
		if _, err := os.Lstat(src); errors.Is(err, fs.ErrNotExist) {
			p.logger.WarnContext(ctx, "copyTemplate: skipping missing directory", "dir", src)
			continue
		}
		dst := filepath.Join(staging, d)
		g.Go(func() error {
			p.logger.DebugContext(gctx, "copyTemplate: copying directory", "src", src)
			return copyTree(gctx, src, dst)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, f := range p.cfg.CopyFiles {
		if err := copyFile(filepath.Join(template, f), filepath.Join(staging, f)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) checkSyncEnv() (string, error) {
	name := p.cfg.SyncEnv
	val, ok := p.LookupEnv(name)
	if !ok || val == "" {
		return "", fmt.Errorf("%w: environment variable %s must be set to the shared sync directory",
			errdefs.ErrPrecondition, name)
	}
	st, err := os.Stat(val)
	if err != nil || !st.IsDir() {
		return "", fmt.Errorf("%w: %s=%s is not a directory", errdefs.ErrPrecondition, name, val)
	}
	return val, nil
}

// requiredBytes sums the regular files of the allow-listed template subset
// plus the headroom. Symlinks are not followed.
func (p *Provisioner) requiredBytes() (uint64, error) {
	template := p.cfg.Layout.TemplateDir()
	var total uint64
	for _, d := range p.cfg.CopyDirs {
		err := filepath.WalkDir(filepath.Join(template, d), func(_ string, e fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if !e.Type().IsRegular() {
				return nil
			}
			info, errI := e.Info()
			if errI != nil {
				return errI
			}
			total += uint64(info.Size()) //nolint:gosec // sizes are non-negative
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	for _, f := range p.cfg.CopyFiles {
		info, err := os.Lstat(filepath.Join(template, f))
		if err != nil {
			return 0, err
		}
		total += uint64(info.Size()) //nolint:gosec // sizes are non-negative
	}
	return total + p.cfg.Headroom, nil
}

// WritePlan prints plan as YAML.
func WritePlan(w io.Writer, plan *Plan) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(plan); err != nil {
		return err
	}
	return enc.Close()
}
