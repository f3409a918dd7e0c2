// Package snapshot captures and restores workspace state: service images,
// persistent volumes, and the effective configuration. Captures live in a
// per-project store under the config directory; @-prefixed names are shared
// across projects. Export wraps a capture into a portable archive.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/devyard/vm/pkg/compose"
	"github.com/devyard/vm/pkg/config"
	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/events"
	"github.com/devyard/vm/pkg/log"
	"github.com/devyard/vm/pkg/metrics"
	"github.com/devyard/vm/pkg/platform"
	"github.com/devyard/vm/pkg/provider"
	"github.com/devyard/vm/pkg/types"
)

// globalScope is the store directory shared by all projects.
const globalScope = "global"

// metadataFile sits at the root of every capture.
const metadataFile = "metadata.json"

// Engine drives snapshot capture and restore for one project.
type Engine struct {
	cfg        *config.VmConfig
	prov       provider.Provider
	projectDir string
	root       string
	runner     *platform.Runner
	logger     zerolog.Logger
	broker     *events.Broker
}

// New builds an engine for the project rooted at projectDir.
func New(cfg *config.VmConfig, prov provider.Provider, projectDir string) *Engine {
	return &Engine{
		cfg:        cfg,
		prov:       prov,
		projectDir: projectDir,
		root:       platform.SnapshotsDir(),
		runner:     platform.NewRunner(),
		logger:     log.WithComponent("snapshot"),
	}
}

// SetRoot overrides the snapshot store root. Tests point this at a temp dir.
func (e *Engine) SetRoot(dir string) { e.root = dir }

// SetRunner swaps the subprocess runner (used for git introspection).
func (e *Engine) SetRunner(r *platform.Runner) { e.runner = r }

// SetEvents wires the broker for snapshot lifecycle events.
func (e *Engine) SetEvents(b *events.Broker) { e.broker = b }

// splitName separates the scope from a user-visible snapshot name:
// "@name" is global, anything else belongs to the current project.
func (e *Engine) splitName(name string) (scope, base string, err error) {
	scope = e.cfg.Project.Name
	base = name
	if strings.HasPrefix(name, "@") {
		scope = globalScope
		base = name[1:]
	}
	if base == "" {
		return "", "", errdefs.Validationf("snapshot name is empty")
	}
	if strings.ContainsAny(base, "/\\") || base == "." || base == ".." {
		return "", "", errdefs.Validationf("invalid snapshot name %q", name)
	}
	return scope, base, nil
}

// Dir returns the capture directory for a user-visible snapshot name.
func (e *Engine) Dir(name string) (string, error) {
	scope, base, err := e.splitName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(e.root, scope, base), nil
}

// CaptureOptions shapes one capture.
type CaptureOptions struct {
	Name        string
	Description string

	// Force replaces an existing capture of the same name.
	Force bool
}

// Capture exports the workspace's images and volumes through the provider,
// saves the effective configuration, and writes metadata.json.
func (e *Engine) Capture(ctx context.Context, opts CaptureOptions) (*types.SnapshotMetadata, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SnapshotDuration, "capture")

	scope, base, err := e.splitName(opts.Name)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(e.root, scope, base)

	if _, err := os.Stat(dir); err == nil {
		if !opts.Force {
			return nil, errdefs.Validationf("snapshot %q already exists (use --force to replace)", opts.Name)
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, errdefs.WrapFilesystem("remove", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errdefs.WrapFilesystem("mkdir", dir, err)
	}

	if err := e.prov.Snapshot(ctx, provider.SnapshotRequest{
		Name:        base,
		Dir:         dir,
		Description: opts.Description,
	}); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	if err := e.compressVolumes(ctx, dir); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if err := e.saveConfig(dir); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	meta, err := e.buildMetadata(ctx, base, opts.Description, dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if err := writeMetadata(dir, meta); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	e.logger.Info().Str("snapshot", opts.Name).Int64("bytes", meta.TotalSizeBytes).Msg("snapshot captured")
	if e.broker != nil {
		e.broker.Publish(&types.Event{
			Type:      types.EventSnapshotCreated,
			Timestamp: time.Now(),
			Workspace: e.cfg.Project.Name,
			Snapshot:  opts.Name,
		})
	}
	return meta, nil
}

// Restore stops the workspace, copies the saved configuration back over the
// project files, and rebuilds images and volumes through the provider.
func (e *Engine) Restore(ctx context.Context, name string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SnapshotDuration, "restore")

	_, base, err := e.splitName(name)
	if err != nil {
		return err
	}
	dir, err := e.Dir(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, metadataFile)); err != nil {
		return errdefs.NotFoundf("snapshot %q", name)
	}

	// Best effort: a workspace that was never created has nothing to stop.
	if err := e.prov.Stop(ctx, ""); err != nil && !errdefs.IsKind(err, errdefs.KindCommand) {
		e.logger.Debug().Err(err).Msg("pre-restore stop skipped")
	}

	if err := e.decompressVolumes(ctx, dir); err != nil {
		return err
	}
	if err := e.restoreConfig(dir); err != nil {
		return err
	}
	if err := e.prov.RestoreSnapshot(ctx, provider.RestoreRequest{Name: base, Dir: dir}); err != nil {
		return err
	}
	if err := e.prov.Start(ctx, ""); err != nil {
		return err
	}

	e.logger.Info().Str("snapshot", name).Msg("snapshot restored")
	if e.broker != nil {
		e.broker.Publish(&types.Event{
			Type:      types.EventSnapshotRestored,
			Timestamp: time.Now(),
			Workspace: e.cfg.Project.Name,
			Snapshot:  name,
		})
	}
	return nil
}

// Info pairs a user-visible name with its capture metadata.
type Info struct {
	Name   string
	Global bool
	Meta   types.SnapshotMetadata
}

// List returns the project's snapshots plus the global ones, newest first.
func (e *Engine) List() ([]Info, error) {
	var out []Info
	for _, scope := range []string{e.cfg.Project.Name, globalScope} {
		infos, err := e.listScope(scope)
		if err != nil {
			return nil, err
		}
		out = append(out, infos...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Meta.CreatedAt.After(out[j].Meta.CreatedAt)
	})
	return out, nil
}

func (e *Engine) listScope(scope string) ([]Info, error) {
	entries, err := os.ReadDir(filepath.Join(e.root, scope))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.WrapFilesystem("readdir", filepath.Join(e.root, scope), err)
	}

	var out []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := readMetadata(filepath.Join(e.root, scope, entry.Name()))
		if err != nil {
			e.logger.Warn().Str("snapshot", entry.Name()).Err(err).Msg("skipping unreadable capture")
			continue
		}
		info := Info{Name: entry.Name(), Global: scope == globalScope, Meta: *meta}
		if info.Global {
			info.Name = "@" + info.Name
		}
		out = append(out, info)
	}
	return out, nil
}

// Delete removes a capture from the store.
func (e *Engine) Delete(name string) error {
	dir, err := e.Dir(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		return errdefs.NotFoundf("snapshot %q", name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return errdefs.WrapFilesystem("remove", dir, err)
	}
	return nil
}

// saveConfig writes the rendered compose file and copies the project's
// vm.yaml into compose/ so restore can reproduce the exact setup.
func (e *Engine) saveConfig(dir string) error {
	composeDir := filepath.Join(dir, "compose")
	if err := os.MkdirAll(composeDir, 0o755); err != nil {
		return errdefs.WrapFilesystem("mkdir", composeDir, err)
	}

	rendered, err := compose.RenderCompose(compose.Input{Config: e.cfg, ProjectDir: e.projectDir})
	if err != nil {
		return err
	}
	composeFile := filepath.Join(composeDir, "compose.yaml")
	if err := os.WriteFile(composeFile, []byte(rendered), 0o644); err != nil {
		return errdefs.WrapFilesystem("write", composeFile, err)
	}

	src := filepath.Join(e.projectDir, config.UserConfigName)
	if data, err := os.ReadFile(src); err == nil {
		dst := filepath.Join(composeDir, config.UserConfigName)
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return errdefs.WrapFilesystem("write", dst, err)
		}
	}
	return nil
}

// restoreConfig copies saved config files back into the project, keeping
// .bak copies of anything it overwrites.
func (e *Engine) restoreConfig(dir string) error {
	for _, name := range []string{config.UserConfigName, "compose.yaml"} {
		src := filepath.Join(dir, "compose", name)
		data, err := os.ReadFile(src)
		if err != nil {
			continue // not every capture carries both files
		}

		dst := filepath.Join(e.projectDir, name)
		if existing, err := os.ReadFile(dst); err == nil {
			if err := os.WriteFile(dst+".bak", existing, 0o644); err != nil {
				return errdefs.WrapFilesystem("write", dst+".bak", err)
			}
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return errdefs.WrapFilesystem("write", dst, err)
		}
	}
	return nil
}

// buildMetadata scans the capture directory and assembles metadata.json.
func (e *Engine) buildMetadata(ctx context.Context, base, description, dir string) (*types.SnapshotMetadata, error) {
	meta := &types.SnapshotMetadata{
		Name:         base,
		CreatedAt:    time.Now().UTC(),
		Description:  description,
		ProjectName:  e.cfg.Project.Name,
		ProjectDir:   e.projectDir,
		ComposeFile:  filepath.Join("compose", "compose.yaml"),
		VMConfigFile: filepath.Join("compose", config.UserConfigName),
	}

	services, err := e.imageRecords(dir, base)
	if err != nil {
		return nil, err
	}
	meta.Services = services

	archives, err := volumeArchives(dir)
	if err != nil {
		return nil, err
	}
	for _, archive := range archives {
		info, err := os.Stat(archive)
		if err != nil {
			return nil, errdefs.WrapFilesystem("stat", archive, err)
		}
		meta.Volumes = append(meta.Volumes, types.SnapshotVolume{
			Name:        volumeBase(archive),
			ArchiveFile: filepath.Join("volumes", filepath.Base(archive)),
			SizeBytes:   info.Size(),
		})
	}

	meta.TotalSizeBytes, err = dirSize(dir)
	if err != nil {
		return nil, err
	}

	e.captureGit(ctx, meta)
	return meta, nil
}

// imageRecords reads the provider's images/index.json, which carries the
// tag and digest of every saved image. Captures from providers that write
// no index fall back to the tarball listing.
func (e *Engine) imageRecords(dir, base string) ([]types.SnapshotService, error) {
	data, err := os.ReadFile(filepath.Join(dir, "images", "index.json"))
	if err == nil {
		var records []types.SnapshotService
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, errdefs.Internalf("parse image index: %v", err)
		}
		return records, nil
	}

	images, err := filepath.Glob(filepath.Join(dir, "images", "*.tar"))
	if err != nil {
		return nil, errdefs.WrapFilesystem("glob", dir, err)
	}
	var records []types.SnapshotService
	for _, image := range images {
		service := strings.TrimSuffix(filepath.Base(image), ".tar")
		records = append(records, types.SnapshotService{
			Name:      service,
			ImageTag:  fmt.Sprintf("vm/%s-snapshot:%s", e.cfg.Project.Name, base),
			ImageFile: filepath.Join("images", filepath.Base(image)),
		})
	}
	return records, nil
}

// captureGit records the project's git position when it is a repository.
// Failures leave the fields empty.
func (e *Engine) captureGit(ctx context.Context, meta *types.SnapshotMetadata) {
	commit, err := e.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return
	}
	meta.GitCommit = commit

	if branch, err := e.git(ctx, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		meta.GitBranch = branch
	}
	if status, err := e.git(ctx, "status", "--porcelain"); err == nil {
		meta.GitDirty = status != ""
	}
}

func (e *Engine) git(ctx context.Context, args ...string) (string, error) {
	out, err := e.runner.Run(ctx, platform.Cmd{
		Argv:    append([]string{"git", "-C", e.projectDir}, args...),
		Timeout: 10 * time.Second,
	})
	return strings.TrimSpace(out), err
}

func writeMetadata(dir string, meta *types.SnapshotMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errdefs.Internalf("marshal metadata: %v", err)
	}
	path := filepath.Join(dir, metadataFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errdefs.WrapFilesystem("write", path, err)
	}
	return nil
}

func readMetadata(dir string) (*types.SnapshotMetadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, errdefs.WrapFilesystem("read", filepath.Join(dir, metadataFile), err)
	}
	var meta types.SnapshotMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errdefs.Internalf("parse metadata: %v", err)
	}
	return &meta, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, errdefs.WrapFilesystem("walk", dir, err)
	}
	return total, nil
}
