package ports

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/devyard/vm/pkg/errdefs"
)

// Entry records one project's reservation.
type Entry struct {
	Range Range
	Path  string
}

// Reservation is one row of List output.
type Reservation struct {
	Project string
	Range   Range
	Path    string
}

// fileEntry is the on-disk JSON shape: {"range": "3100-3109", "path": "/abs"}.
type fileEntry struct {
	Range string `json:"range"`
	Path  string `json:"path"`
}

// Registry maps project names to reserved port ranges. It is backed by a
// JSON file shared by every project on the machine; writers persist with a
// temp file + rename so concurrent processes serialize on the final rename
// and the file is never left half-written.
type Registry struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
}

// Load reads the registry at path. A missing file yields an empty registry;
// a malformed one is an error, never a silent reset.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, errdefs.WrapFilesystem("read", path, err)
	}

	var raw map[string]fileEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errdefs.WrapFilesystem("parse", path, err)
	}
	for project, fe := range raw {
		rng, err := ParseRange(fe.Range)
		if err != nil {
			return nil, errdefs.WrapFilesystem("parse", path,
				fmt.Errorf("project %q: %w", project, err))
		}
		r.entries[project] = Entry{Range: rng, Path: fe.Path}
	}
	return r, nil
}

// Get returns the reservation for project.
func (r *Registry) Get(project string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[project]
	return e, ok
}

// CheckConflicts returns a description of the first registered range that
// overlaps candidate, skipping excludeProject. Projects are scanned in name
// order so the answer is deterministic.
func (r *Registry) CheckConflicts(candidate Range, excludeProject string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conflictsLocked(candidate, excludeProject)
}

func (r *Registry) conflictsLocked(candidate Range, excludeProject string) (string, bool) {
	for _, project := range r.projectsLocked() {
		if project == excludeProject {
			continue
		}
		e := r.entries[project]
		if candidate.Overlaps(e.Range) {
			return fmt.Sprintf("range %s overlaps %s reserved by project %q (%s)",
				candidate, e.Range, project, e.Path), true
		}
	}
	return "", false
}

// Register upserts the project's reservation and persists the registry.
func (r *Registry) Register(project string, rng Range, projectPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[project] = Entry{Range: rng, Path: projectPath}
	return r.saveLocked()
}

// Unregister drops the project's reservation. A project that was never
// registered is not an error.
func (r *Registry) Unregister(project string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[project]; !ok {
		return nil
	}
	delete(r.entries, project)
	return r.saveLocked()
}

// SuggestNextRange walks upward from startFrom in strides of size and
// returns the first conflict-free range whose end stays below 65535. The
// walk never searches gaps off the stride, so repeated calls give the same
// answer for the same registry contents.
func (r *Registry) SuggestNextRange(size int, startFrom uint16) (string, bool) {
	if size <= 0 {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for start := int(startFrom); start+size-1 < 65535; start += size {
		candidate := Range{Start: uint16(start), End: uint16(start + size - 1)}
		if _, conflict := r.conflictsLocked(candidate, ""); !conflict {
			return candidate.String(), true
		}
	}
	return "", false
}

// List returns all reservations sorted by project name.
func (r *Registry) List() []Reservation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Reservation, 0, len(r.entries))
	for _, project := range r.projectsLocked() {
		e := r.entries[project]
		out = append(out, Reservation{Project: project, Range: e.Range, Path: e.Path})
	}
	return out
}

func (r *Registry) projectsLocked() []string {
	projects := make([]string, 0, len(r.entries))
	for p := range r.entries {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	return projects
}

// saveLocked writes the registry atomically using the temp file + rename
// pattern. Must be called with the lock held.
func (r *Registry) saveLocked() error {
	raw := make(map[string]fileEntry, len(r.entries))
	for project, e := range r.entries {
		raw[project] = fileEntry{Range: e.Range.String(), Path: e.Path}
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return errdefs.Internalf("marshal port registry: %v", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errdefs.WrapFilesystem("mkdir", dir, err)
	}

	tmp := r.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errdefs.WrapFilesystem("create", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errdefs.WrapFilesystem("write", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errdefs.WrapFilesystem("fsync", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errdefs.WrapFilesystem("close", tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return errdefs.WrapFilesystem("rename", r.path, err)
	}
	return nil
}
