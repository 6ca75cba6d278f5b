package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	msrlerrors "github.com/ostanlabs/msrl/internal/errors"
)

const (
	snapshotsDirName = "snapshots"
	currentFileName  = "CURRENT"
	buildingSuffix   = ".building"
)

// Manager implements the Manager contracts of C14: staging, validating,
// activating, listing, and rolling back snapshots, per spec §4.14/§6. The
// active pointer is a plain-text CURRENT file guarded by a cross-process
// file lock, matching the on-disk layout spec §6 prescribes.
type Manager struct {
	snapshotRoot string
	keepCount    int
}

// NewManager constructs a Manager rooted at snapshotRoot
// (<vaultRoot>/<snapshotDir> per config). keepCount is the retention target
// for cleanupOldSnapshots; the spec recommends 3.
func NewManager(snapshotRoot string, keepCount int) *Manager {
	if keepCount <= 0 {
		keepCount = 3
	}
	return &Manager{snapshotRoot: snapshotRoot, keepCount: keepCount}
}

func (m *Manager) snapshotsDir() string { return filepath.Join(m.snapshotRoot, snapshotsDirName) }
func (m *Manager) currentPath() string  { return filepath.Join(m.snapshotRoot, currentFileName) }
func (m *Manager) lockPath() string     { return filepath.Join(m.snapshotRoot, currentFileName+".lock") }

func (m *Manager) snapshotDir(id string) string  { return filepath.Join(m.snapshotsDir(), id) }
func (m *Manager) stagingDir(id string) string    { return m.snapshotDir(id) + buildingSuffix }
func (m *Manager) manifestPath(id string) string  { return filepath.Join(m.snapshotDir(id), "manifest.json") }

// NewSnapshotID generates a fresh snapshot id, ordered so lexical sort
// matches creation order (useful for listSnapshots/rollback/cleanup).
func NewSnapshotID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// CreateSnapshot allocates a fresh staging directory under
// <snapshotRoot>/snapshots/<id>.building for the given id and returns its path.
// Callers pass the staging dir to a Builder, then call Finalize.
func (m *Manager) CreateSnapshot(id string) (stagingDir string, err error) {
	dir := m.stagingDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", msrlerrors.IOError(dir, "mkdir", err)
	}
	return dir, nil
}

// Finalize writes the manifest into the staging directory and renames it
// into place as <id> (no longer suffixed .building), validates it, then
// returns. It does not activate the snapshot.
func (m *Manager) Finalize(id string, manifest Manifest) error {
	stagingDir := m.stagingDir(id)
	manifest.SnapshotID = id

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return msrlerrors.Internal("marshal manifest", err)
	}
	if err := os.WriteFile(filepath.Join(stagingDir, "manifest.json"), data, 0644); err != nil {
		return msrlerrors.IOError(stagingDir, "write manifest", err)
	}

	finalDir := m.snapshotDir(id)
	if err := os.Rename(stagingDir, finalDir); err != nil {
		return msrlerrors.IOError(finalDir, "rename staged snapshot", err)
	}

	if err := m.Validate(id); err != nil {
		return err
	}
	return nil
}

// Validate checks a snapshot's integrity: the manifest parses, the
// metadata/BM25 stores exist, and the outline index exists when the
// manifest records any nodes. Per-shard ANN files and the manifest's file
// hashes are not checked.
func (m *Manager) Validate(id string) error {
	dir := m.snapshotDir(id)
	manifest, err := m.readManifest(id)
	if err != nil {
		return &ErrCorrupt{SnapshotID: id, Reason: err.Error()}
	}

	var missing []string
	requireExists := func(rel string) {
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			missing = append(missing, rel)
		}
	}
	requireExists(metaFileName)
	requireExists(bm25DirName)
	if manifest.Stats.Nodes > 0 {
		requireExists(outlineName)
	}

	if len(missing) > 0 {
		return msrlerrors.IndexCorrupt(id, "missing expected files", missing)
	}
	return nil
}

func (m *Manager) readManifest(id string) (Manifest, error) {
	data, err := os.ReadFile(m.manifestPath(id))
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return manifest, nil
}

// Activate makes id the active snapshot: validate, then atomically
// rewrite CURRENT under a cross-process lock. Per spec invariant 8, this
// is all-or-nothing — CURRENT always names either the old or the new id,
// never a partial write.
func (m *Manager) Activate(id string) error {
	if err := m.Validate(id); err != nil {
		return err
	}

	lock := flock.New(m.lockPath())
	if err := lock.Lock(); err != nil {
		return msrlerrors.IOError(m.lockPath(), "acquire lock", err)
	}
	defer lock.Unlock()

	tmp := m.currentPath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(id), 0644); err != nil {
		return msrlerrors.IOError(tmp, "write", err)
	}
	if err := os.Rename(tmp, m.currentPath()); err != nil {
		return msrlerrors.IOError(m.currentPath(), "rename", err)
	}
	return nil
}

// Current returns the active snapshot id, or "" if none is set.
func (m *Manager) Current() (string, error) {
	data, err := os.ReadFile(m.currentPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", msrlerrors.IOError(m.currentPath(), "read", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ListSnapshots returns every finalized (non-.building) snapshot id,
// sorted oldest-first (ids are lexically time-ordered, see NewSnapshotID).
func (m *Manager) ListSnapshots() ([]string, error) {
	entries, err := os.ReadDir(m.snapshotsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, msrlerrors.IOError(m.snapshotsDir(), "readdir", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasSuffix(e.Name(), buildingSuffix) {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Rollback activates the next-most-recent valid snapshot older than the
// current one, per spec §4.14's rollback() contract.
func (m *Manager) Rollback() (string, error) {
	current, err := m.Current()
	if err != nil {
		return "", err
	}
	ids, err := m.ListSnapshots()
	if err != nil {
		return "", err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		if ids[i] == current {
			continue
		}
		if current != "" && ids[i] >= current {
			continue
		}
		if err := m.Validate(ids[i]); err != nil {
			continue
		}
		if err := m.Activate(ids[i]); err != nil {
			return "", err
		}
		return ids[i], nil
	}
	return "", msrlerrors.NotFound("", "")
}

// CleanupOldSnapshots keeps at most keepCount finalized snapshots (the
// currently active one, regardless of its age, plus the most recent
// others) and deletes the rest.
func (m *Manager) CleanupOldSnapshots() error {
	current, err := m.Current()
	if err != nil {
		return err
	}
	ids, err := m.ListSnapshots()
	if err != nil {
		return err
	}
	if len(ids) <= m.keepCount {
		return nil
	}

	keep := make(map[string]bool, m.keepCount)
	if current != "" {
		keep[current] = true
	}
	for i := len(ids) - 1; i >= 0 && len(keep) < m.keepCount; i-- {
		keep[ids[i]] = true
	}

	for _, id := range ids {
		if keep[id] {
			continue
		}
		dir := m.snapshotDir(id)
		if err := os.RemoveAll(dir); err != nil {
			return msrlerrors.IOError(dir, "remove", err)
		}
	}
	return nil
}

// Recover runs startup recovery per spec §4.14: remove stray staged
// directories left behind by a crashed build, then validate the CURRENT
// pointer, falling back to the newest valid snapshot if it's missing or
// corrupt. Returns "" with no error if no valid snapshot exists (the
// engine's "empty/not-indexed" state).
func (m *Manager) Recover(ctx context.Context) (string, error) {
	if err := m.removeStrayStaging(); err != nil {
		return "", err
	}

	current, err := m.Current()
	if err != nil {
		return "", err
	}
	if current != "" {
		if err := m.Validate(current); err == nil {
			return current, nil
		}
		slog.Warn("snapshot: active pointer is invalid, falling back", slog.String("snapshot_id", current))
	}

	ids, err := m.ListSnapshots()
	if err != nil {
		return "", err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		if err := m.Validate(ids[i]); err != nil {
			continue
		}
		if err := m.Activate(ids[i]); err != nil {
			return "", err
		}
		return ids[i], nil
	}
	return "", nil
}

func (m *Manager) removeStrayStaging() error {
	entries, err := os.ReadDir(m.snapshotsDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return msrlerrors.IOError(m.snapshotsDir(), "readdir", err)
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), buildingSuffix) {
			path := filepath.Join(m.snapshotsDir(), e.Name())
			if err := os.RemoveAll(path); err != nil {
				return msrlerrors.IOError(path, "remove stray staging dir", err)
			}
		}
	}
	return nil
}

// Abort discards a staged build that failed before Finalize.
func (m *Manager) Abort(id string) error {
	dir := m.stagingDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return msrlerrors.IOError(dir, "remove", err)
	}
	return nil
}

// Manifest returns a finalized snapshot's manifest.
func (m *Manager) Manifest(id string) (Manifest, error) {
	return m.readManifest(id)
}

// SnapshotDataDir returns a finalized snapshot's directory, for opening
// its metadata/BM25/ANN files.
func (m *Manager) SnapshotDataDir(id string) string {
	return m.snapshotDir(id)
}

// Ensure makes sure the snapshot root and its snapshots/ subdirectory
// exist, per Engine.create's "ensures snapshot root" contract.
func (m *Manager) Ensure() error {
	if err := os.MkdirAll(m.snapshotsDir(), 0755); err != nil {
		return msrlerrors.IOError(m.snapshotsDir(), "mkdir", err)
	}
	return nil
}
