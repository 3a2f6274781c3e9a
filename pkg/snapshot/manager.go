// Package snapshot implements the snapshot directory manager (C2): naming,
// listing, and retention of on-disk snapshot directories, in the style of
// hashicorp/raft's FileSnapshotStore bookkeeping.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/lumapart/raftengine/pkg/logpos"
)

// Entry names one on-disk snapshot directory.
type Entry struct {
	Name string
	Pos  logpos.Position
}

// Manager enumerates, names, retains, and deletes snapshot directories
// rooted at RootDir, all named "<Prefix>.<index>.<term>".
type Manager struct {
	RootDir   string
	Prefix    string
	MaxRetain int
	Logger    *zap.Logger
}

// New builds a snapshot Manager.
func New(rootDir, prefix string, maxRetain int, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{RootDir: rootDir, Prefix: prefix, MaxRetain: maxRetain, Logger: logger}
}

// Path returns the absolute directory path for a position.
func (m *Manager) Path(pos logpos.Position) string {
	return filepath.Join(m.RootDir, pos.Name(m.Prefix))
}

// List returns every valid snapshot directory under RootDir, sorted
// ascending by (index, term). Entries whose name does not match
// "<prefix>.<index>.<term>" are logged and skipped.
func (m *Manager) List() ([]Entry, error) {
	entries, err := os.ReadDir(m.RootDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: list %s: %w", m.RootDir, err)
	}

	var out []Entry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pos, ok := logpos.Parse(m.Prefix, e.Name())
		if !ok {
			m.Logger.Warn("ignoring malformed snapshot directory", zap.String("name", e.Name()))
			continue
		}
		out = append(out, Entry{Name: e.Name(), Pos: pos})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Pos.Index != out[j].Pos.Index {
			return out[i].Pos.Index < out[j].Pos.Index
		}
		return out[i].Pos.Term < out[j].Pos.Term
	})
	return out, nil
}

// Retain runs before a new snapshot is created: pending is the number of
// snapshots about to be added by the caller (normally 1), so that a
// create under a tight disk budget can still succeed and so that at most
// MaxRetain directories remain once the new one lands. Passing pending=0
// reconciles against whatever currently exists on disk without assuming
// a create is imminent.
func (m *Manager) Retain(pending int) error {
	entries, err := m.List()
	if err != nil {
		return err
	}
	excess := len(entries) + pending - m.MaxRetain
	if excess <= 0 {
		return nil
	}
	for _, e := range entries[:excess] {
		m.Delete(e.Name)
	}
	return nil
}

// Delete best-effort recursively removes a named snapshot directory.
// Errors are logged, never propagated; callers are fire-and-forget.
func (m *Manager) Delete(name string) {
	path := filepath.Join(m.RootDir, name)
	if err := os.RemoveAll(path); err != nil {
		m.Logger.Error("failed to delete snapshot directory", zap.String("name", name), zap.Error(err))
	}
}

// Exists reports whether a snapshot directory already exists for pos.
func (m *Manager) Exists(pos logpos.Position) bool {
	_, err := os.Stat(m.Path(pos))
	return err == nil
}
