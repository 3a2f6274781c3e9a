// Package boltstore implements backend.Backend on top of a local BoltDB
// file, in the spirit of the raft-boltdb log/stable stores this lineage
// otherwise uses for Raft's own log: a single embedded, transactional
// key/value file per (table, partition) instance.
package boltstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/lumapart/raftengine/pkg/backend"
	"github.com/lumapart/raftengine/pkg/command"
	"github.com/lumapart/raftengine/pkg/logpos"
)

var (
	bucketApplied  = []byte("applied")
	bucketData     = []byte("data")
	bucketMetadata = []byte("metadata")

	keyPosition = []byte("position")
)

// Backend is the BoltDB-backed implementation of backend.Backend.
type Backend struct{}

// New returns a BoltDB-backed backend.Backend.
func New() *Backend { return &Backend{} }

// handle wraps the open *bolt.DB along with the canonical path it was
// opened from. OpenSnapshot installs into that path rather than into the
// snapshot directory it is given, since path is always this handle's own
// live database file, never a snapshot copy.
type handle struct {
	db   *bolt.DB
	path string
}

func dbPath(name, table string, partition uint32, rootDir string) string {
	return filepath.Join(rootDir, fmt.Sprintf("%s-%s-%d.db", name, table, partition))
}

// Open recovers or initializes the BoltDB file for (name, table, partition).
func (b *Backend) Open(ctx context.Context, name, table string, partition uint32, rootDir string) (backend.Handle, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("boltstore: mkdir root: %w", err)
	}
	path := dbPath(name, table, partition, rootDir)
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketApplied, bucketData, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}
	return &handle{db: db, path: path}, nil
}

// Position reports the last-applied position recorded in the applied
// bucket, or the zero position for a freshly initialized file.
func (b *Backend) Position(ctx context.Context, h backend.Handle) (logpos.Position, error) {
	hh := h.(*handle)
	var pos logpos.Position
	err := hh.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketApplied).Get(keyPosition)
		if raw == nil {
			pos = logpos.Zero
			return nil
		}
		return msgpack.Unmarshal(raw, &pos)
	})
	if err != nil {
		return logpos.Position{}, fmt.Errorf("boltstore: read position: %w", err)
	}
	return pos, nil
}

// Close closes the underlying BoltDB file.
func (b *Backend) Close(ctx context.Context, h backend.Handle) error {
	return h.(*handle).db.Close()
}

func putPosition(tx *bolt.Tx, pos logpos.Position) error {
	raw, err := msgpack.Marshal(pos)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketApplied).Put(keyPosition, raw)
}

// Apply deterministically applies Noop and User commands. Config and
// Execute never reach here; the engine dispatches those itself.
func (b *Backend) Apply(ctx context.Context, h backend.Handle, cmd command.Command, pos logpos.Position) (command.Reply, backend.Handle, error) {
	hh := h.(*handle)
	var reply command.Reply
	err := hh.db.Update(func(tx *bolt.Tx) error {
		switch cmd.Kind {
		case command.Noop:
			reply = command.OK(nil)
		case command.User:
			if len(cmd.UserData) > 0 {
				key := []byte(fmt.Sprintf("user:%d", pos.Index))
				if err := tx.Bucket(bucketData).Put(key, cmd.UserData); err != nil {
					return err
				}
			}
			reply = command.OK(cmd.UserData)
		default:
			return fmt.Errorf("boltstore: apply called with non-backend command kind %s", cmd.Kind)
		}
		return putPosition(tx, pos)
	})
	if err != nil {
		return command.Reply{}, h, fmt.Errorf("boltstore: apply: %w", err)
	}
	return reply, hh, nil
}

// SetPosition persists pos without any other mutation, used by the engine
// after Config/Execute dispatch to keep Position(h) synchronized with
// last_applied regardless of which path advanced it.
func (b *Backend) SetPosition(ctx context.Context, h backend.Handle, pos logpos.Position) (backend.Handle, error) {
	hh := h.(*handle)
	if err := hh.db.Update(func(tx *bolt.Tx) error {
		return putPosition(tx, pos)
	}); err != nil {
		return h, fmt.Errorf("boltstore: set position: %w", err)
	}
	return hh, nil
}

// CreateSnapshot writes a self-contained directory containing a hot copy
// of the BoltDB file, using Bolt's own consistent-snapshot Tx.CopyFile.
// The directory is written under a temporary name and renamed into place
// so it appears atomically to any concurrent lister.
func (b *Backend) CreateSnapshot(ctx context.Context, h backend.Handle, path string) error {
	hh := h.(*handle)
	tmp := path + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("boltstore: clean staging dir: %w", err)
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return fmt.Errorf("boltstore: mkdir staging dir: %w", err)
	}
	err := hh.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(filepath.Join(tmp, "state.db"), 0o600)
	})
	if err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("boltstore: copy snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("boltstore: rename snapshot into place: %w", err)
	}
	return nil
}

// OpenSnapshot installs the snapshot at path as h's new live state. It
// never operates out of the snapshot directory itself: that directory is
// exactly the name snapshot.Manager's retention sweep is free to delete
// once a newer snapshot exists, so a live handle backed by a file inside
// it could be destroyed out from under a running instance by an unrelated
// CreateSnapshot call. Instead it verifies the snapshot's position from a
// read-only copy, stages a consistent copy of it next to h's own
// canonical database file, and only then closes h and renames the staged
// copy into place. On any failure before the rename, h's original file is
// untouched.
func (b *Backend) OpenSnapshot(ctx context.Context, h backend.Handle, path string, expected logpos.Position) (backend.Handle, error) {
	hh := h.(*handle)
	src := filepath.Join(path, "state.db")

	staged, err := bolt.Open(src, 0o600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open snapshot copy: %w", err)
	}
	defer staged.Close()

	pos, err := b.Position(ctx, &handle{db: staged})
	if err != nil {
		return nil, fmt.Errorf("boltstore: read snapshot position: %w", err)
	}
	if !pos.Equal(expected) {
		return nil, fmt.Errorf("boltstore: snapshot position %s does not match expected %s", pos, expected)
	}

	tmp := hh.path + ".installing"
	if err := staged.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(tmp, 0o600)
	}); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("boltstore: stage snapshot into live path: %w", err)
	}

	if err := hh.db.Close(); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("boltstore: close live db before install: %w", err)
	}
	if err := os.Rename(tmp, hh.path); err != nil {
		return nil, fmt.Errorf("boltstore: install snapshot: %w", err)
	}

	db, err := bolt.Open(hh.path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: reopen installed snapshot: %w", err)
	}
	return &handle{db: db, path: hh.path}, nil
}

// Status reports reporting-only key/value pairs about the backend.
func (b *Backend) Status(ctx context.Context, h backend.Handle) ([]backend.StatusItem, error) {
	hh := h.(*handle)
	items := []backend.StatusItem{{Key: "backend", Value: "boltstore"}, {Key: "path", Value: hh.path}}
	err := hh.db.View(func(tx *bolt.Tx) error {
		items = append(items, backend.StatusItem{Key: "data_keys", Value: fmt.Sprintf("%d", tx.Bucket(bucketData).Stats().KeyN)})
		items = append(items, backend.StatusItem{Key: "metadata_keys", Value: fmt.Sprintf("%d", tx.Bucket(bucketMetadata).Stats().KeyN)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: status: %w", err)
	}
	return items, nil
}

type metadataRecord struct {
	Version logpos.Position `msgpack:"version"`
	Value   []byte          `msgpack:"value"`
}

// WriteMetadata stores a versioned opaque blob under key.
func (b *Backend) WriteMetadata(ctx context.Context, h backend.Handle, key string, version logpos.Position, value []byte) error {
	hh := h.(*handle)
	raw, err := msgpack.Marshal(metadataRecord{Version: version, Value: value})
	if err != nil {
		return fmt.Errorf("boltstore: marshal metadata: %w", err)
	}
	if err := hh.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).Put([]byte(key), raw)
	}); err != nil {
		return fmt.Errorf("boltstore: write metadata %q: %w", key, err)
	}
	return nil
}

// ReadMetadata returns the current value for key.
func (b *Backend) ReadMetadata(ctx context.Context, h backend.Handle, key string) (backend.MetadataEntry, error) {
	hh := h.(*handle)
	var rec metadataRecord
	found := false
	err := hh.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMetadata).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(raw, &rec)
	})
	if err != nil {
		return backend.MetadataEntry{}, fmt.Errorf("boltstore: read metadata %q: %w", key, err)
	}
	if !found {
		return backend.MetadataEntry{}, backend.ErrMetadataAbsent
	}
	return backend.MetadataEntry{Version: rec.Version, Value: rec.Value}, nil
}
