// Package backend defines the storage backend capability set the apply
// engine consumes (C1 in the design). Any implementation of Backend can be
// plugged into an engine instance; the engine never depends on a concrete
// storage technology.
package backend

import (
	"context"
	"errors"

	"github.com/lumapart/raftengine/pkg/command"
	"github.com/lumapart/raftengine/pkg/logpos"
)

// Handle is opaque storage state owned exclusively by the engine instance
// that opened it. It is never cloned; OpenSnapshot produces a replacement
// value and the caller discards the old one.
type Handle interface{}

// StatusItem is one reporting-only key/value pair returned by Status.
type StatusItem struct {
	Key   string
	Value string
}

// MetadataEntry is a versioned opaque value stored under a MetadataKey.
type MetadataEntry struct {
	Version logpos.Position
	Value   []byte
}

// ErrMetadataAbsent is returned by ReadMetadata when no entry exists yet
// for the requested key.
var ErrMetadataAbsent = errors.New("backend: metadata key absent")

// Backend is the capability set a concrete storage implementation exposes.
// All operations are invoked synchronously from the engine's serialized
// context and may block on I/O; the backend never needs to be safe for
// concurrent use by more than one caller because the engine's inbox
// enforces mutual exclusion by construction.
type Backend interface {
	// Open recovers (or initializes) state for (name, table, partition)
	// rooted at rootDir. Failure is fatal: a backend must never fail
	// silently.
	Open(ctx context.Context, name, table string, partition uint32, rootDir string) (Handle, error)

	// Position reports the handle's current applied position, (0,0) if
	// the backend is empty.
	Position(ctx context.Context, h Handle) (logpos.Position, error)

	// Close releases resources held by h. Called once at shutdown.
	Close(ctx context.Context, h Handle) error

	// Apply deterministically mutates state for cmd at pos and returns the
	// reply and (possibly identical) resulting handle. Two backends fed
	// the same command prefix from (0,0) must agree on every subsequent
	// reply and on every exported metadata value.
	Apply(ctx context.Context, h Handle, cmd command.Command, pos logpos.Position) (command.Reply, Handle, error)

	// CreateSnapshot produces a self-contained directory at path
	// capturing h's state as of its current position. Implementations
	// must make the directory appear atomically from a consumer's point
	// of view (e.g. write to a temp path and rename on completion).
	CreateSnapshot(ctx context.Context, h Handle, path string) error

	// OpenSnapshot replaces live state with the snapshot at path, verified
	// against the expected position. It installs the snapshot into h's own
	// canonical storage location rather than operating out of path itself,
	// since path names a snapshot directory that snapshot.Manager's normal
	// retention may delete once a newer snapshot exists — the live handle
	// must never be backed by a file retention can reclaim. On success it
	// returns the replacement handle; on failure the caller's existing
	// handle and state are unchanged.
	OpenSnapshot(ctx context.Context, h Handle, path string, expected logpos.Position) (Handle, error)

	// Status returns reporting-only key/value pairs describing h.
	Status(ctx context.Context, h Handle) ([]StatusItem, error)

	// WriteMetadata stores an opaque, versioned value under key.
	WriteMetadata(ctx context.Context, h Handle, key string, version logpos.Position, value []byte) error

	// ReadMetadata returns the current value for key, or ErrMetadataAbsent
	// if none has ever been written.
	ReadMetadata(ctx context.Context, h Handle, key string) (MetadataEntry, error)

	// SetPosition durably records pos as h's applied position without
	// otherwise mutating state. Apply already does this internally for
	// its own mutation; the engine calls SetPosition explicitly after a
	// successful Config or Execute dispatch so that Position(h) always
	// agrees with the engine's last_applied, whichever dispatch path
	// produced the advance (invariant 1).
	SetPosition(ctx context.Context, h Handle, pos logpos.Position) (Handle, error)
}

// ConfigMetadataKey is the reserved metadata key holding cluster
// configuration, versioned by the LogPosition at which it was applied.
const ConfigMetadataKey = "config"
