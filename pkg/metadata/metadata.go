// Package metadata is the cluster-metadata accessor (C6): a thin typed
// wrapper over the backend's versioned key/value metadata store, scoped to
// the reserved "config" key plus arbitrary opaque keys. It never caches;
// every read goes to the backend.
package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/lumapart/raftengine/pkg/backend"
	"github.com/lumapart/raftengine/pkg/logpos"
)

// ErrAbsent is returned when no value has ever been written for a key.
var ErrAbsent = backend.ErrMetadataAbsent

// Accessor reads and writes versioned metadata entries via a Backend.
type Accessor struct {
	Backend backend.Backend
}

// New builds a metadata Accessor over b.
func New(b backend.Backend) *Accessor {
	return &Accessor{Backend: b}
}

// Write persists value under key, versioned by pos. Used by the engine's
// dispatcher for the reserved Config key and available for any other
// opaque tag a caller chooses.
func (a *Accessor) Write(ctx context.Context, h backend.Handle, key string, pos logpos.Position, value []byte) error {
	if err := a.Backend.WriteMetadata(ctx, h, key, pos, value); err != nil {
		return fmt.Errorf("metadata: write %q: %w", key, err)
	}
	return nil
}

// Read returns the (version, value) pair last written for key.
func (a *Accessor) Read(ctx context.Context, h backend.Handle, key string) (logpos.Position, []byte, error) {
	entry, err := a.Backend.ReadMetadata(ctx, h, key)
	if err != nil {
		if errors.Is(err, ErrAbsent) {
			return logpos.Position{}, nil, ErrAbsent
		}
		return logpos.Position{}, nil, fmt.Errorf("metadata: read %q: %w", key, err)
	}
	return entry.Version, entry.Value, nil
}

// ReadConfig is a convenience wrapper for the reserved "config" key.
func (a *Accessor) ReadConfig(ctx context.Context, h backend.Handle) (logpos.Position, []byte, error) {
	return a.Read(ctx, h, backend.ConfigMetadataKey)
}
