package boltstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lumapart/raftengine/pkg/backend"
	"github.com/lumapart/raftengine/pkg/command"
	"github.com/lumapart/raftengine/pkg/logpos"
)

func openTestBackend(t *testing.T) (*Backend, backend.Handle) {
	t.Helper()
	b := New()
	h, err := b.Open(context.Background(), "test", "orders", 0, t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close(context.Background(), h) })
	return b, h
}

func TestOpenFreshBackendStartsAtZeroPosition(t *testing.T) {
	b, h := openTestBackend(t)
	pos, err := b.Position(context.Background(), h)
	if err != nil {
		t.Fatalf("Position failed: %v", err)
	}
	if pos != logpos.Zero {
		t.Errorf("expected zero position, got %v", pos)
	}
}

func TestApplyUserCommandAdvancesPosition(t *testing.T) {
	b, h := openTestBackend(t)
	ctx := context.Background()
	pos := logpos.Position{Index: 1, Term: 1}

	reply, h2, err := b.Apply(ctx, h, command.UserCommand([]byte("hello")), pos)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if reply.IsError() {
		t.Fatalf("unexpected error reply: %s", reply.Err)
	}
	if string(reply.Value) != "hello" {
		t.Errorf("unexpected reply value: %s", reply.Value)
	}

	got, err := b.Position(ctx, h2)
	if err != nil {
		t.Fatalf("Position failed: %v", err)
	}
	if got != pos {
		t.Errorf("expected position %v, got %v", pos, got)
	}
}

func TestSetPositionDoesNotMutateData(t *testing.T) {
	b, h := openTestBackend(t)
	ctx := context.Background()
	pos := logpos.Position{Index: 5, Term: 2}

	h2, err := b.SetPosition(ctx, h, pos)
	if err != nil {
		t.Fatalf("SetPosition failed: %v", err)
	}
	got, err := b.Position(ctx, h2)
	if err != nil {
		t.Fatalf("Position failed: %v", err)
	}
	if got != pos {
		t.Errorf("expected position %v, got %v", pos, got)
	}
}

func TestMetadataWriteReadRoundTrip(t *testing.T) {
	b, h := openTestBackend(t)
	ctx := context.Background()
	pos := logpos.Position{Index: 3, Term: 1}

	if err := b.WriteMetadata(ctx, h, "config", pos, []byte("payload")); err != nil {
		t.Fatalf("WriteMetadata failed: %v", err)
	}
	entry, err := b.ReadMetadata(ctx, h, "config")
	if err != nil {
		t.Fatalf("ReadMetadata failed: %v", err)
	}
	if entry.Version != pos || string(entry.Value) != "payload" {
		t.Errorf("unexpected metadata entry: %+v", entry)
	}
}

func TestReadMetadataAbsentKey(t *testing.T) {
	b, h := openTestBackend(t)
	_, err := b.ReadMetadata(context.Background(), h, "missing")
	if err != backend.ErrMetadataAbsent {
		t.Fatalf("expected ErrMetadataAbsent, got %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	b, h := openTestBackend(t)
	ctx := context.Background()
	pos := logpos.Position{Index: 7, Term: 1}
	liveDBPath := h.(*handle).path

	if _, _, err := b.Apply(ctx, h, command.UserCommand([]byte("committed")), pos); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	snapDir := t.TempDir() + "/snap.7.1"
	if err := b.CreateSnapshot(ctx, h, snapDir); err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}

	restored, err := b.OpenSnapshot(ctx, h, snapDir, pos)
	if err != nil {
		t.Fatalf("OpenSnapshot failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close(ctx, restored) })

	if restored.(*handle).path != liveDBPath {
		t.Errorf("expected the installed snapshot to live at %q, got %q", liveDBPath, restored.(*handle).path)
	}
	if _, err := os.Stat(filepath.Join(snapDir, "state.db")); err != nil {
		t.Errorf("expected the snapshot directory's copy to remain untouched, got: %v", err)
	}

	got, err := b.Position(ctx, restored)
	if err != nil {
		t.Fatalf("Position failed: %v", err)
	}
	if got != pos {
		t.Errorf("expected restored position %v, got %v", pos, got)
	}
}

func TestOpenSnapshotRejectsPositionMismatch(t *testing.T) {
	b, h := openTestBackend(t)
	ctx := context.Background()
	pos := logpos.Position{Index: 7, Term: 1}
	if _, _, err := b.Apply(ctx, h, command.UserCommand(nil), pos); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	snapDir := t.TempDir() + "/snap.7.1"
	if err := b.CreateSnapshot(ctx, h, snapDir); err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}

	_, err := b.OpenSnapshot(ctx, h, snapDir, logpos.Position{Index: 99, Term: 1})
	if err == nil {
		t.Fatal("expected a position mismatch to be rejected")
	}

	// A rejected mismatch must leave the live handle untouched and usable.
	got, err := b.Position(ctx, h)
	if err != nil {
		t.Fatalf("Position on original handle failed after rejected install: %v", err)
	}
	if got != pos {
		t.Errorf("expected the original handle's position to be unchanged at %v, got %v", pos, got)
	}
}

func TestStatusReportsBackendFields(t *testing.T) {
	b, h := openTestBackend(t)
	items, err := b.Status(context.Background(), h)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	found := false
	for _, item := range items {
		if item.Key == "backend" && item.Value == "boltstore" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a backend=boltstore status item, got %+v", items)
	}
}
