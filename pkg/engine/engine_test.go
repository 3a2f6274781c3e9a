package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lumapart/raftengine/pkg/acceptor"
	"github.com/lumapart/raftengine/pkg/backend/boltstore"
	"github.com/lumapart/raftengine/pkg/command"
	"github.com/lumapart/raftengine/pkg/logpos"
	"github.com/lumapart/raftengine/pkg/snapshot"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	snapMgr := snapshot.New(dir+"/snapshots", "snapshot", 2, nil)
	e, err := New(Config{
		Name:      "test",
		Table:     "orders",
		Partition: 0,
		RootDir:   dir,
		Backend:   boltstore.New(),
		Queue:     acceptor.NewMemQueue(),
		Snapshot:  snapMgr,
		InboxSize: 16,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		_ = e.Stop(context.Background())
	})
	return e
}

func applyAndWait(t *testing.T, e *Engine, q *acceptor.MemQueue, index, term uint64, cmd command.Command) command.Reply {
	t.Helper()
	ref := uuid.New()
	resultC := q.RegisterCommit(ref)
	rec := command.Record{Index: index, Term: term, Ref: ref, Command: cmd}
	if err := e.ApplyOp(context.Background(), rec, term); err != nil {
		t.Fatalf("ApplyOp failed: %v", err)
	}
	select {
	case res := <-resultC:
		if res.Err != nil {
			t.Fatalf("commit resolved with error: %v", res.Err)
		}
		return res.Reply
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for commit resolution")
	}
	return command.Reply{}
}

func TestFreshEngineStartsAtZeroPosition(t *testing.T) {
	e := newTestEngine(t)
	pos, err := e.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if pos != logpos.Zero {
		t.Errorf("expected zero position, got %v", pos)
	}
}

func TestApplyAdvancesLastAppliedAndReportsStatus(t *testing.T) {
	e := newTestEngine(t)
	q := e.queue.(*acceptor.MemQueue)

	reply := applyAndWait(t, e, q, 1, 1, command.UserCommand([]byte("hello")))
	if string(reply.Value) != "hello" {
		t.Errorf("unexpected reply value: %s", reply.Value)
	}

	pos, err := e.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if pos != (logpos.Position{Index: 1, Term: 1}) {
		t.Errorf("expected last_applied {1 1}, got %v", pos)
	}

	items, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	found := false
	for _, item := range items {
		if item.Key == "last_applied_index" && item.Value == "1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected last_applied_index=1 in status, got %+v", items)
	}
}

func TestRedeliveryOfAppliedIndexIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	q := e.queue.(*acceptor.MemQueue)

	applyAndWait(t, e, q, 1, 1, command.UserCommand([]byte("first")))

	ref := uuid.New()
	resultC := q.RegisterCommit(ref)
	rec := command.Record{Index: 1, Term: 1, Ref: ref, Command: command.UserCommand([]byte("first"))}
	if err := e.ApplyOp(context.Background(), rec, 1); err != nil {
		t.Fatalf("ApplyOp failed: %v", err)
	}

	select {
	case <-resultC:
		t.Fatal("redelivery of an already-applied index should not resolve a fresh commit promise")
	case <-time.After(200 * time.Millisecond):
	}

	pos, err := e.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if pos != (logpos.Position{Index: 1, Term: 1}) {
		t.Errorf("expected position to remain {1 1}, got %v", pos)
	}
}

func TestGappedApplyIsFatal(t *testing.T) {
	e := newTestEngine(t)
	q := e.queue.(*acceptor.MemQueue)

	ref := uuid.New()
	rec := command.Record{Index: 5, Term: 1, Ref: ref, Command: command.NoopCommand()}
	if err := e.ApplyOp(context.Background(), rec, 1); err != nil {
		t.Fatalf("ApplyOp failed: %v", err)
	}

	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected the engine to terminate after a gapped apply")
	}

	if e.FatalErr() == nil {
		t.Error("expected FatalErr to be set after a gapped apply")
	}
	_ = q
}

func TestCancelResolvesPendingWaitersWithNotLeader(t *testing.T) {
	e := newTestEngine(t)
	q := e.queue.(*acceptor.MemQueue)

	ref := uuid.New()
	resultC := q.RegisterCommit(ref)

	if err := e.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	select {
	case res := <-resultC:
		if res.Err != acceptor.ErrNotLeader {
			t.Errorf("expected ErrNotLeader, got %v", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
}

func TestConfigCommandPersistsMetadata(t *testing.T) {
	e := newTestEngine(t)
	q := e.queue.(*acceptor.MemQueue)

	applyAndWait(t, e, q, 1, 1, command.ConfigCommand([]byte("cluster-config-v1")))

	_, value, err := e.ReadMetadata(context.Background(), "config")
	if err != nil {
		t.Fatalf("ReadMetadata failed: %v", err)
	}
	if string(value) != "cluster-config-v1" {
		t.Errorf("unexpected config value: %s", value)
	}
}

func TestSnapshotCreateAndOpenRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	q := e.queue.(*acceptor.MemQueue)

	applyAndWait(t, e, q, 1, 1, command.UserCommand([]byte("data")))

	pos, err := e.CreateSnapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}
	if pos != (logpos.Position{Index: 1, Term: 1}) {
		t.Errorf("unexpected snapshot position: %v", pos)
	}

	if err := e.OpenSnapshot(context.Background(), pos); err != nil {
		t.Fatalf("OpenSnapshot failed: %v", err)
	}

	got, err := e.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got != pos {
		t.Errorf("expected position %v after snapshot install, got %v", pos, got)
	}
}

// TestOpenSnapshotSurvivesLaterRetentionOfItsSourceDirectory reproduces the
// scenario where an installed snapshot's own source directory is later
// deleted by ordinary retention: with MaxRetain=1, a second CreateSnapshot
// after an OpenSnapshot install must not take down the instance it just
// installed into, since the live database is never backed by a file that
// retention is allowed to reclaim.
func TestOpenSnapshotSurvivesLaterRetentionOfItsSourceDirectory(t *testing.T) {
	dir := t.TempDir()
	snapMgr := snapshot.New(dir+"/snapshots", "snapshot", 1, nil)
	e, err := New(Config{
		Name:      "test",
		Table:     "orders",
		Partition: 0,
		RootDir:   dir,
		Backend:   boltstore.New(),
		Queue:     acceptor.NewMemQueue(),
		Snapshot:  snapMgr,
		InboxSize: 16,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	q := e.queue.(*acceptor.MemQueue)

	applyAndWait(t, e, q, 1, 1, command.UserCommand([]byte("first")))
	firstSnap, err := e.CreateSnapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}

	if err := e.OpenSnapshot(context.Background(), firstSnap); err != nil {
		t.Fatalf("OpenSnapshot failed: %v", err)
	}

	// Retain(1) accounts for the snapshot this second create is about to
	// write, so with MaxRetain=1 it reclaims firstSnap's directory before
	// snapshot.2.1 lands.
	applyAndWait(t, e, q, 2, 1, command.UserCommand([]byte("second")))
	if _, err := e.CreateSnapshot(context.Background(), ""); err != nil {
		t.Fatalf("second CreateSnapshot failed: %v", err)
	}
	if snapMgr.Exists(firstSnap) {
		t.Fatal("expected retention to have reclaimed firstSnap's directory")
	}

	select {
	case <-e.Done():
		t.Fatal("engine terminated after retention reclaimed an installed snapshot's source directory")
	default:
	}

	pos, err := e.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed after retention: %v", err)
	}
	if pos != (logpos.Position{Index: 2, Term: 1}) {
		t.Errorf("expected last_applied {2 1} after retention, got %v", pos)
	}

	items, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed after retention reclaimed the source snapshot: %v", err)
	}
	_ = items
}

func TestReadAtCurrentIndexDoesNotMutateState(t *testing.T) {
	e := newTestEngine(t)
	reply, err := e.Read(context.Background(), command.NoopCommand())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if reply.IsError() {
		t.Errorf("unexpected error reply: %s", reply.Err)
	}
}

// TestReadRejectsUserCommandRatherThanMutating guards against a Read
// silently writing backend state: boltstore's Apply is the only entry
// point a User command has, and it always mutates, so the read path must
// reject it instead of invoking Apply and discarding the returned handle.
func TestReadRejectsUserCommandRatherThanMutating(t *testing.T) {
	e := newTestEngine(t)
	before, err := e.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	_, err = e.Read(context.Background(), command.UserCommand([]byte("should not be persisted")))
	if err == nil {
		t.Fatal("expected a User command submitted for read to be rejected")
	}

	after, err := e.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if after != before {
		t.Errorf("expected last_applied to be unchanged by a rejected read, got %v -> %v", before, after)
	}
}
