package controlapi

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lumapart/raftengine/pkg/acceptor"
	"github.com/lumapart/raftengine/pkg/backend/boltstore"
	"github.com/lumapart/raftengine/pkg/command"
	"github.com/lumapart/raftengine/pkg/engine"
	"github.com/lumapart/raftengine/pkg/kvmodule"
	"github.com/lumapart/raftengine/pkg/registry"
)

func newTestAdapter(t *testing.T) *EngineAdapter {
	t.Helper()
	reg := registry.New()
	kvmodule.New().Register(reg)
	q := acceptor.NewMemQueue()

	e, err := engine.New(engine.Config{
		Name:      "test",
		Table:     "orders",
		Partition: 0,
		RootDir:   t.TempDir(),
		Backend:   boltstore.New(),
		Queue:     q,
		Registry:  reg,
		InboxSize: 16,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return &EngineAdapter{Engine: e, Queue: q}
}

func applyToAdapter(t *testing.T, a *EngineAdapter, index uint64, cmd command.Command) {
	t.Helper()
	q := a.Queue.(*acceptor.MemQueue)
	ref := uuid.New()
	resultC := q.RegisterCommit(ref)
	rec := command.Record{Index: index, Term: 1, Ref: ref, Command: cmd}
	if err := a.Engine.ApplyOp(context.Background(), rec, 1); err != nil {
		t.Fatalf("ApplyOp failed: %v", err)
	}
	select {
	case res := <-resultC:
		if res.Err != nil {
			t.Fatalf("commit failed: %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for commit")
	}
}

func TestEngineAdapterOpenReportsPosition(t *testing.T) {
	a := newTestAdapter(t)
	applyToAdapter(t, a, 1, command.NoopCommand())

	idx, term, err := a.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if idx != 1 || term != 1 {
		t.Errorf("unexpected position: index=%d term=%d", idx, term)
	}
}

func TestEngineAdapterReadMetadataAbsentReportsNotFoundWithoutError(t *testing.T) {
	a := newTestAdapter(t)
	_, _, value, found, err := a.ReadMetadata(context.Background(), "config")
	if err != nil {
		t.Fatalf("ReadMetadata should not error on an absent key, got: %v", err)
	}
	if found || value != nil {
		t.Errorf("expected found=false and nil value, got found=%v value=%v", found, value)
	}
}

func TestEngineAdapterReadInvokesRegisteredModule(t *testing.T) {
	a := newTestAdapter(t)
	applyToAdapter(t, a, 1, command.ExecuteCommand("", "kv", "put", []byte("42=widget")))

	value, err := a.Read(context.Background(), "kv", "get", []byte("42"))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(value) != "widget" {
		t.Errorf("unexpected value: %s", value)
	}
}

func TestEngineAdapterReadAtWaitsForTargetIndex(t *testing.T) {
	a := newTestAdapter(t)

	resultC := make(chan []byte, 1)
	errC := make(chan error, 1)
	go func() {
		value, err := a.ReadAt(context.Background(), 1, "kv", "get", []byte("42"))
		resultC <- value
		errC <- err
	}()

	time.Sleep(50 * time.Millisecond)
	applyToAdapter(t, a, 1, command.ExecuteCommand("", "kv", "put", []byte("42=widget")))

	select {
	case value := <-resultC:
		if err := <-errC; err != nil {
			t.Fatalf("ReadAt failed: %v", err)
		}
		if string(value) != "widget" {
			t.Errorf("unexpected value: %s", value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ReadAt to resolve")
	}
}

func TestCompileReadLineEmptyLine(t *testing.T) {
	module, function, args, err := compileReadLine("")
	if err != nil {
		t.Fatalf("compileReadLine failed: %v", err)
	}
	if module != "" || function != "" || args != nil {
		t.Errorf("expected empty results for an empty line, got %q %q %v", module, function, args)
	}
}

func TestCompileReadLineGet(t *testing.T) {
	module, function, args, err := compileReadLine("GET orders 42")
	if err != nil {
		t.Fatalf("compileReadLine failed: %v", err)
	}
	if module != "kv" || function != "get" || string(args) != "42" {
		t.Errorf("unexpected compile result: %q %q %q", module, function, args)
	}
}

func TestCompileReadLineStatusYieldsNoDispatch(t *testing.T) {
	module, function, _, err := compileReadLine("STATUS")
	if err != nil {
		t.Fatalf("compileReadLine failed: %v", err)
	}
	if module != "" || function != "" {
		t.Errorf("expected STATUS to compile to no dispatch, got %q %q", module, function)
	}
}
