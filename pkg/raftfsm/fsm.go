// Package raftfsm adapts an engine.Engine to hashicorp/raft's raft.FSM
// interface, so a raftengine instance can also be driven directly as a
// Raft group member rather than (or alongside) a consensusfeed consumer.
// Unlike a conventional FSM that keeps its own in-memory state, this
// adapter only forwards: the engine owns all durable state and the real
// snapshot mechanics live in the backend, per the Backend Contract.
package raftfsm

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"go.uber.org/zap"

	"github.com/lumapart/raftengine/pkg/command"
	"github.com/lumapart/raftengine/pkg/logpos"
)

// Applier is the subset of engine.Engine the FSM drives synchronously.
type Applier interface {
	ApplyOp(ctx context.Context, record command.Record, serverTerm uint64) error
	CreateSnapshot(ctx context.Context, name string) (logpos.Position, error)
	OpenSnapshot(ctx context.Context, position logpos.Position) error
	Open(ctx context.Context) (logpos.Position, error)
}

// FSM implements raft.FSM by forwarding log entries into an Engine's
// serialized inbox. It is the synchronous counterpart to
// pkg/consensusfeed's asynchronous Kafka bridge: hashicorp/raft calls
// Apply directly from its own apply goroutine, in log order, so no extra
// ordering machinery is needed here beyond forwarding.
type FSM struct {
	engine     Applier
	serverTerm func() uint64
	logger     *zap.Logger
}

// New builds an FSM bound to engine, using termFn to learn the caller's
// current Raft term (for the record-term-vs-server-term reply-drop rule
// implemented inside the engine).
func New(engine Applier, termFn func() uint64, logger *zap.Logger) *FSM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FSM{engine: engine, serverTerm: termFn, logger: logger}
}

// Apply decodes one Raft log entry and forwards it to the engine. Because
// ApplyOp is asynchronous (the client's reply arrives via the acceptor
// queue, not this call), Apply returns nil unless the entry itself is
// undecodable, which is a permanent, un-retryable corruption of the log,
// or the engine's inbox does not accept the record within 5 seconds; either
// error is reported as the FSM's return value per hashicorp/raft
// convention.
func (f *FSM) Apply(entry *raft.Log) interface{} {
	rec, err := command.Decode(entry.Data)
	if err != nil {
		f.logger.Error("raftfsm: undecodable log entry", zap.Uint64("index", entry.Index), zap.Error(err))
		return err
	}
	if rec.Ref == uuid.Nil {
		rec.Ref = uuid.New()
	}
	term := entry.Term
	if f.serverTerm != nil {
		term = f.serverTerm()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.engine.ApplyOp(ctx, rec, term); err != nil {
		f.logger.Error("raftfsm: engine rejected apply", zap.Uint64("index", entry.Index), zap.Error(err))
		return err
	}
	return nil
}

// Snapshot asks the engine to create a snapshot at its current position
// and returns a raft.FSMSnapshot describing where it landed. The actual
// bytes are never routed through hashicorp/raft's snapshot sink — the
// backend owns snapshot storage — so Persist only records the resulting
// position as a small pointer record.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pos, err := f.engine.CreateSnapshot(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("raftfsm: snapshot: %w", err)
	}
	return &fsmSnapshot{pos: pos}, nil
}

// Restore installs the snapshot referenced by rc's contents (a small
// encoded position pointer) by asking the engine to open the backend
// snapshot directory named for that position.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("raftfsm: read snapshot pointer: %w", err)
	}
	var pos logpos.Position
	if err := decodePosition(raw, &pos); err != nil {
		return fmt.Errorf("raftfsm: decode snapshot pointer: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return f.engine.OpenSnapshot(ctx, pos)
}

type fsmSnapshot struct {
	pos logpos.Position
}

// Persist writes the tiny position pointer, not backend bytes, to sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	raw, err := encodePosition(s.pos)
	if err != nil {
		sink.Cancel()
		return err
	}
	if _, err := sink.Write(raw); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
