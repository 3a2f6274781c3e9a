// Package engine implements the apply engine (C4): a serialized command
// loop that enforces exact-once, gap-free application of committed log
// entries, interleaves read-at-version requests with applies, and
// coordinates snapshot install/restore and metadata persistence.
//
// Every public method other than Start/Stop/Done/FatalErr sends a
// message onto the engine's single inbox channel and is handled strictly
// in arrival order by one worker goroutine, matching the "one serialized
// command channel" design of spec.md §2 and §5.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumapart/raftengine/pkg/acceptor"
	"github.com/lumapart/raftengine/pkg/backend"
	"github.com/lumapart/raftengine/pkg/command"
	"github.com/lumapart/raftengine/pkg/logpos"
	"github.com/lumapart/raftengine/pkg/metadata"
	"github.com/lumapart/raftengine/pkg/registry"
	"github.com/lumapart/raftengine/pkg/snapshot"
)

// Config wires an Engine instance's collaborators. Name/Table/Partition/
// RootDir are immutable for the lifetime of the instance, matching
// EngineState in spec.md §3.
type Config struct {
	Name      string
	Table     string
	Partition uint32
	RootDir   string

	Backend  backend.Backend
	Queue    acceptor.Queue
	Registry *registry.Registry
	Snapshot *snapshot.Manager

	InboxSize int
	Logger    *zap.Logger
}

// Engine is a single logical actor owning exclusive write access to one
// backend handle for one (table, partition) pair.
type Engine struct {
	name      string
	table     string
	partition uint32
	rootDir   string

	backendImpl backend.Backend
	handle      backend.Handle
	lastApplied logpos.Position

	queue    acceptor.Queue
	registry *registry.Registry
	snapMgr  *snapshot.Manager
	metaAcc  *metadata.Accessor

	logger *zap.Logger

	state State
	inbox chan msg

	doneC    chan struct{}
	fatalErr error
}

// New constructs an Engine but does not open its backend; call Start to
// bring it to Ready.
func New(cfg Config) (*Engine, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("engine: config.Backend is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("engine: config.Queue is required")
	}
	inboxSize := cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}

	return &Engine{
		name:        cfg.Name,
		table:       cfg.Table,
		partition:   cfg.Partition,
		rootDir:     cfg.RootDir,
		backendImpl: cfg.Backend,
		queue:       cfg.Queue,
		registry:    reg,
		snapMgr:     cfg.Snapshot,
		metaAcc:     metadata.New(cfg.Backend),
		logger: logger.With(
			zap.String("name", cfg.Name),
			zap.String("table", cfg.Table),
			zap.Uint32("partition", cfg.Partition),
		),
		state: StateInitializing,
		inbox: make(chan msg, inboxSize),
		doneC: make(chan struct{}),
	}, nil
}

// Start opens the backend, reads its recovered position into last_applied
// (invariant 1), and launches the serialized worker goroutine.
func (e *Engine) Start(ctx context.Context) error {
	h, err := e.backendImpl.Open(ctx, e.name, e.table, e.partition, e.rootDir)
	if err != nil {
		return fmt.Errorf("engine: open backend: %w", err)
	}
	pos, err := e.backendImpl.Position(ctx, h)
	if err != nil {
		return fmt.Errorf("engine: read initial position: %w", err)
	}
	e.handle = h
	e.lastApplied = pos
	e.state = StateReady
	e.logger.Info("engine started", zap.String("last_applied", pos.String()))

	go e.run()
	return nil
}

// Stop terminates the worker loop and closes the backend handle
// unconditionally, per spec.md §5's shutdown semantics.
func (e *Engine) Stop(ctx context.Context) error {
	e.state = StateTerminating
	close(e.inbox)
	<-e.doneC
	return e.backendImpl.Close(ctx, e.handle)
}

// Done is closed once the worker loop has exited, whether from a clean
// Stop or from a fatal error (a gapped apply or a backend apply failure).
func (e *Engine) Done() <-chan struct{} { return e.doneC }

// FatalErr returns the error that terminated the worker loop, or nil if
// it has not exited or exited cleanly via Stop.
func (e *Engine) FatalErr() error { return e.fatalErr }

func (e *Engine) run() {
	defer close(e.doneC)
	for m := range e.inbox {
		m.handle(e)
		if e.fatalErr != nil {
			e.logger.Error("engine terminating after fatal ordering violation", zap.Error(e.fatalErr))
			// Release the backend so a restarted instance can reopen it.
			if err := e.backendImpl.Close(context.Background(), e.handle); err != nil {
				e.logger.Error("closing backend after fatal error failed", zap.Error(err))
			}
			return
		}
	}
}

// send enqueues m on the inbox. Producers are expected to use non-blocking
// sends and tolerate arbitrary engine latency (spec.md §5); this honors
// ctx cancellation while the inbox is full instead of blocking forever.
func (e *Engine) send(ctx context.Context, m msg) error {
	select {
	case e.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyOp consumes a committed log record. Asynchronous: no reply is
// delivered on this call; the client's eventual reply arrives via the
// acceptor queue (C3).
func (e *Engine) ApplyOp(ctx context.Context, record command.Record, serverTerm uint64) error {
	return e.send(ctx, msgApplyOp{record: record, serverTerm: serverTerm})
}

// Read immediately dispatches cmd at last_applied and returns the reply.
// Callers responsible for read-at-version routing (pkg/readexec) must only
// call Read once they know the target index is already <= last_applied;
// otherwise the read belongs in the acceptor queue's parked-reads set.
func (e *Engine) Read(ctx context.Context, cmd command.Command) (command.Reply, error) {
	replyC := make(chan readResult, 1)
	if err := e.send(ctx, msgRead{cmd: cmd, replyTo: replyC}); err != nil {
		return command.Reply{}, err
	}
	select {
	case r := <-replyC:
		return r.reply, r.err
	case <-ctx.Done():
		return command.Reply{}, ctx.Err()
	}
}

// FulfillOp forwards an exogenously produced reply for ref to the
// acceptor queue.
func (e *Engine) FulfillOp(ctx context.Context, ref uuid.UUID, reply command.Reply) error {
	return e.send(ctx, msgFulfillOp{ref: ref, reply: reply})
}

// Cancel resolves every pending commit and read promise with
// acceptor.ErrNotLeader. It does not touch last_applied and is safe to
// call with no outstanding waiters.
func (e *Engine) Cancel(ctx context.Context) error {
	doneC := make(chan struct{})
	if err := e.send(ctx, msgCancel{done: doneC}); err != nil {
		return err
	}
	select {
	case <-doneC:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Open returns last_applied. Called by a consensus layer after engine
// start to discover durable progress.
func (e *Engine) Open(ctx context.Context) (logpos.Position, error) {
	replyC := make(chan logpos.Position, 1)
	if err := e.send(ctx, msgOpen{replyTo: replyC}); err != nil {
		return logpos.Position{}, err
	}
	select {
	case pos := <-replyC:
		return pos, nil
	case <-ctx.Done():
		return logpos.Position{}, ctx.Err()
	}
}

// CreateSnapshot names and creates a snapshot; name may be empty to use
// the default "<prefix>.<index>.<term>" of last_applied.
func (e *Engine) CreateSnapshot(ctx context.Context, name string) (logpos.Position, error) {
	replyC := make(chan snapshotResult, 1)
	if err := e.send(ctx, msgCreateSnapshot{name: name, replyTo: replyC}); err != nil {
		return logpos.Position{}, err
	}
	select {
	case r := <-replyC:
		return r.pos, r.err
	case <-ctx.Done():
		return logpos.Position{}, ctx.Err()
	}
}

// OpenSnapshot installs the snapshot named from position and atomically
// replaces last_applied and the backend handle on success.
func (e *Engine) OpenSnapshot(ctx context.Context, position logpos.Position) error {
	replyC := make(chan error, 1)
	if err := e.send(ctx, msgOpenSnapshot{pos: position, replyTo: replyC}); err != nil {
		return err
	}
	select {
	case err := <-replyC:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeleteSnapshot best-effort deletes a named snapshot. Fire-and-forget: no
// reply is delivered.
func (e *Engine) DeleteSnapshot(ctx context.Context, name string) error {
	return e.send(ctx, msgDeleteSnapshot{name: name})
}

// ReadMetadata delegates to the backend via the metadata accessor.
func (e *Engine) ReadMetadata(ctx context.Context, key string) (logpos.Position, []byte, error) {
	replyC := make(chan metadataResult, 1)
	if err := e.send(ctx, msgReadMetadata{key: key, replyTo: replyC}); err != nil {
		return logpos.Position{}, nil, err
	}
	select {
	case r := <-replyC:
		return r.version, r.value, r.err
	case <-ctx.Done():
		return logpos.Position{}, nil, ctx.Err()
	}
}

// Status returns name/table/partition/last_applied plus backend-supplied
// status items.
func (e *Engine) Status(ctx context.Context) ([]backend.StatusItem, error) {
	replyC := make(chan statusResult, 1)
	if err := e.send(ctx, msgStatus{replyTo: replyC}); err != nil {
		return nil, err
	}
	select {
	case r := <-replyC:
		return r.items, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
