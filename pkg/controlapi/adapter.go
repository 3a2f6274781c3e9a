package controlapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/lumapart/raftengine/pkg/acceptor"
	"github.com/lumapart/raftengine/pkg/command"
	"github.com/lumapart/raftengine/pkg/engine"
	"github.com/lumapart/raftengine/pkg/logpos"
	"github.com/lumapart/raftengine/pkg/metadata"
	"github.com/lumapart/raftengine/pkg/readexec"
	"github.com/lumapart/raftengine/pkg/readlang"
	"github.com/lumapart/raftengine/pkg/routing"
)

// EngineAdapter satisfies Backend by wrapping a single *engine.Engine,
// coupling reads that name a target index through pkg/readexec.
type EngineAdapter struct {
	Engine *engine.Engine
	Queue  acceptor.Queue
}

func (a *EngineAdapter) Open(ctx context.Context) (uint64, uint64, error) {
	pos, err := a.Engine.Open(ctx)
	if err != nil {
		return 0, 0, err
	}
	return pos.Index, pos.Term, nil
}

func (a *EngineAdapter) Status(ctx context.Context) ([]StatusItem, error) {
	items, err := a.Engine.Status(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StatusItem, len(items))
	for i, it := range items {
		out[i] = StatusItem{Key: it.Key, Value: it.Value}
	}
	return out, nil
}

func (a *EngineAdapter) CreateSnapshot(ctx context.Context, name string) (uint64, uint64, error) {
	pos, err := a.Engine.CreateSnapshot(ctx, name)
	if err != nil {
		return 0, 0, err
	}
	return pos.Index, pos.Term, nil
}

func (a *EngineAdapter) OpenSnapshot(ctx context.Context, index, term uint64) error {
	return a.Engine.OpenSnapshot(ctx, logpos.Position{Index: index, Term: term})
}

func (a *EngineAdapter) DeleteSnapshot(ctx context.Context, name string) error {
	return a.Engine.DeleteSnapshot(ctx, name)
}

func (a *EngineAdapter) ReadMetadata(ctx context.Context, key string) (uint64, uint64, []byte, bool, error) {
	pos, value, err := a.Engine.ReadMetadata(ctx, key)
	if err != nil {
		if errors.Is(err, metadata.ErrAbsent) {
			return 0, 0, nil, false, nil
		}
		return 0, 0, nil, false, err
	}
	return pos.Index, pos.Term, value, true, nil
}

func (a *EngineAdapter) Read(ctx context.Context, module, function string, args []byte) ([]byte, error) {
	cmd := command.ExecuteCommand("", module, function, args)
	if module == "" && function == "" {
		cmd = command.NoopCommand()
	}
	reply, err := a.Engine.Read(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if reply.IsError() {
		return nil, fmt.Errorf("%s", reply.Err)
	}
	return reply.Value, nil
}

func (a *EngineAdapter) ReadAt(ctx context.Context, atIndex uint64, module, function string, args []byte) ([]byte, error) {
	cmd := command.ExecuteCommand("", module, function, args)
	current, err := a.Engine.Open(ctx)
	if err != nil {
		return nil, err
	}
	reply, err := readexec.Submit(ctx, a.Engine, a.Queue, current.Index, atIndex, cmd)
	if err != nil {
		return nil, err
	}
	if reply.IsError() {
		return nil, fmt.Errorf("%s", reply.Err)
	}
	return reply.Value, nil
}

// compileReadLine lowers a readlang line into (module, function, args).
func compileReadLine(line string) (module, function string, args []byte, err error) {
	if line == "" {
		return "", "", nil, nil
	}
	cmd, err := readlang.ParseCommand(line)
	if err != nil {
		return "", "", nil, err
	}
	if cmd.Kind != command.Execute {
		return "", "", nil, nil
	}
	return cmd.ExecuteSpec.Module, cmd.ExecuteSpec.Function, cmd.ExecuteSpec.Args, nil
}

// RouterResolver adapts a *routing.Router into a Resolver, wiring local
// partitions to an EngineAdapter and rejecting remote ones — a full
// forwarding resolver belongs to cmd/engined, which alone knows how to
// speak this package's own client stub to a remote owner.
type RouterResolver struct {
	Router *routing.Router
	Queue  acceptor.Queue
}

func (r *RouterResolver) Resolve(ref PartitionRef) (Backend, error) {
	key := routing.PartitionKey{Table: ref.Table, Partition: ref.Partition}
	eng, ok := r.Router.Local(key)
	if !ok {
		return nil, fmt.Errorf("controlapi: partition %s is not hosted locally by this resolver", key)
	}
	return &EngineAdapter{Engine: eng, Queue: r.Queue}, nil
}
