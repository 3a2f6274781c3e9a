// Package readexec is the read executor (C5): it couples the read-at-version
// mechanism to apply progress by deciding, for an incoming read targeting a
// given index, whether the engine can answer it immediately or whether it
// must be parked in the acceptor queue until the engine catches up.
package readexec

import (
	"context"
	"fmt"

	"github.com/lumapart/raftengine/pkg/acceptor"
	"github.com/lumapart/raftengine/pkg/command"
)

// Dispatcher is the subset of pkg/engine.Engine used to execute an
// already-caught-up read.
type Dispatcher interface {
	Read(ctx context.Context, cmd command.Command) (command.Reply, error)
}

// Submit executes cmd once the engine has applied through targetIndex. If
// the engine is already caught up it dispatches immediately; otherwise it
// parks the read in queue and waits for the engine's apply loop to drain
// it once last_applied reaches targetIndex.
func Submit(ctx context.Context, eng Dispatcher, queue acceptor.Queue, currentIndex, targetIndex uint64, cmd command.Command) (command.Reply, error) {
	if targetIndex <= currentIndex {
		return eng.Read(ctx, cmd)
	}

	resultC := queue.ParkRead(acceptor.ReadRequest{TargetIndex: targetIndex, Command: cmd})
	select {
	case res := <-resultC:
		if res.Err != nil {
			return command.Reply{}, fmt.Errorf("readexec: %w", res.Err)
		}
		return res.Reply, nil
	case <-ctx.Done():
		return command.Reply{}, ctx.Err()
	}
}
