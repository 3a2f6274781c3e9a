package engine

import (
	"github.com/google/uuid"

	"github.com/lumapart/raftengine/pkg/backend"
	"github.com/lumapart/raftengine/pkg/command"
	"github.com/lumapart/raftengine/pkg/logpos"
)

// State is the lifecycle state of an Engine instance.
type State int

const (
	StateInitializing State = iota
	StateReady
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// msg is the sealed set of messages the engine's serialized worker
// accepts on its inbox. Apply, read, and control commands all implement
// it and are handled strictly in arrival order.
type msg interface {
	handle(e *Engine)
}

type msgApplyOp struct {
	record     command.Record
	serverTerm uint64
}

func (m msgApplyOp) handle(e *Engine) { e.handleApplyOp(m) }

type msgRead struct {
	cmd     command.Command
	replyTo chan<- readResult
}

type readResult struct {
	reply command.Reply
	err   error
}

func (m msgRead) handle(e *Engine) { e.handleRead(m) }

type msgFulfillOp struct {
	ref   uuid.UUID
	reply command.Reply
}

func (m msgFulfillOp) handle(e *Engine) { e.handleFulfillOp(m) }

type msgCancel struct {
	done chan<- struct{}
}

func (m msgCancel) handle(e *Engine) { e.handleCancel(m) }

type msgOpen struct {
	replyTo chan<- logpos.Position
}

func (m msgOpen) handle(e *Engine) { e.handleOpen(m) }

type msgCreateSnapshot struct {
	name    string
	replyTo chan<- snapshotResult
}

type snapshotResult struct {
	pos logpos.Position
	err error
}

func (m msgCreateSnapshot) handle(e *Engine) { e.handleCreateSnapshot(m) }

type msgOpenSnapshot struct {
	pos     logpos.Position
	replyTo chan<- error
}

func (m msgOpenSnapshot) handle(e *Engine) { e.handleOpenSnapshot(m) }

type msgDeleteSnapshot struct {
	name string
}

func (m msgDeleteSnapshot) handle(e *Engine) { e.handleDeleteSnapshot(m) }

type msgReadMetadata struct {
	key     string
	replyTo chan<- metadataResult
}

type metadataResult struct {
	version logpos.Position
	value   []byte
	err     error
}

func (m msgReadMetadata) handle(e *Engine) { e.handleReadMetadata(m) }

type msgStatus struct {
	replyTo chan<- statusResult
}

type statusResult struct {
	items []backend.StatusItem
	err   error
}

func (m msgStatus) handle(e *Engine) { e.handleStatus(m) }
