// Package acceptor names the external acceptor queue interface (C3) the
// apply engine depends on to resolve pending client promises, and ships an
// in-memory reference implementation used by tests and by the
// single-process daemon. In a full deployment the acceptor queue is an
// independent, separately serialized component; this package only defines
// the contract the engine needs and one concrete instance of it.
package acceptor

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/lumapart/raftengine/pkg/command"
)

// ErrNotLeader is the sentinel error every pending promise is resolved
// with when cancel() runs on leadership loss.
var ErrNotLeader = errors.New("acceptor: not leader")

// ReadRequest describes a parked delayed read: a command to execute once
// last_applied reaches TargetIndex.
type ReadRequest struct {
	TargetIndex uint64
	Command     command.Command
}

// Result is delivered to whichever party is waiting on a promise: either a
// reply or an error (e.g. ErrNotLeader).
type Result struct {
	Reply command.Reply
	Err   error
}

// Queue is the interface the apply engine consumes. Method names mirror
// the vocabulary of spec.md §4.2–§4.5 directly.
type Queue interface {
	// NotifyApplyConsuming tells the queue that a pending-apply slot for
	// index is about to be consumed, before the engine actually applies
	// it. Pure bookkeeping; the queue need not do anything with it.
	NotifyApplyConsuming(index uint64)

	// ResolveCommit resolves the promise registered for ref, if any. A
	// ref with no waiter (e.g. after a restart) is a silent no-op.
	ResolveCommit(ref uuid.UUID, result Result)

	// ParkRead registers a delayed read to be executed once last_applied
	// reaches req.TargetIndex, returning a channel the caller can wait on.
	ParkRead(req ReadRequest) <-chan Result

	// DrainReady returns and removes every parked read whose target index
	// is <= uptoIndex, in the order they were parked.
	DrainReady(uptoIndex uint64) []ParkedRead

	// CancelAll resolves every outstanding commit and read promise with
	// err (ErrNotLeader on leadership loss). Idempotent; safe to call
	// with no outstanding waiters.
	CancelAll(err error)
}

// ParkedRead pairs a parked ReadRequest with the channel its caller is
// waiting on.
type ParkedRead struct {
	Request ReadRequest
	resultC chan Result
}

// MemQueue is a mutex-guarded, in-memory reference Queue implementation.
type MemQueue struct {
	mu      sync.Mutex
	commits map[uuid.UUID]chan Result
	reads   []ParkedRead
}

// NewMemQueue returns an empty in-memory acceptor queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{commits: make(map[uuid.UUID]chan Result)}
}

// RegisterCommit registers ref as awaiting a commit reply and returns the
// channel it will be delivered on. Call this before submitting the
// corresponding apply so ResolveCommit always has somewhere to deliver to.
func (q *MemQueue) RegisterCommit(ref uuid.UUID) <-chan Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch := make(chan Result, 1)
	q.commits[ref] = ch
	return ch
}

func (q *MemQueue) NotifyApplyConsuming(index uint64) {
	// Reference implementation has nothing to book against a slot count;
	// a production acceptor queue would decrement a per-partition budget
	// here.
}

func (q *MemQueue) ResolveCommit(ref uuid.UUID, result Result) {
	q.mu.Lock()
	ch, ok := q.commits[ref]
	if ok {
		delete(q.commits, ref)
	}
	q.mu.Unlock()
	if ok {
		ch <- result
		close(ch)
	}
}

func (q *MemQueue) ParkRead(req ReadRequest) <-chan Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch := make(chan Result, 1)
	q.reads = append(q.reads, ParkedRead{Request: req, resultC: ch})
	return ch
}

func (q *MemQueue) DrainReady(uptoIndex uint64) []ParkedRead {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ready, remaining []ParkedRead
	for _, p := range q.reads {
		if p.Request.TargetIndex <= uptoIndex {
			ready = append(ready, p)
		} else {
			remaining = append(remaining, p)
		}
	}
	q.reads = remaining
	return ready
}

// Resolve delivers result to a ParkedRead's caller. Exported so the engine
// (outside this package) can resolve a read after executing it.
func (p ParkedRead) Resolve(result Result) {
	p.resultC <- result
	close(p.resultC)
}

func (q *MemQueue) CancelAll(err error) {
	q.mu.Lock()
	commits := q.commits
	q.commits = make(map[uuid.UUID]chan Result)
	reads := q.reads
	q.reads = nil
	q.mu.Unlock()

	for _, ch := range commits {
		ch <- Result{Err: err}
		close(ch)
	}
	for _, p := range reads {
		p.Resolve(Result{Err: err})
	}
}
