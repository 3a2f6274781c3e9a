// Package supervisor owns the set of engine instances a process hosts,
// restarting any instance whose worker loop exits with a fatal error (a
// gapped apply or a backend apply failure), and scheduling periodic snapshots across all of them.
// Restart-on-crash gives the process-level lifecycle spec.md's Cancel/
// fatal-crash design implies but the engine itself, being a single
// actor, cannot provide for itself.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lumapart/raftengine/pkg/engine"
	"github.com/lumapart/raftengine/pkg/routing"
)

// Factory builds a fresh, unstarted engine for a given partition.
// Supervisor calls it once at registration and again on every restart
// after a fatal crash, so it must be safe to call repeatedly against the
// same on-disk state.
type Factory func(ctx context.Context, key routing.PartitionKey) (*engine.Engine, error)

type entry struct {
	key      routing.PartitionKey
	instance *engine.Engine
	cancel   context.CancelFunc
}

// Supervisor hosts a set of engine instances, restarting them on fatal
// crash and running a cron-scheduled snapshot sweep across all of them.
// It implements routing.LocalLookup so a Router can resolve partitions
// this process hosts without knowing about restart bookkeeping.
type Supervisor struct {
	factory Factory
	logger  *zap.Logger

	mu        sync.RWMutex
	instances map[routing.PartitionKey]*entry

	cron *cron.Cron
}

// New builds a Supervisor.
func New(factory Factory, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		factory:   factory,
		logger:    logger,
		instances: make(map[routing.PartitionKey]*entry),
		cron:      cron.New(cron.WithSeconds()),
	}
}

// Lookup implements routing.LocalLookup.
func (s *Supervisor) Lookup(key routing.PartitionKey) (*engine.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.instances[key]
	if !ok {
		return nil, false
	}
	return e.instance, true
}

// Register starts a new instance for key and begins watching it for fatal
// crashes. It is an error to register a key that is already hosted.
func (s *Supervisor) Register(ctx context.Context, key routing.PartitionKey) error {
	s.mu.Lock()
	if _, exists := s.instances[key]; exists {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: partition %s already registered", key)
	}
	s.mu.Unlock()

	inst, err := s.factory(ctx, key)
	if err != nil {
		return fmt.Errorf("supervisor: build instance for %s: %w", key, err)
	}
	if err := inst.Start(ctx); err != nil {
		return fmt.Errorf("supervisor: start instance for %s: %w", key, err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	e := &entry{key: key, instance: inst, cancel: cancel}

	s.mu.Lock()
	s.instances[key] = e
	s.mu.Unlock()

	go s.watch(watchCtx, key, inst)
	s.logger.Info("supervisor: registered partition", zap.String("partition", key.String()))
	return nil
}

// watch restarts the instance for key whenever it exits with a fatal
// error. A clean Stop (FatalErr()==nil) or watchCtx cancellation ends
// watching without restarting.
func (s *Supervisor) watch(watchCtx context.Context, key routing.PartitionKey, inst *engine.Engine) {
	select {
	case <-inst.Done():
	case <-watchCtx.Done():
		return
	}

	if inst.FatalErr() == nil {
		return
	}
	s.logger.Error("supervisor: instance crashed, restarting",
		zap.String("partition", key.String()), zap.Error(inst.FatalErr()))

	backoff := 200 * time.Millisecond
	for {
		select {
		case <-watchCtx.Done():
			return
		case <-time.After(backoff):
		}

		newInst, err := s.factory(context.Background(), key)
		if err != nil {
			s.logger.Error("supervisor: rebuild instance failed, retrying", zap.String("partition", key.String()), zap.Error(err))
			if backoff *= 2; backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
			continue
		}
		if err := newInst.Start(context.Background()); err != nil {
			s.logger.Error("supervisor: restart failed, retrying", zap.String("partition", key.String()), zap.Error(err))
			if backoff *= 2; backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
			continue
		}

		s.mu.Lock()
		if e, ok := s.instances[key]; ok {
			e.instance = newInst
		}
		s.mu.Unlock()

		s.logger.Info("supervisor: instance restarted", zap.String("partition", key.String()))
		go s.watch(watchCtx, key, newInst)
		return
	}
}

// Unregister stops watching and cleanly stops the instance for key.
func (s *Supervisor) Unregister(ctx context.Context, key routing.PartitionKey) error {
	s.mu.Lock()
	e, ok := s.instances[key]
	if ok {
		delete(s.instances, key)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: partition %s not registered", key)
	}
	e.cancel()
	return e.instance.Stop(ctx)
}

// Keys lists every partition currently hosted.
func (s *Supervisor) Keys() []routing.PartitionKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]routing.PartitionKey, 0, len(s.instances))
	for k := range s.instances {
		keys = append(keys, k)
	}
	return keys
}

// StartSnapshotSchedule registers a cron job that sweeps every hosted
// instance and requests a default-named snapshot. schedule uses
// robfig/cron's 6-field (seconds-enabled) syntax.
func (s *Supervisor) StartSnapshotSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	_, err := s.cron.AddFunc(schedule, s.snapshotSweep)
	if err != nil {
		return fmt.Errorf("supervisor: invalid snapshot schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("supervisor: periodic snapshot schedule active", zap.String("schedule", schedule))
	return nil
}

func (s *Supervisor) snapshotSweep() {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.instances))
	for _, e := range s.instances {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	for _, e := range entries {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := e.instance.CreateSnapshot(ctx, "")
		cancel()
		if err != nil {
			s.logger.Error("supervisor: scheduled snapshot failed", zap.String("partition", e.key.String()), zap.Error(err))
		}
	}
}

// Stop stops the cron scheduler and every hosted instance.
func (s *Supervisor) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.mu.Lock()
	entries := make([]*entry, 0, len(s.instances))
	for _, e := range s.instances {
		entries = append(entries, e)
	}
	s.instances = make(map[routing.PartitionKey]*entry)
	s.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		e.cancel()
		if err := e.instance.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
