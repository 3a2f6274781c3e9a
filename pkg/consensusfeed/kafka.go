// Package consensusfeed bridges an asynchronous committed-entry source
// (a Kafka-compatible broker, via franz-go) into an engine's serialized
// inbox. It plays the role of the "consensus layer" producer described in
// spec.md §5: it uses non-blocking sends against the engine and tolerates
// arbitrary engine latency by simply not committing its consumer offset
// until ApplyOp has been accepted.
package consensusfeed

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/lumapart/raftengine/pkg/command"
)

// Applier is the subset of pkg/engine.Engine the feed drives.
type Applier interface {
	ApplyOp(ctx context.Context, record command.Record, serverTerm uint64) error
}

// Feed consumes committed log records from a Kafka-compatible topic and
// forwards each to an engine's ApplyOp, in partition order.
type Feed struct {
	client     *kgo.Client
	applier    Applier
	serverTerm func() uint64
	logger     *zap.Logger
}

// Config configures a Feed.
type Config struct {
	Brokers    []string
	Topic      string
	GroupID    string
	Applier    Applier
	ServerTerm func() uint64
	Logger     *zap.Logger
}

// New builds a Feed and dials the configured brokers.
func New(cfg Config) (*Feed, error) {
	if cfg.Applier == nil {
		return nil, fmt.Errorf("consensusfeed: Applier is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("consensusfeed: create client: %w", err)
	}
	return &Feed{client: client, applier: cfg.Applier, serverTerm: cfg.ServerTerm, logger: logger}, nil
}

// Run polls for committed records and forwards them to the engine until
// ctx is cancelled. It only commits a fetch's offsets after every record
// in it has been accepted onto the engine's inbox (accepted, not yet
// necessarily applied — apply latency is the engine's business, not this
// feed's).
func (f *Feed) Run(ctx context.Context) error {
	defer f.client.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fetches := f.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				f.logger.Error("consensus feed fetch error",
					zap.String("topic", e.Topic), zap.Int32("partition", e.Partition), zap.Error(e.Err))
			}
			continue
		}

		fetches.EachRecord(func(r *kgo.Record) {
			rec, err := command.Decode(r.Value)
			if err != nil {
				f.logger.Error("consensus feed: dropping undecodable record", zap.Error(err))
				return
			}
			term := rec.Term
			if f.serverTerm != nil {
				term = f.serverTerm()
			}
			if err := f.applier.ApplyOp(ctx, rec, term); err != nil {
				f.logger.Error("consensus feed: engine inbox rejected record",
					zap.Uint64("index", rec.Index), zap.Error(err))
			}
		})

		if err := f.client.CommitUncommittedOffsets(ctx); err != nil {
			f.logger.Error("consensus feed: commit offsets failed", zap.Error(err))
		}
	}
}

// Close releases the underlying Kafka client outside of Run (e.g. if Run
// was never started).
func (f *Feed) Close() { f.client.Close() }
