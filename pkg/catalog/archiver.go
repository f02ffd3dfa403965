package catalog

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Snapshot is a fully reassembled scene snapshot, built by the caller
// from the SceneSnapshotChunk sequence before handing it to Archive.
// Reassembly itself is the live session path's concern, not this
// package's.
type Snapshot struct {
	EntityID   string
	SequenceID uint32
	ChunkCount uint32
	Payload    []byte
	Compressed bool
}

// ArchiverConfig configures SnapshotArchiver's Kafka/Redpanda producer
// client, grounded in the teacher's kafka.ConsumerConfig though used
// here as a producer sink rather than a consumer.
type ArchiverConfig struct {
	Brokers []string
	Topic   string
	OnError func(error)
}

// SnapshotArchiver mirrors completed scene-snapshot reassemblies onto
// a Kafka/Redpanda topic for offline analytics. It never blocks the
// live session path: Archive enqueues asynchronously and reports
// failures only through OnError.
type SnapshotArchiver struct {
	client   *kgo.Client
	topic    string
	onErr    func(error)
	archived atomic.Uint64
	failed   atomic.Uint64
}

// NewSnapshotArchiver builds a SnapshotArchiver producing onto cfg.Topic.
func NewSnapshotArchiver(cfg ArchiverConfig) (*SnapshotArchiver, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("catalog: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("catalog: topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchMaxBytes(10*1024*1024),
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: create kafka client: %w", err)
	}

	return &SnapshotArchiver{client: client, topic: cfg.Topic, onErr: cfg.OnError}, nil
}

// Archive asynchronously produces snapshot onto the configured topic,
// keyed by EntityID so a topic-level compaction policy can retain only
// the latest snapshot per entity.
func (a *SnapshotArchiver) Archive(ctx context.Context, snapshot Snapshot) {
	record := &kgo.Record{
		Topic: a.topic,
		Key:   []byte(snapshot.EntityID),
		Value: snapshot.Payload,
	}
	a.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			a.failed.Add(1)
			if a.onErr != nil {
				a.onErr(fmt.Errorf("catalog: produce snapshot for entity %s: %w", snapshot.EntityID, err))
			}
			return
		}
		a.archived.Add(1)
	})
}

// Stats returns the archive/failure counts accumulated since
// construction.
func (a *SnapshotArchiver) Stats() (archived, failed uint64) {
	return a.archived.Load(), a.failed.Load()
}

// Close flushes any pending produce calls and closes the client.
func (a *SnapshotArchiver) Close(ctx context.Context) error {
	if err := a.client.Flush(ctx); err != nil {
		return fmt.Errorf("catalog: flush on close: %w", err)
	}
	a.client.Close()
	return nil
}
