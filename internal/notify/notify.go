// Package notify publishes a best-effort, non-blocking "block
// persisted" event to Kafka after the Block Processor's batched writes
// succeed, so downstream consumers can react to new blocks without
// polling the database. A publish failure is logged and never
// propagated to the caller.
package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// BlockPersistedTopic is the topic the indexer publishes to.
const BlockPersistedTopic = "indexer.blocks.persisted"

// Notifier publishes block-persisted events to Kafka.
type Notifier struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// New constructs a Notifier bound to brokers. An empty brokers slice
// disables publishing: NotifyBlockPersisted becomes a no-op, matching
// this feature's optional status (it has no upstream in spec.md).
func New(brokers []string, logger *zap.Logger) *Notifier {
	if len(brokers) == 0 {
		return &Notifier{logger: logger}
	}
	return &Notifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        BlockPersistedTopic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		logger: logger,
	}
}

type blockPersistedEvent struct {
	EventType   string `json:"event_type"`
	BlockNumber uint64 `json:"block_number"`
	Timestamp   string `json:"timestamp"`
}

// NotifyBlockPersisted publishes the event asynchronously. Async writer
// mode means WriteMessages returns before the broker acknowledges, so
// this call never blocks the worker that just persisted the block.
func (n *Notifier) NotifyBlockPersisted(ctx context.Context, blockNumber uint64) {
	if n.writer == nil {
		return
	}

	event := blockPersistedEvent{
		EventType:   "BLOCK_PERSISTED",
		BlockNumber: blockNumber,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("notify: failed to marshal block persisted event", zap.Error(err))
		return
	}

	msg := kafka.Message{Key: []byte(strconv.FormatUint(blockNumber, 10)), Value: data}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.logger.Warn("notify: failed to publish block persisted event", zap.Uint64("block", blockNumber), zap.Error(err))
	}
}

// Close releases the underlying Kafka writer, if any.
func (n *Notifier) Close() error {
	if n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
