// Package messaging carries keyed messages between pipeline stages.
//
// Every topic is split into a fixed number of partitions. A key always maps
// to the same partition and each partition is consumed by a single goroutine
// per consumer group, so messages sharing a key are handled in publish order.
// Separate consumer groups each receive every message on a topic.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// Message is a delivered record.
type Message struct {
	ID        string
	Topic     string
	Key       string
	Partition int
	Payload   []byte
}

// Handler processes one message. The message is acknowledged after the
// handler returns, whatever the result; errors are only logged.
type Handler func(ctx context.Context, msg Message) error

// Publisher appends messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Subscriber registers consumer-group handlers and runs them.
type Subscriber interface {
	// Subscribe must be called before Run
	Subscribe(topic, group string, handler Handler) error
	// Run starts all consumers and blocks until ctx is cancelled
	Run(ctx context.Context) error
}

// Broker is both ends of the transport.
type Broker interface {
	Publisher
	Subscriber
	Close() error
}

// PublishJSON encodes v and publishes it.
func PublishJSON(ctx context.Context, p Publisher, topic, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", topic, err)
	}
	if err := p.Publish(ctx, topic, key, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Partition maps a key onto [0, n) with FNV-1a.
func Partition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// StreamName is the storage name of one topic partition.
func StreamName(topic string, partition int) string {
	return fmt.Sprintf("%s:%d", topic, partition)
}
