package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBroker is an in-process Broker with the same ordering and fan-out
// rules as the Redis broker. Queues are unbounded.
type MemoryBroker struct {
	partitions int
	logger     *slog.Logger

	mu      sync.Mutex
	groups  map[string][]*memoryGroup // topic -> groups
	running bool
	closed  bool
	seq     atomic.Int64

	inFlight atomic.Int64
}

type memoryGroup struct {
	name    string
	handler Handler
	parts   []*memoryPartition
}

type memoryPartition struct {
	mu     sync.Mutex
	queue  []Message
	notify chan struct{}
}

func (p *memoryPartition) push(msg Message) {
	p.mu.Lock()
	p.queue = append(p.queue, msg)
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *memoryPartition) pop() (Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return Message{}, false
	}
	msg := p.queue[0]
	p.queue = p.queue[1:]
	return msg, true
}

// NewMemoryBroker creates a broker with the given partition count
func NewMemoryBroker(partitions int, logger *slog.Logger) *MemoryBroker {
	if partitions < 1 {
		partitions = 1
	}
	return &MemoryBroker{
		partitions: partitions,
		logger:     logger,
		groups:     make(map[string][]*memoryGroup),
	}
}

// Subscribe registers handler under group for topic
func (b *MemoryBroker) Subscribe(topic, group string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errors.New("memory broker: subscribe after run")
	}
	for _, g := range b.groups[topic] {
		if g.name == group {
			return fmt.Errorf("memory broker: group %s already subscribed to %s", group, topic)
		}
	}

	g := &memoryGroup{name: group, handler: handler, parts: make([]*memoryPartition, b.partitions)}
	for i := range g.parts {
		g.parts[i] = &memoryPartition{notify: make(chan struct{}, 1)}
	}
	b.groups[topic] = append(b.groups[topic], g)
	return nil
}

// Publish delivers the message to every group subscribed to topic
func (b *MemoryBroker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("memory broker: closed")
	}

	partition := Partition(key, b.partitions)
	msg := Message{
		ID:        strconv.FormatInt(b.seq.Add(1), 10),
		Topic:     topic,
		Key:       key,
		Partition: partition,
		Payload:   append([]byte(nil), payload...),
	}
	for _, g := range b.groups[topic] {
		b.inFlight.Add(1)
		g.parts[partition].push(msg)
	}
	return nil
}

// Run consumes every partition of every group until ctx is cancelled
func (b *MemoryBroker) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("memory broker: already running")
	}
	b.running = true
	var wg sync.WaitGroup
	for topic, groups := range b.groups {
		for _, g := range groups {
			for i, p := range g.parts {
				wg.Add(1)
				go func() {
					defer wg.Done()
					b.consume(ctx, topic, g, i, p)
				}()
			}
		}
	}
	b.mu.Unlock()

	wg.Wait()
	return nil
}

func (b *MemoryBroker) consume(ctx context.Context, topic string, g *memoryGroup, partition int, p *memoryPartition) {
	for {
		msg, ok := p.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.notify:
				continue
			}
		}

		if err := g.handler(ctx, msg); err != nil {
			b.logger.Warn("message handler failed",
				"topic", topic,
				"group", g.name,
				"partition", partition,
				"key", msg.Key,
				"error", err,
			)
		}
		b.inFlight.Add(-1)
	}
}

// WaitIdle blocks until every delivered message has been handled, including
// messages published by handlers along the way.
func (b *MemoryBroker) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.inFlight.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close rejects further publishes
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

var _ Broker = (*MemoryBroker)(nil)
