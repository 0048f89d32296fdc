package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisBroker
type RedisOptions struct {
	Partitions int
	// Consumer identifies this process inside each consumer group. It must be
	// stable across restarts so pending entries are picked up again.
	Consumer  string
	Block     time.Duration
	BatchSize int64
	// MaxLen caps each stream (approximate trimming); zero disables trimming
	MaxLen int64
	// LeaseTTL bounds how long a partition stays owned by a process that
	// stopped renewing. It must exceed the longest handler run.
	LeaseTTL time.Duration
}

// RedisBroker implements Broker on Redis Streams. Each topic partition is
// its own stream and each consumer group reads it with XREADGROUP.
//
// Several processes may run the same groups. A partition of a group is
// read by whichever process holds its lease, so messages with one key are
// never handled by two processes at once; the others wait and take over
// when the holder stops.
type RedisBroker struct {
	client *redis.Client
	opts   RedisOptions
	owner  string
	logger *slog.Logger

	mu      sync.Mutex
	subs    []redisSubscription
	running bool
}

type redisSubscription struct {
	topic   string
	group   string
	handler Handler
}

// NewRedisBrokerWithClient creates a broker from an existing client
func NewRedisBrokerWithClient(client *redis.Client, opts RedisOptions, logger *slog.Logger) *RedisBroker {
	if opts.Partitions < 1 {
		opts.Partitions = 1
	}
	if opts.Block <= 0 {
		opts.Block = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.Consumer == "" {
		opts.Consumer = "quill"
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 30 * time.Second
	}
	return &RedisBroker{
		client: client,
		opts:   opts,
		owner:  opts.Consumer + ":" + uuid.NewString(),
		logger: logger,
	}
}

// Publish appends to the partition stream selected by key
func (b *RedisBroker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: StreamName(topic, Partition(key, b.opts.Partitions)),
		Values: map[string]any{"key": key, "payload": payload},
	}
	if b.opts.MaxLen > 0 {
		args.MaxLen = b.opts.MaxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return nil
}

// Subscribe registers handler under group for topic
func (b *RedisBroker) Subscribe(topic, group string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return errors.New("redis broker: subscribe after run")
	}
	b.subs = append(b.subs, redisSubscription{topic: topic, group: group, handler: handler})
	return nil
}

// Run creates consumer groups and consumes every partition until ctx is done
func (b *RedisBroker) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("redis broker: already running")
	}
	b.running = true
	subs := append([]redisSubscription(nil), b.subs...)
	b.mu.Unlock()

	for _, sub := range subs {
		for p := 0; p < b.opts.Partitions; p++ {
			if err := b.ensureGroup(ctx, StreamName(sub.topic, p), sub.group); err != nil {
				return err
			}
		}
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		for p := 0; p < b.opts.Partitions; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.consume(ctx, sub, p)
			}()
		}
	}

	b.logger.Info("redis consumers started",
		"subscriptions", len(subs),
		"partitions", b.opts.Partitions,
		"consumer", b.opts.Consumer,
		"lease_ttl", b.opts.LeaseTTL,
	)

	wg.Wait()
	return nil
}

func (b *RedisBroker) ensureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// consume reads one partition for one group while this process holds the
// partition lease. On taking the lease it claims entries a previous holder
// read but never acknowledged, then drains them before blocking for new ones.
func (b *RedisBroker) consume(ctx context.Context, sub redisSubscription, partition int) {
	stream := StreamName(sub.topic, partition)
	lease := leaseKey(stream, sub.group)
	held := false
	cursor := "0"

	defer func() {
		if held {
			b.releaseLease(ctx, lease)
		}
	}()

	for ctx.Err() == nil {
		ok, err := b.acquireLease(ctx, lease)
		if err != nil && ctx.Err() == nil {
			b.logger.Error("partition lease failed", "stream", stream, "group", sub.group, "error", err)
		}
		if !ok {
			if held {
				b.logger.Warn("partition lease lost", "stream", stream, "group", sub.group)
			}
			held = false
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.opts.Block):
			}
			continue
		}
		if !held {
			held = true
			if err := b.claimPending(ctx, stream, sub.group); err != nil && ctx.Err() == nil {
				b.logger.Error("xautoclaim failed", "stream", stream, "group", sub.group, "error", err)
			}
			cursor = "0"
			b.logger.Debug("partition lease acquired", "stream", stream, "group", sub.group, "owner", b.owner)
		}

		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    sub.group,
			Consumer: b.opts.Consumer,
			Streams:  []string{stream, cursor},
			Count:    b.opts.BatchSize,
			Block:    b.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("xreadgroup failed", "stream", stream, "group", sub.group, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		delivered := 0
	batch:
		for _, s := range res {
			for i, xmsg := range s.Messages {
				// Unhandled entries stay pending for whoever holds the lease next
				if i > 0 {
					if ok, _ := b.acquireLease(ctx, lease); !ok {
						break batch
					}
				}
				delivered++
				b.handle(ctx, sub, partition, stream, xmsg)
			}
		}

		if cursor == "0" && delivered == 0 {
			cursor = ">"
		}
	}
}

// leaseScript takes the lease when it is free and extends it when this
// owner already holds it. Returns 1 when the caller holds the lease.
var leaseScript = redis.NewScript(`
local holder = redis.call("GET", KEYS[1])
if holder == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
if not holder then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func leaseKey(stream, group string) string {
	return "lease:" + stream + ":" + group
}

func (b *RedisBroker) acquireLease(ctx context.Context, key string) (bool, error) {
	n, err := leaseScript.Run(ctx, b.client, []string{key}, b.owner, b.opts.LeaseTTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lease %s: %w", key, err)
	}
	return n == 1, nil
}

func (b *RedisBroker) releaseLease(ctx context.Context, key string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(releaseCtx, b.client, []string{key}, b.owner).Err(); err != nil {
		b.logger.Warn("partition lease release failed", "lease", key, "error", err)
	}
}

// claimPending moves every pending entry of the group to this consumer
func (b *RedisBroker) claimPending(ctx context.Context, stream, group string) error {
	start := "0-0"
	for {
		msgs, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    group,
			Consumer: b.opts.Consumer,
			Start:    start,
			Count:    b.opts.BatchSize,
		}).Result()
		if err != nil {
			return err
		}
		if len(msgs) > 0 {
			b.logger.Info("claimed pending entries", "stream", stream, "group", group, "count", len(msgs))
		}
		if next == "0-0" || next == "" {
			return nil
		}
		start = next
	}
}

func (b *RedisBroker) handle(ctx context.Context, sub redisSubscription, partition int, stream string, xmsg redis.XMessage) {
	msg := Message{
		ID:        xmsg.ID,
		Topic:     sub.topic,
		Partition: partition,
		Key:       fieldString(xmsg.Values["key"]),
		Payload:   []byte(fieldString(xmsg.Values["payload"])),
	}

	if err := sub.handler(ctx, msg); err != nil {
		b.logger.Warn("message handler failed",
			"topic", sub.topic,
			"group", sub.group,
			"partition", partition,
			"key", msg.Key,
			"message_id", msg.ID,
			"error", err,
		)
	}

	// Acknowledge on a fresh context so shutdown does not leave the entry pending
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := b.client.XAck(ackCtx, stream, sub.group, xmsg.ID).Err(); err != nil {
		b.logger.Error("xack failed", "stream", stream, "group", sub.group, "message_id", xmsg.ID, "error", err)
	}
}

func fieldString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

// Close closes the Redis client
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

var _ Broker = (*RedisBroker)(nil)
