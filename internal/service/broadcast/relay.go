package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"quill/internal/domain/models/docstore"
	"quill/internal/domain/models/pipeline"
)

// Relay fans status changes out to every server instance over Redis pub/sub.
// Pipeline consumers may run on a different instance than the one holding a
// subscriber's stream; each instance re-broadcasts what it receives locally.
type Relay struct {
	client  *redis.Client
	channel string
	local   *Registry
	logger  *slog.Logger
	ready   chan struct{}
}

// NewRelay creates a relay publishing on channel
func NewRelay(client *redis.Client, channel string, local *Registry, logger *slog.Logger) *Relay {
	return &Relay{
		client:  client,
		channel: channel,
		local:   local,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// NotifyStatus publishes the change. If Redis is unreachable the change is
// at least delivered to this instance's subscribers.
func (r *Relay) NotifyStatus(ctx context.Context, documentID int64, status docstore.AIStatus) {
	payload, err := json.Marshal(pipeline.StatusUpdate{DocumentID: documentID, Status: status})
	if err != nil {
		r.logger.Error("encode status update", "document_id", documentID, "error", err)
		return
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("status relay publish failed, broadcasting locally",
			"document_id", documentID,
			"status", status,
			"error", err,
		)
		r.local.Broadcast(documentID, status)
	}
}

// Ready closes once Run has subscribed to the channel
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to the channel and re-broadcasts until ctx is cancelled
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	close(r.ready)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var update pipeline.StatusUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				r.logger.Warn("invalid status relay payload", "error", err)
				continue
			}
			if !update.Status.Valid() {
				r.logger.Warn("unknown status on relay", "document_id", update.DocumentID, "status", update.Status)
				continue
			}
			r.local.Broadcast(update.DocumentID, update.Status)
		}
	}
}
