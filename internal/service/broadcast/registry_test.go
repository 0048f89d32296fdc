package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/internal/domain/models/docstore"
	"quill/internal/domain/models/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, conn *Connection) Event {
	t.Helper()
	select {
	case ev := <-conn.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func isClosed(conn *Connection) bool {
	select {
	case <-conn.Done():
		return true
	default:
		return false
	}
}

func TestBroadcastDeliversToEverySubscriber(t *testing.T) {
	r := NewRegistry(4, testLogger())
	a := r.Subscribe(1)
	b := r.Subscribe(1)
	other := r.Subscribe(2)

	r.Broadcast(1, docstore.AIStatusProcessing)

	for _, conn := range []*Connection{a, b} {
		ev := receive(t, conn)
		assert.Equal(t, EventStatusUpdate, ev.Name)

		var update pipeline.StatusUpdate
		require.NoError(t, json.Unmarshal(ev.Data, &update))
		assert.Equal(t, int64(1), update.DocumentID)
		assert.Equal(t, docstore.AIStatusProcessing, update.Status)
		assert.False(t, isClosed(conn))
	}
	assert.Empty(t, other.Events())
	assert.Equal(t, 2, r.Count(1))
}

func TestTerminalStatusClosesConnections(t *testing.T) {
	for _, status := range []docstore.AIStatus{docstore.AIStatusCompleted, docstore.AIStatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			r := NewRegistry(4, testLogger())
			conn := r.Subscribe(7)

			r.Broadcast(7, status)

			ev := receive(t, conn)
			assert.Contains(t, string(ev.Data), string(status))
			assert.True(t, isClosed(conn))
			assert.Equal(t, 0, r.Count(7))

			// Later broadcasts find nothing to deliver to
			r.Broadcast(7, docstore.AIStatusPending)
			assert.Empty(t, conn.Events())
		})
	}
}

func TestHeartbeatReachesAllDocuments(t *testing.T) {
	r := NewRegistry(4, testLogger())
	a := r.Subscribe(1)
	b := r.Subscribe(2)

	require.NoError(t, r.WriteKeepAlive())

	for _, conn := range []*Connection{a, b} {
		ev := receive(t, conn)
		assert.Equal(t, EventHeartbeat, ev.Name)
		assert.Equal(t, "{}", string(ev.Data))
	}
}

func TestFullConnectionIsDropped(t *testing.T) {
	r := NewRegistry(1, testLogger())
	slow := r.Subscribe(3)

	r.Heartbeat()
	r.Heartbeat() // queue already full

	assert.True(t, isClosed(slow))
	assert.Equal(t, 0, r.Count(3))
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry(1, testLogger())
	conn := r.Subscribe(5)

	r.Remove(5, conn.ID)
	r.Remove(5, conn.ID)
	r.Remove(99, "unknown")

	assert.True(t, isClosed(conn))
	assert.Equal(t, 0, r.Count(5))

	again := r.Subscribe(5)
	assert.Equal(t, 1, r.Count(5))
	r.Broadcast(5, docstore.AIStatusPending)
	assert.Equal(t, EventStatusUpdate, receive(t, again).Name)
}

func TestConcurrentSubscribeAndRemove(t *testing.T) {
	r := NewRegistry(8, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			conn := r.Subscribe(1)
			r.Remove(1, conn.ID)
		}()
		go func() {
			defer wg.Done()
			r.Broadcast(1, docstore.AIStatusProcessing)
		}()
		go func() {
			defer wg.Done()
			r.Heartbeat()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count(1))
	survivor := r.Subscribe(1)
	r.Broadcast(1, docstore.AIStatusCompleted)
	assert.Equal(t, EventStatusUpdate, receive(t, survivor).Name)
}

func TestRelayRebroadcastsLocally(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	local := NewRegistry(4, testLogger())
	relay := NewRelay(client, "quill:ai-status", local, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	select {
	case <-relay.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe")
	}

	conn := local.Subscribe(11)
	relay.NotifyStatus(ctx, 11, docstore.AIStatusCompleted)

	ev := receive(t, conn)
	assert.Equal(t, EventStatusUpdate, ev.Name)
	assert.JSONEq(t, `{"documentId":11,"status":"COMPLETED"}`, string(ev.Data))
	require.Eventually(t, func() bool { return isClosed(conn) }, time.Second, 10*time.Millisecond)
}
