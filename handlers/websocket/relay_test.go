package websocket

import (
	"context"
	"livecatalog-server/core"
	"livecatalog-server/stores/memory"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T, rc *redis.Client, hub *Hub) {
	t.Helper()
	relay := NewRedisRelay(rc, "test:broadcast", hub.Deliver)
	relay.backoff = 10 * time.Millisecond
	hub.SetRelay(relay)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("relay did not stop")
		}
	})
}

func waitSubscribers(t *testing.T, rc *redis.Client, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		counts, err := rc.PubSubNumSub(context.Background(), "test:broadcast").Result()
		return err == nil && counts["test:broadcast"] == n
	}, time.Second, 5*time.Millisecond)
}

func TestRedisRelayDeliversAcrossHubs(t *testing.T) {
	req := require.New(t)
	m := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	// Two processes sharing one record store and one Redis.
	store := memory.NewRecordStore()
	hubA := NewHub(store, nil, PolicyOpen)
	hubB := NewHub(store, nil, PolicyOpen)
	startRelay(t, rc, hubA)
	startRelay(t, rc, hubB)
	waitSubscribers(t, rc, 2)

	onA := newFakeConn("a")
	onB := newFakeConn("b")
	client := hubA.Connect(context.Background(), onA, nil)
	hubB.Connect(context.Background(), onB, nil)

	req.NoError(client.Submit(core.KindProducts, map[string]any{"name": "p1"}))

	for _, conn := range []*fakeConn{onA, onB} {
		req.Eventually(func() bool {
			return len(conn.last(core.KindProducts)) == 1
		}, time.Second, 5*time.Millisecond)
	}
	req.Len(onA.snapshots(core.KindProducts), 2, "submitter's hub delivers once via the relay")
}

func TestRedisRelayFallsBackToLocal(t *testing.T) {
	req := require.New(t)
	m := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rc.Close() })

	store := memory.NewRecordStore()
	hub := NewHub(store, nil, PolicyOpen)
	hub.SetRelay(NewRedisRelay(rc, "test:broadcast", hub.Deliver))

	conn := newFakeConn("c1")
	client := hub.Connect(context.Background(), conn, nil)
	m.Close()

	req.NoError(client.Submit(core.KindMessages, map[string]any{"name": "still here"}))
	req.Eventually(func() bool {
		return len(conn.last(core.KindMessages)) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRedisRelayIgnoresGarbage(t *testing.T) {
	m := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	hub := NewHub(memory.NewRecordStore(), nil, PolicyOpen)
	startRelay(t, rc, hub)
	waitSubscribers(t, rc, 1)

	conn := newFakeConn("c1")
	hub.Connect(context.Background(), conn, nil)

	m.Publish("test:broadcast", "not json")
	m.Publish("test:broadcast", `{"kind":"orders"}`)
	m.Publish("test:broadcast", `{"kind":"messages"}`)

	require.Eventually(t, func() bool {
		return len(conn.snapshots(core.KindMessages)) == 2
	}, time.Second, 5*time.Millisecond)
	require.Len(t, conn.snapshots(core.KindProducts), 1)
}
