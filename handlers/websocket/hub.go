package websocket

import (
	"context"
	"errors"
	"livecatalog-server/core"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const (
	EventNewMessage = "new-message"
	EventNewProduct = "new-product"
	EventSyncError  = "sync-error"
)

var submitEvents = map[string]core.Kind{
	EventNewMessage: core.KindMessages,
	EventNewProduct: core.KindProducts,
}

// KindForEvent maps a client submission event to the collection it writes.
func KindForEvent(event string) (core.Kind, bool) {
	kind, ok := submitEvents[event]
	return kind, ok
}

func eventForKind(kind core.Kind) string {
	for event, k := range submitEvents {
		if k == kind {
			return event
		}
	}
	return ""
}

// Conn is the part of a realtime connection the hub needs.
type Conn interface {
	ID() string
	Emit(event string, args ...any) error
}

// SessionValidator re-checks a session id and extends it.
type SessionValidator interface {
	Validate(ctx context.Context, id string) (*core.Session, error)
}

// Hub owns the set of active connections and fans full snapshots out to
// them. Snapshots of a kind are fetched and emitted under that kind's lock,
// so every connection sees them in the same order.
type Hub struct {
	records  core.RecordStore
	sessions SessionValidator
	policy   AuthPolicy
	relay    Relay

	mu      sync.RWMutex
	clients map[string]*Client

	locks map[core.Kind]*sync.Mutex

	// Submissions run on ctx rather than the connection's lifetime, so a
	// client that disconnects mid-queue still has its writes applied.
	ctx     context.Context
	workers sync.WaitGroup
}

func NewHub(records core.RecordStore, sessions SessionValidator, policy AuthPolicy) *Hub {
	h := &Hub{
		records:  records,
		sessions: sessions,
		policy:   policy,
		clients:  make(map[string]*Client),
		locks:    make(map[core.Kind]*sync.Mutex, len(core.Kinds)),
		ctx:      context.Background(),
	}
	for _, kind := range core.Kinds {
		h.locks[kind] = &sync.Mutex{}
	}
	h.relay = NewLocalRelay(h.Deliver)
	return h
}

// SetRelay replaces the default in-process relay.
func (h *Hub) SetRelay(relay Relay) {
	h.relay = relay
}

// Connect registers conn and starts it in one step.
func (h *Hub) Connect(ctx context.Context, conn Conn, session *core.Session) *Client {
	client := h.Register(conn)
	h.Start(ctx, client, session)
	return client
}

// Register creates a Connecting client for conn. It accepts submissions
// right away; they are held until Start has sent the initial snapshots.
func (h *Hub) Register(conn Conn) *Client {
	return newClient(h, conn)
}

// Start joins client to the active set as session and sends it the current
// snapshot of every kind before its worker begins. A client closed before
// Start never joins; its queue is still drained.
func (h *Hub) Start(ctx context.Context, client *Client, session *core.Session) {
	client.setSession(session)

	log := logrus.WithField("conn_id", client.ID())
	if session != nil {
		log = log.WithField("user_id", session.UserID)
	}

	if h.activate(client) {
		log.Info("Client connected")
		for _, kind := range core.Kinds {
			if err := h.sendSnapshot(ctx, client, kind); err != nil {
				log.WithError(err).WithField("kind", kind).Error("Failed to send initial snapshot")
				client.syncError("connect", kind, err)
			}
		}
	} else {
		log.Debug("Client closed before activation")
	}

	h.workers.Add(1)
	go func() {
		defer h.workers.Done()
		client.run()
	}()
}

func (h *Hub) activate(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.state == StateClosed {
		return false
	}
	client.state = StateActive
	h.clients[client.conn.ID()] = client
	return true
}

func (h *Hub) sendSnapshot(ctx context.Context, client *Client, kind core.Kind) error {
	lock := h.locks[kind]
	lock.Lock()
	defer lock.Unlock()

	records, err := h.records.GetAll(ctx, kind)
	if err != nil {
		return err
	}
	client.emit(kind.String(), records)
	return nil
}

// Broadcast asks every process to push a fresh snapshot of kind. A relay
// failure degrades to local delivery.
func (h *Hub) Broadcast(ctx context.Context, kind core.Kind) {
	if err := h.relay.Publish(ctx, kind); err != nil {
		logrus.WithError(err).WithField("kind", kind).Warn("Relay publish failed, delivering locally")
		if err := h.Deliver(ctx, kind); err != nil {
			logrus.WithError(err).WithField("kind", kind).Error("Local delivery failed")
		}
	}
}

// Deliver fetches the full collection once and emits it to every active
// connection on this process.
func (h *Hub) Deliver(ctx context.Context, kind core.Kind) error {
	lock, ok := h.locks[kind]
	if !ok {
		return core.ErrUnknownKind
	}
	lock.Lock()
	defer lock.Unlock()

	records, err := h.records.GetAll(ctx, kind)
	if err != nil {
		logrus.WithError(err).WithField("kind", kind).Error("Failed to fetch snapshot for broadcast")
		return err
	}

	clients := h.activeClients()
	for _, client := range clients {
		client.emit(kind.String(), records)
	}

	logrus.WithFields(logrus.Fields{
		"kind":    kind,
		"records": len(records),
		"clients": len(clients),
	}).Debug("Snapshot broadcast")
	return nil
}

func (h *Hub) activeClients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Values(h.clients)
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if h.clients[client.conn.ID()] == client {
		delete(h.clients, client.conn.ID())
	}
	h.mu.Unlock()
}

// Count returns the number of active connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits for queued submissions to
// drain, or for ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	for _, client := range h.activeClients() {
		client.Close()
	}

	done := make(chan struct{})
	go func() {
		h.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("pending submissions not drained"), ctx.Err())
	}
}
