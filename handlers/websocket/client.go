package websocket

import (
	"errors"
	"livecatalog-server/core"
	"sync"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type submission struct {
	kind    core.Kind
	payload any
}

// Client is one realtime connection. Submissions are handled one at a time,
// in the order they were made, by the client's own worker.
type Client struct {
	hub  *Hub
	conn Conn

	mu      sync.Mutex
	state   State
	session *core.Session
	queue   []submission

	wake    chan struct{}
	stopped chan struct{}
}

func newClient(hub *Hub, conn Conn) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		state:   StateConnecting,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.conn.ID()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the session the connection currently acts as, if any.
func (c *Client) Session() *core.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) setSession(session *core.Session) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}

// Submit queues payload for persistence into kind.
func (c *Client) Submit(kind core.Kind, payload any) error {
	if !kind.Valid() {
		return core.ErrUnknownKind
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return core.ErrConnectionClosed
	}
	c.queue = append(c.queue, submission{kind: kind, payload: payload})
	c.mu.Unlock()

	c.signal()
	return nil
}

// Close removes the connection from the broadcast set. Submissions already
// queued are still applied.
func (c *Client) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	pending := len(c.queue)
	c.mu.Unlock()

	c.hub.remove(c)
	c.signal()

	logrus.WithFields(logrus.Fields{
		"conn_id": c.conn.ID(),
		"pending": pending,
	}).Info("Client disconnected")
}

// Done is closed once the worker has drained the queue after Close.
func (c *Client) Done() <-chan struct{} {
	return c.stopped
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) next() (submission, bool) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			s := c.queue[0]
			c.queue[0] = submission{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return s, true
		}
		closed := c.state == StateClosed
		c.mu.Unlock()
		if closed {
			return submission{}, false
		}
		<-c.wake
	}
}

func (c *Client) run() {
	defer close(c.stopped)
	for {
		s, ok := c.next()
		if !ok {
			return
		}
		c.handle(s)
	}
}

func (c *Client) handle(s submission) {
	ctx := c.hub.ctx
	log := logrus.WithFields(logrus.Fields{
		"conn_id": c.conn.ID(),
		"kind":    s.kind,
	})

	if err := c.authorize(); err != nil {
		log.WithError(err).Warn("Submission rejected")
		c.syncError(eventForKind(s.kind), s.kind, err)
		return
	}

	record, err := core.DecodeRecord(s.payload)
	if err != nil {
		log.WithError(err).Warn("Submission rejected")
		c.syncError(eventForKind(s.kind), s.kind, err)
		return
	}

	if err := c.hub.records.Save(ctx, s.kind, record); err != nil {
		log.WithError(err).Error("Failed to persist submission")
		c.syncError(eventForKind(s.kind), s.kind, err)
		return
	}

	c.hub.Broadcast(ctx, s.kind)
}

func (c *Client) authorize() error {
	switch c.hub.policy {
	case PolicyOpen:
		return nil
	case PolicyHandshake:
		if c.Session() == nil {
			return core.ErrSessionInvalid
		}
		return nil
	}

	session := c.Session()
	if session == nil {
		return core.ErrSessionInvalid
	}
	fresh, err := c.hub.sessions.Validate(c.hub.ctx, session.ID)
	if err != nil {
		if errors.Is(err, core.ErrSessionInvalid) {
			// Read-only from here on; snapshots keep flowing.
			c.setSession(nil)
		}
		return err
	}
	c.setSession(fresh)
	return nil
}

func (c *Client) emit(event string, args ...any) {
	if err := c.conn.Emit(event, args...); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"conn_id": c.conn.ID(),
			"event":   event,
		}).Warn("Failed to emit")
	}
}

func (c *Client) syncError(event string, kind core.Kind, err error) {
	if c.State() == StateClosed {
		return
	}
	c.emit(EventSyncError, map[string]any{
		"event": event,
		"kind":  kind.String(),
		"error": syncErrorMessage(err),
	})
}

// syncErrorMessage reports the sentinel a client can act on rather than the
// wrapped backend detail.
func syncErrorMessage(err error) string {
	for _, sentinel := range []error{
		core.ErrSessionInvalid,
		core.ErrSessionStoreUnavailable,
		core.ErrStorageUnavailable,
		core.ErrInvalidPayload,
		core.ErrUnknownKind,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
