package websocket

import (
	"context"
	"encoding/json"
	"livecatalog-server/auth"
	"livecatalog-server/core"
	"livecatalog-server/stores/memory"
	sessionmemory "livecatalog-server/stores/sessions/memory"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// slowStore delays snapshot reads so connection setup overlaps with
// whatever the client sends next.
type slowStore struct {
	testStore
	delay time.Duration
}

func (s *slowStore) GetAll(ctx context.Context, kind core.Kind) ([]core.Record, error) {
	time.Sleep(s.delay)
	return s.testStore.GetAll(ctx, kind)
}

type brokenSessions struct{}

func (brokenSessions) Create(context.Context, *core.Session, time.Duration) error {
	return core.ErrSessionStoreUnavailable
}

func (brokenSessions) Touch(context.Context, string, time.Duration) (*core.Session, error) {
	return nil, core.ErrSessionStoreUnavailable
}

func (brokenSessions) Destroy(context.Context, string) error {
	return core.ErrSessionStoreUnavailable
}

func newSocketServer(t *testing.T, store core.RecordStore, gate *auth.Gate, policy AuthPolicy) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub(store, gate, policy)
	ioo := SetupSocketIO(hub, gate, nil)

	r := chi.NewRouter()
	r.Handle("/socket.io/", ioo.ServeHandler(nil))
	ts := httptest.NewServer(r)

	t.Cleanup(func() {
		ioo.Close(nil)
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})
	return ts, hub
}

type socketClient struct {
	t    *testing.T
	conn *websocket.Conn
}

// dialSocket speaks just enough engine.io v4 to join the default namespace.
func dialSocket(t *testing.T, ts *httptest.Server, cookies ...*http.Cookie) *socketClient {
	t.Helper()
	header := http.Header{}
	header.Set("Origin", "http://localhost")
	for _, c := range cookies {
		header.Add("Cookie", c.Name+"="+c.Value)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket.io/?EIO=4&transport=websocket"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &socketClient{t: t, conn: conn}
	open, err := c.read()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(open, "0"), "expected open packet, got %q", open)

	c.send("40")
	ack, err := c.read()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ack, "40"), "expected connect ack, got %q", ack)
	return c
}

func (c *socketClient) send(packet string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(packet)))
}

func (c *socketClient) emit(event string, payload any) {
	c.t.Helper()
	data, err := json.Marshal([]any{event, payload})
	require.NoError(c.t, err)
	c.send("42" + string(data))
}

func (c *socketClient) read() (string, error) {
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if string(data) == "2" {
			_ = c.conn.WriteMessage(websocket.TextMessage, []byte("3"))
			continue
		}
		return string(data), nil
	}
}

// next returns the next event name and its first argument.
func (c *socketClient) next() (string, json.RawMessage, error) {
	for {
		packet, err := c.read()
		if err != nil {
			return "", nil, err
		}
		if !strings.HasPrefix(packet, "42") {
			continue
		}
		var args []json.RawMessage
		if err := json.Unmarshal([]byte(packet[2:]), &args); err != nil || len(args) < 2 {
			continue
		}
		var name string
		_ = json.Unmarshal(args[0], &name)
		return name, args[1], nil
	}
}

// waitSnapshot reads until a snapshot of kind with n records arrives.
func (c *socketClient) waitSnapshot(kind core.Kind, n int) []core.Record {
	c.t.Helper()
	for {
		name, arg, err := c.next()
		require.NoError(c.t, err, "waiting for %s snapshot of %d", kind, n)
		if name != kind.String() {
			continue
		}
		var records []core.Record
		require.NoError(c.t, json.Unmarshal(arg, &records))
		if len(records) == n {
			return records
		}
	}
}

func (c *socketClient) waitEvent(event string) map[string]any {
	c.t.Helper()
	for {
		name, arg, err := c.next()
		require.NoError(c.t, err, "waiting for %s", event)
		if name != event {
			continue
		}
		var body map[string]any
		require.NoError(c.t, json.Unmarshal(arg, &body))
		return body
	}
}

func newOpenGate() *auth.Gate {
	return auth.NewGate(sessionmemory.NewSessionStore(), "test-secret", time.Minute)
}

func TestSocketConnectReceivesSnapshots(t *testing.T) {
	req := require.New(t)
	store := memory.NewRecordStore()
	req.NoError(store.Save(context.Background(), core.KindProducts, core.Record{"name": "p1"}))
	ts, hub := newSocketServer(t, store, newOpenGate(), PolicyOpen)

	c := dialSocket(t, ts)

	name, arg, err := c.next()
	req.NoError(err)
	req.Equal("messages", name)
	req.JSONEq(`[]`, string(arg))

	name, arg, err = c.next()
	req.NoError(err)
	req.Equal("products", name)
	req.JSONEq(`[{"name":"p1"}]`, string(arg))

	req.Eventually(func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSocketImmediateSubmitIsPersisted(t *testing.T) {
	req := require.New(t)
	store := &slowStore{testStore: memory.NewRecordStore(), delay: 20 * time.Millisecond}
	ts, _ := newSocketServer(t, store, newOpenGate(), PolicyOpen)

	c := dialSocket(t, ts)
	c.emit(EventNewMessage, map[string]any{"text": "hi"})
	c.emit(EventNewProduct, map[string]any{"name": "p1"})

	messages := c.waitSnapshot(core.KindMessages, 1)
	req.Equal("hi", messages[0]["text"])
	products := c.waitSnapshot(core.KindProducts, 1)
	req.Equal("p1", products[0]["name"])

	stored, err := store.GetAll(context.Background(), core.KindMessages)
	req.NoError(err)
	req.Len(stored, 1)
}

func TestSocketBroadcastReachesOtherClients(t *testing.T) {
	store := memory.NewRecordStore()
	ts, hub := newSocketServer(t, store, newOpenGate(), PolicyOpen)

	watcher := dialSocket(t, ts)
	watcher.waitSnapshot(core.KindProducts, 0)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	writer := dialSocket(t, ts)
	writer.emit(EventNewProduct, map[string]any{"name": "p2"})

	products := watcher.waitSnapshot(core.KindProducts, 1)
	require.Equal(t, "p2", products[0]["name"])
}

func TestSocketSessionCookie(t *testing.T) {
	req := require.New(t)
	store := memory.NewRecordStore()
	gate := newOpenGate()
	ts, _ := newSocketServer(t, store, gate, PolicyPerEvent)

	rec := httptest.NewRecorder()
	_, err := gate.Establish(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil), &core.User{ID: "u1", Username: "alice"})
	req.NoError(err)
	cookies := rec.Result().Cookies()
	req.Len(cookies, 1)

	signedIn := dialSocket(t, ts, cookies[0])
	signedIn.emit(EventNewMessage, map[string]any{"text": "from alice"})
	messages := signedIn.waitSnapshot(core.KindMessages, 1)
	req.Equal("from alice", messages[0]["text"])

	anonymous := dialSocket(t, ts)
	anonymous.emit(EventNewMessage, map[string]any{"text": "from nobody"})
	notice := anonymous.waitEvent(EventSyncError)
	req.Equal(EventNewMessage, notice["event"])
	req.Equal("messages", notice["kind"])
	req.Equal(core.ErrSessionInvalid.Error(), notice["error"])

	stored, err := store.GetAll(context.Background(), core.KindMessages)
	req.NoError(err)
	req.Len(stored, 1)
}

func TestSocketSessionStoreOutageDisconnects(t *testing.T) {
	req := require.New(t)
	// A cookie signed with the same secret while the store was still up.
	rec := httptest.NewRecorder()
	_, err := newOpenGate().Establish(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil), &core.User{ID: "u1", Username: "alice"})
	req.NoError(err)
	cookies := rec.Result().Cookies()
	req.Len(cookies, 1)

	gate := auth.NewGate(brokenSessions{}, "test-secret", time.Minute)
	ts, hub := newSocketServer(t, memory.NewRecordStore(), gate, PolicyPerEvent)

	c := dialSocket(t, ts, cookies[0])
	notice := c.waitEvent(EventSyncError)
	req.Equal(core.ErrSessionStoreUnavailable.Error(), notice["error"])

	for {
		if _, err := c.read(); err != nil {
			break
		}
	}
	req.Equal(0, hub.Count())
}

func TestSocketDisconnectDuringSetup(t *testing.T) {
	store := &slowStore{testStore: memory.NewRecordStore(), delay: 300 * time.Millisecond}
	ts, hub := newSocketServer(t, store, newOpenGate(), PolicyOpen)

	c := dialSocket(t, ts)
	c.send("41")
	require.NoError(t, c.conn.Close())

	// Setup fetches two snapshots; wait until it has certainly finished.
	time.Sleep(time.Second)
	require.Equal(t, 0, hub.Count())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx), "worker exits once the client is gone")
}
