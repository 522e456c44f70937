package websocket

import (
	"context"
	"errors"
	"livecatalog-server/core"
	"net/http"
	"regexp"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// HeaderResolver resolves the session named by handshake headers.
type HeaderResolver interface {
	FromHeader(ctx context.Context, header http.Header) (*core.Session, error)
}

type socketConn struct {
	socket *socketio.Socket
}

func (c socketConn) ID() string {
	return string(c.socket.Id())
}

func (c socketConn) Emit(event string, args ...any) error {
	return c.socket.Emit(event, args...)
}

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)

// SetupSocketIO builds the realtime server. With no origins configured only
// localhost pages may connect.
func SetupSocketIO(hub *Hub, gate HeaderResolver, origins []string) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(1000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)

	allowed := []any{localhostOrigin}
	if len(origins) > 0 {
		allowed = lo.Map(origins, func(origin string, _ int) any { return origin })
	}
	opts.SetCors(&types.Cors{
		Origin:      allowed,
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		conn := socketConn{socket}
		ctx := context.Background()
		log := logrus.WithField("conn_id", conn.ID())

		// Listeners go in before any store round trip; packets arriving
		// meanwhile queue on the client.
		client := hub.Register(conn)
		for event, kind := range submitEvents {
			//nolint:errcheck // Socket.IO event handlers do not return useful errors
			socket.On(event, func(datas ...any) {
				if len(datas) == 0 {
					client.syncError(event, kind, core.ErrInvalidPayload)
					return
				}
				if err := client.Submit(kind, datas[0]); err != nil {
					log.WithError(err).WithField("event", event).Debug("Submission dropped")
				}
			})
		}

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("disconnect", func(datas ...any) {
			client.Close()
			socket.RemoveAllListeners("")
		})

		session, err := gate.FromHeader(ctx, handshakeHeader(socket))
		switch {
		case errors.Is(err, core.ErrSessionStoreUnavailable):
			log.WithError(err).Error("Session store unavailable at handshake")
			_ = socket.Emit(EventSyncError, map[string]any{
				"event": "connection",
				"kind":  "",
				"error": core.ErrSessionStoreUnavailable.Error(),
			})
			client.Close()
			hub.Start(ctx, client, nil)
			socket.Disconnect(true)
			return
		case err != nil:
			log.Debug("Anonymous connection")
			session = nil
		}

		hub.Start(ctx, client, session)
		if !socket.Connected() {
			client.Close()
		}
	})

	return srv
}

func handshakeHeader(socket *socketio.Socket) http.Header {
	header := http.Header{}
	for key, values := range socket.Handshake().Headers {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	return header
}
