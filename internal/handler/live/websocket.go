// Package live exposes the live tour session broker over websockets.
package live

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/campusloop/backend/internal/auth"
	"github.com/campusloop/backend/internal/model/tour"
	"github.com/campusloop/backend/internal/service/broker"
)

const (
	readLimit    = 64 * 1024
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Handler upgrades websocket connections and feeds their messages to the
// broker, one read loop per connection so arrival order is preserved.
type Handler struct {
	broker   *broker.Broker
	verifier *auth.Verifier
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New creates the websocket handler. A nil verifier leaves the upgrade
// ungated; clients then identify themselves with an auth message.
func New(b *broker.Broker, verifier *auth.Verifier, log zerolog.Logger) *Handler {
	return &Handler{
		broker:   b,
		verifier: verifier,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleSocket)
}

func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	principal := ""
	if h.verifier != nil {
		token := auth.BearerFromRequest(r)
		if token == "" {
			http.Error(w, "missing bearer credential", http.StatusUnauthorized)
			return
		}
		sub, err := h.verifier.Verify(token)
		if err != nil {
			h.log.Debug().Err(err).Msg("rejecting upgrade with invalid credential")
			http.Error(w, "invalid bearer credential", http.StatusUnauthorized)
			return
		}
		principal = sub
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newSocketConn(wsConn)
	h.broker.Connect(conn, principal)
	h.log.Debug().Str("remote", wsConn.RemoteAddr().String()).Msg("websocket connection opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.pingLoop(ctx, conn)

	defer func() {
		h.broker.Disconnect(context.Background(), conn)
		_ = conn.Close()
	}()

	wsConn.SetReadLimit(readLimit)
	_ = wsConn.SetReadDeadline(time.Now().Add(readTimeout))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		_ = wsConn.SetReadDeadline(time.Now().Add(readTimeout))

		h.dispatch(ctx, conn, data)
	}
}

// dispatch decodes one wire message and routes it to the broker. A bad
// message answers with an error envelope and never breaks the loop.
func (h *Handler) dispatch(ctx context.Context, conn *socketConn, data []byte) {
	msg, err := tour.Decode(data)
	switch {
	case errors.Is(err, tour.ErrUnknownType):
		_ = conn.Send(tour.ErrorEvent("Unknown message type."))
		return
	case err != nil:
		_ = conn.Send(tour.ErrorEvent("Invalid message format."))
		return
	}

	switch msg.Kind {
	case tour.KindAuth:
		h.broker.Authenticate(conn, msg.Auth)
	case tour.KindCreateSession:
		h.broker.CreateSession(ctx, conn, msg.Create)
	case tour.KindJoinSession:
		h.broker.JoinSession(ctx, conn, msg.Join)
	case tour.KindStateUpdate:
		h.broker.UpdateState(ctx, conn, msg.State)
	case tour.KindStructureUpdate:
		h.broker.UpdateStructure(ctx, conn, msg.Structure)
	case tour.KindEndTour:
		h.broker.EndTour(ctx, conn, msg.End)
	case tour.KindPing:
		h.broker.PingAmbassador(ctx, conn, msg.Ping)
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *socketConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.writeControl(websocket.PingMessage); err != nil {
				return
			}
		}
	}
}

// socketConn adapts a gorilla connection to the broker's Conn interface.
// The mutex keeps broker fan-out and the ping loop from writing
// concurrently, which gorilla forbids.
type socketConn struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

func newSocketConn(ws *websocket.Conn) *socketConn {
	return &socketConn{ws: ws}
}

func (c *socketConn) Send(ev tour.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(ev)
}

func (c *socketConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}

func (c *socketConn) writeControl(messageType int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.ws.WriteControl(messageType, nil, time.Now().Add(writeTimeout))
}
