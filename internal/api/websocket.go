package api

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victornm/stopgame/internal/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = time.Minute
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
)

func (a *Router) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkOrigin,
	}
}

func (a *Router) checkOrigin(r *http.Request) bool {
	if len(a.allowedOrigins) == 0 || slices.Contains(a.allowedOrigins, "*") {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return slices.ContainsFunc(a.allowedOrigins, func(o string) bool {
		return strings.EqualFold(o, origin)
	})
}

// ServeWS upgrades the request and serves the connection until it is closed.
func (a *Router) ServeWS(c *gin.Context) {
	conn, err := a.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(c, "api: websocket upgrade failed", "ip", c.ClientIP(), "error", err)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	id := uuid.NewString()
	client := a.hub.Connect(id)

	telemetry.Connections.Inc()
	slog.InfoContext(ctx, "api: connection opened", "conn", id, "ip", c.ClientIP())

	go writePump(conn, client)
	a.readPump(ctx, conn, client)
}

func (a *Router) readPump(ctx context.Context, conn *websocket.Conn, client *Client) {
	defer func() {
		a.Disconnected(ctx, client.ID)
		telemetry.Connections.Dec()
		slog.InfoContext(ctx, "api: connection closed", "conn", client.ID)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "api: read failed", "conn", client.ID, "error", err)
			}
			return
		}

		select {
		case <-client.Done():
			return
		default:
		}

		a.Handle(ctx, client.ID, msg)
	}
}

// writePump is the only writer of conn. It closes conn once the client is disconnected.
func writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg := <-client.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
