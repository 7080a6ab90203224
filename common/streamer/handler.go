package streamer

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/flamehq/flame-node-sdk/common/queue"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades GET /debug/stream to a websocket and registers the
// connection with hub.
func Handler(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}

		client := NewClient(hub, conn)
		hub.register <- client

		go client.writePump()
		go client.readPump()
		return nil
	}
}

// Wire subscribes hub to every event published on the "debug" queue topic
// and broadcasts each one to the connected clients. No other package in
// this module publishes on that topic; the stream carries only what a
// caller of the queue publishes there.
func Wire(ctx context.Context, q queue.Queue, hub *Hub) error {
	return q.Subscribe(ctx, "debug", func(_ context.Context, _ string, value []byte) error {
		hub.Broadcast(value)
		return nil
	})
}
