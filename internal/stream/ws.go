package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/Lllllllleong/mathcheckin/internal/metrics"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// ServeWS writes sub to an upgraded WebSocket as JSON text frames and sends
// a normal close frame after the terminal event. Messages from the client
// are read and discarded; a read error means the client left.
func ServeWS(ctx context.Context, conn *websocket.Conn, sub *Subscription, heartbeat time.Duration) error {
	defer sub.Close()
	defer conn.Close()
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}

	metrics.StreamSubscribers.WithLabelValues("websocket").Inc()
	defer metrics.StreamSubscribers.WithLabelValues("websocket").Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readPump(conn, cancel)

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		events, finished := sub.Drain()
		for _, ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
			metrics.StreamEventsSent.WithLabelValues("websocket").Inc()
		}
		if finished {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete")
			return conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-sub.Ready():
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Progress websocket closed unexpectedly.", "error", err)
			}
			return
		}
	}
}
