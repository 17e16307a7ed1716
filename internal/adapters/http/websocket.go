package http

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/core/protocol"
	"github.com/samirrijal/livetrack/internal/core/usecases"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler bridges a websocket to the tracking gateway. Frames read
// from the socket go to HandleMessage; a writer goroutine drains the
// connection's outbound queue onto the socket. The socket is closed once the
// gateway closes the queue, and the gateway is told when the socket drops.
func WebSocketHandler(gw *usecases.TrackingGateway) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		conn := gw.Open(uuid.NewString())
		connID := conn.ID()
		log := slog.Default().With("conn_id", connID, "remote", c.RemoteAddr().String())
		log.Info("ws client connected")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var mu sync.Mutex
		write := func(messageType int, data []byte) error {
			mu.Lock()
			defer mu.Unlock()
			_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
			return c.WriteMessage(messageType, data)
		}

		// Writer: outbound queue -> socket
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for msg := range conn.Outbound() {
				data, err := protocol.Encode(msg)
				if err != nil {
					log.Error("encode outbound message", "kind", msg.Kind(), "error", err)
					continue
				}
				if err := write(websocket.TextMessage, data); err != nil {
					log.Debug("ws write failed", "error", err)
					gw.Disconnect(connID)
				}
			}
			// Queue closed by the gateway: end the socket so the reader stops.
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.Close()
		}()

		// Keep-alive ping
		go func() {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := write(websocket.PingMessage, nil); err != nil {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		// Reader: socket -> gateway
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				break
			}
			if err := gw.HandleMessage(ctx, connID, raw); err != nil {
				if domain.CodeOf(err) == domain.CodeNotFound {
					break
				}
				log.Debug("message rejected", "code", domain.CodeOf(err), "error", err)
			}
		}

		gw.Disconnect(connID)
		cancel()
		<-writerDone
		log.Info("ws client disconnected")
	}
}
