package status

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxlog/internal/observe"
)

// writeTimeout bounds a single websocket frame write.
const writeTimeout = 5 * time.Second

// Handler streams hub events to websocket clients as JSON objects, one per
// message. Clients are not expected to send anything.
func Handler(hub *Hub, originPatterns ...string) http.Handler {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			slog.Warn("status: websocket accept failed", "err", err)
			return
		}
		defer func() { _ = conn.CloseNow() }()

		log := observe.Logger(r.Context())
		log.Debug("status: stream attached", "remote", r.RemoteAddr)

		sub := hub.Subscribe()
		defer sub.Close()

		// CloseRead discards client frames and cancels ctx when the peer
		// goes away.
		ctx := conn.CloseRead(context.WithoutCancel(r.Context()))
		for {
			select {
			case <-ctx.Done():
				log.Debug("status: stream detached", "remote", r.RemoteAddr)
				return
			case ev, ok := <-sub.C():
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "hub closed")
					return
				}
				wctx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := wsjson.Write(wctx, conn, ev)
				cancel()
				if err != nil {
					log.Debug("status: write failed", "err", err)
					return
				}
			}
		}
	})
}
