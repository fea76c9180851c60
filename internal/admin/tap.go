package admin

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const tapWriteTimeout = time.Second

// streamFrames upgrades to a websocket and writes one JSON snapshot per sent
// pose frame. Snapshots the client cannot keep up with are dropped by the hub.
func (s *Server) streamFrames(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	snaps, unsubscribe, err := s.relay.Subscribe(ctx)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		return
	}
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	remote := conn.RemoteAddr().String()
	log.Debug().Str("remote", remote).Msg("admin.Server tap opened")
	defer log.Debug().Str("remote", remote).Msg("admin.Server tap closed")
	for {
		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay stopped"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(tapWriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		}
	}
}
