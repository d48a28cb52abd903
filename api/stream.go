package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"livebid/broadcast"
)

const sseHeartbeat = 30 * time.Second

// Track auction events
// (GET /auctions/{id}/events)
func (impl *ServerImpl) GetAuctionEvents(c *gin.Context, id string) {
	ctx := c.Request.Context()
	user := currentUser(c)

	// 只有參與者可以訂閱，同時記錄已加入
	a, err := impl.engine.MarkJoined(ctx, id, user)
	if err != nil {
		impl.writeError(c, err)
		return
	}

	member := broadcast.NewStreamMember(user, broadcast.DefaultOutboxSize)
	impl.hub.Join(id, member)
	defer func() {
		impl.hub.Leave(id, member.ID())
		member.Close()
	}()

	// SSE請求合法，開始初始化串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(broadcast.FrameJoined, broadcast.Joined{Type: broadcast.FrameJoined, AuctionID: id, Auction: a})
	w.Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-member.Done():
			impl.logger.Info("sse member disconnected", slog.String("auctionID", id), slog.String("userID", user))
			return
		case frame := <-member.Frames():
			var header frameHeader
			if err := json.Unmarshal(frame, &header); err != nil {
				impl.logger.Warn("skip malformed frame", slog.Any("error", err))
				continue
			}
			c.SSEvent(string(header.Type), json.RawMessage(frame))
			w.Flush()
		// 30秒沒有事件就發送一個註解行，確保瀏覽器和代理不會斷開連線
		case <-ticker.C:
			_, _ = w.WriteString(": keep-alive\n\n")
			w.Flush()
		}
	}
}

// Open the auction websocket channel
// (GET /ws)
func (impl *ServerImpl) GetWebsocket(c *gin.Context) {
	conn, err := impl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 失敗時已經回應錯誤
		impl.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	broadcast.NewWSConn(conn, currentUser(c), impl.hub, impl.engine,
		broadcast.WithWSLogger(impl.options.logger),
		broadcast.WithWSClock(impl.options.clock),
	).Run(c.Request.Context())
}
