package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livebid/auction"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

type wsOptions struct {
	logger     *slog.Logger
	clock      func() time.Time
	outboxSize int
}

type WSOption func(*wsOptions)

// WithWSLogger 設置日誌記錄器
func WithWSLogger(logger *slog.Logger) WSOption {
	return func(o *wsOptions) {
		o.logger = logger
	}
}

// WithWSClock 設置出價時間的來源
func WithWSClock(clock func() time.Time) WSOption {
	return func(o *wsOptions) {
		o.clock = clock
	}
}

// WithWSOutboxSize 設置待送佇列大小
func WithWSOutboxSize(size int) WSOption {
	return func(o *wsOptions) {
		o.outboxSize = size
	}
}

// WSConn 一條已驗證的 websocket 連線
// 出價者身分一律取自驗證結果，frame 中不接受 bidder 欄位
type WSConn struct {
	*outbox
	conn    *websocket.Conn
	hub     *Hub
	service IAuctionService
	logger  *slog.Logger
	options wsOptions
}

func NewWSConn(conn *websocket.Conn, userID string, hub *Hub, service IAuctionService, opts ...WSOption) *WSConn {
	options := wsOptions{
		logger:     slog.Default(),
		clock:      time.Now,
		outboxSize: DefaultOutboxSize,
	}
	for _, opt := range opts {
		opt(&options)
	}
	ob := newOutbox(userID, options.outboxSize)
	return &WSConn{
		outbox:  ob,
		conn:    conn,
		hub:     hub,
		service: service,
		logger: options.logger.With(
			slog.String("caller", "WSConn"),
			slog.String("memberID", ob.id),
			slog.String("userID", userID)),
		options: options,
	}
}

// Run 處理連線直到斷線，結束時移除所有頻道訂閱
func (c *WSConn) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump()
	}()

	c.readPump(ctx)
	left := c.hub.LeaveAll(c.ID())
	c.Close()
	wg.Wait()
	c.logger.Info("websocket closed", slog.Any("leftAuctions", left))
}

func (c *WSConn) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", slog.Any("error", err))
			}
			return
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.reply(errorFrame("", "malformed frame"))
			continue
		}
		c.handle(ctx, in)
	}
}

func (c *WSConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case frame := <-c.frames:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Warn("websocket write error", slog.Any("error", err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *WSConn) handle(ctx context.Context, in Inbound) {
	if in.AuctionID == "" {
		c.reply(errorFrame("", "auction_id is required"))
		return
	}
	switch in.Type {
	case FrameJoin:
		c.join(ctx, in.AuctionID)
	case FrameLeave:
		c.hub.Leave(in.AuctionID, c.ID())
		c.reply(Left{Type: FrameLeft, AuctionID: in.AuctionID})
	case FramePlaceBid:
		c.placeBid(ctx, in.AuctionID, in)
	default:
		c.reply(errorFrame(in.AuctionID, "unknown frame type: "+in.Type))
	}
}

func (c *WSConn) join(ctx context.Context, auctionID string) {
	a, err := c.service.MarkJoined(ctx, auctionID, c.UserID())
	if err != nil {
		c.reply(errorFrame(auctionID, describe(err)))
		return
	}
	c.hub.Join(auctionID, c)
	c.reply(Joined{Type: FrameJoined, AuctionID: auctionID, Auction: a})
}

func (c *WSConn) placeBid(ctx context.Context, auctionID string, in Inbound) {
	bid, err := c.service.SubmitBid(ctx, auctionID, c.UserID(), in.Amount, c.options.clock())
	if err != nil {
		if rejection, ok := auction.AsRejection(err); ok {
			c.reply(rejectionFrame(auctionID, rejection))
			return
		}
		c.logger.Warn("place bid failed", slog.String("auctionID", auctionID), slog.Any("error", err))
		c.reply(errorFrame(auctionID, describe(err)))
		return
	}
	// 不在頻道內的出價者收不到廣播，直接回覆
	if !c.hub.IsMember(auctionID, c.ID()) {
		amount := bid.Amount
		c.reply(auction.Event{
			Type:              auction.EventBidAccepted,
			AuctionID:         auctionID,
			Bid:               bid,
			CurrentHighestBid: &amount,
			HighestBidderID:   bid.BidderID,
			BidCount:          bid.Sequence,
			OccurredAt:        bid.PlacedAt,
		})
	}
}

func (c *WSConn) reply(v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("fail to encode frame", slog.Any("error", err))
		return
	}
	if !c.Send(frame) {
		c.logger.Warn("outbox full, reply dropped")
	}
}

// describe 將內部錯誤轉成可以給客戶端看的訊息
func describe(err error) string {
	switch {
	case errors.Is(err, auction.ErrNotFound):
		return "auction not found"
	case errors.Is(err, auction.ErrLockTimeout):
		return "auction is busy, please retry"
	case errors.Is(err, auction.ErrForbidden):
		return "not allowed"
	default:
		return "internal error"
	}
}
