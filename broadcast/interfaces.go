//go:generate mockgen -package=broadcast -destination=mock.go -source=interfaces.go

package broadcast

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"livebid/auction"
)

// IMember 頻道中的一個連線
type IMember interface {
	// ID 連線的唯一識別
	ID() string
	// UserID 已驗證的使用者
	UserID() string
	// Send 非阻塞地放入待送佇列，佇列已滿時回傳 false
	Send(frame []byte) bool
	// Close 關閉連線，可重複呼叫
	Close()
}

// IRelay 讓多個節點共享同一份事件流
type IRelay interface {
	Start()
	Publish(env Envelope) error
	Subscribe() <-chan Envelope
	Close()
}

// IAuctionService 連線處理出價與加入時需要的拍賣操作
type IAuctionService interface {
	MarkJoined(ctx context.Context, id, userID string) (*auction.Auction, error)
	SubmitBid(ctx context.Context, id, bidderID string, amount decimal.Decimal, now time.Time) (*auction.Bid, error)
}
