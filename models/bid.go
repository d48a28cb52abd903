package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid 代表一筆已被接受的出價
// 出價只會新增，唯一會變動的欄位是 IsHighest
type Bid struct {
	ID        string          `gorm:"type:uuid;primaryKey;<-:create"`
	AuctionID string          `gorm:"type:uuid;not null;index:idx_bid_auction_id_placed_at;uniqueIndex:idx_bid_auction_id_sequence;<-:create"`
	BidderID  string          `gorm:"type:text;not null;<-:create"`
	Amount    decimal.Decimal `gorm:"type:numeric(20,4);not null;<-:create"`
	PlacedAt  time.Time       `gorm:"type:timestamp with time zone;not null;index:idx_bid_auction_id_placed_at;<-:create"`
	IsHighest bool            `gorm:"not null;default:false"`
	Sequence  int             `gorm:"not null;uniqueIndex:idx_bid_auction_id_sequence;<-:create"`
}
