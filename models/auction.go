package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Auction 拍賣紀錄在 Postgres 上的持久化副本
// 即時狀態以 Redis 為準，這張表由事件持久化 worker 寫入
type Auction struct {
	ID                string            `gorm:"type:uuid;primaryKey;<-:create"`
	DealRoomID        string            `gorm:"type:text;not null;index"`
	ListingID         string            `gorm:"type:text;not null;default:''"`
	SellerID          string            `gorm:"type:text;not null;index"`
	Description       string            `gorm:"type:text;not null;default:''"`
	StartPrice        decimal.Decimal   `gorm:"type:numeric(20,4);not null"`
	MinimumIncrement  decimal.Decimal   `gorm:"type:numeric(20,4);not null"`
	CurrentHighestBid decimal.Decimal   `gorm:"type:numeric(20,4);not null"`
	HighestBidderID   *string           `gorm:"type:text"`
	DurationMinutes   int               `gorm:"type:integer;not null"`
	EndAt             time.Time         `gorm:"type:timestamp with time zone;not null;index"`
	State             string            `gorm:"type:varchar(16);not null;index"`
	Metadata          map[string]string `gorm:"type:jsonb;serializer:json;not null;default:'{}'"`
	StartedAt         *time.Time        `gorm:"type:timestamp with time zone"`
	ClosedAt          *time.Time        `gorm:"type:timestamp with time zone"`
	CreatedAt         time.Time         `gorm:"type:timestamp with time zone;not null;autoCreateTime:false"`
	UpdatedAt         time.Time         `gorm:"type:timestamp with time zone;not null;autoUpdateTime:false"`

	// 外鍵關聯
	Participants []Participant `gorm:"foreignKey:AuctionID"`
	Bids         []Bid         `gorm:"foreignKey:AuctionID"`
}
