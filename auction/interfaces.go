//go:generate mockgen -package=auction -destination=mock.go -source=interfaces.go

package auction

import (
	"context"
	"time"
)

// IStore 拍賣紀錄的儲存層
// 所有變更都必須經過 Update，Update 對同一場拍賣是序列化的
type IStore interface {
	// Create 儲存一場新拍賣，ID 重複時回傳錯誤
	Create(ctx context.Context, a *Auction) error
	// Get 讀取拍賣的快照，不存在時回傳 ErrNotFound
	Get(ctx context.Context, id string) (*Auction, error)
	// Update 在拍賣鎖內執行 fn，fn 回傳 nil 才會寫回；回傳寫回後的快照
	Update(ctx context.Context, id string, fn func(a *Auction) error) (*Auction, error)
	// ListDue 列出仍為 active 但截止時間已到的拍賣 ID
	ListDue(ctx context.Context, now time.Time) ([]string, error)
}

// IPublisher 將狀態變化推送給拍賣頻道的所有成員
type IPublisher interface {
	Publish(auctionID string, event Event) error
}

// ISettler 外部的訂單/付款服務
type ISettler interface {
	// CreateOrder 為得標者建立待付款訂單，回傳訂單 ID
	CreateOrder(ctx context.Context, req SettlementRequest) (string, error)
	// GetPaymentStatus 查詢訂單的付款狀態
	GetPaymentStatus(ctx context.Context, orderID string) (PaymentStatus, error)
}

// IRetryQueue 結算請求送出失敗時，由呼叫端負責重試的佇列
type IRetryQueue interface {
	Enqueue(req SettlementRequest) error
}
