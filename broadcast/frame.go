package broadcast

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"livebid/auction"
)

// 客戶端送來的 frame 種類
const (
	FrameJoin     = "join"
	FrameLeave    = "leave"
	FramePlaceBid = "place_bid"
)

// 只送給單一連線的 frame 種類
const (
	FrameJoined      = "joined"
	FrameLeft        = "left"
	FrameBidRejected = "bid_rejected"
	FrameError       = "error"
)

// Inbound 客戶端送來的訊息
type Inbound struct {
	Type      string          `json:"type"`
	AuctionID string          `json:"auction_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// Joined 加入成功後回給該連線的目前狀態
type Joined struct {
	Type      string           `json:"type"`
	AuctionID string           `json:"auction_id"`
	Auction   *auction.Auction `json:"auction"`
}

// Left 離開頻道的確認
type Left struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id"`
}

// BidRejected 只回給出價者，不會廣播
type BidRejected struct {
	Type              string               `json:"type"`
	AuctionID         string               `json:"auction_id"`
	Reason            auction.RejectReason `json:"reason"`
	Message           string               `json:"message"`
	MinimumAcceptable decimal.Decimal      `json:"minimum_acceptable"`
}

// ErrorFrame 協定或處理錯誤
type ErrorFrame struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id,omitempty"`
	Message   string `json:"message"`
}

// EncodeEvent 將狀態變化編碼成廣播用的 frame
func EncodeEvent(ev auction.Event) ([]byte, error) {
	return json.Marshal(ev)
}

func rejectionFrame(auctionID string, r *auction.Rejection) BidRejected {
	return BidRejected{
		Type:              FrameBidRejected,
		AuctionID:         auctionID,
		Reason:            r.Reason,
		Message:           r.Message,
		MinimumAcceptable: r.MinimumAcceptable,
	}
}

func errorFrame(auctionID, message string) ErrorFrame {
	return ErrorFrame{Type: FrameError, AuctionID: auctionID, Message: message}
}
