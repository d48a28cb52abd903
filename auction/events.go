package auction

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType 拍賣頻道上的事件種類
type EventType string

const (
	EventAuctionCreated   EventType = "auction_created"
	EventAuctionStarted   EventType = "auction_started"
	EventBidAccepted      EventType = "bid_accepted"
	EventAuctionEnded     EventType = "auction_ended"
	EventAuctionCancelled EventType = "auction_cancelled"
)

// Event 推送給頻道成員的狀態變化
// 依事件種類只會填入對應欄位
type Event struct {
	Type      EventType `json:"type"`
	AuctionID string    `json:"auction_id"`

	// auction_created / auction_started / auction_ended / auction_cancelled
	Auction *Auction `json:"auction,omitempty"`

	// bid_accepted
	Bid                  *Bid             `json:"bid,omitempty"`
	CurrentHighestBid    *decimal.Decimal `json:"current_highest_bid,omitempty"`
	HighestBidderID      string           `json:"highest_bidder_id,omitempty"`
	PreviousHighestBidID string           `json:"previous_highest_bid_id,omitempty"`
	BidCount             int              `json:"bid_count,omitempty"`

	// auction_ended
	WinnerID    string           `json:"winner_id,omitempty"`
	FinalAmount *decimal.Decimal `json:"final_amount,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

func snapshotEvent(t EventType, a *Auction) Event {
	return Event{
		Type:       t,
		AuctionID:  a.ID,
		Auction:    a.Clone(),
		OccurredAt: a.UpdatedAt,
	}
}

func bidAcceptedEvent(a *Auction, bid Bid, previous string) Event {
	highest := a.CurrentHighestBid
	return Event{
		Type:                 EventBidAccepted,
		AuctionID:            a.ID,
		Bid:                  &bid,
		CurrentHighestBid:    &highest,
		HighestBidderID:      a.HighestBidderID,
		PreviousHighestBidID: previous,
		BidCount:             len(a.Bids),
		OccurredAt:           bid.PlacedAt,
	}
}

func auctionEndedEvent(a *Auction) Event {
	final := a.CurrentHighestBid
	ev := snapshotEvent(EventAuctionEnded, a)
	ev.WinnerID = a.WinnerID()
	ev.FinalAmount = &final
	return ev
}

// NopPublisher 不推送任何事件
type NopPublisher struct{}

func (NopPublisher) Publish(string, Event) error { return nil }
