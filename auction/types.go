package auction

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// State 拍賣的生命週期狀態
type State string

const (
	StateSetup     State = "setup"
	StateActive    State = "active"
	StateEnded     State = "ended"
	StateCancelled State = "cancelled"
)

// IsTerminal 判斷狀態是否為終止狀態(ended/cancelled)
func (s State) IsTerminal() bool {
	return s == StateEnded || s == StateCancelled
}

// Role 參與者在拍賣中的角色
type Role string

const (
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
)

// 結算相關的 metadata key
const (
	MetaWinnerID              = "winner_id"
	MetaFinalAmount           = "final_amount"
	MetaOrderID               = "order_id"
	MetaSettlementRequestedAt = "settlement_requested_at"
	MetaPaymentCompleted      = "payment_completed"
)

// SystemActor 代表由系統(截止時間掃描、營運人員)觸發的操作
const SystemActor = "system"

// Participant 代表被邀請或已加入拍賣的使用者
type Participant struct {
	UserID           string           `json:"user_id"`
	DisplayName      string           `json:"display_name,omitempty"`
	AvatarURL        string           `json:"avatar_url,omitempty"`
	Role             Role             `json:"role"`
	IsInvited        bool             `json:"is_invited"`
	HasJoined        bool             `json:"has_joined"`
	PriorOfferAmount *decimal.Decimal `json:"prior_offer_amount,omitempty"`
	CommitmentScore  float64          `json:"commitment_score"`
}

// Bid 代表一筆已被接受的出價，只存在於拍賣的出價序列中
// Sequence 在該場拍賣內從 1 開始遞增，客戶端可據此丟棄亂序或重複的 bid_accepted
type Bid struct {
	ID        string          `json:"id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	PlacedAt  time.Time       `json:"placed_at"`
	IsHighest bool            `json:"is_highest"`
	Sequence  int             `json:"sequence"`
}

// Auction 代表一場掛在洽談室(deal room)上的限時競價
type Auction struct {
	ID                string            `json:"id"`
	DealRoomID        string            `json:"deal_room_id"`
	ListingID         string            `json:"listing_id,omitempty"`
	SellerID          string            `json:"seller_id"`
	Description       string            `json:"description,omitempty"`
	StartPrice        decimal.Decimal   `json:"start_price"`
	MinimumIncrement  decimal.Decimal   `json:"minimum_increment"`
	CurrentHighestBid decimal.Decimal   `json:"current_highest_bid"`
	HighestBidderID   string            `json:"highest_bidder_id,omitempty"`
	DurationMinutes   int               `json:"duration_minutes"`
	EndAt             time.Time         `json:"end_at"`
	State             State             `json:"state"`
	Participants      []Participant     `json:"participants"`
	Bids              []Bid             `json:"bids"`
	Metadata          map[string]string `json:"metadata"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	ClosedAt          *time.Time        `json:"closed_at,omitempty"`
}

// Clone 深拷貝拍賣紀錄，讓讀取端不會和儲存層共用 slice/map
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	c := *a
	c.Participants = slices.Clone(a.Participants)
	c.Bids = slices.Clone(a.Bids)
	c.Metadata = maps.Clone(a.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	if a.StartedAt != nil {
		t := *a.StartedAt
		c.StartedAt = &t
	}
	if a.ClosedAt != nil {
		t := *a.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// MinimumAcceptable 回傳下一筆出價可被接受的最低金額
func (a *Auction) MinimumAcceptable() decimal.Decimal {
	return a.CurrentHighestBid.Add(a.MinimumIncrement)
}

// HighestBid 回傳目前領先的出價，沒有出價時回傳 nil
func (a *Auction) HighestBid() *Bid {
	for i := len(a.Bids) - 1; i >= 0; i-- {
		if a.Bids[i].IsHighest {
			b := a.Bids[i]
			return &b
		}
	}
	return nil
}

// Participant 依使用者 ID 查詢參與者
func (a *Auction) Participant(userID string) (Participant, bool) {
	for _, p := range a.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// WinnerID 回傳結算後的得標者，尚未結算或流標時為空字串
func (a *Auction) WinnerID() string {
	return a.Metadata[MetaWinnerID]
}

// Config 建立拍賣時由賣家提供的設定
type Config struct {
	DealRoomID       string
	ListingID        string
	Description      string
	StartPrice       decimal.Decimal
	MinimumIncrement decimal.Decimal
	DurationMinutes  int
	InviteeIDs       []string
	AutoStart        bool
}
