package auction

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// NewAuction 依照賣家設定建立一場處於 setup 狀態的拍賣
// 設定不合法時回傳包裝 ErrInvalidConfiguration 的錯誤，不會產生任何紀錄
func NewAuction(sellerID string, cfg Config, now time.Time) (*Auction, error) {
	const op = "NewAuction"
	if err := validateConfig(sellerID, cfg); err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}

	participants := make([]Participant, 0, len(cfg.InviteeIDs)+1)
	participants = append(participants, Participant{
		UserID:    sellerID,
		Role:      RoleSeller,
		IsInvited: true,
		HasJoined: true,
	})
	for _, id := range lo.Uniq(cfg.InviteeIDs) {
		participants = append(participants, Participant{
			UserID:    id,
			Role:      RoleBuyer,
			IsInvited: true,
		})
	}

	now = now.UTC()
	return &Auction{
		ID:                uuid.NewString(),
		DealRoomID:        cfg.DealRoomID,
		ListingID:         cfg.ListingID,
		SellerID:          sellerID,
		Description:       cfg.Description,
		StartPrice:        cfg.StartPrice,
		MinimumIncrement:  cfg.MinimumIncrement,
		CurrentHighestBid: cfg.StartPrice,
		DurationMinutes:   cfg.DurationMinutes,
		EndAt:             now.Add(time.Duration(cfg.DurationMinutes) * time.Minute),
		State:             StateSetup,
		Participants:      participants,
		Bids:              []Bid{},
		Metadata:          map[string]string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func validateConfig(sellerID string, cfg Config) error {
	switch {
	case sellerID == "":
		return fmt.Errorf("%w: seller is required", ErrInvalidConfiguration)
	case cfg.DealRoomID == "":
		return fmt.Errorf("%w: deal_room_id is required", ErrInvalidConfiguration)
	case cfg.StartPrice.IsNegative():
		return fmt.Errorf("%w: start_price must be >= 0", ErrInvalidConfiguration)
	case !cfg.MinimumIncrement.IsPositive():
		return fmt.Errorf("%w: minimum_increment must be > 0", ErrInvalidConfiguration)
	case !AmountFits(cfg.StartPrice):
		return fmt.Errorf("%w: start_price must have at most %d decimal places and %d integer digits",
			ErrInvalidConfiguration, MaxAmountScale, MaxAmountIntegerDigits)
	case !AmountFits(cfg.MinimumIncrement):
		return fmt.Errorf("%w: minimum_increment must have at most %d decimal places and %d integer digits",
			ErrInvalidConfiguration, MaxAmountScale, MaxAmountIntegerDigits)
	case cfg.DurationMinutes <= 0:
		return fmt.Errorf("%w: duration_minutes must be a positive integer", ErrInvalidConfiguration)
	case len(cfg.InviteeIDs) == 0:
		return fmt.Errorf("%w: invitee_ids must not be empty", ErrInvalidConfiguration)
	case lo.Contains(cfg.InviteeIDs, ""):
		return fmt.Errorf("%w: invitee_ids must not contain empty ids", ErrInvalidConfiguration)
	case lo.Contains(cfg.InviteeIDs, sellerID):
		return fmt.Errorf("%w: seller cannot invite themselves", ErrInvalidConfiguration)
	}
	return nil
}

// AppendBid 將已通過驗證的出價加入出價序列
// 同一步驟內更新最高出價、領先者以及 IsHighest 旗標
func (a *Auction) AppendBid(bid Bid) error {
	if a.State.IsTerminal() {
		return fmt.Errorf("%w: cannot append bid to %s auction", ErrInvalidTransition, a.State)
	}
	if !bid.Amount.GreaterThan(a.CurrentHighestBid) {
		return fmt.Errorf("%w: bid %s does not exceed current highest %s", ErrBidTooLow, bid.Amount, a.CurrentHighestBid)
	}
	for i := range a.Bids {
		a.Bids[i].IsHighest = false
	}
	bid.IsHighest = true
	bid.Sequence = len(a.Bids) + 1
	a.Bids = append(a.Bids, bid)
	a.CurrentHighestBid = bid.Amount
	a.HighestBidderID = bid.BidderID
	a.UpdatedAt = bid.PlacedAt
	return nil
}

var transitions = map[State][]State{
	StateSetup:  {StateActive, StateCancelled},
	StateActive: {StateEnded, StateCancelled},
}

// TransitionState 依生命週期圖切換狀態，並合併 metadata
func (a *Auction) TransitionState(next State, patch map[string]string, now time.Time) error {
	if !lo.Contains(transitions[a.State], next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.State, next)
	}
	now = now.UTC()
	a.State = next
	a.UpdatedAt = now
	switch next {
	case StateActive:
		a.StartedAt = &now
	case StateEnded, StateCancelled:
		a.ClosedAt = &now
	}
	a.mergeMetadata(patch)
	return nil
}

// patchSettlement 終止後唯一允許的變更：結算相關的簿記
func (a *Auction) patchSettlement(patch map[string]string, now time.Time) error {
	if a.State != StateEnded {
		return fmt.Errorf("%w: settlement bookkeeping requires an ended auction, got %s", ErrInvalidTransition, a.State)
	}
	for k := range patch {
		if k != MetaOrderID && k != MetaPaymentCompleted {
			return fmt.Errorf("%w: metadata key %q is immutable after close", ErrInvalidTransition, k)
		}
	}
	a.mergeMetadata(patch)
	a.UpdatedAt = now.UTC()
	return nil
}

func (a *Auction) mergeMetadata(patch map[string]string) {
	if a.Metadata == nil {
		a.Metadata = map[string]string{}
	}
	for k, v := range patch {
		a.Metadata[k] = v
	}
}

// markJoined 記錄參與者已連上拍賣頻道
func (a *Auction) markJoined(userID string) bool {
	for i := range a.Participants {
		if a.Participants[i].UserID == userID {
			if a.Participants[i].HasJoined {
				return false
			}
			a.Participants[i].HasJoined = true
			return true
		}
	}
	return false
}
