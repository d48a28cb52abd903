package models

import (
	"maps"
	"time"

	"github.com/samber/lo"

	"livebid/auction"
)

// FromAuction 將拍賣快照轉為資料表紀錄(含參與者與出價)
func FromAuction(a *auction.Auction) Auction {
	metadata := maps.Clone(a.Metadata)
	if metadata == nil {
		metadata = map[string]string{}
	}
	return Auction{
		ID:                a.ID,
		DealRoomID:        a.DealRoomID,
		ListingID:         a.ListingID,
		SellerID:          a.SellerID,
		Description:       a.Description,
		StartPrice:        a.StartPrice,
		MinimumIncrement:  a.MinimumIncrement,
		CurrentHighestBid: a.CurrentHighestBid,
		HighestBidderID:   lo.EmptyableToPtr(a.HighestBidderID),
		DurationMinutes:   a.DurationMinutes,
		EndAt:             a.EndAt,
		State:             string(a.State),
		Metadata:          metadata,
		StartedAt:         a.StartedAt,
		ClosedAt:          a.ClosedAt,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
		Participants: lo.Map(a.Participants, func(p auction.Participant, _ int) Participant {
			return Participant{
				AuctionID:        a.ID,
				UserID:           p.UserID,
				DisplayName:      p.DisplayName,
				AvatarURL:        p.AvatarURL,
				Role:             string(p.Role),
				IsInvited:        p.IsInvited,
				HasJoined:        p.HasJoined,
				PriorOfferAmount: p.PriorOfferAmount,
				CommitmentScore:  p.CommitmentScore,
			}
		}),
		Bids: lo.Map(a.Bids, func(b auction.Bid, _ int) Bid {
			return Bid{
				ID:        b.ID,
				AuctionID: a.ID,
				BidderID:  b.BidderID,
				Amount:    b.Amount,
				PlacedAt:  b.PlacedAt,
				IsHighest: b.IsHighest,
				Sequence:  b.Sequence,
			}
		}),
	}
}

// ToAuction 將資料表紀錄還原為拍賣快照
// 出價需要依 Sequence 由舊到新排序後再傳入
func (row Auction) ToAuction() *auction.Auction {
	metadata := maps.Clone(row.Metadata)
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &auction.Auction{
		ID:                row.ID,
		DealRoomID:        row.DealRoomID,
		ListingID:         row.ListingID,
		SellerID:          row.SellerID,
		Description:       row.Description,
		StartPrice:        row.StartPrice,
		MinimumIncrement:  row.MinimumIncrement,
		CurrentHighestBid: row.CurrentHighestBid,
		HighestBidderID:   lo.FromPtr(row.HighestBidderID),
		DurationMinutes:   row.DurationMinutes,
		EndAt:             row.EndAt.UTC(),
		State:             auction.State(row.State),
		Metadata:          metadata,
		StartedAt:         utcPtr(row.StartedAt),
		ClosedAt:          utcPtr(row.ClosedAt),
		CreatedAt:         row.CreatedAt.UTC(),
		UpdatedAt:         row.UpdatedAt.UTC(),
		Participants: lo.Map(row.Participants, func(p Participant, _ int) auction.Participant {
			return auction.Participant{
				UserID:           p.UserID,
				DisplayName:      p.DisplayName,
				AvatarURL:        p.AvatarURL,
				Role:             auction.Role(p.Role),
				IsInvited:        p.IsInvited,
				HasJoined:        p.HasJoined,
				PriorOfferAmount: p.PriorOfferAmount,
				CommitmentScore:  p.CommitmentScore,
			}
		}),
		Bids: lo.Map(row.Bids, func(b Bid, _ int) auction.Bid {
			return auction.Bid{
				ID:        b.ID,
				AuctionID: row.ID,
				BidderID:  b.BidderID,
				Amount:    b.Amount,
				PlacedAt:  b.PlacedAt.UTC(),
				IsHighest: b.IsHighest,
				Sequence:  b.Sequence,
			}
		}),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return lo.ToPtr(t.UTC())
}
