package redis

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"livebid/auction"
)

// auctionRecord 是拍賣在 Redis 中的序列化格式，金額一律以字串保存避免精度問題
type auctionRecord struct {
	ID                string              `msgpack:"id"`
	DealRoomID        string              `msgpack:"deal_room_id"`
	ListingID         string              `msgpack:"listing_id"`
	SellerID          string              `msgpack:"seller_id"`
	Description       string              `msgpack:"description"`
	StartPrice        string              `msgpack:"start_price"`
	MinimumIncrement  string              `msgpack:"minimum_increment"`
	CurrentHighestBid string              `msgpack:"current_highest_bid"`
	HighestBidderID   string              `msgpack:"highest_bidder_id"`
	DurationMinutes   int                 `msgpack:"duration_minutes"`
	EndAt             time.Time           `msgpack:"end_at"`
	State             string              `msgpack:"state"`
	Participants      []participantRecord `msgpack:"participants"`
	Bids              []bidRecord         `msgpack:"bids"`
	Metadata          map[string]string   `msgpack:"metadata"`
	CreatedAt         time.Time           `msgpack:"created_at"`
	UpdatedAt         time.Time           `msgpack:"updated_at"`
	StartedAt         *time.Time          `msgpack:"started_at"`
	ClosedAt          *time.Time          `msgpack:"closed_at"`
}

type participantRecord struct {
	UserID           string  `msgpack:"user_id"`
	DisplayName      string  `msgpack:"display_name"`
	AvatarURL        string  `msgpack:"avatar_url"`
	Role             string  `msgpack:"role"`
	IsInvited        bool    `msgpack:"is_invited"`
	HasJoined        bool    `msgpack:"has_joined"`
	PriorOfferAmount string  `msgpack:"prior_offer_amount"`
	CommitmentScore  float64 `msgpack:"commitment_score"`
}

type bidRecord struct {
	ID        string    `msgpack:"id"`
	BidderID  string    `msgpack:"bidder_id"`
	Amount    string    `msgpack:"amount"`
	PlacedAt  time.Time `msgpack:"placed_at"`
	IsHighest bool      `msgpack:"is_highest"`
	Sequence  int       `msgpack:"sequence"`
}

func marshalAuction(a *auction.Auction) ([]byte, error) {
	r := auctionRecord{
		ID:                a.ID,
		DealRoomID:        a.DealRoomID,
		ListingID:         a.ListingID,
		SellerID:          a.SellerID,
		Description:       a.Description,
		StartPrice:        a.StartPrice.String(),
		MinimumIncrement:  a.MinimumIncrement.String(),
		CurrentHighestBid: a.CurrentHighestBid.String(),
		HighestBidderID:   a.HighestBidderID,
		DurationMinutes:   a.DurationMinutes,
		EndAt:             a.EndAt,
		State:             string(a.State),
		Participants:      make([]participantRecord, 0, len(a.Participants)),
		Bids:              make([]bidRecord, 0, len(a.Bids)),
		Metadata:          a.Metadata,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
		StartedAt:         a.StartedAt,
		ClosedAt:          a.ClosedAt,
	}
	for _, p := range a.Participants {
		pr := participantRecord{
			UserID:          p.UserID,
			DisplayName:     p.DisplayName,
			AvatarURL:       p.AvatarURL,
			Role:            string(p.Role),
			IsInvited:       p.IsInvited,
			HasJoined:       p.HasJoined,
			CommitmentScore: p.CommitmentScore,
		}
		if p.PriorOfferAmount != nil {
			pr.PriorOfferAmount = p.PriorOfferAmount.String()
		}
		r.Participants = append(r.Participants, pr)
	}
	for _, b := range a.Bids {
		r.Bids = append(r.Bids, bidRecord{
			ID:        b.ID,
			BidderID:  b.BidderID,
			Amount:    b.Amount.String(),
			PlacedAt:  b.PlacedAt,
			IsHighest: b.IsHighest,
			Sequence:  b.Sequence,
		})
	}
	return msgpack.Marshal(r)
}

func unmarshalAuction(data []byte) (*auction.Auction, error) {
	var r auctionRecord
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("msgpack unmarshal error: %w", err)
	}

	var amounts [3]decimal.Decimal
	for i, s := range []string{r.StartPrice, r.MinimumIncrement, r.CurrentHighestBid} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", s, err)
		}
		amounts[i] = d
	}

	a := &auction.Auction{
		ID:                r.ID,
		DealRoomID:        r.DealRoomID,
		ListingID:         r.ListingID,
		SellerID:          r.SellerID,
		Description:       r.Description,
		StartPrice:        amounts[0],
		MinimumIncrement:  amounts[1],
		CurrentHighestBid: amounts[2],
		HighestBidderID:   r.HighestBidderID,
		DurationMinutes:   r.DurationMinutes,
		EndAt:             r.EndAt.UTC(),
		State:             auction.State(r.State),
		Participants:      make([]auction.Participant, 0, len(r.Participants)),
		Bids:              make([]auction.Bid, 0, len(r.Bids)),
		Metadata:          r.Metadata,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
		StartedAt:         utcPtr(r.StartedAt),
		ClosedAt:          utcPtr(r.ClosedAt),
	}
	if a.Metadata == nil {
		a.Metadata = map[string]string{}
	}
	for _, pr := range r.Participants {
		p := auction.Participant{
			UserID:          pr.UserID,
			DisplayName:     pr.DisplayName,
			AvatarURL:       pr.AvatarURL,
			Role:            auction.Role(pr.Role),
			IsInvited:       pr.IsInvited,
			HasJoined:       pr.HasJoined,
			CommitmentScore: pr.CommitmentScore,
		}
		if pr.PriorOfferAmount != "" {
			d, err := decimal.NewFromString(pr.PriorOfferAmount)
			if err != nil {
				return nil, fmt.Errorf("invalid prior offer %q: %w", pr.PriorOfferAmount, err)
			}
			p.PriorOfferAmount = &d
		}
		a.Participants = append(a.Participants, p)
	}
	for _, br := range r.Bids {
		amount, err := decimal.NewFromString(br.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid bid amount %q: %w", br.Amount, err)
		}
		a.Bids = append(a.Bids, auction.Bid{
			ID:        br.ID,
			AuctionID: r.ID,
			BidderID:  br.BidderID,
			Amount:    amount,
			PlacedAt:  br.PlacedAt.UTC(),
			IsHighest: br.IsHighest,
			Sequence:  br.Sequence,
		})
	}
	return a, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
