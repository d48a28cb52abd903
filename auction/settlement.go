package auction

import (
	"github.com/shopspring/decimal"
)

// PaymentStatus 外部付款服務回報的訂單狀態
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// SettlementRequest 要求外部服務為得標者建立待付款訂單
type SettlementRequest struct {
	AuctionID   string          `json:"auction_id" msgpack:"auction_id"`
	WinnerID    string          `json:"winner_id" msgpack:"winner_id"`
	SellerID    string          `json:"seller_id" msgpack:"seller_id"`
	FinalAmount decimal.Decimal `json:"final_amount" msgpack:"-"`
	// FinalAmountText 供 msgpack 使用的金額字串
	FinalAmountText string `json:"-" msgpack:"final_amount"`
}

// NewSettlementRequest 由已結束且有得標者的拍賣建立結算請求
func NewSettlementRequest(a *Auction) (SettlementRequest, bool) {
	winner := a.WinnerID()
	if a.State != StateEnded || winner == "" {
		return SettlementRequest{}, false
	}
	amount, err := decimal.NewFromString(a.Metadata[MetaFinalAmount])
	if err != nil {
		amount = a.CurrentHighestBid
	}
	return SettlementRequest{
		AuctionID:       a.ID,
		WinnerID:        winner,
		SellerID:        a.SellerID,
		FinalAmount:     amount,
		FinalAmountText: amount.String(),
	}, true
}

// Normalize 在經過 msgpack 傳輸後還原金額欄位
func (r SettlementRequest) Normalize() (SettlementRequest, error) {
	if r.FinalAmountText == "" {
		r.FinalAmountText = r.FinalAmount.String()
		return r, nil
	}
	amount, err := decimal.NewFromString(r.FinalAmountText)
	if err != nil {
		return r, err
	}
	r.FinalAmount = amount
	return r, nil
}

// settlementPatch 計算結束時寫入 metadata 的得標資訊，沒有出價時回傳 nil
func settlementPatch(a *Auction, requestedAt string) map[string]string {
	if len(a.Bids) == 0 || a.HighestBidderID == "" {
		return nil
	}
	return map[string]string{
		MetaWinnerID:              a.HighestBidderID,
		MetaFinalAmount:           a.CurrentHighestBid.String(),
		MetaSettlementRequestedAt: requestedAt,
	}
}
