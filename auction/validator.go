package auction

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// 金額必須放得進資料庫的 numeric(20,4)
const (
	MaxAmountScale         = 4
	MaxAmountIntegerDigits = 16
)

var maxAmount = decimal.New(1, MaxAmountIntegerDigits)

// AmountFits 金額最多 4 位小數、16 位整數
func AmountFits(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MaxAmountScale)) && d.Abs().LessThan(maxAmount)
}

// EligibilityCheck 由呼叫端提供的額外資格檢查(例如可用餘額)
// 回傳 false 時出價以 InsufficientFunds 拒絕
type EligibilityCheck func(bidderID string, amount decimal.Decimal) bool

// Validate 判斷一筆出價是否可以被接受
// 規則依序檢查，第一個失敗的規則決定拒絕原因：
//  1. 拍賣必須是 active
//  2. now 必須早於 end_at(計時器尚未觸發但已過期也視為過期)
//  3. 賣家不能出價
//  4. 金額必須 >= 目前最高價 + 最小加價，且精度與位數放得進儲存欄位
//  5. 呼叫端提供的資格檢查
//
// 沒有副作用，相同輸入永遠得到相同結果。接受時回傳 nil，否則回傳 *Rejection。
func Validate(a *Auction, bidderID string, amount decimal.Decimal, now time.Time, checks ...EligibilityCheck) error {
	minimum := a.MinimumAcceptable()

	if a.State != StateActive {
		return &Rejection{
			Reason:            ReasonAuctionNotActive,
			Message:           inactiveMessage(a, bidderID),
			MinimumAcceptable: minimum,
		}
	}
	if !now.Before(a.EndAt) {
		return &Rejection{
			Reason:            ReasonAuctionExpired,
			Message:           fmt.Sprintf("too late: bidding closed at %s", a.EndAt.UTC().Format(time.RFC3339)),
			MinimumAcceptable: minimum,
		}
	}
	if bidderID == a.SellerID {
		return &Rejection{
			Reason:            ReasonSellerCannotBid,
			Message:           "sellers cannot bid on their own auction",
			MinimumAcceptable: minimum,
		}
	}
	if amount.LessThan(minimum) {
		return &Rejection{
			Reason:            ReasonBidTooLow,
			Message:           fmt.Sprintf("bid must be at least %s", minimum.String()),
			MinimumAcceptable: minimum,
		}
	}
	if !AmountFits(amount) {
		return &Rejection{
			Reason: ReasonBidTooLow,
			Message: fmt.Sprintf("bid amount %s must have at most %d decimal places and %d integer digits",
				amount.String(), MaxAmountScale, MaxAmountIntegerDigits),
			MinimumAcceptable: minimum,
		}
	}
	for _, check := range checks {
		if check != nil && !check(bidderID, amount) {
			return &Rejection{
				Reason:            ReasonInsufficientFunds,
				Message:           fmt.Sprintf("available balance does not cover %s", amount.String()),
				MinimumAcceptable: minimum,
			}
		}
	}
	return nil
}

// inactiveMessage 區分「太慢了」和「別人已經得標」
func inactiveMessage(a *Auction, bidderID string) string {
	switch a.State {
	case StateSetup:
		return "auction has not started yet"
	case StateCancelled:
		return "auction was cancelled by the seller"
	case StateEnded:
		winner := a.WinnerID()
		switch {
		case winner == "":
			return "too late: auction closed without a winner"
		case winner == bidderID:
			return "auction is over and you already won it"
		default:
			return "auction is over: someone else already won"
		}
	}
	return fmt.Sprintf("auction is %s", a.State)
}
