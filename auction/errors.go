package auction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// 設定與狀態轉換錯誤
var (
	ErrInvalidConfiguration  = errors.New("invalid auction configuration")
	ErrNotFound              = errors.New("auction not found")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrForbidden             = errors.New("actor is not allowed to perform this action")
	ErrLockTimeout           = errors.New("timed out waiting for auction lock")
	ErrSettlementUnavailable = errors.New("settlement collaborator unavailable")
)

// 出價被拒絕的原因，同時可用於 errors.Is
var (
	ErrAuctionNotActive  = errors.New("auction is not active")
	ErrAuctionExpired    = errors.New("auction has expired")
	ErrSellerCannotBid   = errors.New("seller cannot bid on own auction")
	ErrBidTooLow         = errors.New("bid amount too low")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// RejectReason 對外的拒絕代碼
type RejectReason string

const (
	ReasonAuctionNotActive  RejectReason = "AuctionNotActive"
	ReasonAuctionExpired    RejectReason = "AuctionExpired"
	ReasonSellerCannotBid   RejectReason = "SellerCannotBid"
	ReasonBidTooLow         RejectReason = "BidTooLow"
	ReasonInsufficientFunds RejectReason = "InsufficientFunds"
)

var reasonErrors = map[RejectReason]error{
	ReasonAuctionNotActive:  ErrAuctionNotActive,
	ReasonAuctionExpired:    ErrAuctionExpired,
	ReasonSellerCannotBid:   ErrSellerCannotBid,
	ReasonBidTooLow:         ErrBidTooLow,
	ReasonInsufficientFunds: ErrInsufficientFunds,
}

// Rejection 描述一筆被拒絕的出價
// MinimumAcceptable 讓客戶端可以直接提示使用者重新出價
type Rejection struct {
	Reason            RejectReason
	Message           string
	MinimumAcceptable decimal.Decimal
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("bid rejected (%s): %s", r.Reason, r.Message)
}

// Unwrap 讓 errors.Is(err, ErrBidTooLow) 之類的判斷成立
func (r *Rejection) Unwrap() error {
	return reasonErrors[r.Reason]
}

// AsRejection 取出錯誤鏈中的 Rejection
func AsRejection(err error) (*Rejection, bool) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}
