package models

import (
	"github.com/shopspring/decimal"
)

// Participant 代表拍賣的賣家或受邀買家
// (AuctionID, UserID) 為複合主鍵
type Participant struct {
	AuctionID        string           `gorm:"type:uuid;primaryKey;<-:create"`
	UserID           string           `gorm:"type:text;primaryKey;<-:create"`
	DisplayName      string           `gorm:"type:varchar(255);not null;default:''"`
	AvatarURL        string           `gorm:"type:text;not null;default:''"`
	Role             string           `gorm:"type:varchar(16);not null"`
	IsInvited        bool             `gorm:"not null;default:false"`
	HasJoined        bool             `gorm:"not null;default:false"`
	PriorOfferAmount *decimal.Decimal `gorm:"type:numeric(20,4)"`
	CommitmentScore  float64          `gorm:"not null;default:0"`
}
