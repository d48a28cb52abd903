package models

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"livebid/auction"
)

// Tables 回傳需要遷移的資料表，供 atlas loader 使用
func Tables() []any {
	return []any{&Auction{}, &Participant{}, &Bid{}}
}

// AuctionRepository 以 gorm 讀寫拍賣的持久化副本
type AuctionRepository struct {
	db *gorm.DB
}

func NewAuctionRepository(db *gorm.DB) (*AuctionRepository, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &AuctionRepository{db: db}, nil
}

// Save 以 upsert 寫入拍賣快照，重複寫入同一份快照結果不變
func (r *AuctionRepository) Save(ctx context.Context, a *auction.Auction) error {
	const op = "AuctionRepository.Save"
	row := FromAuction(a)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 拍賣本身
		if result := tx.Clauses(clause.OnConflict{UpdateAll: true}).
			Omit(clause.Associations).
			Create(&row); result.Error != nil {
			return fmt.Errorf("fail to upsert auction, err=%w", result.Error)
		}
		// 參與者
		if len(row.Participants) > 0 {
			if result := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "auction_id"}, {Name: "user_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"display_name", "avatar_url", "role", "is_invited", "has_joined",
					"prior_offer_amount", "commitment_score",
				}),
			}).Create(&row.Participants); result.Error != nil {
				return fmt.Errorf("fail to upsert participants, err=%w", result.Error)
			}
		}
		// 出價只會新增，已存在的只更新是否領先
		if len(row.Bids) > 0 {
			if result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"is_highest"}),
			}).Create(&row.Bids); result.Error != nil {
				return fmt.Errorf("fail to upsert bids, err=%w", result.Error)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("[%s] auctionID=%s, err=%w", op, a.ID, err)
	}
	return nil
}

// Find 讀取持久化的拍賣，不存在時回傳 auction.ErrNotFound
func (r *AuctionRepository) Find(ctx context.Context, id string) (*auction.Auction, error) {
	const op = "AuctionRepository.Find"
	row := Auction{ID: id}
	result := r.db.WithContext(ctx).
		Preload("Participants").
		Preload("Bids", func(db *gorm.DB) *gorm.DB {
			return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "sequence"}})
		}).
		First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("[%s] %w: %s", op, auction.ErrNotFound, id)
		}
		return nil, fmt.Errorf("[%s] Fail to find auction, err=%w", op, result.Error)
	}
	return row.ToAuction(), nil
}
