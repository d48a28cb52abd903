package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"livebid/auction"
)

type auctionStoreOptions struct {
	logger    *slog.Logger
	prefix    string
	retention time.Duration
	locker    *Locker
}

type AuctionStoreOption func(*auctionStoreOptions)

// WithAuctionStoreLogger 設置日誌記錄器
func WithAuctionStoreLogger(logger *slog.Logger) AuctionStoreOption {
	return func(o *auctionStoreOptions) {
		o.logger = logger
	}
}

// WithAuctionStorePrefix 設定 key 前綴
func WithAuctionStorePrefix(prefix string) AuctionStoreOption {
	return func(o *auctionStoreOptions) {
		o.prefix = prefix
	}
}

// WithAuctionStoreRetention 設定終止後的拍賣在 Redis 保留多久，0 代表永久保留
func WithAuctionStoreRetention(d time.Duration) AuctionStoreOption {
	return func(o *auctionStoreOptions) {
		o.retention = d
	}
}

// WithAuctionStoreLocker 注入自訂的 Locker
func WithAuctionStoreLocker(locker *Locker) AuctionStoreOption {
	return func(o *auctionStoreOptions) {
		o.locker = locker
	}
}

// AuctionStore 以 Redis 實作 auction.IStore，讓多個節點共用同一份拍賣狀態
//
// 資料配置:
//   - {prefix}auction:{id}       msgpack 編碼的拍賣紀錄
//   - {prefix}auction:{id}:lock  redsync 鎖，保護該拍賣的讀改寫
//   - {prefix}auctions:active    ZSET，score 為 end_at (unix ms)，供截止掃描使用
type AuctionStore struct {
	client  *redis.Client
	locker  *Locker
	logger  *slog.Logger
	options auctionStoreOptions
}

func NewAuctionStore(client *redis.Client, opts ...AuctionStoreOption) (*AuctionStore, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	// 默認選項
	options := auctionStoreOptions{
		logger: slog.Default(),
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	locker := options.locker
	if locker == nil {
		locker = NewLocker(client)
	}

	return &AuctionStore{
		client:  client,
		locker:  locker,
		logger:  options.logger.With(slog.String("caller", "AuctionStore")),
		options: options,
	}, nil
}

func (s *AuctionStore) recordKey(id string) string {
	return s.options.prefix + "auction:" + id
}

func (s *AuctionStore) lockKey(id string) string {
	return s.options.prefix + "auction:" + id + ":lock"
}

func (s *AuctionStore) activeKey() string {
	return s.options.prefix + "auctions:active"
}

func (s *AuctionStore) Create(ctx context.Context, a *auction.Auction) error {
	const op = "AuctionStore.Create"
	data, err := marshalAuction(a)
	if err != nil {
		return fmt.Errorf("[%s] Fail to encode auction, err=%w", op, err)
	}
	ok, err := s.client.SetNX(ctx, s.recordKey(a.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("[%s] Fail to write auction, err=%w", op, err)
	}
	if !ok {
		return fmt.Errorf("[%s] auction %s already exists", op, a.ID)
	}
	if a.State == auction.StateActive {
		if err := s.client.ZAdd(ctx, s.activeKey(), deadlineMember(a)).Err(); err != nil {
			return fmt.Errorf("[%s] Fail to index active auction, err=%w", op, err)
		}
	}
	return nil
}

func (s *AuctionStore) Get(ctx context.Context, id string) (*auction.Auction, error) {
	const op = "AuctionStore.Get"
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("auction %s: %w", id, auction.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to read auction, err=%w", op, err)
	}
	a, err := unmarshalAuction(data)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to decode auction %s, err=%w", op, id, err)
	}
	return a, nil
}

// Update 在拍賣鎖內讀取、修改並寫回紀錄
// 等鎖逾時回傳 auction.ErrLockTimeout；fn 回傳錯誤時不寫回。
// 讀到寫之間 WATCH 紀錄 key，即使 lease 在中途失效，也不會覆蓋其他節點較新的寫入。
func (s *AuctionStore) Update(ctx context.Context, id string, fn func(a *auction.Auction) error) (*auction.Auction, error) {
	const op = "AuctionStore.Update"
	lease, err := s.locker.Acquire(ctx, s.lockKey(id))
	if err != nil {
		if errors.Is(err, ErrLockNotAcquired) {
			return nil, fmt.Errorf("auction %s: %w: %w", id, auction.ErrLockTimeout, err)
		}
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	defer func() {
		if err := lease.Release(); err != nil {
			s.logger.Warn("fail to release auction lock", slog.String("auctionID", id), slog.Any("error", err))
		}
	}()

	key := s.recordKey(id)
	var updated *auction.Auction
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("auction %s: %w", id, auction.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("[%s] Fail to read auction, err=%w", op, err)
		}
		working, err := unmarshalAuction(data)
		if err != nil {
			return fmt.Errorf("[%s] Fail to decode auction %s, err=%w", op, id, err)
		}
		if err := fn(working); err != nil {
			return err
		}
		if !lease.Held() {
			return fmt.Errorf("[%s] lock on auction %s expired before commit: %w", op, id, auction.ErrLockTimeout)
		}
		if err := s.write(ctx, tx, working); err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
		updated = working
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		s.logger.Warn("auction changed by another writer, discarding update", slog.String("auctionID", id))
		return nil, fmt.Errorf("[%s] auction %s changed during update: %w", op, id, auction.ErrLockTimeout)
	}
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

func (s *AuctionStore) write(ctx context.Context, tx *redis.Tx, a *auction.Auction) error {
	data, err := marshalAuction(a)
	if err != nil {
		return fmt.Errorf("Fail to encode auction, err=%w", err)
	}
	var ttl time.Duration
	if a.State.IsTerminal() {
		ttl = s.options.retention
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(a.ID), data, ttl)
		if a.State == auction.StateActive {
			pipe.ZAdd(ctx, s.activeKey(), deadlineMember(a))
		} else {
			pipe.ZRem(ctx, s.activeKey(), a.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Fail to write auction, err=%w", err)
	}
	return nil
}

// ListDue 回傳 end_at 已到的 active 拍賣
func (s *AuctionStore) ListDue(ctx context.Context, now time.Time) ([]string, error) {
	const op = "AuctionStore.ListDue"
	ids, err := s.client.ZRangeByScore(ctx, s.activeKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to query active index, err=%w", op, err)
	}
	return ids, nil
}

func deadlineMember(a *auction.Auction) redis.Z {
	return redis.Z{
		Score:  float64(a.EndAt.UnixMilli()),
		Member: a.ID,
	}
}
