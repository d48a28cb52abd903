package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/smallnest/chanx"

	redisAdapter "livebid/adapters/redis"
	"livebid/auction"
	"livebid/broadcast"
)

// settlementQueue 以 Redis stream 保存送出失敗、等待重試的結算請求
type settlementQueue struct {
	writer  redisAdapter.IStreamWriter[auction.SettlementRequest]
	timeout time.Duration
}

var _ auction.IRetryQueue = (*settlementQueue)(nil)

func (q *settlementQueue) Enqueue(req auction.SettlementRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), max(q.timeout, 3*time.Second))
	defer cancel()
	if _, err := q.writer.Append(ctx, req); err != nil {
		return fmt.Errorf("[settlementQueue.Enqueue] auctionID=%s, err=%w", req.AuctionID, err)
	}
	return nil
}

var ErrRetryQueueClosed = errors.New("settlement retry queue is closed")

// memoryRetryQueue 沒有 Redis 時的結算重試佇列
// 只存在於本節點記憶體，程序結束時尚未送出的請求會遺失
type memoryRetryQueue struct {
	mu         sync.Mutex
	closed     bool
	upstream   *chanx.UnboundedChan[auction.SettlementRequest]
	cancelFunc context.CancelFunc
	logger     *slog.Logger
}

var _ auction.IRetryQueue = (*memoryRetryQueue)(nil)

func newMemoryRetryQueue(logger *slog.Logger, bufferSize int) *memoryRetryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &memoryRetryQueue{
		upstream:   chanx.NewUnboundedChan[auction.SettlementRequest](ctx, bufferSize),
		cancelFunc: cancel,
		logger:     logger.With(slog.String("caller", "MemoryRetryQueue")),
	}
}

func (q *memoryRetryQueue) Enqueue(req auction.SettlementRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("[memoryRetryQueue.Enqueue] auctionID=%s, err=%w", req.AuctionID, ErrRetryQueueClosed)
	}
	q.upstream.In <- req
	return nil
}

// run 逐筆重送，直到 ctx 結束或佇列關閉
func (q *memoryRetryQueue) run(ctx context.Context, handle func(context.Context, auction.SettlementRequest) error) {
	defer q.logger.Info("worker stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-q.upstream.Out:
			if !ok {
				return
			}
			if err := handle(ctx, req); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				// 沒有 dead-letter，只能留下紀錄讓營運人員手動補單
				q.logger.Error("settlement abandoned",
					slog.String("auctionID", req.AuctionID),
					slog.String("winnerID", req.WinnerID),
					slog.Any("error", err))
			}
		}
	}
}

func (q *memoryRetryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	if pending := q.upstream.Len(); pending > 0 {
		q.logger.Warn("settlement retries dropped on shutdown", slog.Int("pending", pending))
	}
	q.cancelFunc()
}

// consume 逐筆處理 consumer group 的消息，成功 ack、失敗移到 dead-letter
func consume[T any](ctx context.Context, logger *slog.Logger, reader redisAdapter.IGroupReader[T], handle func(context.Context, T) error) {
	defer logger.Info("worker stopped")
	ch := reader.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			logger.Debug("Receive message", slog.String("messageId", msg.ID))
			if handleErr := handle(ctx, msg.Data); handleErr != nil {
				if errors.Is(handleErr, context.Canceled) {
					// 關閉中，保留在 pending 讓下次啟動時重新處理
					return
				}
				logger.Error("Fail to handle message", slog.String("messageId", msg.ID), slog.Any("error", handleErr))
				if err := msg.Fail(ctx, handleErr); err != nil {
					logger.Error("Fail to fail message", slog.Any("error", err))
				}
				continue
			}
			if err := msg.Done(ctx); err != nil {
				logger.Error("Handle success but fail to done message", slog.Any("error", err))
			}
		}
	}
}

type frameHeader struct {
	Type      auction.EventType `json:"type"`
	AuctionID string            `json:"auction_id"`
}

// persistEvent 將事件對應的最新快照寫入 Postgres，終止時封存到 S3
func (impl *ServerImpl) persistEvent(ctx context.Context, env broadcast.Envelope) error {
	var header frameHeader
	if err := json.Unmarshal(env.Frame, &header); err != nil {
		return fmt.Errorf("fail to decode frame header, err=%w", err)
	}
	id := header.AuctionID
	if id == "" {
		id = env.AuctionID
	}

	a, err := impl.engine.Get(ctx, id)
	if errors.Is(err, auction.ErrNotFound) {
		// 已超過保留時間，最後一份快照早已寫入
		impl.logger.Debug("skip persisting expired auction", slog.String("auctionID", id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("fail to load auction, err=%w", err)
	}

	if impl.repository != nil {
		if err := impl.repository.Save(ctx, a); err != nil {
			return fmt.Errorf("fail to save auction, err=%w", err)
		}
	}
	if impl.archiver != nil && (header.Type == auction.EventAuctionEnded || header.Type == auction.EventAuctionCancelled) {
		location, err := impl.archiver.Archive(ctx, a)
		if err != nil {
			return fmt.Errorf("fail to archive auction, err=%w", err)
		}
		impl.logger.Info("auction snapshot archived", slog.String("auctionID", id), slog.String("location", location))
	}
	return nil
}

// retrySettlement 以指數退避重送結算請求，成功後記錄訂單 ID
// 重試次數用盡時回傳錯誤，消息會被移到 dead-letter
func (impl *ServerImpl) retrySettlement(ctx context.Context, req auction.SettlementRequest) error {
	req, err := req.Normalize()
	if err != nil {
		return fmt.Errorf("invalid settlement request, err=%w", err)
	}
	logger := impl.logger.With(slog.String("auctionID", req.AuctionID))

	a, err := impl.engine.Get(ctx, req.AuctionID)
	if err == nil && a.Metadata[auction.MetaOrderID] != "" {
		logger.Info("settlement already recorded, skip", slog.String("orderID", a.Metadata[auction.MetaOrderID]))
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	retries := impl.config.Settlement.MaxRetries
	if retries == 0 {
		retries = 8
	}
	timeout := max(impl.config.Settlement.Timeout, time.Second)

	orderID, err := backoff.RetryNotifyWithData(func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return impl.settler.CreateOrder(callCtx, req)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx), func(err error, next time.Duration) {
		logger.Warn("settlement retry failed", slog.Any("error", err), slog.Duration("next", next))
	})
	if err != nil {
		return fmt.Errorf("settlement retries exhausted, err=%w", err)
	}

	if _, err := impl.engine.RecordOrder(ctx, req.AuctionID, orderID); err != nil {
		if errors.Is(err, auction.ErrNotFound) {
			logger.Warn("order created for expired auction", slog.String("orderID", orderID))
			return nil
		}
		return fmt.Errorf("fail to record order, err=%w", err)
	}
	logger.Info("settlement delivered by retry worker", slog.String("orderID", orderID))
	return nil
}
