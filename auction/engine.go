package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// errNoop 用於在 Update 內放棄寫回(例如重複的截止檢查)
var errNoop = errors.New("noop")

type engineOptions struct {
	logger            *slog.Logger
	metrics           *Metrics
	publisher         IPublisher
	settler           ISettler
	retryQueue        IRetryQueue
	eligibility       []EligibilityCheck
	clock             func() time.Time
	lockTimeout       time.Duration
	lockRetries       int
	settlementTimeout time.Duration
}

type EngineOption func(*engineOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithMetrics 設置監控指標
func WithMetrics(m *Metrics) EngineOption {
	return func(o *engineOptions) {
		o.metrics = m
	}
}

// WithPublisher 設置事件推送的對象
func WithPublisher(p IPublisher) EngineOption {
	return func(o *engineOptions) {
		o.publisher = p
	}
}

// WithSettler 設置外部訂單服務
func WithSettler(s ISettler) EngineOption {
	return func(o *engineOptions) {
		o.settler = s
	}
}

// WithRetryQueue 設置結算失敗時的重試佇列
func WithRetryQueue(q IRetryQueue) EngineOption {
	return func(o *engineOptions) {
		o.retryQueue = q
	}
}

// WithEligibility 加入出價資格檢查(例如餘額)
func WithEligibility(check EligibilityCheck) EngineOption {
	return func(o *engineOptions) {
		o.eligibility = append(o.eligibility, check)
	}
}

// WithClock 設置時間來源 (主要用於測試)
func WithClock(clock func() time.Time) EngineOption {
	return func(o *engineOptions) {
		o.clock = clock
	}
}

// WithLockTimeout 設置等待拍賣鎖的上限，以及逾時後的重試次數
func WithLockTimeout(d time.Duration, retries int) EngineOption {
	return func(o *engineOptions) {
		o.lockTimeout = d
		o.lockRetries = retries
	}
}

// WithSettlementTimeout 設置呼叫外部訂單服務的逾時
func WithSettlementTimeout(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		o.settlementTimeout = d
	}
}

// Engine 拍賣狀態機
// 所有狀態變化都在拍賣鎖內完成，事件推送與結算呼叫則在鎖釋放後進行
type Engine struct {
	store   IStore
	logger  *slog.Logger
	options engineOptions
}

func NewEngine(store IStore, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}

	// 默認選項
	options := engineOptions{
		logger:            slog.Default(),
		metrics:           NopMetrics(),
		publisher:         NopPublisher{},
		clock:             time.Now,
		lockTimeout:       5 * time.Second,
		lockRetries:       1,
		settlementTimeout: 5 * time.Second,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Engine{
		store:   store,
		logger:  options.logger.With(slog.String("caller", "Engine")),
		options: options,
	}, nil
}

// Create 建立拍賣，AutoStart 時直接進入 active
func (e *Engine) Create(ctx context.Context, sellerID string, cfg Config) (*Auction, error) {
	const op = "Engine.Create"
	now := e.options.clock()
	a, err := NewAuction(sellerID, cfg, now)
	if err != nil {
		return nil, err
	}
	if cfg.AutoStart {
		if err := a.TransitionState(StateActive, nil, now); err != nil {
			return nil, fmt.Errorf("[%s] %w", op, err)
		}
	}
	if err := e.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("[%s] Fail to store auction, err=%w", op, err)
	}
	e.logger.Info("auction created",
		slog.String("auctionID", a.ID),
		slog.String("sellerID", sellerID),
		slog.String("state", string(a.State)),
		slog.Time("endAt", a.EndAt))

	e.publish(snapshotEvent(EventAuctionCreated, a))
	if a.State == StateActive {
		e.options.metrics.Transitions.With("state", string(StateActive)).Add(1)
		e.publish(snapshotEvent(EventAuctionStarted, a))
	}
	return a.Clone(), nil
}

// Get 讀取拍賣目前的狀態
func (e *Engine) Get(ctx context.Context, id string) (*Auction, error) {
	return e.store.Get(ctx, id)
}

// Start setup -> active
func (e *Engine) Start(ctx context.Context, id, actorID string) (*Auction, error) {
	const op = "Engine.Start"
	updated, err := e.update(ctx, id, func(a *Auction) error {
		if err := authorize(a, actorID); err != nil {
			return err
		}
		return a.TransitionState(StateActive, nil, e.options.clock())
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	e.options.metrics.Transitions.With("state", string(StateActive)).Add(1)
	e.logger.Info("auction started", slog.String("auctionID", id), slog.String("actor", actorID))
	e.publish(snapshotEvent(EventAuctionStarted, updated))
	return updated, nil
}

// SubmitBid 驗證並套用一筆出價
// 驗證與寫入在同一個拍賣鎖內完成，因此兩筆出價不可能用同一個最高價快照同時成功。
// 被拒絕時回傳 *Rejection 且不改變任何狀態，呼叫端不得廣播。
func (e *Engine) SubmitBid(ctx context.Context, id, bidderID string, amount decimal.Decimal, now time.Time) (*Bid, error) {
	const op = "Engine.SubmitBid"
	var (
		accepted Bid
		previous string
		// 取得鎖之後才開始計時，等鎖的時間不算在 bid_apply_seconds 內
		lockedAt time.Time
	)
	updated, err := e.update(ctx, id, func(a *Auction) error {
		lockedAt = time.Now()
		if err := Validate(a, bidderID, amount, now, e.options.eligibility...); err != nil {
			return err
		}
		previous = ""
		if prev := a.HighestBid(); prev != nil {
			previous = prev.ID
		}
		accepted = Bid{
			ID:        uuid.NewString(),
			AuctionID: a.ID,
			BidderID:  bidderID,
			Amount:    amount,
			PlacedAt:  now.UTC(),
		}
		if err := a.AppendBid(accepted); err != nil {
			return err
		}
		accepted = a.Bids[len(a.Bids)-1]
		return nil
	})
	if !lockedAt.IsZero() {
		e.options.metrics.BidApplySeconds.Observe(time.Since(lockedAt).Seconds())
	}
	if err != nil {
		if rejection, ok := AsRejection(err); ok {
			e.options.metrics.BidsRejected.With("reason", string(rejection.Reason)).Add(1)
			e.logger.Debug("bid rejected",
				slog.String("auctionID", id),
				slog.String("bidderID", bidderID),
				slog.String("amount", amount.String()),
				slog.String("reason", string(rejection.Reason)))
			return nil, rejection
		}
		return nil, fmt.Errorf("[%s] %w", op, err)
	}

	e.options.metrics.BidsAccepted.Add(1)
	e.logger.Info("bid accepted",
		slog.String("auctionID", id),
		slog.String("bidderID", bidderID),
		slog.String("amount", amount.String()))
	e.publish(bidAcceptedEvent(updated, accepted, previous))
	return &accepted, nil
}

// EvaluateDeadline 截止時間已到的 active 拍賣轉為 ended
// 可重複呼叫：拍賣已結束或尚未到期時不做任何事，回傳 false
func (e *Engine) EvaluateDeadline(ctx context.Context, id string, now time.Time) (bool, error) {
	const op = "Engine.EvaluateDeadline"
	updated, err := e.update(ctx, id, func(a *Auction) error {
		if a.State != StateActive || now.Before(a.EndAt) {
			return errNoop
		}
		return closeAuction(a, now)
	})
	if errors.Is(err, errNoop) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("[%s] %w", op, err)
	}
	e.logger.Info("auction deadline reached", slog.String("auctionID", id))
	e.afterEnded(ctx, updated)
	return true, nil
}

// End 賣家(或系統)提前結束拍賣，結算方式與截止相同
func (e *Engine) End(ctx context.Context, id, actorID string) (*Auction, error) {
	const op = "Engine.End"
	updated, err := e.update(ctx, id, func(a *Auction) error {
		if err := authorize(a, actorID); err != nil {
			return err
		}
		if a.State != StateActive {
			return fmt.Errorf("%w: cannot end %s auction", ErrInvalidTransition, a.State)
		}
		return closeAuction(a, e.options.clock())
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	e.logger.Info("auction ended manually", slog.String("auctionID", id), slog.String("actor", actorID))
	return e.afterEnded(ctx, updated), nil
}

// Cancel setup|active -> cancelled，不結算，出價紀錄保留供稽核
func (e *Engine) Cancel(ctx context.Context, id, actorID string) (*Auction, error) {
	const op = "Engine.Cancel"
	updated, err := e.update(ctx, id, func(a *Auction) error {
		if err := authorize(a, actorID); err != nil {
			return err
		}
		return a.TransitionState(StateCancelled, nil, e.options.clock())
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	e.options.metrics.Transitions.With("state", string(StateCancelled)).Add(1)
	e.logger.Info("auction cancelled", slog.String("auctionID", id), slog.String("actor", actorID))
	e.publish(snapshotEvent(EventAuctionCancelled, updated))
	return updated, nil
}

// MarkJoined 確認使用者可以觀看拍賣頻道並記錄已加入，只有賣家與受邀者可以加入
func (e *Engine) MarkJoined(ctx context.Context, id, userID string) (*Auction, error) {
	const op = "Engine.MarkJoined"
	a, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	p, ok := a.Participant(userID)
	if !ok {
		return nil, fmt.Errorf("[%s] %w: %s is not a participant of auction %s", op, ErrForbidden, userID, id)
	}
	if p.HasJoined || a.State.IsTerminal() {
		return a, nil
	}
	updated, err := e.update(ctx, id, func(a *Auction) error {
		if a.State.IsTerminal() || !a.markJoined(userID) {
			return errNoop
		}
		return nil
	})
	if errors.Is(err, errNoop) {
		return e.store.Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	return updated, nil
}

// RecordOrder 記錄外部服務建立的訂單 ID，已有訂單時保留第一筆
func (e *Engine) RecordOrder(ctx context.Context, id, orderID string) (*Auction, error) {
	const op = "Engine.RecordOrder"
	updated, err := e.update(ctx, id, func(a *Auction) error {
		if existing := a.Metadata[MetaOrderID]; existing != "" {
			if existing != orderID {
				e.logger.Warn("auction already linked to another order",
					slog.String("auctionID", id),
					slog.String("orderID", existing),
					slog.String("ignoredOrderID", orderID))
			}
			return errNoop
		}
		return a.patchSettlement(map[string]string{MetaOrderID: orderID}, e.options.clock())
	})
	if errors.Is(err, errNoop) {
		return e.store.Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	e.logger.Info("settlement order recorded", slog.String("auctionID", id), slog.String("orderID", orderID))
	return updated, nil
}

// IsPaymentComplete 回報得標者是否已完成付款
// 付款狀態由外部服務擁有，這裡只在確認已付款後記錄旗標
func (e *Engine) IsPaymentComplete(ctx context.Context, id string) (bool, error) {
	const op = "Engine.IsPaymentComplete"
	a, err := e.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("[%s] %w", op, err)
	}
	if a.Metadata[MetaPaymentCompleted] == "true" {
		return true, nil
	}
	orderID := a.Metadata[MetaOrderID]
	if orderID == "" {
		return false, nil
	}
	if e.options.settler == nil {
		return false, fmt.Errorf("[%s] %w", op, ErrSettlementUnavailable)
	}
	statusCtx, cancel := context.WithTimeout(ctx, e.options.settlementTimeout)
	defer cancel()
	status, err := e.options.settler.GetPaymentStatus(statusCtx, orderID)
	if err != nil {
		return false, fmt.Errorf("[%s] %w: %w", op, ErrSettlementUnavailable, err)
	}
	if status != PaymentPaid {
		return false, nil
	}
	_, err = e.update(ctx, id, func(a *Auction) error {
		if a.Metadata[MetaPaymentCompleted] == "true" {
			return errNoop
		}
		return a.patchSettlement(map[string]string{MetaPaymentCompleted: "true"}, e.options.clock())
	})
	if err != nil && !errors.Is(err, errNoop) {
		e.logger.Warn("fail to persist payment completion", slog.String("auctionID", id), slog.Any("error", err))
	}
	return true, nil
}

// afterEnded 在鎖外推送結束事件並送出唯一一次的結算請求
func (e *Engine) afterEnded(ctx context.Context, a *Auction) *Auction {
	e.options.metrics.Transitions.With("state", string(StateEnded)).Add(1)
	e.publish(auctionEndedEvent(a))

	req, ok := NewSettlementRequest(a)
	if !ok {
		e.logger.Info("auction ended without bids, no settlement", slog.String("auctionID", a.ID))
		return a
	}
	orderID, err := e.emitSettlement(ctx, req)
	if err != nil {
		return a
	}
	updated, err := e.RecordOrder(ctx, a.ID, orderID)
	if err != nil {
		e.logger.Error("fail to record settlement order", slog.String("auctionID", a.ID), slog.Any("error", err))
		return a
	}
	return updated
}

func (e *Engine) emitSettlement(ctx context.Context, req SettlementRequest) (string, error) {
	logger := e.logger.With(slog.String("auctionID", req.AuctionID), slog.String("winnerID", req.WinnerID))
	if e.options.settler == nil {
		e.enqueueSettlement(logger, req)
		return "", ErrSettlementUnavailable
	}
	// 結算呼叫不跟著請求一起取消，但有逾時上限
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.options.settlementTimeout)
	defer cancel()
	orderID, err := e.options.settler.CreateOrder(settleCtx, req)
	if err != nil {
		e.options.metrics.Settlements.With("outcome", "failed").Add(1)
		logger.Warn("settlement emission failed", slog.Any("error", err))
		e.enqueueSettlement(logger, req)
		return "", err
	}
	e.options.metrics.Settlements.With("outcome", "ok").Add(1)
	logger.Info("settlement emitted", slog.String("orderID", orderID), slog.String("amount", req.FinalAmount.String()))
	return orderID, nil
}

func (e *Engine) enqueueSettlement(logger *slog.Logger, req SettlementRequest) {
	if e.options.retryQueue == nil {
		logger.Error("settlement dropped, no retry queue configured")
		return
	}
	if err := e.options.retryQueue.Enqueue(req); err != nil {
		logger.Error("fail to enqueue settlement for retry", slog.Any("error", err))
		return
	}
	e.options.metrics.Settlements.With("outcome", "queued").Add(1)
}

func (e *Engine) publish(ev Event) {
	if err := e.options.publisher.Publish(ev.AuctionID, ev); err != nil {
		e.logger.Warn("fail to publish auction event",
			slog.String("auctionID", ev.AuctionID),
			slog.String("type", string(ev.Type)),
			slog.Any("error", err))
	}
}

// update 以有上限的等待時間取得拍賣鎖，逾時視為暫時性錯誤並重試
func (e *Engine) update(ctx context.Context, id string, fn func(a *Auction) error) (*Auction, error) {
	var lastErr error
	for attempt := 0; attempt <= e.options.lockRetries; attempt++ {
		lockCtx, cancel := context.WithTimeout(ctx, e.options.lockTimeout)
		a, err := e.store.Update(lockCtx, id, fn)
		cancel()
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, ErrLockTimeout) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		e.logger.Warn("auction lock contention, retrying", slog.String("auctionID", id), slog.Int("attempt", attempt+1))
	}
	return nil, lastErr
}

func closeAuction(a *Auction, now time.Time) error {
	patch := settlementPatch(a, now.UTC().Format(time.RFC3339Nano))
	return a.TransitionState(StateEnded, patch, now)
}

func authorize(a *Auction, actorID string) error {
	if actorID == SystemActor || actorID == a.SellerID {
		return nil
	}
	return fmt.Errorf("%w: only the seller can manage auction %s", ErrForbidden, a.ID)
}
