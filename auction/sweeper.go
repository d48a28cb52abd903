package auction

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type sweeperOptions struct {
	logger   *slog.Logger
	interval time.Duration
	clock    func() time.Time
}

type SweeperOption func(*sweeperOptions)

// WithSweeperLogger 設置日誌記錄器
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(o *sweeperOptions) {
		o.logger = logger
	}
}

// WithSweeperInterval 設置掃描間隔
func WithSweeperInterval(d time.Duration) SweeperOption {
	return func(o *sweeperOptions) {
		o.interval = d
	}
}

// WithSweeperClock 設置時間來源 (主要用於測試)
func WithSweeperClock(clock func() time.Time) SweeperOption {
	return func(o *sweeperOptions) {
		o.clock = clock
	}
}

// Sweeper 定期找出已到期的 active 拍賣並觸發截止
// 截止判斷本身是冪等的，重複或遲到的觸發都不會造成二次結算
type Sweeper struct {
	engine     *Engine
	store      IStore
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	logger     *slog.Logger
	options    sweeperOptions
}

func NewSweeper(engine *Engine, opts ...SweeperOption) *Sweeper {
	options := sweeperOptions{
		logger:   slog.Default(),
		interval: 2 * time.Second,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Sweeper{
		engine:  engine,
		store:   engine.store,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Sweeper")),
		options: options,
	}
}

func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("starting deadline sweeper", slog.Duration("interval", s.options.interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("deadline sweeper stopped")

		ticker := time.NewTicker(s.options.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep 執行一輪掃描，回傳本輪結束的拍賣數量
func (s *Sweeper) Sweep(ctx context.Context) int {
	now := s.options.clock()
	ids, err := s.store.ListDue(ctx, now)
	if err != nil {
		s.logger.Error("fail to list due auctions", slog.Any("error", err))
		return 0
	}
	ended := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return ended
		}
		ok, err := s.engine.EvaluateDeadline(ctx, id, now)
		if err != nil {
			s.logger.Error("fail to evaluate deadline", slog.String("auctionID", id), slog.Any("error", err))
			continue
		}
		if ok {
			ended++
		}
	}
	return ended
}

func (s *Sweeper) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancelFunc()
	s.mu.Unlock()
	s.wg.Wait()
}
