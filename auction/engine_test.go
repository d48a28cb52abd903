package auction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Create(t *testing.T) {
	t.Run("setup then start by seller", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()

		a, err := f.engine.Create(ctx, "seller", testConfig())
		require.NoError(t, err)
		assert.Equal(t, StateSetup, a.State)
		assert.Len(t, f.publisher.ofType(EventAuctionCreated), 1)

		_, err = f.engine.Start(ctx, a.ID, "buyer-a")
		assert.ErrorIs(t, err, ErrForbidden)

		started, err := f.engine.Start(ctx, a.ID, "seller")
		require.NoError(t, err)
		assert.Equal(t, StateActive, started.State)
		assert.NotNil(t, started.StartedAt)
		assert.Len(t, f.publisher.ofType(EventAuctionStarted), 1)

		_, err = f.engine.Start(ctx, a.ID, "seller")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("invalid configuration creates nothing", func(t *testing.T) {
		f := newEngineFixture(t)
		cfg := testConfig()
		cfg.DurationMinutes = -5
		_, err := f.engine.Create(context.Background(), "seller", cfg)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
		assert.Empty(t, f.publisher.events)
	})

	t.Run("nil store", func(t *testing.T) {
		_, err := NewEngine(nil)
		assert.Error(t, err)
	})
}

func TestEngine_SubmitBid(t *testing.T) {
	ctx := context.Background()

	t.Run("below increment then at minimum", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.activeAuction(t)
		now := baseTime.Add(time.Minute)

		_, err := f.engine.SubmitBid(ctx, a.ID, "buyer-a", dec("105"), now)
		rejection, ok := AsRejection(err)
		require.True(t, ok)
		assert.Equal(t, ReasonBidTooLow, rejection.Reason)
		assert.True(t, rejection.MinimumAcceptable.Equal(dec("110")))
		assert.Empty(t, f.publisher.ofType(EventBidAccepted))

		bid, err := f.engine.SubmitBid(ctx, a.ID, "buyer-a", dec("110"), now)
		require.NoError(t, err)
		assert.True(t, bid.IsHighest)
		assert.Equal(t, 1, bid.Sequence)

		events := f.publisher.ofType(EventBidAccepted)
		require.Len(t, events, 1)
		assert.True(t, events[0].CurrentHighestBid.Equal(dec("110")))
		assert.Equal(t, "buyer-a", events[0].HighestBidderID)
		assert.Empty(t, events[0].PreviousHighestBidID)

		got, err := f.engine.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Len(t, got.Bids, 1)
		assert.True(t, got.CurrentHighestBid.Equal(dec("110")))
	})

	t.Run("outbid references previous leader", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.activeAuction(t)
		now := baseTime.Add(time.Minute)

		first, err := f.engine.SubmitBid(ctx, a.ID, "buyer-a", dec("110"), now)
		require.NoError(t, err)
		_, err = f.engine.SubmitBid(ctx, a.ID, "buyer-b", dec("150"), now)
		require.NoError(t, err)

		events := f.publisher.ofType(EventBidAccepted)
		require.Len(t, events, 2)
		assert.Equal(t, first.ID, events[1].PreviousHighestBidID)

		// 客戶端依 sequence / bid_count 判斷事件先後
		assert.Equal(t, 1, events[0].Bid.Sequence)
		assert.Equal(t, 2, events[1].Bid.Sequence)
		assert.Equal(t, 1, events[0].BidCount)
		assert.Equal(t, 2, events[1].BidCount)
	})

	t.Run("seller bid rejected", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.activeAuction(t)
		_, err := f.engine.SubmitBid(ctx, a.ID, "seller", dec("500"), baseTime.Add(time.Minute))
		assert.ErrorIs(t, err, ErrSellerCannotBid)
	})

	t.Run("expired before sweep", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.activeAuction(t)
		_, err := f.engine.SubmitBid(ctx, a.ID, "buyer-a", dec("500"), a.EndAt.Add(time.Second))
		assert.ErrorIs(t, err, ErrAuctionExpired)

		got, err := f.engine.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Bids)
		assert.Equal(t, StateActive, got.State)
	})

	t.Run("eligibility hook", func(t *testing.T) {
		f := newEngineFixture(t, WithEligibility(func(bidder string, _ decimal.Decimal) bool {
			return bidder != "buyer-b"
		}))
		a := f.activeAuction(t)
		_, err := f.engine.SubmitBid(ctx, a.ID, "buyer-b", dec("200"), baseTime.Add(time.Minute))
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("unknown auction", func(t *testing.T) {
		f := newEngineFixture(t)
		_, err := f.engine.SubmitBid(ctx, "missing", "buyer-a", dec("500"), baseTime)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// recordingHistogram 記錄所有觀測值
type recordingHistogram struct {
	mu     sync.Mutex
	values []float64
}

func (h *recordingHistogram) With(...string) metrics.Histogram { return h }

func (h *recordingHistogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = append(h.values, v)
}

func (h *recordingHistogram) observed() []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]float64(nil), h.values...)
}

func TestEngine_BidApplySecondsExcludesLockWait(t *testing.T) {
	ctx := context.Background()
	histogram := &recordingHistogram{}
	m := NopMetrics()
	m.BidApplySeconds = histogram
	f := newEngineFixture(t, WithMetrics(m))
	a := f.activeAuction(t)

	// 另一個寫入者先佔住拍賣鎖
	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.store.Update(ctx, a.ID, func(*Auction) error {
			close(locked)
			<-release
			return errNoop
		})
	}()
	<-locked

	hold := 300 * time.Millisecond
	time.AfterFunc(hold, func() { close(release) })
	started := time.Now()
	_, err := f.engine.SubmitBid(ctx, a.ID, "buyer-a", dec("110"), baseTime.Add(time.Minute))
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(started), hold)
	<-done

	values := histogram.observed()
	require.Len(t, values, 1)
	assert.Less(t, values[0], hold.Seconds()/2)

	t.Run("not observed when lock never acquired", func(t *testing.T) {
		_, err := f.engine.SubmitBid(ctx, "missing", "buyer-a", dec("500"), baseTime)
		require.ErrorIs(t, err, ErrNotFound)
		assert.Len(t, histogram.observed(), 1)
	})
}

func TestEngine_ConcurrentBids(t *testing.T) {
	f := newEngineFixture(t)
	a := f.activeAuction(t)
	now := baseTime.Add(time.Minute)

	const bidders = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	start := make(chan struct{})
	for i := 0; i < bidders; i++ {
		bidder := "buyer-a"
		if i%2 == 1 {
			bidder = "buyer-b"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.engine.SubmitBid(context.Background(), a.ID, bidder, dec("110"), now)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			if _, ok := AsRejection(err); ok {
				rejected++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, bidders-1, rejected)

	got, err := f.engine.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Len(t, got.Bids, 1)
	assert.Len(t, f.publisher.ofType(EventBidAccepted), 1)
}

func TestEngine_EvaluateDeadline(t *testing.T) {
	ctx := context.Background()

	t.Run("winner settles once", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.activeAuction(t)
		_, err := f.engine.SubmitBid(ctx, a.ID, "buyer-a", dec("150"), baseTime.Add(time.Minute))
		require.NoError(t, err)

		ended, err := f.engine.EvaluateDeadline(ctx, a.ID, a.EndAt.Add(-time.Second))
		require.NoError(t, err)
		assert.False(t, ended)

		for i := 0; i < 3; i++ {
			ended, err = f.engine.EvaluateDeadline(ctx, a.ID, a.EndAt)
			require.NoError(t, err)
			assert.Equal(t, i == 0, ended)
		}

		calls := f.settler.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "buyer-a", calls[0].WinnerID)
		assert.Equal(t, "seller", calls[0].SellerID)
		assert.True(t, calls[0].FinalAmount.Equal(dec("150")))

		events := f.publisher.ofType(EventAuctionEnded)
		require.Len(t, events, 1)
		assert.Equal(t, "buyer-a", events[0].WinnerID)
		assert.True(t, events[0].FinalAmount.Equal(dec("150")))

		got, err := f.engine.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StateEnded, got.State)
		assert.Equal(t, "order-1", got.Metadata[MetaOrderID])
		assert.Equal(t, "150", got.Metadata[MetaFinalAmount])
		assert.NotEmpty(t, got.Metadata[MetaSettlementRequestedAt])
	})

	t.Run("no bids ends without settlement", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.activeAuction(t)

		ended, err := f.engine.EvaluateDeadline(ctx, a.ID, a.EndAt)
		require.NoError(t, err)
		assert.True(t, ended)
		assert.Empty(t, f.settler.calls())

		events := f.publisher.ofType(EventAuctionEnded)
		require.Len(t, events, 1)
		assert.Empty(t, events[0].WinnerID)
		assert.True(t, events[0].FinalAmount.Equal(dec("100")))

		got, err := f.engine.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.NotContains(t, got.Metadata, MetaWinnerID)
	})

	t.Run("settlement failure goes to retry queue", func(t *testing.T) {
		f := newEngineFixture(t)
		f.settler.err = errOrdersDown
		a := f.activeAuction(t)
		_, err := f.engine.SubmitBid(ctx, a.ID, "buyer-b", dec("110"), baseTime.Add(time.Minute))
		require.NoError(t, err)

		ended, err := f.engine.EvaluateDeadline(ctx, a.ID, a.EndAt)
		require.NoError(t, err)
		assert.True(t, ended)

		require.Len(t, f.queue.items, 1)
		assert.Equal(t, "buyer-b", f.queue.items[0].WinnerID)

		got, err := f.engine.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StateEnded, got.State)
		assert.Empty(t, got.Metadata[MetaOrderID])
	})

	t.Run("bid after close rejected with winner message", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.activeAuction(t)
		_, err := f.engine.SubmitBid(ctx, a.ID, "buyer-a", dec("110"), baseTime.Add(time.Minute))
		require.NoError(t, err)
		_, err = f.engine.EvaluateDeadline(ctx, a.ID, a.EndAt)
		require.NoError(t, err)

		_, err = f.engine.SubmitBid(ctx, a.ID, "buyer-b", dec("900"), a.EndAt.Add(time.Minute))
		rejection, ok := AsRejection(err)
		require.True(t, ok)
		assert.Equal(t, ReasonAuctionNotActive, rejection.Reason)
		assert.Contains(t, rejection.Message, "someone else already won")
	})
}

func TestEngine_EndAndCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("seller ends early", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.activeAuction(t)
		_, err := f.engine.SubmitBid(ctx, a.ID, "buyer-a", dec("120"), baseTime.Add(time.Minute))
		require.NoError(t, err)

		_, err = f.engine.End(ctx, a.ID, "buyer-a")
		assert.ErrorIs(t, err, ErrForbidden)

		ended, err := f.engine.End(ctx, a.ID, "seller")
		require.NoError(t, err)
		assert.Equal(t, StateEnded, ended.State)
		assert.Equal(t, "order-1", ended.Metadata[MetaOrderID])

		_, err = f.engine.End(ctx, a.ID, "seller")
		assert.ErrorIs(t, err, ErrInvalidTransition)

		ok, err := f.engine.EvaluateDeadline(ctx, a.ID, a.EndAt.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Len(t, f.settler.calls(), 1)
	})

	t.Run("cancel keeps bids and never settles", func(t *testing.T) {
		f := newEngineFixture(t)
		a := f.activeAuction(t)
		_, err := f.engine.SubmitBid(ctx, a.ID, "buyer-a", dec("120"), baseTime.Add(time.Minute))
		require.NoError(t, err)

		cancelled, err := f.engine.Cancel(ctx, a.ID, SystemActor)
		require.NoError(t, err)
		assert.Equal(t, StateCancelled, cancelled.State)
		assert.Len(t, cancelled.Bids, 1)
		assert.Len(t, f.publisher.ofType(EventAuctionCancelled), 1)

		_, err = f.engine.Cancel(ctx, a.ID, "seller")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = f.engine.End(ctx, a.ID, "seller")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Empty(t, f.settler.calls())
	})
}

func TestEngine_IsPaymentComplete(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	a := f.activeAuction(t)

	paid, err := f.engine.IsPaymentComplete(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, paid)

	_, err = f.engine.SubmitBid(ctx, a.ID, "buyer-a", dec("120"), baseTime.Add(time.Minute))
	require.NoError(t, err)
	_, err = f.engine.End(ctx, a.ID, "seller")
	require.NoError(t, err)

	paid, err = f.engine.IsPaymentComplete(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, paid)

	f.settler.status = PaymentPaid
	paid, err = f.engine.IsPaymentComplete(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, paid)

	got, err := f.engine.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "true", got.Metadata[MetaPaymentCompleted])

	f.settler.err = errOrdersDown
	paid, err = f.engine.IsPaymentComplete(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, paid)
}

func TestEngine_RecordOrderKeepsFirst(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.settler.err = errOrdersDown
	a := f.activeAuction(t)
	_, err := f.engine.SubmitBid(ctx, a.ID, "buyer-a", dec("120"), baseTime.Add(time.Minute))
	require.NoError(t, err)
	_, err = f.engine.End(ctx, a.ID, "seller")
	require.NoError(t, err)

	got, err := f.engine.RecordOrder(ctx, a.ID, "order-a")
	require.NoError(t, err)
	assert.Equal(t, "order-a", got.Metadata[MetaOrderID])

	got, err = f.engine.RecordOrder(ctx, a.ID, "order-b")
	require.NoError(t, err)
	assert.Equal(t, "order-a", got.Metadata[MetaOrderID])
}

func TestEngine_MarkJoined(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	a := f.activeAuction(t)

	got, err := f.engine.MarkJoined(ctx, a.ID, "buyer-a")
	require.NoError(t, err)
	p, ok := got.Participant("buyer-a")
	require.True(t, ok)
	assert.True(t, p.HasJoined)

	_, err = f.engine.MarkJoined(ctx, a.ID, "stranger")
	assert.ErrorIs(t, err, ErrForbidden)
}
