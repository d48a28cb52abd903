package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"livebid/auction"
	"livebid/broadcast"
)

func envelopeFor(t *testing.T, id string, eventType auction.EventType) broadcast.Envelope {
	t.Helper()
	frame, err := json.Marshal(frameHeader{Type: eventType, AuctionID: id})
	require.NoError(t, err)
	return broadcast.Envelope{AuctionID: id, Frame: frame}
}

func TestPersistEvent(t *testing.T) {
	repo := newFakeRepository()
	archiver := &fakeArchiver{}
	f := newFixture(t, ServerConfig{}, WithRepository(repo), WithArchiver(archiver))
	ctx := context.Background()
	a := f.createAuction(t, true)

	t.Run("saves latest snapshot", func(t *testing.T) {
		require.NoError(t, f.impl.persistEvent(ctx, envelopeFor(t, a.ID, auction.EventAuctionStarted)))
		assert.Equal(t, auction.StateActive, repo.state(a.ID))
		assert.Empty(t, archiver.ids())
	})

	t.Run("archives terminal snapshot", func(t *testing.T) {
		_, err := f.impl.Engine().End(ctx, a.ID, "seller")
		require.NoError(t, err)
		require.NoError(t, f.impl.persistEvent(ctx, envelopeFor(t, a.ID, auction.EventAuctionEnded)))
		assert.Equal(t, auction.StateEnded, repo.state(a.ID))
		assert.Equal(t, []string{a.ID}, archiver.ids())
	})

	t.Run("skips expired auction", func(t *testing.T) {
		require.NoError(t, f.impl.persistEvent(ctx, envelopeFor(t, "gone", auction.EventAuctionEnded)))
		assert.Equal(t, auction.State(""), repo.state("gone"))
	})

	t.Run("malformed frame", func(t *testing.T) {
		err := f.impl.persistEvent(ctx, broadcast.Envelope{AuctionID: a.ID, Frame: []byte("{")})
		assert.Error(t, err)
	})
}

// endWithWinner 建立拍賣、出價並結束，回傳結束後的快照
func endWithWinner(t *testing.T, f *fixture) *auction.Auction {
	t.Helper()
	ctx := context.Background()
	a := f.createAuction(t, true)
	_, err := f.impl.Engine().SubmitBid(ctx, a.ID, "buyer-a", decimal.NewFromInt(150), time.Now())
	require.NoError(t, err)
	ended, err := f.impl.Engine().End(ctx, a.ID, "seller")
	require.NoError(t, err)
	return ended
}

func TestRetrySettlement(t *testing.T) {
	ctx := context.Background()

	t.Run("records order after transient failures", func(t *testing.T) {
		orders := newOrdersService(t, 1)
		f := newFixture(t, ServerConfig{Settlement: SettlementConfig{BaseURL: orders.server.URL, MaxRetries: 3}})
		ended := endWithWinner(t, f)
		assert.Empty(t, ended.Metadata[auction.MetaOrderID])

		req, ok := auction.NewSettlementRequest(ended)
		require.True(t, ok)
		require.NoError(t, f.impl.retrySettlement(ctx, req))

		got, err := f.impl.Engine().Get(ctx, ended.ID)
		require.NoError(t, err)
		assert.Equal(t, "order-1", got.Metadata[auction.MetaOrderID])
	})

	t.Run("in-memory worker retries without redis", func(t *testing.T) {
		// 第一次由 End 觸發，其餘由記憶體佇列的 worker 重試
		orders := newOrdersService(t, 2)
		f := newFixture(t, ServerConfig{Settlement: SettlementConfig{BaseURL: orders.server.URL, MaxRetries: 3}})
		require.NotNil(t, f.impl.memoryQueue)
		ended := endWithWinner(t, f)
		assert.Empty(t, ended.Metadata[auction.MetaOrderID])

		assert.Eventually(t, func() bool {
			got, err := f.impl.Engine().Get(ctx, ended.ID)
			return err == nil && got.Metadata[auction.MetaOrderID] == "order-1"
		}, 5*time.Second, 50*time.Millisecond)
		assert.Equal(t, []string{ended.ID}, orders.createdOrders())
	})

	t.Run("skips recorded order", func(t *testing.T) {
		orders := newOrdersService(t, 0)
		f := newFixture(t, ServerConfig{Settlement: SettlementConfig{BaseURL: orders.server.URL}})
		ended := endWithWinner(t, f)
		require.Equal(t, "order-1", ended.Metadata[auction.MetaOrderID])

		req, _ := auction.NewSettlementRequest(ended)
		require.NoError(t, f.impl.retrySettlement(ctx, req))
		assert.Len(t, orders.createdOrders(), 1)
	})

	t.Run("exhausted", func(t *testing.T) {
		orders := newOrdersService(t, -1)
		f := newFixture(t, ServerConfig{Settlement: SettlementConfig{BaseURL: orders.server.URL, MaxRetries: 1}})
		ended := endWithWinner(t, f)

		req, _ := auction.NewSettlementRequest(ended)
		err := f.impl.retrySettlement(ctx, req)
		assert.ErrorContains(t, err, "settlement retries exhausted")
		assert.Empty(t, orders.createdOrders())
	})

	t.Run("invalid amount", func(t *testing.T) {
		orders := newOrdersService(t, 0)
		f := newFixture(t, ServerConfig{Settlement: SettlementConfig{BaseURL: orders.server.URL}})
		err := f.impl.retrySettlement(ctx, auction.SettlementRequest{AuctionID: "a1", FinalAmountText: "abc"})
		assert.Error(t, err)
	})
}

func TestMemoryRetryQueue(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	q := newMemoryRetryQueue(discardLogger(), 1)

	handled := make(chan string, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.run(context.Background(), func(_ context.Context, req auction.SettlementRequest) error {
			handled <- req.AuctionID
			return nil
		})
	}()

	// 超過緩衝大小也不會阻塞
	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, q.Enqueue(auction.SettlementRequest{AuctionID: id}))
	}
	for _, want := range []string{"a1", "a2", "a3"} {
		select {
		case got := <-handled:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("settlement %s was not handled", want)
		}
	}

	q.Close()
	q.Close()
	<-done
	assert.ErrorIs(t, q.Enqueue(auction.SettlementRequest{AuctionID: "a4"}), ErrRetryQueueClosed)
}

func TestNewServer_MemoryRetryQueue(t *testing.T) {
	t.Run("created when settlement is configured", func(t *testing.T) {
		orders := newOrdersService(t, 0)
		f := newFixture(t, ServerConfig{Settlement: SettlementConfig{BaseURL: orders.server.URL}})
		assert.NotNil(t, f.impl.memoryQueue)
	})

	t.Run("not needed without settlement", func(t *testing.T) {
		f := newFixture(t, ServerConfig{})
		assert.Nil(t, f.impl.memoryQueue)
	})
}

func TestServer_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	repo := newFakeRepository()
	archiver := &fakeArchiver{}
	f := newFixture(t, ServerConfig{
		ID: "node-1",
		Redis: RedisConfig{
			Addr:         mr.Addr(),
			KeyPrefix:    "test:",
			Retention:    time.Hour,
			StreamMaxLen: 1000,
		},
	}, WithRepository(repo), WithArchiver(archiver))

	a := f.createAuction(t, true)
	env := f.do(t, http.MethodPost, "/auctions/"+a.ID+"/bids", "buyer-a", map[string]any{"amount": "150"})
	require.Equal(t, http.StatusCreated, env.Status, string(env.Error))
	env = f.do(t, http.MethodPost, "/auctions/"+a.ID+"/end", "seller", nil)
	require.Equal(t, http.StatusOK, env.Status, string(env.Error))
	assert.Equal(t, auction.StateEnded, decodeAuction(t, env).State)

	// 持久化 worker 非同步寫入
	assert.Eventually(t, func() bool {
		return repo.state(a.ID) == auction.StateEnded && len(archiver.ids()) == 1
	}, 5*time.Second, 50*time.Millisecond)

	// 沒有設定訂單服務時，結算請求留在重試佇列
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	n, err := client.XLen(context.Background(), "test:"+settlementStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	env = f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, env.Status)
}
