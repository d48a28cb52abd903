package auction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testConfig() Config {
	return Config{
		DealRoomID:       "room-1",
		ListingID:        "listing-1",
		StartPrice:       dec("100"),
		MinimumIncrement: dec("10"),
		DurationMinutes:  30,
		InviteeIDs:       []string{"buyer-a", "buyer-b"},
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ string, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ofType(t EventType) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeSettler struct {
	mu       sync.Mutex
	requests []SettlementRequest
	orderID  string
	err      error
	status   PaymentStatus
}

func (s *fakeSettler) CreateOrder(_ context.Context, req SettlementRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	return s.orderID, nil
}

func (s *fakeSettler) GetPaymentStatus(_ context.Context, _ string) (PaymentStatus, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.status, nil
}

func (s *fakeSettler) calls() []SettlementRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SettlementRequest(nil), s.requests...)
}

type fakeRetryQueue struct {
	mu    sync.Mutex
	items []SettlementRequest
}

func (q *fakeRetryQueue) Enqueue(req SettlementRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, req)
	return nil
}

var errOrdersDown = errors.New("orders service unavailable")

type engineFixture struct {
	engine    *Engine
	store     *MemoryStore
	publisher *recordingPublisher
	settler   *fakeSettler
	queue     *fakeRetryQueue
	now       time.Time
}

func newEngineFixture(t *testing.T, opts ...EngineOption) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:     NewMemoryStore(),
		publisher: &recordingPublisher{},
		settler:   &fakeSettler{orderID: "order-1", status: PaymentPending},
		queue:     &fakeRetryQueue{},
		now:       baseTime,
	}
	base := []EngineOption{
		WithLogger(discardLogger()),
		WithPublisher(f.publisher),
		WithSettler(f.settler),
		WithRetryQueue(f.queue),
		WithClock(func() time.Time { return f.now }),
	}
	engine, err := NewEngine(f.store, append(base, opts...)...)
	require.NoError(t, err)
	f.engine = engine
	return f
}

// activeAuction 建立並開始一場拍賣
func (f *engineFixture) activeAuction(t *testing.T) *Auction {
	t.Helper()
	cfg := testConfig()
	cfg.AutoStart = true
	a, err := f.engine.Create(context.Background(), "seller", cfg)
	require.NoError(t, err)
	require.Equal(t, StateActive, a.State)
	return a
}
