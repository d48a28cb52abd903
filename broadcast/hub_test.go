package broadcast

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"livebid/auction"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bidEvent(auctionID, amount string) auction.Event {
	d := decimal.RequireFromString(amount)
	return auction.Event{
		Type:              auction.EventBidAccepted,
		AuctionID:         auctionID,
		CurrentHighestBid: &d,
		HighestBidderID:   "buyer-a",
	}
}

func receive(t *testing.T, m *StreamMember) auction.Event {
	t.Helper()
	select {
	case frame := <-m.Frames():
		var ev auction.Event
		require.NoError(t, json.Unmarshal(frame, &ev))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return auction.Event{}
	}
}

func assertNoFrame(t *testing.T, m *StreamMember) {
	t.Helper()
	select {
	case frame := <-m.Frames():
		t.Fatalf("unexpected frame: %s", frame)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_JoinLeave(t *testing.T) {
	hub := NewHub(WithHubLogger(discardLogger()))
	hub.Start()
	defer hub.Close()

	m := NewStreamMember("buyer-a", 4)
	assert.True(t, hub.Join("a1", m))
	assert.False(t, hub.Join("a1", m))
	assert.Equal(t, 1, hub.MemberCount("a1"))

	require.NoError(t, hub.Publish("a1", bidEvent("a1", "110")))
	ev := receive(t, m)
	assert.True(t, ev.CurrentHighestBid.Equal(decimal.RequireFromString("110")))
	assertNoFrame(t, m)

	assert.True(t, hub.Leave("a1", m.ID()))
	assert.False(t, hub.Leave("a1", m.ID()))
	assert.False(t, hub.IsMember("a1", m.ID()))

	require.NoError(t, hub.Publish("a1", bidEvent("a1", "120")))
	assertNoFrame(t, m)
}

func TestHub_LeaveAll(t *testing.T) {
	hub := NewHub(WithHubLogger(discardLogger()))
	hub.Start()
	defer hub.Close()

	m := NewStreamMember("buyer-a", 4)
	other := NewStreamMember("buyer-b", 4)
	hub.Join("a1", m)
	hub.Join("a2", m)
	hub.Join("a1", other)

	assert.ElementsMatch(t, []string{"a1", "a2"}, hub.LeaveAll(m.ID()))
	assert.Equal(t, 0, hub.MemberCount("a2"))
	assert.True(t, hub.IsMember("a1", other.ID()))
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	hub := NewHub(WithHubLogger(discardLogger()))
	hub.Start()
	defer hub.Close()

	m1 := NewStreamMember("buyer-a", 4)
	m2 := NewStreamMember("buyer-b", 4)
	hub.Join("a1", m1)
	hub.Join("a2", m2)

	require.NoError(t, hub.Publish("a1", bidEvent("a1", "110")))
	assert.Equal(t, "a1", receive(t, m1).AuctionID)
	assertNoFrame(t, m2)
}

func TestHub_SlowMemberDoesNotBlockOthers(t *testing.T) {
	hub := NewHub(WithHubLogger(discardLogger()))
	hub.Start()
	defer hub.Close()

	slow := NewStreamMember("slow", 1)
	fast := NewStreamMember("fast", MaxFailedSends+5)
	hub.Join("a1", slow)
	hub.Join("a1", fast)

	for i := 0; i < MaxFailedSends+1; i++ {
		require.NoError(t, hub.Publish("a1", bidEvent("a1", "110")))
	}
	for i := 0; i < MaxFailedSends+1; i++ {
		receive(t, fast)
	}

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow member should be disconnected after repeated failed sends")
	}
}

func TestHub_ClosedHubRejectsPublish(t *testing.T) {
	hub := NewHub(WithHubLogger(discardLogger()))
	assert.ErrorIs(t, hub.Publish("a1", bidEvent("a1", "110")), ErrHubClosed)

	hub.Start()
	m := NewStreamMember("buyer-a", 1)
	hub.Join("a1", m)
	hub.Close()
	hub.Close()

	select {
	case <-m.Done():
	default:
		t.Fatal("members should be closed with the hub")
	}
}

func TestHub_RedisRelayAcrossNodes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	newNode := func() *Hub {
		relay, err := NewRedisRelay(client, "auction-events", 1000, discardLogger())
		require.NoError(t, err)
		hub := NewHub(WithHubLogger(discardLogger()), WithHubRelay(relay))
		hub.Start()
		return hub
	}
	nodeA := newNode()
	nodeB := newNode()

	onA := NewStreamMember("buyer-a", 64)
	onB := NewStreamMember("buyer-b", 64)
	nodeA.Join("a1", onA)
	nodeB.Join("a1", onB)

	// tail 從 "$" 開始讀，持續發布直到兩邊都收到
	assert.Eventually(t, func() bool {
		if err := nodeA.Publish("a1", bidEvent("a1", "110")); err != nil {
			return false
		}
		select {
		case <-onB.Frames():
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, time.Millisecond)
	assert.Eventually(t, func() bool {
		select {
		case <-onA.Frames():
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	nodeA.Close()
	nodeB.Close()
}
