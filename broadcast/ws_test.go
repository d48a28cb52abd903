package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livebid/auction"
)

type wsFixture struct {
	server  *httptest.Server
	hub     *Hub
	engine  *auction.Engine
	auction *auction.Auction
	now     time.Time
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hub := NewHub(WithHubLogger(discardLogger()))
	hub.Start()

	engine, err := auction.NewEngine(auction.NewMemoryStore(),
		auction.WithLogger(discardLogger()),
		auction.WithPublisher(hub),
		auction.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	a, err := engine.Create(context.Background(), "seller", auction.Config{
		DealRoomID:       "room-1",
		StartPrice:       decimal.RequireFromString("100"),
		MinimumIncrement: decimal.RequireFromString("10"),
		DurationMinutes:  30,
		InviteeIDs:       []string{"buyer-a", "buyer-b"},
		AutoStart:        true,
	})
	require.NoError(t, err)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		user := r.URL.Query().Get("user")
		NewWSConn(conn, user, hub, engine,
			WithWSLogger(discardLogger()),
			WithWSClock(func() time.Time { return now.Add(time.Minute) }),
		).Run(r.Context())
	}))

	f := &wsFixture{server: server, hub: hub, engine: engine, auction: a, now: now}
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return f
}

func (f *wsFixture) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWSConn_JoinBidBroadcast(t *testing.T) {
	f := newWSFixture(t)
	id := f.auction.ID

	alice := f.dial(t, "buyer-a")
	bob := f.dial(t, "buyer-b")

	send(t, alice, map[string]any{"type": "join", "auction_id": id})
	joined := read(t, alice)
	assert.Equal(t, FrameJoined, joined["type"])

	send(t, bob, map[string]any{"type": "join", "auction_id": id})
	assert.Equal(t, FrameJoined, read(t, bob)["type"])

	send(t, alice, map[string]any{"type": "place_bid", "auction_id": id, "amount": "110"})
	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := read(t, conn)
		assert.Equal(t, string(auction.EventBidAccepted), frame["type"])
		assert.Equal(t, "110", frame["current_highest_bid"])
		assert.Equal(t, "buyer-a", frame["highest_bidder_id"])
	}

	got, err := f.engine.Get(context.Background(), id)
	require.NoError(t, err)
	p, _ := got.Participant("buyer-a")
	assert.True(t, p.HasJoined)
}

func TestWSConn_RejectionOnlyToSubmitter(t *testing.T) {
	f := newWSFixture(t)
	id := f.auction.ID

	alice := f.dial(t, "buyer-a")
	bob := f.dial(t, "buyer-b")
	for _, conn := range []*websocket.Conn{alice, bob} {
		send(t, conn, map[string]any{"type": "join", "auction_id": id})
		read(t, conn)
	}

	send(t, alice, map[string]any{"type": "place_bid", "auction_id": id, "amount": "105"})
	frame := read(t, alice)
	assert.Equal(t, FrameBidRejected, frame["type"])
	assert.Equal(t, string(auction.ReasonBidTooLow), frame["reason"])
	assert.Equal(t, "110", frame["minimum_acceptable"])

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err, "rejections must not be broadcast")
}

func TestWSConn_BidWithoutJoinGetsDirectAck(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, "buyer-a")

	send(t, alice, map[string]any{"type": "place_bid", "auction_id": f.auction.ID, "amount": "150"})
	frame := read(t, alice)
	assert.Equal(t, string(auction.EventBidAccepted), frame["type"])
	assert.Equal(t, "150", frame["current_highest_bid"])
}

func TestWSConn_ProtocolErrors(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "buyer-a")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, FrameError, read(t, conn)["type"])

	send(t, conn, map[string]any{"type": "join"})
	assert.Equal(t, FrameError, read(t, conn)["type"])

	send(t, conn, map[string]any{"type": "join", "auction_id": "missing"})
	frame := read(t, conn)
	assert.Equal(t, FrameError, frame["type"])
	assert.Equal(t, "auction not found", frame["message"])

	send(t, conn, map[string]any{"type": "dance", "auction_id": f.auction.ID})
	assert.Equal(t, FrameError, read(t, conn)["type"])
}

func TestWSConn_DisconnectLeavesRooms(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "buyer-a")
	send(t, conn, map[string]any{"type": "join", "auction_id": f.auction.ID})
	read(t, conn)
	require.Equal(t, 1, f.hub.MemberCount(f.auction.ID))

	conn.Close()
	assert.Eventually(t, func() bool {
		return f.hub.MemberCount(f.auction.ID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInbound_DecodesNumericAmount(t *testing.T) {
	var in Inbound
	require.NoError(t, json.Unmarshal([]byte(`{"type":"place_bid","auction_id":"a","amount":125.5}`), &in))
	assert.True(t, in.Amount.Equal(decimal.RequireFromString("125.5")))
}
