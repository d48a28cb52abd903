package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"livebid/api/openapi"
	"livebid/auction"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

type fixture struct {
	impl   *ServerImpl
	server *httptest.Server
	key    ed25519.PrivateKey
}

func newFixture(t *testing.T, config ServerConfig, opts ...ServerOption) *fixture {
	t.Helper()
	_, key, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	config.Auth.PrivateKey = key

	opts = append([]ServerOption{WithLogger(discardLogger())}, opts...)
	impl, err := NewServer(config, opts...)
	require.NoError(t, err)
	require.NoError(t, impl.Start())

	server := httptest.NewServer(impl.Router())
	t.Cleanup(func() {
		server.Close()
		impl.Close()
	})
	return &fixture{impl: impl, server: server, key: key}
}

func (f *fixture) token(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, openapi.JWT{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) envelope {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, user))
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	require.Equal(t, res.StatusCode, env.Status)
	return env
}

func decodeAuction(t *testing.T, env envelope) auction.Auction {
	t.Helper()
	var a auction.Auction
	require.NoError(t, json.Unmarshal(env.Data, &a))
	return a
}

func (f *fixture) createAuction(t *testing.T, autoStart bool) auction.Auction {
	t.Helper()
	env := f.do(t, http.MethodPost, "/auctions", "seller", map[string]any{
		"deal_room_id":      "room-1",
		"listing_id":        "listing-1",
		"start_price":       "100",
		"minimum_increment": "10",
		"duration_minutes":  30,
		"invitee_ids":       []string{"buyer-a", "buyer-b"},
		"auto_start":        autoStart,
	})
	require.Equal(t, http.StatusCreated, env.Status, string(env.Error))
	return decodeAuction(t, env)
}

// ordersService 假的訂單服務
type ordersService struct {
	mu       sync.Mutex
	failures int
	created  []string
	server   *httptest.Server
}

func newOrdersService(t *testing.T, failures int) *ordersService {
	t.Helper()
	s := &ordersService{failures: failures}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failures != 0 {
			if s.failures > 0 {
				s.failures--
			}
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		s.created = append(s.created, r.Header.Get("Idempotency-Key"))
		_, _ = w.Write([]byte(`{"order_id":"order-1"}`))
	})
	mux.HandleFunc("GET /orders/{id}/payment", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"paid"}`))
	})
	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func (s *ordersService) createdOrders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.created...)
}

// fakeRepository 記錄最後一次寫入的快照
type fakeRepository struct {
	mu    sync.Mutex
	saved map[string]*auction.Auction
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{saved: map[string]*auction.Auction{}}
}

func (r *fakeRepository) Save(_ context.Context, a *auction.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[a.ID] = a.Clone()
	return nil
}

func (r *fakeRepository) Find(_ context.Context, id string) (*auction.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.saved[id]
	if !ok {
		return nil, auction.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *fakeRepository) state(id string) auction.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.saved[id]; ok {
		return a.State
	}
	return ""
}

type fakeArchiver struct {
	mu       sync.Mutex
	archived []string
}

func (a *fakeArchiver) Archive(_ context.Context, record *auction.Auction) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, record.ID)
	return "s3://test/" + record.ID + ".json", nil
}

func (a *fakeArchiver) ids() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.archived...)
}
