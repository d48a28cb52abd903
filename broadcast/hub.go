package broadcast

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"livebid/auction"
)

var ErrHubClosed = errors.New("hub is closed")

type hubOptions struct {
	logger *slog.Logger
	relay  IRelay
}

type HubOption func(*hubOptions)

// WithHubLogger 設置日誌記錄器
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(o *hubOptions) {
		o.logger = logger
	}
}

// WithHubRelay 透過 relay 讓事件跨節點廣播，未設置時只在本機扇出
func WithHubRelay(relay IRelay) HubOption {
	return func(o *hubOptions) {
		o.relay = relay
	}
}

// Hub 管理每場拍賣的頻道成員並扇出事件
// 實作 auction.IPublisher，由 Engine 在釋放拍賣鎖之後呼叫
type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]*Room
	memberships map[string]map[string]IMember // memberID -> auctionID -> member
	wg          sync.WaitGroup
	active      bool
	logger      *slog.Logger
	options     hubOptions
}

var _ auction.IPublisher = (*Hub)(nil)

func NewHub(opts ...HubOption) *Hub {
	options := hubOptions{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Hub{
		rooms:       make(map[string]*Room),
		memberships: make(map[string]map[string]IMember),
		logger:      options.logger.With(slog.String("caller", "Hub")),
		options:     options,
	}
}

// Start 開始接收 relay 的事件
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active {
		return
	}
	h.active = true
	if h.options.relay == nil {
		return
	}
	h.options.relay.Start()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for env := range h.options.relay.Subscribe() {
			h.deliver(env.AuctionID, env.Frame)
		}
	}()
}

// Close 停止 relay 並關閉所有成員
func (h *Hub) Close() {
	h.mu.Lock()
	if !h.active {
		h.mu.Unlock()
		return
	}
	h.active = false
	h.mu.Unlock()

	if h.options.relay != nil {
		h.options.relay.Close()
	}
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, joined := range h.memberships {
		for _, m := range joined {
			m.Close()
		}
	}
	clear(h.rooms)
	clear(h.memberships)
}

// Join 將成員加入拍賣頻道，重複加入不會產生第二份訂閱
func (h *Hub) Join(auctionID string, m IMember) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[auctionID]
	if !ok {
		room = NewRoom()
		h.rooms[auctionID] = room
	}
	if !room.Add(m) {
		return false
	}
	joined, ok := h.memberships[m.ID()]
	if !ok {
		joined = make(map[string]IMember)
		h.memberships[m.ID()] = joined
	}
	joined[auctionID] = m
	return true
}

// Leave 將成員移出頻道，不在頻道內時不做任何事
func (h *Hub) Leave(auctionID, memberID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(auctionID, memberID)
}

func (h *Hub) leaveLocked(auctionID, memberID string) bool {
	room, ok := h.rooms[auctionID]
	if !ok || !room.Remove(memberID) {
		return false
	}
	if room.IsIdle() {
		delete(h.rooms, auctionID)
	}
	if joined, ok := h.memberships[memberID]; ok {
		delete(joined, auctionID)
		if len(joined) == 0 {
			delete(h.memberships, memberID)
		}
	}
	return true
}

// LeaveAll 連線中斷時移除該成員的所有訂閱，回傳原本所在的拍賣
func (h *Hub) LeaveAll(memberID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined := h.memberships[memberID]
	ids := make([]string, 0, len(joined))
	for auctionID := range joined {
		ids = append(ids, auctionID)
	}
	for _, auctionID := range ids {
		h.leaveLocked(auctionID, memberID)
	}
	return ids
}

func (h *Hub) IsMember(auctionID, memberID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[auctionID]
	return ok && room.Has(memberID)
}

// MemberCount 頻道目前的連線數
func (h *Hub) MemberCount(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if room, ok := h.rooms[auctionID]; ok {
		return room.Len()
	}
	return 0
}

// Publish 將事件送給頻道中的所有成員
// 有 relay 時交給 relay，由各節點(包含自己)從 relay 收到後扇出；relay 失敗時退回本機扇出
func (h *Hub) Publish(auctionID string, ev auction.Event) error {
	frame, err := EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("[Hub.Publish] Fail to encode event, err=%w", err)
	}

	h.mu.RLock()
	active := h.active
	h.mu.RUnlock()
	if !active {
		return ErrHubClosed
	}

	if h.options.relay != nil {
		err := h.options.relay.Publish(Envelope{AuctionID: auctionID, Frame: frame})
		if err == nil {
			return nil
		}
		h.logger.Warn("relay publish failed, delivering locally",
			slog.String("auctionID", auctionID),
			slog.Any("error", err))
	}
	h.deliver(auctionID, frame)
	return nil
}

func (h *Hub) deliver(auctionID string, frame []byte) {
	h.mu.RLock()
	room, ok := h.rooms[auctionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	for _, m := range room.Broadcast(frame) {
		h.logger.Warn("member outbox full, frame dropped",
			slog.String("auctionID", auctionID),
			slog.String("memberID", m.ID()),
			slog.String("userID", m.UserID()))
	}
}
