package auction

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore 單一節點使用的記憶體儲存層
// 每場拍賣有自己的鎖，不同拍賣的操作不會互相阻塞
type MemoryStore struct {
	mu       sync.RWMutex
	auctions map[string]*Auction
	locks    map[string]chan struct{}
}

// NewMemoryStore 建立記憶體儲存層
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions: make(map[string]*Auction),
		locks:    make(map[string]chan struct{}),
	}
}

func (s *MemoryStore) Create(ctx context.Context, a *Auction) error {
	const op = "MemoryStore.Create"
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auctions[a.ID]; ok {
		return fmt.Errorf("[%s] auction %s already exists", op, a.ID)
	}
	s.auctions[a.ID] = a.Clone()
	s.locks[a.ID] = make(chan struct{}, 1)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}

// Update 取得拍賣鎖後在副本上執行 fn，成功才替換紀錄
// fn 失敗時原紀錄完全不受影響
func (s *MemoryStore) Update(ctx context.Context, id string, fn func(a *Auction) error) (*Auction, error) {
	s.mu.RLock()
	lock, ok := s.locks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}

	// 以容量為 1 的 channel 當作鎖，等待時可以被 context 取消
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("auction %s: %w: %w", id, ErrLockTimeout, ctx.Err())
	}
	defer func() { <-lock }()

	s.mu.RLock()
	working := s.auctions[id].Clone()
	s.mu.RUnlock()

	if err := fn(working); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.auctions[id] = working
	s.mu.Unlock()
	return working.Clone(), nil
}

func (s *MemoryStore) ListDue(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, a := range s.auctions {
		if a.State == StateActive && !now.Before(a.EndAt) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
