package broadcast

import (
	"sync"
)

// Room 某場拍賣目前的所有連線
type Room struct {
	members map[string]IMember
	mu      sync.RWMutex
}

func NewRoom() *Room {
	return &Room{
		members: make(map[string]IMember),
	}
}

// Add 加入成員，已存在時回傳 false
func (r *Room) Add(m IMember) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[m.ID()]; ok {
		return false
	}
	r.members[m.ID()] = m
	return true
}

// Remove 移除成員，不存在時回傳 false
func (r *Room) Remove(memberID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[memberID]; !ok {
		return false
	}
	delete(r.members, memberID)
	return true
}

func (r *Room) Has(memberID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[memberID]
	return ok
}

// Broadcast 將 frame 放入每個成員的佇列，回傳放不進去的成員
func (r *Room) Broadcast(frame []byte) []IMember {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var slow []IMember
	for _, m := range r.members {
		if !m.Send(frame) {
			slow = append(slow, m)
		}
	}
	return slow
}

func (r *Room) IsIdle() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members) == 0
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
