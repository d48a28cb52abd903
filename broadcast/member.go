package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	DefaultOutboxSize = 32
	// MaxFailedSends 連續放不進佇列的次數上限，超過即中斷該連線
	MaxFailedSends = 10
)

// outbox 每個連線自己的有限待送佇列
// 慢的連線只會掉自己的訊息，不會拖慢同一頻道的其他成員
type outbox struct {
	id          string
	userID      string
	frames      chan []byte
	done        chan struct{}
	once        sync.Once
	failedSends atomic.Int32
}

func newOutbox(userID string, size int) *outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &outbox{
		id:     uuid.NewString(),
		userID: userID,
		frames: make(chan []byte, size),
		done:   make(chan struct{}),
	}
}

func (o *outbox) ID() string {
	return o.id
}

func (o *outbox) UserID() string {
	return o.userID
}

func (o *outbox) Send(frame []byte) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.frames <- frame:
		o.failedSends.Store(0)
		return true
	default:
		if o.failedSends.Add(1) >= MaxFailedSends {
			o.Close()
		}
		return false
	}
}

func (o *outbox) Close() {
	o.once.Do(func() {
		close(o.done)
	})
}

// StreamMember 由呼叫端自行讀取佇列的成員(例如 SSE)
type StreamMember struct {
	*outbox
}

func NewStreamMember(userID string, size int) *StreamMember {
	return &StreamMember{outbox: newOutbox(userID, size)}
}

// Frames 待送出的 frame
func (m *StreamMember) Frames() <-chan []byte {
	return m.frames
}

// Done 成員被關閉時觸發
func (m *StreamMember) Done() <-chan struct{} {
	return m.done
}
