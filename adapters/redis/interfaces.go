//go:generate mockgen -package=redis -destination=mock.go -source=interfaces.go

package redis

import (
	"context"
)

// IStreamWriter 定義了 StreamWriter 的操作介面
type IStreamWriter[T any] interface {
	Start()
	Publish(data T) error
	Append(ctx context.Context, data T) (string, error)
	Close()
}

// IGroupReader 定義了 GroupReader 的操作介面
type IGroupReader[T any] interface {
	Start() error
	Subscribe() <-chan *Message[T]
	Close() error
}

// IStreamTail 定義了 StreamTail 的操作介面
type IStreamTail[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

// ILease 已取得的分散式鎖
type ILease interface {
	Release() error
	Held() bool
}
