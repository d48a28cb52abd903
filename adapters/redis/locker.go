package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("lock not acquired")

type lockerOptions struct {
	expiry        time.Duration
	retryDelay    time.Duration
	renewInterval time.Duration
}

type LockerOption func(*lockerOptions)

// WithLockerExpiry 設置鎖過期時間
func WithLockerExpiry(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.expiry = d
	}
}

// WithLockerRetryDelay 設置鎖被佔用時的重試間隔
func WithLockerRetryDelay(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.retryDelay = d
	}
}

// WithLockerRenewInterval 設置自動續期間隔
func WithLockerRenewInterval(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.renewInterval = d
	}
}

// Locker 以 redsync 實作的分散式鎖，取得的 Lease 在釋放前會自動續期
type Locker struct {
	rs      *redsync.Redsync
	options lockerOptions
}

func NewLocker(client *redis.Client, opts ...LockerOption) *Locker {
	// 默認選項
	options := lockerOptions{
		expiry:     8 * time.Second,
		retryDelay: 25 * time.Millisecond,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	// 如果未設置續期間隔，使用過期時間的1/3
	if options.renewInterval <= 0 {
		options.renewInterval = options.expiry / 3
	}

	return &Locker{
		rs:      redsync.New(goredis.NewPool(client)),
		options: options,
	}
}

// Acquire 取得 key 對應的鎖，鎖被佔用時持續重試直到 ctx 結束
func (l *Locker) Acquire(ctx context.Context, key string) (ILease, error) {
	const op = "Locker.Acquire"
	mutex := l.rs.NewMutex(
		key,
		redsync.WithExpiry(l.options.expiry),
		redsync.WithTries(1),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("[%s] %w: %w", op, ErrLockNotAcquired, ctx.Err())
		case <-timer.C:
			err := mutex.LockContext(ctx)
			if err == nil {
				return l.newLease(mutex), nil
			}
			// 連線異常直接回報，其他情況(鎖被佔用)等待後重試
			var commErr *redsync.RedisError
			if errors.As(err, &commErr) && ctx.Err() == nil {
				return nil, fmt.Errorf("[%s] failed to acquire lock, err=%w", op, err)
			}
			timer.Reset(l.options.retryDelay)
		}
	}
}

func (l *Locker) newLease(mutex *redsync.Mutex) *Lease {
	ctx, cancel := context.WithCancel(context.Background())
	lease := &Lease{
		mutex:  mutex,
		cancel: cancel,
		held:   true,
	}
	lease.wg.Add(1)
	go lease.renew(ctx, l.options.renewInterval)
	return lease
}

// Lease 已持有的鎖
type Lease struct {
	mutex  *redsync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	held   bool
}

func (l *Lease) renew(ctx context.Context, interval time.Duration) {
	defer l.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := l.mutex.Extend()
			if err != nil || !ok {
				l.mu.Lock()
				l.held = false
				l.mu.Unlock()
				return
			}
		}
	}
}

// Held 鎖是否仍然有效
func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held && time.Now().Before(l.mutex.Until())
}

// Release 停止續期並釋放鎖
func (l *Lease) Release() error {
	l.cancel()
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false
	if _, err := l.mutex.Unlock(); err != nil {
		return fmt.Errorf("[Lease.Release] failed to release lock, err=%w", err)
	}
	return nil
}
