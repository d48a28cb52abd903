package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type streamTailOptions[T any] struct {
	logger       *slog.Logger
	bufferSize   int
	batchSize    int64
	blockTimeout time.Duration
	decodeFunc   func(map[string]any) (T, error)
}

type StreamTailOption[T any] func(*streamTailOptions[T])

// WithStreamTailLogger 設置日誌記錄器
func WithStreamTailLogger[T any](logger *slog.Logger) StreamTailOption[T] {
	return func(o *streamTailOptions[T]) {
		o.logger = logger
	}
}

// WithStreamTailBufferSize 設置下游channel的緩衝大小
func WithStreamTailBufferSize[T any](size int) StreamTailOption[T] {
	return func(o *streamTailOptions[T]) {
		o.bufferSize = size
	}
}

// WithStreamTailBlockTimeout 設置阻塞讀取超時時間
func WithStreamTailBlockTimeout[T any](d time.Duration) StreamTailOption[T] {
	return func(o *streamTailOptions[T]) {
		o.blockTimeout = d
	}
}

// WithStreamTailDecodeFunc 設置自定義解析函數
func WithStreamTailDecodeFunc[T any](fn func(map[string]any) (T, error)) StreamTailOption[T] {
	return func(o *streamTailOptions[T]) {
		o.decodeFunc = fn
	}
}

// StreamTail 從啟動當下開始跟隨 stream 的新 entry
// 每個節點各自跟隨，適合用來把事件扇出到本機的連線
type StreamTail[T any] struct {
	client     *redis.Client
	stream     string
	lastID     string
	downStream chan T
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	logger     *slog.Logger
	options    streamTailOptions[T]
}

func NewStreamTail[T any](client *redis.Client, stream string, opts ...StreamTailOption[T]) (*StreamTail[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := streamTailOptions[T]{
		logger:       slog.Default(),
		bufferSize:   100,
		batchSize:    50,
		blockTimeout: time.Second,
		decodeFunc:   DecodeMessage[T],
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &StreamTail[T]{
		client:  client,
		stream:  stream,
		lastID:  "$",
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "StreamTail"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (s *StreamTail[T]) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.downStream = make(chan T, s.options.bufferSize)
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("starting stream tail")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("stream tail goroutine stopped")
		defer close(s.downStream)

		for ctx.Err() == nil {
			messages, err := s.fetch(ctx)
			if err != nil {
				if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
					continue
				}
				s.logger.Error("fetch message error", slog.Any("error", err))
				// 避免 Redis 斷線時空轉
				select {
				case <-ctx.Done():
				case <-time.After(s.options.blockTimeout):
				}
				continue
			}

			for _, message := range messages {
				data, err := s.options.decodeFunc(message.Values)
				if err != nil {
					s.logger.Error("failed to decode message",
						slog.String("messageId", message.ID),
						slog.Any("error", err))
					continue
				}
				select {
				case <-ctx.Done():
					return
				case s.downStream <- data:
				}
			}
		}
	}()
}

func (s *StreamTail[T]) fetch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.stream, s.lastID},
		Count:   s.options.batchSize,
		Block:   s.options.blockTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, redis.Nil
	}
	messages := streams[0].Messages
	s.lastID = messages[len(messages)-1].ID
	return messages, nil
}

// Subscribe 訂閱數據流
func (s *StreamTail[T]) Subscribe() <-chan T {
	return s.downStream
}

func (s *StreamTail[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.logger.Info("closing stream tail")
	s.closed = true
	s.cancelFunc()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("stream tail closed")
}
