package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"
)

var ErrWriterClosed = errors.New("stream writer is closed")

type streamWriterOptions[T any] struct {
	logger     *slog.Logger
	bufferSize int
	maxLen     int64
	encodeFunc func(T) (map[string]any, error)
}

type StreamWriterOption[T any] func(*streamWriterOptions[T])

// WithStreamWriterLogger 設置日誌記錄器
func WithStreamWriterLogger[T any](logger *slog.Logger) StreamWriterOption[T] {
	return func(o *streamWriterOptions[T]) {
		o.logger = logger
	}
}

// WithStreamWriterBufferSize 設置緩衝大小
func WithStreamWriterBufferSize[T any](size int) StreamWriterOption[T] {
	return func(o *streamWriterOptions[T]) {
		o.bufferSize = size
	}
}

// WithStreamWriterMaxLen 設置 stream 的近似長度上限，0 代表不修剪
func WithStreamWriterMaxLen[T any](n int64) StreamWriterOption[T] {
	return func(o *streamWriterOptions[T]) {
		o.maxLen = n
	}
}

// WithStreamWriterEncodeFunc 設置消息序列化函數
func WithStreamWriterEncodeFunc[T any](fn func(T) (map[string]any, error)) StreamWriterOption[T] {
	return func(o *streamWriterOptions[T]) {
		o.encodeFunc = fn
	}
}

// StreamWriter 將資料寫入 Redis stream
// Publish 先放進無上限的緩衝再由背景 goroutine 寫出，Append 則同步寫入並回傳 entry ID
type StreamWriter[T any] struct {
	client     *redis.Client
	stream     string
	upstream   *chanx.UnboundedChan[map[string]any]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	logger     *slog.Logger
	options    streamWriterOptions[T]
}

func NewStreamWriter[T any](client *redis.Client, stream string, opts ...StreamWriterOption[T]) (*StreamWriter[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := streamWriterOptions[T]{
		logger:     slog.Default(),
		bufferSize: 100,
		encodeFunc: EncodeMessage[T],
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &StreamWriter[T]{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "StreamWriter"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (w *StreamWriter[T]) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.upstream = chanx.NewUnboundedChan[map[string]any](ctx, w.options.bufferSize)
	w.cancelFunc = cancel
	w.closed = false
	w.logger.Info("starting stream writer")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.logger.Info("stream writer goroutine stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case values, ok := <-w.upstream.Out:
				if !ok {
					return
				}
				id, err := w.add(ctx, values)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					w.logger.Error("publish message error", slog.Any("error", err))
					continue
				}
				w.logger.Debug("message published", slog.String("messageId", id))
			}
		}
	}()
}

func (w *StreamWriter[T]) add(ctx context.Context, values map[string]any) (string, error) {
	args := &redis.XAddArgs{
		Stream: w.stream,
		Values: values,
	}
	if w.options.maxLen > 0 {
		args.MaxLen = w.options.maxLen
		args.Approx = true
	}
	return w.client.XAdd(ctx, args).Result()
}

// Publish 非同步寫入
func (w *StreamWriter[T]) Publish(data T) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}

	values, err := w.options.encodeFunc(data)
	if err != nil {
		return fmt.Errorf("encode message error: %w", err)
	}

	w.upstream.In <- values
	return nil
}

// Append 同步寫入，不需要先 Start
func (w *StreamWriter[T]) Append(ctx context.Context, data T) (string, error) {
	values, err := w.options.encodeFunc(data)
	if err != nil {
		return "", fmt.Errorf("encode message error: %w", err)
	}
	id, err := w.add(ctx, values)
	if err != nil {
		return "", fmt.Errorf("[StreamWriter.Append] Fail to add entry, err=%w", err)
	}
	return id, nil
}

func (w *StreamWriter[T]) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.logger.Info("closing stream writer")
	w.closed = true
	w.cancelFunc()
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("stream writer closed")
}
