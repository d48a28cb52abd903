package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message 封裝消息和 ack 所需資料
type Message[T any] struct {
	ID   string
	Data T

	client *redis.Client
	stream string
	group  string
	raw    map[string]any
	mu     sync.Mutex
	done   bool
}

// Done 確認消息已處理完成
func (m *Message[T]) Done(ctx context.Context) error {
	const op = "Message.Done"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return nil
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.ID).Err(); err != nil {
		return fmt.Errorf("[%s] failed to ack message: %w", op, err)
	}
	m.done = true
	return nil
}

// Fail 將消息移到 dead-letter stream 並確認
func (m *Message[T]) Fail(ctx context.Context, failErr error) error {
	const op = "Message.Fail"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return nil
	}
	if err := moveToDeadLetter(ctx, m.client, m.stream, m.group, m.ID, m.raw, failErr); err != nil {
		return fmt.Errorf("[%s] %w", op, err)
	}
	m.done = true
	return nil
}

func moveToDeadLetter(ctx context.Context, client *redis.Client, stream, group, id string, raw map[string]any, cause error) error {
	values := make(map[string]any, len(raw)+2)
	for k, v := range raw {
		values[k] = v
	}
	values["origin_id"] = id
	if cause != nil {
		values["error"] = cause.Error()
	}
	if err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream(stream),
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to move message to dead letter queue: %w", err)
	}
	if err := client.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("failed to ack dead-lettered message: %w", err)
	}
	return nil
}

// DeadLetterStream 回傳 stream 對應的 dead-letter stream 名稱
func DeadLetterStream(stream string) string {
	return stream + ":dead-letter"
}

type groupReaderOptions[T any] struct {
	logger       *slog.Logger
	decodeFunc   func(map[string]any) (T, error)
	bufferSize   int
	blockTimeout time.Duration
}

type GroupReaderOption[T any] func(*groupReaderOptions[T])

// WithGroupReaderLogger 設置日誌記錄器
func WithGroupReaderLogger[T any](logger *slog.Logger) GroupReaderOption[T] {
	return func(o *groupReaderOptions[T]) {
		o.logger = logger
	}
}

// WithGroupReaderDecodeFunc 設置消息解析函數
func WithGroupReaderDecodeFunc[T any](fn func(map[string]any) (T, error)) GroupReaderOption[T] {
	return func(o *groupReaderOptions[T]) {
		o.decodeFunc = fn
	}
}

// WithGroupReaderBufferSize 設置下游channel的緩衝大小
func WithGroupReaderBufferSize[T any](size int) GroupReaderOption[T] {
	return func(o *groupReaderOptions[T]) {
		o.bufferSize = size
	}
}

// WithGroupReaderBlockTimeout 設置阻塞讀取超時時間
func WithGroupReaderBlockTimeout[T any](d time.Duration) GroupReaderOption[T] {
	return func(o *groupReaderOptions[T]) {
		o.blockTimeout = d
	}
}

// GroupReader 以 consumer group 讀取 stream，每筆消息只會交給群組中的一個成員
// 啟動時先重新投遞自己尚未 ack 的消息，再讀取新消息
type GroupReader[T any] struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	downStream chan *Message[T]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	logger     *slog.Logger
	options    groupReaderOptions[T]
}

func NewGroupReader[T any](
	client *redis.Client,
	stream, group, consumer string,
	opts ...GroupReaderOption[T],
) (*GroupReader[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, errors.New("stream, group and consumer cannot be empty")
	}

	// 默認選項
	options := groupReaderOptions[T]{
		logger:       slog.Default(),
		decodeFunc:   DecodeMessage[T],
		bufferSize:   1,
		blockTimeout: time.Second,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &GroupReader[T]{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		closed:   true,
		logger: options.logger.With(
			slog.String("caller", "GroupReader"),
			slog.String("stream", stream),
			slog.String("group", group),
			slog.String("consumer", consumer)),
		options: options,
	}, nil
}

// Start 建立 consumer group(不存在時)並開始讀取
func (r *GroupReader[T]) Start() error {
	const op = "GroupReader.Start"
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	err := r.client.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		cancel()
		return fmt.Errorf("[%s] Fail to create consumer group, err=%w", op, err)
	}

	r.downStream = make(chan *Message[T], r.options.bufferSize)
	r.cancelFunc = cancel
	r.closed = false
	r.logger.Info("starting group reader")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.logger.Info("group reader goroutine stopped")
		defer close(r.downStream)

		// "0" 讀取自己的 pending 消息，讀完後改讀新消息 ">"
		cursor := "0"
		for ctx.Err() == nil {
			messages, err := r.fetch(ctx, cursor)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					r.logger.Error("fetch message error", slog.Any("error", err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(r.options.blockTimeout):
					}
				}
				continue
			}
			if cursor != ">" && len(messages) == 0 {
				cursor = ">"
				continue
			}
			for _, message := range messages {
				if cursor != ">" {
					cursor = message.ID
				}
				if err := r.dispatch(ctx, message); err != nil {
					return
				}
			}
		}
	}()

	return nil
}

func (r *GroupReader[T]) fetch(ctx context.Context, cursor string) ([]redis.XMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, cursor},
		Count:    10,
	}
	if cursor == ">" {
		args.Block = r.options.blockTimeout
	}
	streams, err := r.client.XReadGroup(ctx, args).Result()
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return streams[0].Messages, nil
}

// dispatch 解析並送到下游，解析失敗的消息直接移到 dead-letter
func (r *GroupReader[T]) dispatch(ctx context.Context, message redis.XMessage) error {
	data, err := r.options.decodeFunc(message.Values)
	if err != nil {
		// 解析失敗不會因為重試就成功，移到 dead-letter 後繼續處理下一條消息
		r.logger.Error("failed to decode message",
			slog.String("messageId", message.ID),
			slog.Any("error", err))
		if dlErr := moveToDeadLetter(ctx, r.client, r.stream, r.group, message.ID, message.Values, err); dlErr != nil {
			r.logger.Error("error moving message to dead letter",
				slog.String("messageId", message.ID),
				slog.Any("error", dlErr))
		}
		return nil
	}

	msg := &Message[T]{
		ID:     message.ID,
		Data:   data,
		client: r.client,
		stream: r.stream,
		group:  r.group,
		raw:    message.Values,
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r.downStream <- msg:
		return nil
	}
}

// Subscribe 訂閱 Stream，返回 Message 通道
func (r *GroupReader[T]) Subscribe() <-chan *Message[T] {
	return r.downStream
}

func (r *GroupReader[T]) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.logger.Info("closing group reader")
	r.closed = true
	r.cancelFunc()
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("group reader closed gracefully")
	return nil
}
