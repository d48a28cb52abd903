package broadcast

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	redisAdapter "livebid/adapters/redis"
)

// Envelope 在節點之間傳遞的已編碼事件
type Envelope struct {
	AuctionID string `msgpack:"auction_id"`
	Frame     []byte `msgpack:"frame"`
}

// RedisRelay 以 Redis stream 串接多個節點的 Hub
// 同一場拍賣的事件都寫入同一個 stream，因此每個節點看到的順序一致
type RedisRelay struct {
	writer *redisAdapter.StreamWriter[Envelope]
	tail   *redisAdapter.StreamTail[Envelope]
}

var _ IRelay = (*RedisRelay)(nil)

// NewRedisRelay 建立 relay；maxLen 為 stream 的近似長度上限
func NewRedisRelay(client *redis.Client, stream string, maxLen int64, logger *slog.Logger) (*RedisRelay, error) {
	const op = "NewRedisRelay"
	if logger == nil {
		logger = slog.Default()
	}
	writer, err := redisAdapter.NewStreamWriter[Envelope](client, stream,
		redisAdapter.WithStreamWriterLogger[Envelope](logger),
		redisAdapter.WithStreamWriterMaxLen[Envelope](maxLen),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create stream writer, err=%w", op, err)
	}
	tail, err := redisAdapter.NewStreamTail[Envelope](client, stream,
		redisAdapter.WithStreamTailLogger[Envelope](logger),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create stream tail, err=%w", op, err)
	}
	return &RedisRelay{writer: writer, tail: tail}, nil
}

func (r *RedisRelay) Start() {
	r.tail.Start()
	r.writer.Start()
}

func (r *RedisRelay) Publish(env Envelope) error {
	if env.AuctionID == "" {
		return errors.New("envelope without auction id")
	}
	return r.writer.Publish(env)
}

func (r *RedisRelay) Subscribe() <-chan Envelope {
	return r.tail.Subscribe()
}

func (r *RedisRelay) Close() {
	r.writer.Close()
	r.tail.Close()
}

// DecodeEnvelope 還原 relay stream 上的 entry，供其他消費者(持久化、封存)使用
func DecodeEnvelope(values map[string]any) (Envelope, error) {
	return redisAdapter.DecodeMessage[Envelope](values)
}
