package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gorilla/websocket"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"livebid/adapters/orders"
	redisAdapter "livebid/adapters/redis"
	internalS3 "livebid/adapters/s3"
	"livebid/api/openapi"
	"livebid/auction"
	"livebid/broadcast"
	"livebid/models"
)

// IAuctionRepository 拍賣的持久化副本
type IAuctionRepository interface {
	Save(ctx context.Context, a *auction.Auction) error
	Find(ctx context.Context, id string) (*auction.Auction, error)
}

// IArchiver 終止拍賣的快照封存
type IArchiver interface {
	Archive(ctx context.Context, a *auction.Auction) (string, error)
}

type serverOptions struct {
	logger     *slog.Logger
	metrics    *auction.Metrics
	clock      func() time.Time
	repository IAuctionRepository
	archiver   IArchiver
}

type ServerOption func(*serverOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithMetrics 設置拍賣引擎的 metrics
func WithMetrics(m *auction.Metrics) ServerOption {
	return func(o *serverOptions) {
		o.metrics = m
	}
}

// WithClock 設置時間來源
func WithClock(clock func() time.Time) ServerOption {
	return func(o *serverOptions) {
		o.clock = clock
	}
}

// WithRepository 以自訂的持久化實作取代 Postgres
func WithRepository(repository IAuctionRepository) ServerOption {
	return func(o *serverOptions) {
		o.repository = repository
	}
}

// WithArchiver 以自訂的封存實作取代 S3
func WithArchiver(archiver IArchiver) ServerOption {
	return func(o *serverOptions) {
		o.archiver = archiver
	}
}

type ServerImpl struct {
	engine           *auction.Engine
	hub              *broadcast.Hub
	sweeper          *auction.Sweeper
	htmlChecker      *bluemonday.Policy
	upgrader         websocket.Upgrader
	validator        openapi.MiddlewareFunc
	redisClient      *redis.Client
	settlementWriter redisAdapter.IStreamWriter[auction.SettlementRequest]
	eventReader      redisAdapter.IGroupReader[broadcast.Envelope]
	settlementReader redisAdapter.IGroupReader[auction.SettlementRequest]
	memoryQueue      *memoryRetryQueue
	settler          auction.ISettler
	repository       IAuctionRepository
	archiver         IArchiver
	db               *gorm.DB
	wg               sync.WaitGroup
	cancelFunc       context.CancelFunc
	logger           *slog.Logger

	config  ServerConfig
	options serverOptions
}

// 共用 stream 與 consumer group 名稱
const (
	eventStream      = "auction-events"
	settlementStream = "settlements"
	persistGroup     = "persist"
	settlementGroup  = "settlement"
)

func NewServer(config ServerConfig, opts ...ServerOption) (*ServerImpl, error) {
	const op = "NewServer"

	// 默認選項
	options := serverOptions{
		logger:  slog.Default(),
		metrics: auction.NopMetrics(),
		clock:   time.Now,
	}
	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}
	if len(config.Auth.PrivateKey) == 0 {
		return nil, fmt.Errorf("[%s] auth private key is required", op)
	}

	impl := &ServerImpl{
		htmlChecker: bluemonday.UGCPolicy(),
		repository:  options.repository,
		archiver:    options.archiver,
		logger:      options.logger.With(slog.String("caller", "ServerImpl")),
		config:      config,
		options:     options,
	}
	swagger, err := openapi.GetSwagger()
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load openapi spec, err=%w", op, err)
	}
	if impl.validator, err = impl.requestValidator(swagger); err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	impl.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     impl.checkOrigin,
	}

	// 初始化拍賣儲存與頻道
	var (
		store      auction.IStore
		hubOptions = []broadcast.HubOption{broadcast.WithHubLogger(options.logger)}
		retryQueue auction.IRetryQueue
	)
	if config.Redis.Enabled() {
		impl.redisClient = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		redisStore, err := redisAdapter.NewAuctionStore(impl.redisClient,
			redisAdapter.WithAuctionStoreLogger(options.logger),
			redisAdapter.WithAuctionStorePrefix(config.Redis.KeyPrefix),
			redisAdapter.WithAuctionStoreRetention(config.Redis.Retention),
			redisAdapter.WithAuctionStoreLocker(redisAdapter.NewLocker(impl.redisClient)),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create auction store, err=%w", op, err)
		}
		store = redisStore

		relay, err := broadcast.NewRedisRelay(impl.redisClient, impl.streamKey(eventStream), config.Redis.StreamMaxLen, options.logger)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create redis relay, err=%w", op, err)
		}
		hubOptions = append(hubOptions, broadcast.WithHubRelay(relay))

		writer, err := redisAdapter.NewStreamWriter[auction.SettlementRequest](impl.redisClient, impl.streamKey(settlementStream),
			redisAdapter.WithStreamWriterLogger[auction.SettlementRequest](options.logger))
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create settlement writer, err=%w", op, err)
		}
		impl.settlementWriter = writer
		retryQueue = &settlementQueue{writer: writer}
	} else {
		impl.logger.Warn("redis is not configured, running as a single node with in-memory store")
		store = auction.NewMemoryStore()
	}
	impl.hub = broadcast.NewHub(hubOptions...)

	// 初始化外部訂單服務
	if config.Settlement.BaseURL != "" {
		client, err := orders.NewClient(config.Settlement.BaseURL,
			orders.WithLogger(options.logger),
			orders.WithServiceToken(config.Settlement.Token),
			orders.WithHTTPClient(&http.Client{Timeout: lo.CoalesceOrEmpty(config.Settlement.Timeout, 10*time.Second)}),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create orders client, err=%w", op, err)
		}
		impl.settler = client
		// 單節點模式沒有 Redis stream，失敗的結算改由記憶體佇列重試
		if retryQueue == nil {
			impl.memoryQueue = newMemoryRetryQueue(options.logger, 16)
			retryQueue = impl.memoryQueue
		}
	}

	// 初始化拍賣引擎
	engineOpts := []auction.EngineOption{
		auction.WithLogger(options.logger),
		auction.WithMetrics(options.metrics),
		auction.WithPublisher(impl.hub),
		auction.WithClock(options.clock),
	}
	if config.Engine.LockTimeout > 0 {
		engineOpts = append(engineOpts, auction.WithLockTimeout(config.Engine.LockTimeout, config.Engine.LockRetries))
	}
	if config.Settlement.Timeout > 0 {
		engineOpts = append(engineOpts, auction.WithSettlementTimeout(config.Settlement.Timeout))
	}
	if impl.settler != nil {
		engineOpts = append(engineOpts, auction.WithSettler(impl.settler))
	}
	if retryQueue != nil {
		engineOpts = append(engineOpts, auction.WithRetryQueue(retryQueue))
	}
	engine, err := auction.NewEngine(store, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create engine, err=%w", op, err)
	}
	impl.engine = engine
	impl.sweeper = auction.NewSweeper(engine,
		auction.WithSweeperLogger(options.logger),
		auction.WithSweeperInterval(lo.CoalesceOrEmpty(config.Engine.SweepInterval, 2*time.Second)),
		auction.WithSweeperClock(options.clock),
	)

	// 初始化資料庫連線
	if impl.repository == nil && config.DB.Enabled() {
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			TranslateError: true,
			NamingStrategy: schema.NamingStrategy{
				TablePrefix: config.DB.Schema + ".",
			},
		})
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
		}
		repository, err := models.NewAuctionRepository(db)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create repository, err=%w", op, err)
		}
		impl.db = db
		impl.repository = repository
	}

	// 初始化S3客戶端
	if impl.archiver == nil && config.Archive.Enabled() {
		s3Cfg, err := awsCfg.LoadDefaultConfig(
			context.Background(),
			awsCfg.WithBaseEndpoint(config.Archive.Endpoint),
			awsCfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(config.Archive.AccessKeyID, config.Archive.SecretAccessKey, "")),
			awsCfg.WithRegion("auto"),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to load AWS config, err=%w", op, err)
		}
		archiverOpts := []internalS3.ArchiverOption{internalS3.WithArchiverLogger(options.logger)}
		if config.Archive.PublicBaseURL != "" {
			publicEndpoint, err := url.Parse(config.Archive.PublicBaseURL)
			if err != nil {
				return nil, fmt.Errorf("[%s] Fail to parse public base URL, err=%w", op, err)
			}
			archiverOpts = append(archiverOpts, internalS3.WithPublicEndpoint(publicEndpoint))
		}
		archiver, err := internalS3.NewArchiver(s3.NewFromConfig(s3Cfg), config.Archive.Bucket, archiverOpts...)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create archiver, err=%w", op, err)
		}
		impl.archiver = archiver
	}

	// 初始化group consumer
	if impl.redisClient != nil {
		consumer := lo.CoalesceOrEmpty(config.ID, "livebid")
		if impl.repository != nil || impl.archiver != nil {
			reader, err := redisAdapter.NewGroupReader[broadcast.Envelope](
				impl.redisClient, impl.streamKey(eventStream), persistGroup, consumer,
				redisAdapter.WithGroupReaderLogger[broadcast.Envelope](options.logger),
				redisAdapter.WithGroupReaderDecodeFunc(broadcast.DecodeEnvelope),
			)
			if err != nil {
				return nil, fmt.Errorf("[%s] Fail to create event group reader, err=%w", op, err)
			}
			impl.eventReader = reader
		}
		if impl.settler != nil {
			reader, err := redisAdapter.NewGroupReader[auction.SettlementRequest](
				impl.redisClient, impl.streamKey(settlementStream), settlementGroup, consumer,
				redisAdapter.WithGroupReaderLogger[auction.SettlementRequest](options.logger),
			)
			if err != nil {
				return nil, fmt.Errorf("[%s] Fail to create settlement group reader, err=%w", op, err)
			}
			impl.settlementReader = reader
		}
	}

	return impl, nil
}

func (impl *ServerImpl) streamKey(name string) string {
	return impl.config.Redis.KeyPrefix + name
}

// Engine 回傳拍賣引擎
func (impl *ServerImpl) Engine() *auction.Engine {
	return impl.engine
}

func (impl *ServerImpl) Start() error {
	const op = "ServerImpl.Start"
	// 啟動頻道
	impl.hub.Start()
	// 啟動截止時間掃描
	impl.sweeper.Start()

	ctx, cancel := context.WithCancel(context.Background())
	impl.cancelFunc = cancel

	// 啟動事件持久化 worker
	if impl.eventReader != nil {
		if err := impl.eventReader.Start(); err != nil {
			return fmt.Errorf("[%s] Fail to start event group reader, err=%w", op, err)
		}
		impl.logger.Info("Start auction persistence worker")
		impl.wg.Add(1)
		go func() {
			defer impl.wg.Done()
			consume(ctx, impl.options.logger.With(slog.String("caller", "AuctionPersistence")),
				impl.eventReader, impl.persistEvent)
		}()
	}
	// 啟動結算重試 worker
	if impl.settlementReader != nil {
		if err := impl.settlementReader.Start(); err != nil {
			return fmt.Errorf("[%s] Fail to start settlement group reader, err=%w", op, err)
		}
		impl.logger.Info("Start settlement retry worker")
		impl.wg.Add(1)
		go func() {
			defer impl.wg.Done()
			consume(ctx, impl.options.logger.With(slog.String("caller", "SettlementRetry")),
				impl.settlementReader, impl.retrySettlement)
		}()
	}
	if impl.memoryQueue != nil {
		impl.logger.Info("Start in-memory settlement retry worker")
		impl.wg.Add(1)
		go func() {
			defer impl.wg.Done()
			impl.memoryQueue.run(ctx, impl.retrySettlement)
		}()
	}
	return nil
}

func (impl *ServerImpl) Close() {
	// 停止截止時間掃描
	impl.sweeper.Close()
	// 關閉group consumer
	if impl.eventReader != nil {
		if err := impl.eventReader.Close(); err != nil {
			impl.logger.Warn("Fail to close event group reader", slog.Any("error", err))
		}
	}
	if impl.settlementReader != nil {
		if err := impl.settlementReader.Close(); err != nil {
			impl.logger.Warn("Fail to close settlement group reader", slog.Any("error", err))
		}
	}
	if impl.memoryQueue != nil {
		impl.memoryQueue.Close()
	}
	// 關閉worker
	if impl.cancelFunc != nil {
		impl.cancelFunc()
	}
	impl.wg.Wait()
	// 關閉頻道
	impl.hub.Close()
	if impl.settlementWriter != nil {
		impl.settlementWriter.Close()
	}
	if impl.redisClient != nil {
		if err := impl.redisClient.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			impl.logger.Warn("Fail to close redis client", slog.Any("error", err))
		}
	}
	if impl.db != nil {
		if sqlDB, err := impl.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// checkOrigin 依 CORS 設定檢查 websocket 的來源
func (impl *ServerImpl) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	allowed := impl.config.CORS.AllowOrigins
	if origin == "" || len(allowed) == 0 || lo.Contains(allowed, "*") {
		return true
	}
	return lo.Contains(allowed, origin)
}
