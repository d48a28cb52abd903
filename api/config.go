package api

import (
	"crypto/ed25519"
	"time"
)

type ServerConfig struct {
	// ID 節點識別字串，作為 consumer group 的成員名稱
	ID         string
	Auth       AuthConfig
	DB         DBConfig
	Redis      RedisConfig
	Engine     EngineConfig
	Settlement SettlementConfig
	Archive    ArchiveConfig
	CORS       CORSConfig
}

type AuthConfig struct {
	// PrivateKey 簽發 access token 的 Ed25519 私鑰，驗證時使用其公鑰
	PrivateKey ed25519.PrivateKey
	Issuer     string
	Audience   string
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

// Enabled 沒有設定主機時不啟用 Postgres 持久化
func (c DBConfig) Enabled() bool {
	return c.Host != ""
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix 所有 key 與 stream 的共同前綴
	KeyPrefix string
	// Retention 拍賣終止後紀錄在 Redis 上保留的時間
	Retention time.Duration
	// StreamMaxLen 事件 stream 的近似長度上限
	StreamMaxLen int64
}

// Enabled 沒有設定位址時退回單節點的記憶體儲存
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type EngineConfig struct {
	LockTimeout   time.Duration
	LockRetries   int
	SweepInterval time.Duration
	// MaxBodyBytes HTTP 請求 body 的大小上限
	MaxBodyBytes int64
}

type SettlementConfig struct {
	// BaseURL 外部訂單服務的位址，空字串代表不送出結算
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries uint64
}

type ArchiveConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Bucket          string
	PublicBaseURL   string
}

// Enabled 沒有設定 bucket 時不封存
func (c ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

type CORSConfig struct {
	AllowOrigins []string
}
