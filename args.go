package main

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"livebid/api"
)

func ParseArgs() (Args, error) {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "listen address")
	pflag.String("server-id", "", "node id, used as consumer name in redis consumer groups")
	pflag.String("log-level", "info", "debug, info, warn or error")
	pflag.StringSlice("cors-allow-origins", []string{}, "allowed origins, empty allows all")

	// auth config
	pflag.String("auth-private-key-file", "", "PEM encoded Ed25519 private key used to verify access tokens")
	pflag.String("auth-issuer", "", "")
	pflag.String("auth-audience", "", "")

	// engine config
	pflag.Duration("engine-lock-timeout", 5*time.Second, "max wait for the per-auction lock")
	pflag.Int("engine-lock-retries", 1, "retries after a lock timeout")
	pflag.Duration("engine-sweep-interval", 2*time.Second, "deadline sweep interval")
	pflag.Int64("engine-max-body-bytes", 64<<10, "max HTTP request body size")

	// settlement config
	pflag.String("settlement-base-url", "", "base url of the order/payment service")
	pflag.String("settlement-token", "", "")
	pflag.Duration("settlement-timeout", 5*time.Second, "")
	pflag.Uint64("settlement-max-retries", 8, "")

	// archive config
	pflag.String("archive-endpoint", "", "")
	pflag.String("archive-bucket", "", "")
	pflag.String("archive-public-base-url", "", "")
	pflag.String("archive-access-key-id", "", "")
	pflag.String("archive-secret-access-key", "", "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "public", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "livebid:", "")
	pflag.Duration("redis-retention", 24*time.Hour, "how long terminal auctions stay in redis")
	pflag.Int64("redis-stream-max-len", 100000, "")

	// bind pflag to viper
	pflag.Parse()
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		return Args{}, fmt.Errorf("fail to bind flags, err=%w", err)
	}
	viper.AutomaticEnv()
	viper.SetEnvPrefix("LIVEBID")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	args := Args{
		ServerURL:      viper.GetString("server-url"),
		LogLevel:       viper.GetString("log-level"),
		PrivateKeyFile: viper.GetString("auth-private-key-file"),
		ServerConfig: api.ServerConfig{
			ID: viper.GetString("server-id"),
			Auth: api.AuthConfig{
				Issuer:   viper.GetString("auth-issuer"),
				Audience: viper.GetString("auth-audience"),
			},
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:         viper.GetString("redis-addr"),
				Password:     viper.GetString("redis-password"),
				DB:           viper.GetInt("redis-db"),
				KeyPrefix:    viper.GetString("redis-key-prefix"),
				Retention:    viper.GetDuration("redis-retention"),
				StreamMaxLen: viper.GetInt64("redis-stream-max-len"),
			},
			Engine: api.EngineConfig{
				LockTimeout:   viper.GetDuration("engine-lock-timeout"),
				LockRetries:   viper.GetInt("engine-lock-retries"),
				SweepInterval: viper.GetDuration("engine-sweep-interval"),
				MaxBodyBytes:  viper.GetInt64("engine-max-body-bytes"),
			},
			Settlement: api.SettlementConfig{
				BaseURL:    viper.GetString("settlement-base-url"),
				Token:      viper.GetString("settlement-token"),
				Timeout:    viper.GetDuration("settlement-timeout"),
				MaxRetries: viper.GetUint64("settlement-max-retries"),
			},
			Archive: api.ArchiveConfig{
				Endpoint:        viper.GetString("archive-endpoint"),
				Bucket:          viper.GetString("archive-bucket"),
				PublicBaseURL:   viper.GetString("archive-public-base-url"),
				AccessKeyID:     viper.GetString("archive-access-key-id"),
				SecretAccessKey: viper.GetString("archive-secret-access-key"),
			},
			CORS: api.CORSConfig{
				AllowOrigins: viper.GetStringSlice("cors-allow-origins"),
			},
		},
	}

	if args.PrivateKeyFile != "" {
		key, err := loadPrivateKey(args.PrivateKeyFile)
		if err != nil {
			return Args{}, err
		}
		args.ServerConfig.Auth.PrivateKey = key
	}
	return args, nil
}

type Args struct {
	ServerURL      string
	LogLevel       string
	PrivateKeyFile string
	ServerConfig   api.ServerConfig
}

func (args Args) Validate() bool {
	return args.ServerURL != "" && len(args.ServerConfig.Auth.PrivateKey) == ed25519.PrivateKeySize
}

// SlogLevel 將 log-level 轉為 slog.Level，無法辨識時使用 info
func (args Args) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(args.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	const op = "loadPrivateKey"
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to read private key, err=%w", op, err)
	}
	key, err := jwt.ParseEdPrivateKeyFromPEM(content)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse private key, err=%w", op, err)
	}
	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("[%s] private key is not an Ed25519 key", op)
	}
	return edKey, nil
}
