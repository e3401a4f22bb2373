package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/haiyiyun/cache"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/haiyiyun/sessionstore"
	"github.com/haiyiyun/sessionstore/cachestore"
	"github.com/haiyiyun/sessionstore/redisstore"
	"github.com/haiyiyun/sessionstore/sqlitestore"
)

// 支持的后端
const (
	backendRedis  = "redis"
	backendSQLite = "sqlite"
	backendCache  = "cache"
)

// Config sessionctl 配置，来源依次为命令行、环境变量（SESSIONCTL_*）、配置文件
type Config struct {
	Backend        string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	CacheNamespace string
	Prefix         string
	SQLitePath     string
	TTL            time.Duration
	IDFormat       string
	Debug          bool
}

func loadConfig(v *viper.Viper) Config {
	return Config{
		Backend:        v.GetString("backend"),
		RedisAddr:      v.GetString("redis-addr"),
		RedisPassword:  v.GetString("redis-password"),
		RedisDB:        v.GetInt("redis-db"),
		CacheNamespace: v.GetString("cache-namespace"),
		Prefix:         v.GetString("prefix"),
		SQLitePath:     v.GetString("sqlite-path"),
		TTL:            v.GetDuration("ttl"),
		IDFormat:       v.GetString("id-format"),
		Debug:          v.GetBool("debug"),
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func openBackend(ctx context.Context, cfg Config, logger *zap.Logger) (sessionstore.Backend, error) {
	switch cfg.Backend {
	case backendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return redisstore.New(client,
			redisstore.WithPrefix(cfg.Prefix),
			redisstore.WithTTL(cfg.TTL),
			redisstore.WithLogger(logger),
		), nil

	case backendSQLite:
		store, err := sqlitestore.Open(ctx, "file:"+cfg.SQLitePath,
			sqlitestore.WithTTL(cfg.TTL),
			sqlitestore.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return store, nil

	case backendCache:
		local := cache.NewMemoryCache(5*time.Minute, 100*time.Millisecond, 0, 32, false)
		redisCache, err := cache.NewRedisCache(cache.RedisOptions{
			Addresses:               []string{cfg.RedisAddr},
			Compression:             false,
			CompressionThreshold:    1024,
			StreamCompressThreshold: 50*1024*1024 + 1,
			Namespace:               cfg.CacheNamespace,
		}, 5*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
		return cachestore.New(cache.NewHYYCache(local, redisCache),
			cachestore.WithPrefix(cfg.Prefix),
			cachestore.WithTTL(cfg.TTL),
			cachestore.WithLogger(logger),
		), nil
	}
	return nil, fmt.Errorf("unknown backend %q (want %s, %s or %s)",
		cfg.Backend, backendRedis, backendSQLite, backendCache)
}

func openStore(ctx context.Context, cfg Config, logger *zap.Logger) (*sessionstore.Store, error) {
	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	options := []sessionstore.Option{sessionstore.WithLogger(logger)}
	switch cfg.IDFormat {
	case "", "uuid":
	case "random":
		options = append(options, sessionstore.WithIDFunc(sessionstore.RandomIDFunc(0)))
	default:
		if c, ok := backend.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, fmt.Errorf("unknown id format %q (want uuid or random)", cfg.IDFormat)
	}

	return sessionstore.New(backend, options...)
}
