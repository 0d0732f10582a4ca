// Package backend builds the store.Store named by configuration.
package backend

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/kvstate/config"
	"github.com/unkn0wn-root/kvstate/store"
	"github.com/unkn0wn-root/kvstate/store/bigcache"
	"github.com/unkn0wn-root/kvstate/store/cookie"
	"github.com/unkn0wn-root/kvstate/store/memory"
	"github.com/unkn0wn-root/kvstate/store/redis"
	"github.com/unkn0wn-root/kvstate/store/ristretto"
	"github.com/unkn0wn-root/kvstate/store/sqlite"
)

// Open returns the store selected by cfg.Store. For config.StoreNone it
// returns a nil Store, which State and Storage treat as "no persistence".
// The caller owns the result and must Close it.
func Open(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreNone:
		return nil, nil
	case config.StoreMemory, "":
		return memory.New(cfg.SweepInterval), nil
	case config.StoreCookie:
		s, err := cookie.New(cookie.Config{URL: cfg.RootURL})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreBigCache:
		// entries never outlive LifeWindow; make room for COOKIE_DAYS
		life := 24 * time.Hour
		if ttl := cfg.CookieTTL(); ttl > life {
			life = ttl
		}
		s, err := bigcache.New(bigcache.Config{LifeWindow: life})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreRistretto:
		s, err := ristretto.New(ristretto.Config{
			NumCounters: 1e5,
			MaxCost:     64 << 20,
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.SQLitePath})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreRedis:
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("backend: redis %s: %w", cfg.RedisAddr, err)
		}
		s, err := redis.New(redis.Config{Client: rdb, Prefix: cfg.RedisPrefix, CloseClient: true})
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("backend: unknown store %q", cfg.Store)
	}
}
