package bigcache

import (
	"context"
	"errors"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/kvstate/internal/wire"
	"github.com/unkn0wn-root/kvstate/store"
)

// Store keeps entries in an in-process BigCache. BigCache only knows one
// global LifeWindow, so each value is framed with its own expiry and checked
// on read.
type Store struct {
	c    *bc.BigCache
	life time.Duration
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

type Config struct {
	LifeWindow         time.Duration // hard cap on every entry, longer TTLs included; 0 => 24h
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Store, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 24 * time.Hour
	}
	conf := bc.DefaultConfig(life)
	conf.Verbose = false
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Store{c: c, life: life, now: time.Now}, nil
}

// LifeWindow reports the cap applied to every entry.
func (s *Store) LifeWindow() time.Duration { return s.life }

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	exp, payload, err := wire.DecodeEntry(b)
	if err != nil || wire.Expired(exp, s.now()) {
		// self-heal: drop foreign or stale entry
		_ = s.c.Delete(key)
		return nil, false, nil
	}
	return payload, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	return true, s.c.Set(key, wire.EncodeEntry(exp, value))
}

func (s *Store) Del(_ context.Context, key string) error {
	err := s.c.Delete(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil
	}
	return err
}

func (s *Store) Close(_ context.Context) error {
	return s.c.Close()
}
