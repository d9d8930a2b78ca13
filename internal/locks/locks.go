package locks

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/iurnickita/esbo/internal/locks/config"
)

// LockStore - множество заблокированных банков и методов вывода.
// Банки и методы вывода делят одно множество.
type LockStore interface {
	// Lock возвращает true, если id не был заблокирован
	Lock(ctx context.Context, id string) (bool, error)
	// Unlock возвращает true, если id был заблокирован
	Unlock(ctx context.Context, id string) (bool, error)
	IsLocked(ctx context.Context, id string) (bool, error)
	Locked(ctx context.Context) (map[string]struct{}, error)
}

const defaultRedisKey = "esbo:locked"

// Connect открывает соединение с Redis. Без адреса возвращает nil
func Connect(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// NewLockStore выбирает Redis, если есть соединение, иначе множество в памяти
func NewLockStore(cfg config.Config, client *redis.Client) LockStore {
	if client == nil {
		return NewMemLocks()
	}
	return NewRedisLocks(client, cfg.RedisKey)
}

type memLocks struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewMemLocks() LockStore {
	return &memLocks{ids: make(map[string]struct{})}
}

func (l *memLocks) Lock(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[id]; ok {
		return false, nil
	}
	l.ids[id] = struct{}{}
	return true, nil
}

func (l *memLocks) Unlock(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[id]; !ok {
		return false, nil
	}
	delete(l.ids, id)
	return true, nil
}

func (l *memLocks) IsLocked(_ context.Context, id string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.ids[id]
	return ok, nil
}

func (l *memLocks) Locked(_ context.Context) (map[string]struct{}, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]struct{}, len(l.ids))
	for id := range l.ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// redisLocks хранит множество в Redis SET, общий для всех экземпляров сервиса
type redisLocks struct {
	client *redis.Client
	key    string
}

func NewRedisLocks(client *redis.Client, key string) LockStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &redisLocks{client: client, key: key}
}

func (l *redisLocks) Lock(ctx context.Context, id string) (bool, error) {
	added, err := l.client.SAdd(ctx, l.key, id).Result()
	if err != nil {
		return false, err
	}
	return added == 1, nil
}

func (l *redisLocks) Unlock(ctx context.Context, id string) (bool, error) {
	removed, err := l.client.SRem(ctx, l.key, id).Result()
	if err != nil {
		return false, err
	}
	return removed == 1, nil
}

func (l *redisLocks) IsLocked(ctx context.Context, id string) (bool, error) {
	return l.client.SIsMember(ctx, l.key, id).Result()
}

func (l *redisLocks) Locked(ctx context.Context) (map[string]struct{}, error) {
	members, err := l.client.SMembers(ctx, l.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(members))
	for _, id := range members {
		out[id] = struct{}{}
	}
	return out, nil
}
