package locker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLocked 锁已被其他请求持有
var ErrLocked = errors.New("lock is held by another request")

// Locker 按 key 串行化操作，返回的 release 可重复调用
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// RedisLocker 基于 SET NX PX 的分布式锁，释放时校验令牌
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func NewRedisLocker(rdb *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			releaseScript.Run(ctx, l.rdb, []string{fullKey}, token)
		})
	}, nil
}

// LocalLocker 单实例部署或未启用 Redis 时使用
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time)}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if exp, ok := l.held[key]; ok && time.Now().Before(exp) {
		return nil, ErrLocked
	}
	expires := time.Now().Add(ttl)
	l.held[key] = expires

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// 过期后可能已被他人重新获取
			if l.held[key] == expires {
				delete(l.held, key)
			}
		})
	}, nil
}

// New 有 redis 客户端时使用分布式锁
func New(rdb *redis.Client) Locker {
	if rdb == nil {
		return NewLocalLocker()
	}
	return NewRedisLocker(rdb, "lock:")
}
