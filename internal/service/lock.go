package service

import (
	"context"
	"fmt"
	"quizmark_backend/internal/util"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// QuizLocker 同一试卷的工具链操作串行执行；锁被占用时立即返回 ErrConcurrentTransition
type QuizLocker interface {
	TryLock(ctx context.Context, quizID string, ttl time.Duration) (unlock func(), err error)
}

// RedisLocker 多实例部署时使用的分布式锁
type RedisLocker struct {
	Client *redis.Client
	Prefix string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{Client: client, Prefix: "quizmark:lock:"}
}

// 只释放自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLocker) TryLock(ctx context.Context, quizID string, ttl time.Duration) (func(), error) {
	key := l.Prefix + quizID
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, util.ErrConcurrentTransition
	}
	return func() {
		releaseScript.Run(context.Background(), l.Client, []string{key}, token)
	}, nil
}

// LocalLocker 单实例部署时的进程内锁
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time)}
}

func (l *LocalLocker) TryLock(ctx context.Context, quizID string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expires, ok := l.held[quizID]; ok && (ttl <= 0 || now.Before(expires)) {
		return nil, util.ErrConcurrentTransition
	}
	expires := now.Add(ttl)
	l.held[quizID] = expires

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[quizID].Equal(expires) {
				delete(l.held, quizID)
			}
		})
	}, nil
}
