package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Redis 分布式锁
// ============================================================================
//
// 消费链路按账户维度加锁：同一账户的请求串行，不同账户互不影响。
// 锁只是减少无效竞争的手段，消费正确性不依赖它 ——
// 余额由条件 UPDATE 保证，幂等由 order_no 唯一索引保证。
//
// 加锁：SET key value NX EX timeout
//   - NX 保证互斥，EX 防止持有者崩溃后死锁
//   - value 记录持有者，释放时校验，避免删掉别人的锁
// 释放：Lua 脚本保证"校验+删除"原子执行
//
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 锁持有者标识
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
// 先校验 value 再删除，防止锁过期后误删后来者的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewConsumeLock 创建消费锁（按账户维度）
// value 使用订单号，便于追踪是哪笔消费持有锁
func NewConsumeLock(client *redis.Client, accountID int64, orderNo string) *DistributedLock {
	key := fmt.Sprintf("consume:lock:account:%d", accountID)
	return NewDistributedLock(client, key, orderNo, 30*time.Second)
}
