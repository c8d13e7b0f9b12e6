package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PrincewillDev/polling-app-sub000/logging"
	"github.com/PrincewillDev/polling-app-sub000/service"
)

const (
	defaultResultTTL = time.Hour
	// 缓存时间抖动，避免同时过期
	jitterFactor = 0.2
)

// VoteCache is the Redis-backed cache for the tally engine: per-poll result
// views with jittered TTL, plus the best-effort per-(poll, address) lock
// used as the anonymous duplicate heuristic.
type VoteCache struct {
	client    *redis.Client
	lockTTL   time.Duration
	resultTTL time.Duration
}

// NewVoteCache wraps a connected client. lockTTL bounds how long an
// anonymous voter address stays locked out of a poll.
func NewVoteCache(client *redis.Client, lockTTL time.Duration) *VoteCache {
	if lockTTL <= 0 {
		lockTTL = 24 * time.Hour
	}
	return &VoteCache{
		client:    client,
		lockTTL:   lockTTL,
		resultTTL: defaultResultTTL,
	}
}

// AcquireVoteLock takes the per-(poll, voter address) lock. Returns false
// when the address already voted within the lock window.
func (c *VoteCache) AcquireVoteLock(ctx context.Context, pollID, voterKey string) (bool, error) {
	if c == nil || c.client == nil {
		return true, nil
	}
	return c.client.SetNX(ctx, voteLockKey(pollID, voterKey), time.Now().Unix(), c.lockTTL).Result()
}

// ReleaseVoteLock drops the per-(poll, voter address) lock after a failed
// write, so the address is not locked out without a recorded vote.
func (c *VoteCache) ReleaseVoteLock(ctx context.Context, pollID, voterKey string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, voteLockKey(pollID, voterKey)).Err(); err != nil {
		logging.Log.Debugf("释放匿名投票锁失败: %v", err)
	}
}

// GetResults returns the cached result view for a poll, if present.
func (c *VoteCache) GetResults(ctx context.Context, pollID string) (*service.PollResultView, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, resultsKey(pollID)).Bytes()
	if err != nil {
		return nil, false
	}

	var view service.PollResultView
	if err := json.Unmarshal(raw, &view); err != nil {
		// 脏数据直接清掉
		c.Invalidate(ctx, pollID)
		return nil, false
	}
	return &view, true
}

// SetResults caches a result view with a jittered TTL.
func (c *VoteCache) SetResults(ctx context.Context, pollID string, view *service.PollResultView) {
	if c == nil || c.client == nil {
		return
	}

	raw, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, resultsKey(pollID), raw, jitter(c.resultTTL)).Err(); err != nil {
		logging.Log.Debugf("缓存投票结果失败: %v", err)
	}
}

// Invalidate drops the cached result view after a tally change.
func (c *VoteCache) Invalidate(ctx context.Context, pollID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, resultsKey(pollID)).Err(); err != nil {
		logging.Log.Debugf("删除结果缓存失败: %v", err)
	}
}

func resultsKey(pollID string) string {
	return fmt.Sprintf("poll:%s:results", pollID)
}

func voteLockKey(pollID, voterKey string) string {
	return fmt.Sprintf("vote_lock:poll:%s:ip:%s", pollID, voterKey)
}

func jitter(base time.Duration) time.Duration {
	spread := float64(base) * jitterFactor * rand.Float64()
	return base + time.Duration(spread)
}

var (
	_ service.ResultCache = (*VoteCache)(nil)
	_ service.VoteLocker  = (*VoteCache)(nil)
)
