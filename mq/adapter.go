package mq

import (
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PrincewillDev/polling-app-sub000/config"
	"github.com/PrincewillDev/polling-app-sub000/logging"
	"github.com/PrincewillDev/polling-app-sub000/service"
)

// TallyUpdate is the event published after each successful vote. Consumers
// fan it out to live result subscribers.
type TallyUpdate struct {
	PollID    string                  `json:"poll_id"`
	View      *service.PollResultView `json:"view"`
	Timestamp int64                   `json:"timestamp"`
}

// Handler consumes tally updates.
type Handler func(update TallyUpdate)

// Adapter publishes tally updates over the configured transport: RocketMQ
// when a name server is configured, Redis Streams when a Redis client is
// available, otherwise an in-process channel. The transport choice only
// affects cross-instance delivery; semantics are identical.
type Adapter struct {
	driver string

	rocket  *RocketMQ
	redisMQ *RedisMQ

	local chan TallyUpdate
	done  chan struct{}
}

// NewAdapter picks the transport per config.
func NewAdapter(cfg config.MQConfig, redisClient *redis.Client) *Adapter {
	a := &Adapter{
		driver: cfg.Driver,
		local:  make(chan TallyUpdate, 64),
		done:   make(chan struct{}),
	}

	switch cfg.Driver {
	case "rocketmq":
		rocket, err := NewRocketMQ(cfg)
		if err != nil {
			logging.Log.Warnf("RocketMQ初始化失败，回退到进程内分发: %v", err)
			a.driver = "local"
			return a
		}
		a.rocket = rocket
	case "redis":
		if redisClient == nil {
			logging.Log.Warn("Redis MQ需要可用的Redis连接，回退到进程内分发")
			a.driver = "local"
			return a
		}
		a.redisMQ = NewRedisMQ(redisClient, cfg.StreamKey, cfg.ConsumerName)
	default:
		a.driver = "local"
	}

	return a
}

// Start begins consuming and dispatching updates to handler.
func (a *Adapter) Start(handler Handler) error {
	switch a.driver {
	case "rocketmq":
		return a.rocket.Start(handler)
	case "redis":
		return a.redisMQ.Start(handler)
	default:
		go func() {
			for {
				select {
				case update := <-a.local:
					handler(update)
				case <-a.done:
					return
				}
			}
		}()
		return nil
	}
}

// Publish sends one tally update.
func (a *Adapter) Publish(update TallyUpdate) error {
	switch a.driver {
	case "rocketmq":
		return a.rocket.Publish(update)
	case "redis":
		return a.redisMQ.Publish(update)
	default:
		select {
		case a.local <- update:
		default:
			// 订阅者跟不上就丢弃，广播只保证最终状态
			logging.Log.Debug("进程内消息队列已满，丢弃一次更新")
		}
		return nil
	}
}

// BroadcastTally satisfies the tally engine's broadcaster seam.
func (a *Adapter) BroadcastTally(pollID string, view *service.PollResultView) {
	update := TallyUpdate{
		PollID:    pollID,
		View:      view,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := a.Publish(update); err != nil {
		logging.Log.Warnf("发布投票更新失败: %v", err)
	}
}

// Close shuts down the transport.
func (a *Adapter) Close() {
	switch a.driver {
	case "rocketmq":
		a.rocket.Close()
	case "redis":
		a.redisMQ.Close()
	default:
		close(a.done)
	}
}

// Stats reports the active transport, for the health endpoint.
func (a *Adapter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"driver":  a.driver,
		"pending": len(a.local),
	}
}

func encodeUpdate(update TallyUpdate) ([]byte, error) {
	return json.Marshal(update)
}

func decodeUpdate(raw []byte) (TallyUpdate, error) {
	var update TallyUpdate
	err := json.Unmarshal(raw, &update)
	return update, err
}

var _ service.TallyBroadcaster = (*Adapter)(nil)
