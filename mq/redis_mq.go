package mq

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PrincewillDev/polling-app-sub000/logging"
)

const streamMaxLen = 1024

// RedisMQ carries tally updates over a capped Redis Stream.
type RedisMQ struct {
	client   *redis.Client
	stream   string
	consumer string

	cancel context.CancelFunc
}

// NewRedisMQ wraps a connected client.
func NewRedisMQ(client *redis.Client, stream, consumer string) *RedisMQ {
	return &RedisMQ{
		client:   client,
		stream:   stream,
		consumer: consumer,
	}
}

// Publish appends one update to the stream.
func (m *RedisMQ) Publish(update TallyUpdate) error {
	raw, err := encodeUpdate(update)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	return m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": raw},
	}).Err()
}

// Start consumes new entries from the tail of the stream and dispatches
// them. Historical entries are skipped; subscribers only care about the
// latest tally.
func (m *RedisMQ) Start(handler Handler) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	go func() {
		lastID := "$"
		for {
			streams, err := m.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{m.stream, lastID},
				Count:   16,
				Block:   5 * time.Second,
			}).Result()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if err != redis.Nil {
					logging.Log.Debugf("读取消息流失败: %v", err)
					time.Sleep(time.Second)
				}
				continue
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					lastID = msg.ID
					payload, ok := msg.Values["payload"].(string)
					if !ok {
						continue
					}
					update, err := decodeUpdate([]byte(payload))
					if err != nil {
						logging.Log.Debugf("解析投票更新失败: %v", err)
						continue
					}
					handler(update)
				}
			}
		}
	}()

	logging.Log.WithField("stream", m.stream).Info("redis stream consumer started")
	return nil
}

// Close stops the consumer loop.
func (m *RedisMQ) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}
