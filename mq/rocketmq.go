package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"

	"github.com/PrincewillDev/polling-app-sub000/config"
	"github.com/PrincewillDev/polling-app-sub000/logging"
)

// RocketMQ carries tally updates through a RocketMQ topic for multi-instance
// deployments.
type RocketMQ struct {
	topic    string
	producer rocketmq.Producer
	consumer rocketmq.PushConsumer
}

// NewRocketMQ connects a producer and push consumer to the configured name
// server.
func NewRocketMQ(cfg config.MQConfig) (*RocketMQ, error) {
	p, err := rocketmq.NewProducer(
		producer.WithNameServer([]string{cfg.NameServer}),
		producer.WithGroupName("tally_producer"),
		producer.WithRetry(2),
		producer.WithSendMsgTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("创建RocketMQ生产者失败: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("启动RocketMQ生产者失败: %w", err)
	}

	c, err := rocketmq.NewPushConsumer(
		consumer.WithNameServer([]string{cfg.NameServer}),
		consumer.WithGroupName(cfg.ConsumerName),
		// 广播模式：每个实例都要收到更新才能推给自己的WebSocket客户端
		consumer.WithConsumerModel(consumer.BroadCasting),
	)
	if err != nil {
		_ = p.Shutdown()
		return nil, fmt.Errorf("创建RocketMQ消费者失败: %w", err)
	}

	return &RocketMQ{
		topic:    cfg.Topic,
		producer: p,
		consumer: c,
	}, nil
}

// Publish sends one update to the topic.
func (m *RocketMQ) Publish(update TallyUpdate) error {
	raw, err := encodeUpdate(update)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := primitive.NewMessage(m.topic, raw)
	msg.WithKeys([]string{update.PollID})

	_, err = m.producer.SendSync(ctx, msg)
	return err
}

// Start subscribes to the topic and dispatches decoded updates.
func (m *RocketMQ) Start(handler Handler) error {
	err := m.consumer.Subscribe(m.topic, consumer.MessageSelector{},
		func(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
			for _, msg := range msgs {
				update, err := decodeUpdate(msg.Body)
				if err != nil {
					logging.Log.Debugf("解析RocketMQ消息失败: %v", err)
					continue
				}
				handler(update)
			}
			return consumer.ConsumeSuccess, nil
		})
	if err != nil {
		return fmt.Errorf("订阅主题失败: %w", err)
	}
	if err := m.consumer.Start(); err != nil {
		return fmt.Errorf("启动RocketMQ消费者失败: %w", err)
	}

	logging.Log.WithField("topic", m.topic).Info("rocketmq consumer started")
	return nil
}

// Close shuts down producer and consumer.
func (m *RocketMQ) Close() {
	if err := m.consumer.Shutdown(); err != nil {
		logging.Log.Debugf("关闭RocketMQ消费者失败: %v", err)
	}
	if err := m.producer.Shutdown(); err != nil {
		logging.Log.Debugf("关闭RocketMQ生产者失败: %v", err)
	}
}
