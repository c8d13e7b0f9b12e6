package websocket

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastDeliversToSubscribers(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := &Client{PollID: "p1", send: make(chan []byte, 4)}
	hub.register <- client

	// 注册走通道异步处理，等记账完成
	assert.Eventually(t, func() bool {
		return hub.SubscriberCount("p1") == 1
	}, time.Second, 5*time.Millisecond)

	hub.BroadcastToPoll("p1", &Message{Type: "tally_update", PollID: "p1"})

	select {
	case raw := <-client.send:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "tally_update", msg.Type)
		assert.Equal(t, "p1", msg.PollID)
	case <-time.After(time.Second):
		t.Fatal("broadcast never reached the subscriber")
	}

	// 面向其他投票的广播不会串台
	hub.BroadcastToPoll("p2", &Message{Type: "tally_update", PollID: "p2"})
	select {
	case <-client.send:
		t.Fatal("received a broadcast for another poll")
	case <-time.After(50 * time.Millisecond):
	}

	hub.unregister <- client
	assert.Eventually(t, func() bool {
		return hub.SubscriberCount("p1") == 0
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcastDropsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := &Client{PollID: "p1", send: make(chan []byte, 1)}
	hub.register <- client

	assert.Eventually(t, func() bool {
		return hub.SubscriberCount("p1") == 1
	}, time.Second, 5*time.Millisecond)

	// 第一条塞满缓冲，第二条命中慢客户端路径并将其注销
	hub.BroadcastToPoll("p1", &Message{Type: "tally_update", PollID: "p1"})
	hub.BroadcastToPoll("p1", &Message{Type: "tally_update", PollID: "p1"})

	assert.Eventually(t, func() bool {
		return hub.SubscriberCount("p1") == 0
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcastDuringChurn(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	done := make(chan struct{})
	var wg sync.WaitGroup

	// 多路并发广播，同时订阅者不断上线下线。无缓冲send让每次
	// 广播都走慢客户端路径，广播与注销方的close持续交错。
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := &Message{Type: "tally_update", PollID: "p1"}
			for {
				select {
				case <-done:
					return
				default:
					hub.BroadcastToPoll("p1", msg)
				}
			}
		}()
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					client := &Client{PollID: "p1", send: make(chan []byte)}
					hub.register <- client
					hub.unregister <- client
				}
			}
		}()
	}

	time.Sleep(300 * time.Millisecond)
	close(done)
	wg.Wait()
}
