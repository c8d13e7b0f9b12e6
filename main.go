package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PrincewillDev/polling-app-sub000/cache"
	"github.com/PrincewillDev/polling-app-sub000/config"
	"github.com/PrincewillDev/polling-app-sub000/database"
	"github.com/PrincewillDev/polling-app-sub000/handlers"
	"github.com/PrincewillDev/polling-app-sub000/logging"
	"github.com/PrincewillDev/polling-app-sub000/mq"
	"github.com/PrincewillDev/polling-app-sub000/repository"
	"github.com/PrincewillDev/polling-app-sub000/routes"
	"github.com/PrincewillDev/polling-app-sub000/service"
	"github.com/PrincewillDev/polling-app-sub000/session"
	"github.com/PrincewillDev/polling-app-sub000/websocket"
)

func main() {
	cfg := config.Load()
	logging.Bootstrap(cfg.Server.LogLevel)

	// 初始化数据库连接
	db, err := database.Init(cfg.Database)
	if err != nil {
		logging.Log.WithError(err).Fatal("无法初始化数据库")
	}
	logging.Log.Info("数据库连接初始化成功")

	// 初始化Redis连接，失败时降级为无缓存模式
	redisClient, err := cache.NewClient(cfg.Redis)
	if err != nil {
		logging.Log.WithError(err).Warn("Redis初始化失败，缓存功能关闭")
		redisClient = nil
	} else if redisClient != nil {
		logging.Log.Info("Redis连接初始化成功")
	}

	voteCache := cache.NewVoteCache(redisClient, cfg.Vote.AnonymousLockTTL)
	distLock := cache.NewDistLock(redisClient)

	// WebSocket广播中心
	hub := websocket.NewHub()
	go hub.Run()

	// 消息队列适配器：RocketMQ、Redis Stream 或进程内通道
	adapter := mq.NewAdapter(cfg.MQ, redisClient)
	err = adapter.Start(func(update mq.TallyUpdate) {
		hub.BroadcastToPoll(update.PollID, &websocket.Message{
			Type:    "tally_update",
			PollID:  update.PollID,
			Payload: update.View,
		})
	})
	if err != nil {
		logging.Log.WithError(err).Warn("消息队列初始化失败，将使用内存模式")
	}
	logging.Log.WithField("stats", adapter.Stats()).Info("消息队列就绪")

	// 会话与投票服务
	provider := session.NewLocalProvider(cfg.Session.AccessTokenTTL)
	repo := repository.NewPollRepository(db)
	votes := service.NewVoteService(repo, provider, voteCache, voteCache, adapter, cfg.Vote.StoreTimeout)

	deps := routes.Deps{
		Config:   cfg,
		Votes:    handlers.NewVoteHandler(votes),
		Sessions: handlers.NewSessionHandler(provider, cfg.Session),
		Health:   handlers.NewHealthHandler(db, redisClient, adapter),
		WS:       websocket.NewHandler(hub),
	}

	router := routes.SetupRouter(deps)

	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	go routes.StartPollExpirationSweeper(sweeperCtx, repo, distLock)

	srv := routes.StartServer(router, cfg.Server.Port)

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Log.Info("关闭服务器...")

	stopSweeper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 不接受新请求并等待现有请求完成
	if err := srv.Shutdown(ctx); err != nil {
		logging.Log.WithError(err).Fatal("服务器强制关闭")
	}

	adapter.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	database.Close(db)

	logging.Log.Info("服务器优雅关闭")
}
