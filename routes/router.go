package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/PrincewillDev/polling-app-sub000/cache"
	"github.com/PrincewillDev/polling-app-sub000/config"
	"github.com/PrincewillDev/polling-app-sub000/handlers"
	"github.com/PrincewillDev/polling-app-sub000/logging"
	"github.com/PrincewillDev/polling-app-sub000/repository"
	"github.com/PrincewillDev/polling-app-sub000/websocket"
)

// Server 是HTTP服务器的封装
type Server struct {
	*http.Server
}

// Deps collects everything the router needs; the composition root builds it.
type Deps struct {
	Config   *config.Config
	Votes    *handlers.VoteHandler
	Sessions *handlers.SessionHandler
	Health   *handlers.HealthHandler
	WS       *websocket.Handler
}

// SetupRouter 设置和配置Gin路由
func SetupRouter(deps Deps) *gin.Engine {
	router := gin.Default()

	// 配置CORS中间件
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // 生产环境中应限制为前端域名
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	serverCfg := deps.Config.Server
	globalLimiter := handlers.NewRateLimiter(handlers.RateLimiterConfig{
		Enabled:     serverCfg.GlobalRateLimit > 0,
		GlobalRate:  serverCfg.GlobalRateLimit,
		GlobalBurst: serverCfg.GlobalRateBurst,
		PerIPRate:   serverCfg.GlobalRateLimit,
		PerIPBurst:  serverCfg.GlobalRateBurst,
	})
	// 投票端点单独收紧，防止刷票
	voteLimiter := handlers.NewRateLimiter(handlers.RateLimiterConfig{
		Enabled:     serverCfg.VoteRateLimit > 0,
		GlobalRate:  serverCfg.GlobalRateLimit,
		GlobalBurst: serverCfg.GlobalRateBurst,
		PerIPRate:   serverCfg.VoteRateLimit,
		PerIPBurst:  serverCfg.VoteRateBurst,
	})

	api := router.Group("/api")
	{
		api.Use(globalLimiter.Middleware())

		api.GET("/health", deps.Health.Check)

		polls := api.Group("/polls")
		{
			polls.POST("/:id/vote", voteLimiter.Middleware(), deps.Votes.SubmitVote)
			polls.GET("/:id/vote", deps.Votes.GetVoteStatus)
			polls.GET("/:id/results", deps.Votes.GetResults)

			// 实时更新端点（WebSocket）
			polls.GET("/:id/ws", deps.WS.HandleConnection)
		}

		sessionGroup := api.Group("/session")
		{
			sessionGroup.POST("", deps.Sessions.Issue)
			sessionGroup.POST("/refresh", deps.Sessions.Refresh)
			sessionGroup.GET("/status", deps.Sessions.Status)
			sessionGroup.POST("/signout", deps.Sessions.SignOut)
		}

		admin := api.Group("/admin")
		{
			admin.GET("/ratelimit/stats", globalLimiter.Stats)
		}
	}

	return router
}

// StartServer 启动HTTP服务器
func StartServer(router *gin.Engine, port string) *Server {
	if port == "" {
		port = "8090"
	}
	addr := ":" + port

	srv := &Server{
		&http.Server{
			Addr:    addr,
			Handler: router,
		},
	}

	go func() {
		logging.Log.WithField("addr", addr).Info("服务器启动")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Fatal("服务器启动失败")
		}
	}()

	return srv
}

// StartPollExpirationSweeper 定期关闭已过期的投票。多实例部署时由
// 分布式锁保证每个周期只有一个实例执行。
func StartPollExpirationSweeper(ctx context.Context, repo repository.PollRepository, lock *cache.DistLock) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := lock.WithLock("poll_expiry_sweep", 30*time.Second, func() error {
				sweepCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
				defer cancel()

				closed, err := repo.CloseExpiredPolls(sweepCtx)
				if err != nil {
					return err
				}
				if closed > 0 {
					logging.Log.WithField("closed", closed).Info("过期投票已关闭")
				}
				return nil
			})
			if err != nil && !errors.Is(err, cache.ErrLockNotAcquired) {
				logging.Log.WithError(err).Warn("过期投票清理失败")
			}
		}
	}
}
