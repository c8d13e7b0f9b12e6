package handlers

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/PrincewillDev/polling-app-sub000/config"
	"github.com/PrincewillDev/polling-app-sub000/models"
	"github.com/PrincewillDev/polling-app-sub000/repository"
	"github.com/PrincewillDev/polling-app-sub000/service"
	"github.com/PrincewillDev/polling-app-sub000/session"
)

// SetupTestEnvironment wires the Gin router against an in-memory SQLite
// database and the in-process identity provider.
func SetupTestEnvironment(t *testing.T) (*gin.Engine, *gorm.DB, *session.LocalProvider) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to connect to in-memory database: %v", err)
	}

	err = db.AutoMigrate(&models.Poll{}, &models.PollOption{}, &models.Vote{})
	if err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})

	provider := session.NewLocalProvider(time.Hour)
	repo := repository.NewPollRepository(db)
	votes := service.NewVoteService(repo, provider, nil, nil, nil, time.Second)

	voteHandler := NewVoteHandler(votes)
	sessionHandler := NewSessionHandler(provider, config.SessionConfig{
		AccessTokenTTL: time.Hour,
		RefreshSkew:    5 * time.Minute,
		RefreshTimeout: 10 * time.Second,
	})

	router := gin.New()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	api := router.Group("/api")
	{
		api.POST("/polls/:id/vote", voteHandler.SubmitVote)
		api.GET("/polls/:id/vote", voteHandler.GetVoteStatus)
		api.GET("/polls/:id/results", voteHandler.GetResults)

		api.POST("/session", sessionHandler.Issue)
		api.POST("/session/refresh", sessionHandler.Refresh)
		api.GET("/session/status", sessionHandler.Status)
		api.POST("/session/signout", sessionHandler.SignOut)
	}

	return router, db, provider
}
