package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/PrincewillDev/polling-app-sub000/config"
	"github.com/PrincewillDev/polling-app-sub000/logging"
	"github.com/PrincewillDev/polling-app-sub000/models"
)

// Init opens the configured database, runs migrations and returns the
// handle. The handle is injected into repositories from the composition
// root; there is no package-level connection.
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	gormCfg := &gorm.Config{
		Logger: gormLogger,
		// 让GORM把驱动层的唯一键冲突翻译成 gorm.ErrDuplicatedKey
		TranslateError: true,
	}

	var (
		db  *gorm.DB
		err error
	)

	switch cfg.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name)
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(cfg.Path), gormCfg)
	default:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
		db, err = gorm.Open(mysql.Open(dsn), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := db.AutoMigrate(&models.Poll{}, &models.PollOption{}, &models.Vote{}); err != nil {
		return nil, fmt.Errorf("迁移模型失败: %w", err)
	}

	if os.Getenv("ENVIRONMENT") == "development" {
		createSampleData(db)
	}

	logging.Log.WithField("driver", cfg.Driver).Info("database connected and migrated")
	return db, nil
}

// Close closes the underlying sql.DB.
func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logging.Log.Warnf("获取数据库连接失败: %v", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		logging.Log.Warnf("关闭数据库连接失败: %v", err)
	}
}

// createSampleData seeds one active poll so a fresh dev environment has
// something to vote on.
func createSampleData(db *gorm.DB) {
	var count int64
	db.Model(&models.Poll{}).Count(&count)
	if count > 0 {
		return
	}

	endDate := time.Now().Add(7 * 24 * time.Hour)
	poll := models.Poll{
		Question:    "你最喜欢的编程语言是什么？",
		Status:      models.PollStatusActive,
		ShowResults: models.ShowResultsImmediately,
		IsPublic:    true,
		EndDate:     &endDate,
	}
	if err := db.Create(&poll).Error; err != nil {
		logging.Log.Warnf("创建示例投票失败: %v", err)
		return
	}

	options := []models.PollOption{
		{PollID: poll.ID, Text: "Go", OrderIndex: 0},
		{PollID: poll.ID, Text: "Python", OrderIndex: 1},
		{PollID: poll.ID, Text: "Java", OrderIndex: 2},
		{PollID: poll.ID, Text: "JavaScript", OrderIndex: 3},
	}
	if err := db.Create(&options).Error; err != nil {
		logging.Log.Warnf("创建示例选项失败: %v", err)
		return
	}

	logging.Log.Info("sample poll created")
}
