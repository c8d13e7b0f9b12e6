package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/PrincewillDev/polling-app-sub000/logging"
)

// Config holds the full runtime configuration, read once at startup and
// injected from the composition root.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	MQ       MQConfig
	Session  SessionConfig
	Vote     VoteConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            string
	LogLevel        string
	GlobalRateLimit int
	GlobalRateBurst int
	VoteRateLimit   int
	VoteRateBurst   int
}

// DatabaseConfig selects the GORM driver and connection parameters.
// Driver is one of "mysql", "postgres", "sqlite".
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	// Path is only used by the sqlite driver.
	Path string
}

// RedisConfig configures the cache layer. Empty Addr disables Redis and the
// service degrades to database-only reads.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQConfig configures the tally event transport.
type MQConfig struct {
	// Driver is "rocketmq", "redis" or "none".
	Driver       string
	NameServer   string
	Topic        string
	StreamKey    string
	ConsumerName string
}

// SessionConfig configures the session/token lifecycle manager.
type SessionConfig struct {
	// AccessTokenTTL is how long issued access tokens stay valid.
	AccessTokenTTL time.Duration
	// RefreshSkew is the window before expiry in which a credential is
	// considered expiring soon and refreshed proactively.
	RefreshSkew time.Duration
	// RefreshTimeout bounds a single refresh round trip.
	RefreshTimeout time.Duration
}

// VoteConfig holds tally engine tunables.
type VoteConfig struct {
	// AnonymousLockTTL is how long the per-(poll, IP) vote lock is held for
	// unauthenticated voters.
	AnonymousLockTTL time.Duration
	// StoreTimeout bounds a single cast-vote store round trip.
	StoreTimeout time.Duration
}

// Load reads .env (when present), binds environment variables through viper
// and returns the assembled Config.
func Load() *Config {
	// .env 仅用于本地开发，生产环境直接读环境变量
	if err := godotenv.Load(); err == nil {
		logging.Log.Debug("loaded configuration overrides from .env")
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("SERVER_PORT", "8090")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("GLOBAL_RATE_LIMIT", 100)
	v.SetDefault("GLOBAL_RATE_BURST", 200)
	v.SetDefault("VOTE_RATE_LIMIT", 10)
	v.SetDefault("VOTE_RATE_BURST", 20)

	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_HOST", "mysql")
	v.SetDefault("DB_PORT", "3306")
	v.SetDefault("DB_USER", "polluser")
	v.SetDefault("DB_PASSWORD", "pollpassword")
	v.SetDefault("DB_NAME", "pollingdb")
	v.SetDefault("DB_PATH", "polling.db")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("MQ_DRIVER", "none")
	v.SetDefault("MQ_NAMESERVER", "127.0.0.1:9876")
	v.SetDefault("MQ_TOPIC", "poll_tally_updates")
	v.SetDefault("MQ_STREAM_KEY", "polls:tally:stream")
	v.SetDefault("MQ_CONSUMER_NAME", "tally-broadcaster")

	v.SetDefault("SESSION_ACCESS_TOKEN_TTL", "1h")
	v.SetDefault("SESSION_REFRESH_SKEW", "5m")
	v.SetDefault("SESSION_REFRESH_TIMEOUT", "10s")

	v.SetDefault("VOTE_ANON_LOCK_TTL", "24h")
	v.SetDefault("VOTE_STORE_TIMEOUT", "5s")

	return &Config{
		Server: ServerConfig{
			Port:            v.GetString("SERVER_PORT"),
			LogLevel:        v.GetString("LOG_LEVEL"),
			GlobalRateLimit: v.GetInt("GLOBAL_RATE_LIMIT"),
			GlobalRateBurst: v.GetInt("GLOBAL_RATE_BURST"),
			VoteRateLimit:   v.GetInt("VOTE_RATE_LIMIT"),
			VoteRateBurst:   v.GetInt("VOTE_RATE_BURST"),
		},
		Database: DatabaseConfig{
			Driver:   v.GetString("DB_DRIVER"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			Path:     v.GetString("DB_PATH"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		MQ: MQConfig{
			Driver:       v.GetString("MQ_DRIVER"),
			NameServer:   v.GetString("MQ_NAMESERVER"),
			Topic:        v.GetString("MQ_TOPIC"),
			StreamKey:    v.GetString("MQ_STREAM_KEY"),
			ConsumerName: v.GetString("MQ_CONSUMER_NAME"),
		},
		Session: SessionConfig{
			AccessTokenTTL: v.GetDuration("SESSION_ACCESS_TOKEN_TTL"),
			RefreshSkew:    v.GetDuration("SESSION_REFRESH_SKEW"),
			RefreshTimeout: v.GetDuration("SESSION_REFRESH_TIMEOUT"),
		},
		Vote: VoteConfig{
			AnonymousLockTTL: v.GetDuration("VOTE_ANON_LOCK_TTL"),
			StoreTimeout:     v.GetDuration("VOTE_STORE_TIMEOUT"),
		},
	}
}
