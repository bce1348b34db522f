package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultJWTSecret     = "dev-secret-change-me"
	DefaultEncryptionKey = "default_key_change_this_in_production_32chars"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	// EncryptionKey 用于派生消息落库加密的 AES-256 密钥。
	EncryptionKey string
	// CORSOrigin 非 dev 环境下额外允许的跨域来源，空表示仅同源。
	CORSOrigin        string
	WSEventTimeout    time.Duration
	WSEventsPerSecond int
}

func defaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatroom port=5432 sslmode=disable TimeZone=UTC")
	v.SetDefault("JWT_SECRET", DefaultJWTSecret)
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 15)
	v.SetDefault("REFRESH_TOKEN_TTL_DAYS", 7)
	v.SetDefault("ENCRYPTION_KEY", DefaultEncryptionKey)
	v.SetDefault("CORS_ORIGIN", "")
	v.SetDefault("WS_EVENT_TIMEOUT", "10s")
	v.SetDefault("WS_EVENTS_PER_SECOND", 20)
}

// Load 从环境变量（以及可选的 application.yaml）读取配置，非法数值回退到默认值。
func Load() Config {
	v := viper.New()
	defaults(v)
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 配置文件是可选的，找不到时只使用环境变量。
	_ = v.ReadInConfig()

	accessTTL := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if accessTTL <= 0 {
		accessTTL = 15
	}
	refreshTTL := v.GetInt("REFRESH_TOKEN_TTL_DAYS")
	if refreshTTL <= 0 {
		refreshTTL = 7
	}
	eventTimeout := v.GetDuration("WS_EVENT_TIMEOUT")
	if eventTimeout <= 0 {
		eventTimeout = 10 * time.Second
	}
	eventsPerSecond := v.GetInt("WS_EVENTS_PER_SECOND")
	if eventsPerSecond <= 0 {
		eventsPerSecond = 20
	}
	return Config{
		Port:                  v.GetString("APP_PORT"),
		DatabaseDSN:           v.GetString("DATABASE_DSN"),
		JWTSecret:             v.GetString("JWT_SECRET"),
		Env:                   v.GetString("APP_ENV"),
		AccessTokenTTLMinutes: accessTTL,
		RefreshTokenTTLDays:   refreshTTL,
		EncryptionKey:         v.GetString("ENCRYPTION_KEY"),
		CORSOrigin:            v.GetString("CORS_ORIGIN"),
		WSEventTimeout:        eventTimeout,
		WSEventsPerSecond:     eventsPerSecond,
	}
}

// Validate 检查启动必需的配置项。除 dev 外的环境禁止使用默认密钥，直接拒绝启动。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is empty")
	}
	if cfg.Env != "dev" {
		if cfg.JWTSecret == "" || cfg.JWTSecret == DefaultJWTSecret {
			return errors.New("config: JWT_SECRET must be set outside dev")
		}
		if cfg.EncryptionKey == "" || cfg.EncryptionKey == DefaultEncryptionKey {
			return errors.New("config: ENCRYPTION_KEY must be set outside dev")
		}
	}
	if cfg.EncryptionKey == "" {
		return errors.New("config: ENCRYPTION_KEY is empty")
	}
	return nil
}
