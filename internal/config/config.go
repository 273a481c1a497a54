package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"rceutils-bot/pkg/duration"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type BotConfig struct {
	DiscordToken    string
	DatabaseURL     string
	BaseAdminUserID string
	GuildIDs        []string
	AdminRoleIDs    []string

	LoaRoleID       string
	LogGuildID      string
	LogChannelID    string
	ReviewChannelID string

	ReconcileInterval time.Duration
	MaxLoaDurationMs  int64

	HTTPAddr       string
	AdminAPISecret string

	TelegramToken       string
	TelegramAlertChatID int64

	LogLevel logrus.Level
	NodeID   int64
}

var instance *BotConfig
var once sync.Once

// GetBotConfig - конфиг процесса, читается один раз
func GetBotConfig() *BotConfig {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			logrus.Infof("no .env file loaded: %s", err.Error())
		}

		cfg, err := Load()
		if err != nil {
			logrus.Fatalf("error loading config: %s", err.Error())
		}
		instance = cfg
	})

	return instance
}

// Load собирает конфиг из переменных окружения
func Load() (*BotConfig, error) {
	cfg := &BotConfig{
		DiscordToken:    getEnv("DISCORD_BOT_TOKEN", ""),
		DatabaseURL:     getEnv("DATABASE_URL", "loa.db"),
		BaseAdminUserID: getEnv("BASE_ADMIN_USER_ID", ""),
		GuildIDs:        getEnvAsList("GUILD_IDS"),
		AdminRoleIDs:    getEnvAsList("ADMIN_ROLE_IDS"),
		LoaRoleID:       getEnv("LOA_ROLE_ID", ""),
		LogGuildID:      getEnv("LOG_GUILD_ID", ""),
		LogChannelID:    getEnv("LOG_CHANNEL_ID", ""),
		ReviewChannelID: getEnv("REVIEW_CHANNEL_ID", ""),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		AdminAPISecret:  getEnv("ADMIN_API_SECRET", ""),
		TelegramToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		NodeID:          getEnvAsInt("NODE_ID", 1),
	}

	if cfg.DiscordToken == "" {
		return nil, errors.New("could not get discord bot token")
	}
	if cfg.LoaRoleID == "" {
		return nil, errors.New("could not get LOA role id")
	}

	interval, err := time.ParseDuration(getEnv("RECONCILE_INTERVAL", "5m"))
	if err != nil || interval <= 0 {
		return nil, fmt.Errorf("invalid RECONCILE_INTERVAL")
	}
	cfg.ReconcileInterval = interval

	maxMs, ok := duration.Parse(getEnv("LOA_MAX_DURATION", "12w"))
	if !ok {
		return nil, fmt.Errorf("invalid LOA_MAX_DURATION")
	}
	cfg.MaxLoaDurationMs = maxMs

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	// алерты в Telegram включаются только вместе с чатом
	if cfg.TelegramToken != "" {
		cfg.TelegramAlertChatID = getEnvAsInt("TELEGRAM_ALERT_CHAT_ID", 0)
		if cfg.TelegramAlertChatID == 0 {
			return nil, errors.New("TELEGRAM_ALERT_CHAT_ID is required with TELEGRAM_BOT_TOKEN")
		}
	}

	if cfg.NodeID < 0 || cfg.NodeID > 1023 {
		return nil, fmt.Errorf("NODE_ID must be in [0, 1023]")
	}

	return cfg, nil
}

// IsAdminRole - есть ли среди ролей участника админская
func (c *BotConfig) IsAdminRole(roleIDs []string) bool {
	for _, id := range roleIDs {
		for _, admin := range c.AdminRoleIDs {
			if id == admin {
				return true
			}
		}
	}
	return false
}

func getEnv(key string, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultVal
}

func getEnvAsInt(name string, defaultVal int64) int64 {
	valStr := getEnv(name, "")
	if val, err := strconv.ParseInt(valStr, 10, 64); err == nil {
		return val
	}

	return defaultVal
}

func getEnvAsList(name string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(name, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
