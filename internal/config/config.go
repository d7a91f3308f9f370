package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string           `yaml:"discord_token"`
	GuildID       string           `yaml:"guild_id"`
	DatabasePath  string           `yaml:"database_path"`
	LogLevel      string           `yaml:"log_level"`
	VerifyChannel string           `yaml:"verify_channel"`
	LogChannel    string           `yaml:"log_channel"`
	VerifiedRoles []string         `yaml:"verified_roles"`
	AdminIDs      []string         `yaml:"admin_ids"`
	RetentionDays int              `yaml:"retention_days"`
	Health        HealthConfig     `yaml:"health"`
	Verify        VerifyConfig     `yaml:"verify"`
	Roblox        RobloxConfig     `yaml:"roblox"`
	Abuse         AbuseConfig      `yaml:"abuse"`
	Quarantine    QuarantineConfig `yaml:"quarantine"`
	Notifications NotifyConfig     `yaml:"notifications"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type VerifyConfig struct {
	SessionTTLHours    int `yaml:"session_ttl_hours"`
	SearchDelaySeconds int `yaml:"search_delay_seconds"`
}

type RobloxConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryDelayMS   int    `yaml:"retry_delay_ms"`
}

// AbuseRule is one sliding-window policy: at least Threshold qualifying
// events inside WindowSeconds triggers a quarantine decision.
type AbuseRule struct {
	WindowSeconds int `yaml:"window_seconds"`
	Threshold     int `yaml:"threshold"`
}

type AbuseConfig struct {
	MaxMessageLength int       `yaml:"max_message_length"`
	Spam             AbuseRule `yaml:"spam"`
	Mention          AbuseRule `yaml:"mention"`
	ChannelCreate    AbuseRule `yaml:"channel_create"`
	ChannelDelete    AbuseRule `yaml:"channel_delete"`
	RoleDelete       AbuseRule `yaml:"role_delete"`
	Kick             AbuseRule `yaml:"kick"`
	Ban              AbuseRule `yaml:"ban"`
	Timeout          AbuseRule `yaml:"timeout"`
}

type QuarantineConfig struct {
	DurationHours int  `yaml:"duration_hours"`
	DMEnabled     bool `yaml:"dm_enabled"`
}

type NotifyConfig struct {
	BotName     string      `yaml:"bot_name"`
	EmbedColors EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Success int `yaml:"success"`
	Warning int `yaml:"warning"`
	Danger  int `yaml:"danger"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:  "/data/yeoyu.db",
		LogLevel:      "info",
		RetentionDays: 14,
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Verify:        VerifyConfig{SessionTTLHours: 24, SearchDelaySeconds: 0},
		Roblox: RobloxConfig{
			BaseURL:        "https://users.roblox.com",
			TimeoutSeconds: 10,
			MaxRetries:     2,
			RetryDelayMS:   500,
		},
		Abuse: AbuseConfig{
			MaxMessageLength: 100,
			Spam:             AbuseRule{WindowSeconds: 50, Threshold: 3},
			Mention:          AbuseRule{WindowSeconds: 300, Threshold: 2},
			ChannelCreate:    AbuseRule{WindowSeconds: 300, Threshold: 2},
			ChannelDelete:    AbuseRule{WindowSeconds: 300, Threshold: 2},
			RoleDelete:       AbuseRule{WindowSeconds: 300, Threshold: 2},
			Kick:             AbuseRule{WindowSeconds: 300, Threshold: 2},
			Ban:              AbuseRule{WindowSeconds: 300, Threshold: 2},
			Timeout:          AbuseRule{WindowSeconds: 300, Threshold: 2},
		},
		// 672h is the longest timeout Discord accepts (28 days); long
		// enough that release always goes through manual review.
		Quarantine: QuarantineConfig{DurationHours: 672, DMEnabled: true},
		Notifications: NotifyConfig{
			BotName: "뎀넴의여유봇",
			EmbedColors: EmbedColors{
				Action:  0x5661EA,
				Success: 0x4D9802,
				Warning: 0xFFC443,
				Danger:  0xED1C24,
			},
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.GuildID == "" {
		return Config{}, errors.New("GUILD_ID is required")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.GuildID = envString("GUILD_ID", cfg.GuildID)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.VerifyChannel = envString("VERIFY_CHANNEL", cfg.VerifyChannel)
	cfg.LogChannel = envString("LOG_CHANNEL", cfg.LogChannel)
	cfg.VerifiedRoles = envList("VERIFIED_ROLES", cfg.VerifiedRoles)
	cfg.AdminIDs = envList("ADMIN_IDS", cfg.AdminIDs)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Verify.SessionTTLHours = envInt("VERIFY_SESSION_TTL_HOURS", cfg.Verify.SessionTTLHours)
	cfg.Verify.SearchDelaySeconds = envInt("VERIFY_SEARCH_DELAY_SECONDS", cfg.Verify.SearchDelaySeconds)
	cfg.Roblox.BaseURL = envString("ROBLOX_BASE_URL", cfg.Roblox.BaseURL)
	cfg.Roblox.TimeoutSeconds = envInt("ROBLOX_TIMEOUT_SECONDS", cfg.Roblox.TimeoutSeconds)
	cfg.Roblox.MaxRetries = envInt("ROBLOX_MAX_RETRIES", cfg.Roblox.MaxRetries)
	cfg.Quarantine.DurationHours = envInt("QUARANTINE_DURATION_HOURS", cfg.Quarantine.DurationHours)
	cfg.Quarantine.DMEnabled = envBool("QUARANTINE_DM_ENABLED", cfg.Quarantine.DMEnabled)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
