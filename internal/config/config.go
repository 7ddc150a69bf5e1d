package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken          string
	BotUsername       string
	MySQLDSN          string
	TryOnAPIKey       string
	TryOnBaseURL      string
	RequestTimeout    time.Duration
	ComposeTimeout    time.Duration
	UnitPrice         int
	Wallet            string
	NotificationToken string
	AdminChatID       int64
	Allowlist         map[int64]struct{}
	WebhookListenAddr string
	AdminUsername     string
	AdminPassword     string
	S3Endpoint        string
	S3Region          string
	S3AccessKey       string
	S3SecretKey       string
	S3Bucket          string
	S3PublicBaseURL   string
	S3UsePathStyle    bool
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BotUsername:       strings.TrimPrefix(getEnv("BOT_USERNAME", ""), "@"),
		TryOnBaseURL:      strings.TrimRight(getEnv("TRYON_BASE_URL", "https://api.fitroom.app"), "/"),
		RequestTimeout:    time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		ComposeTimeout:    time.Second * time.Duration(getInt("COMPOSE_TIMEOUT_SECONDS", 180)),
		UnitPrice:         getInt("UNIT_PRICE", 30),
		AdminChatID:       getInt64("ADMIN_CHAT_ID", 0),
		Allowlist:         parseAllowlist(getEnv("ALLOWLIST", "")),
		WebhookListenAddr: getEnv("WEBHOOK_LISTEN_ADDR", ":8080"),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:     getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Region:          os.Getenv("S3_REGION"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:   os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:    getBool("S3_USE_PATH_STYLE", false),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.TryOnAPIKey = os.Getenv("TRYON_API_KEY")
	cfg.Wallet = os.Getenv("YOOMONEY_WALLET")
	cfg.NotificationToken = os.Getenv("YOOMONEY_NOTIFICATION_SECRET")

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.TryOnAPIKey == "" {
		missing = append(missing, "TRYON_API_KEY")
	}
	if cfg.Wallet == "" {
		missing = append(missing, "YOOMONEY_WALLET")
	}
	if cfg.NotificationToken == "" {
		missing = append(missing, "YOOMONEY_NOTIFICATION_SECRET")
	}
	if cfg.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if cfg.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}
	if cfg.UnitPrice <= 0 {
		return Config{}, fmt.Errorf("UNIT_PRICE must be positive, got %d", cfg.UnitPrice)
	}

	return cfg, nil
}

// DeepLink is the t.me link users are redirected to after payment.
func (c Config) DeepLink() string {
	if c.BotUsername == "" {
		return "https://t.me"
	}
	return fmt.Sprintf("https://t.me/%s", c.BotUsername)
}

// Allowlisted reports whether the user is exempt from entitlement checks.
func (c Config) Allowlisted(userID int64) bool {
	_, ok := c.Allowlist[userID]
	return ok
}

func parseAllowlist(raw string) map[int64]struct{} {
	out := make(map[int64]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out[id] = struct{}{}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Running purely off the process environment is fine.
	return nil
}
