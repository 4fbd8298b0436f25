package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken           string
	MySQLDSN           string
	BackendBaseURL     string
	RazorpayKeyID      string
	CheckoutScriptURL  string
	CheckoutPageURL    string
	RequestTimeout     time.Duration
	DefaultCurrency    string
	MaxDiscountPercent int
	TokenSpawnInterval time.Duration
	PriceStandardINR   int64
	PriceAIINR         int64
	PriceStandardUSD   int64
	PriceAIUSD         int64
	BrandName          string
	ThemeColor         string
	AdminListenAddr    string
	AdminUsername      string
	AdminPassword      string
}

// Load reads configuration from environment variables, applying sane defaults.
// MYSQL_DSN is optional: without it the receipt ledger is disabled.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BackendBaseURL:     normalizeBaseURL(getEnv("BACKEND_BASE_URL", "https://kyur-genpro.onrender.com")),
		CheckoutScriptURL:  getEnv("RAZORPAY_CHECKOUT_SCRIPT_URL", "https://checkout.razorpay.com/v1/checkout.js"),
		CheckoutPageURL:    getEnv("CHECKOUT_PAGE_URL", "https://kyurgen.hikat.company/checkout"),
		RequestTimeout:     time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 90)),
		DefaultCurrency:    strings.ToUpper(getEnv("DEFAULT_CURRENCY", "USD")),
		MaxDiscountPercent: getInt("MAX_DISCOUNT_PERCENT", 60),
		TokenSpawnInterval: time.Millisecond * time.Duration(getInt("TOKEN_SPAWN_INTERVAL_MS", 500)),
		PriceStandardINR:   getInt64("PRICE_STANDARD_INR_MINOR", 900),
		PriceAIINR:         getInt64("PRICE_AI_INR_MINOR", 1300),
		PriceStandardUSD:   getInt64("PRICE_STANDARD_USD_MINOR", 10),
		PriceAIUSD:         getInt64("PRICE_AI_USD_MINOR", 15),
		BrandName:          getEnv("BRAND_NAME", "KyurGen Lab"),
		ThemeColor:         getEnv("THEME_COLOR", "#22c55e"),
		AdminListenAddr:    getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:      getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:      getEnv("ADMIN_PASSWORD", "change-me"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.RazorpayKeyID = os.Getenv("RAZORPAY_KEY_ID")

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.RazorpayKeyID == "" {
		missing = append(missing, "RAZORPAY_KEY_ID")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if cfg.MaxDiscountPercent < 0 || cfg.MaxDiscountPercent > 100 {
		return Config{}, fmt.Errorf("MAX_DISCOUNT_PERCENT out of range: %d", cfg.MaxDiscountPercent)
	}
	if cfg.TokenSpawnInterval <= 0 {
		return Config{}, fmt.Errorf("TOKEN_SPAWN_INTERVAL_MS must be positive")
	}

	return cfg, nil
}

// normalizeBaseURL ensures the backend URL carries a scheme and no trailing
// slash, so path joining in the client stays predictable.
func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimRight(raw, "/")
	if raw == "" {
		return raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}
	return strings.TrimRight(parsed.String(), "/")
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
	// Running purely off process environment is fine.
	return nil
}
