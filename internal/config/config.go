package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	TelegramBotToken string
	RedisURL         string
	HTTPAddr         string
	APIKey           string

	CandleCacheTTLSecs   int
	LookbackDays         int
	CoinGeckoTimeoutSecs int
	CacheWarmSecs        int

	DigestCron     string
	DigestTimezone string
	// AnchorWeekday is empty for "first candle" or a weekday name.
	AnchorWeekday string
}

func Load() *Config {
	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		RedisURL:         strings.TrimSpace(os.Getenv("REDIS_URL")),
		APIKey:           strings.TrimSpace(os.Getenv("API_KEY")),
	}

	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}

	cfg.HTTPAddr = strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.CandleCacheTTLSecs = positiveInt("CANDLE_CACHE_TTL_SECS", 60)
	cfg.LookbackDays = positiveInt("LOOKBACK_DAYS", 7)
	cfg.CoinGeckoTimeoutSecs = positiveInt("COINGECKO_TIMEOUT_SECS", 30)

	cfg.CacheWarmSecs = 0
	if v := strings.TrimSpace(os.Getenv("CACHE_WARM_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.CacheWarmSecs = n
		}
	}

	cfg.DigestCron = strings.TrimSpace(os.Getenv("DIGEST_CRON"))
	if cfg.DigestCron == "" {
		cfg.DigestCron = "30 4 * * 6"
	}

	cfg.DigestTimezone = strings.TrimSpace(os.Getenv("DIGEST_TZ"))
	if cfg.DigestTimezone == "" {
		cfg.DigestTimezone = "UTC"
	}

	cfg.AnchorWeekday = strings.TrimSpace(os.Getenv("SIGNAL_ANCHOR_WEEKDAY"))
	if cfg.AnchorWeekday != "" {
		if _, ok := ParseWeekday(cfg.AnchorWeekday); !ok {
			log.Printf("Warning: unsupported SIGNAL_ANCHOR_WEEKDAY=%q, anchoring on first candle", cfg.AnchorWeekday)
			cfg.AnchorWeekday = ""
		}
	}

	return cfg
}

func (c *Config) CandleCacheTTL() time.Duration {
	return time.Duration(c.CandleCacheTTLSecs) * time.Second
}

func (c *Config) CoinGeckoTimeout() time.Duration {
	return time.Duration(c.CoinGeckoTimeoutSecs) * time.Second
}

func (c *Config) CacheWarmInterval() time.Duration {
	return time.Duration(c.CacheWarmSecs) * time.Second
}

// DigestLocation resolves DigestTimezone, falling back to UTC.
func (c *Config) DigestLocation() *time.Location {
	loc, err := time.LoadLocation(c.DigestTimezone)
	if err != nil {
		log.Printf("Warning: unknown DIGEST_TZ=%q, using UTC", c.DigestTimezone)
		return time.UTC
	}
	return loc
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}

func positiveInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
