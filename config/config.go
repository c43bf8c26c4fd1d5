// config/config.go
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Source names known to the service. Used as the :source route segment and
// as the first half of a record's identity.
const (
	SourceChicken = "chicken"
	SourceRainbet = "rainbet"
	SourceCSGOWin = "csgowin"
)

// Partner holds the outbound settings for one affiliate program.
type Partner struct {
	Name    string
	BaseURL string
	APIKey  string
	// Code is the affiliate code some programs require on every request.
	Code string
}

// Enabled reports whether the partner has credentials configured.
func (p Partner) Enabled() bool {
	return p.APIKey != "" && p.BaseURL != ""
}

type Config struct {
	Port        string
	DatabaseURL string

	Partners []Partner

	SyncInterval    time.Duration
	SyncCron        string
	SyncLookback    time.Duration
	SyncConcurrency int
	FeedTimeout     time.Duration

	LeaderboardLimit int
	RedisURL         string
	CacheTTL         time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	R2AccountID    string
	R2AccessKey    string
	R2AccessSecret string
	R2Bucket       string

	LogLevel  string
	LogFormat string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "5200")
	v.SetDefault("CHICKEN_API_URL", "https://affiliates.chicken.gg/v1/referrals")
	v.SetDefault("RAINBET_API_URL", "https://services.rainbet.com/v1/external/affiliates")
	v.SetDefault("CSGOWIN_API_URL", "https://api.csgowin.com/api/affiliate/external")
	v.SetDefault("SYNC_INTERVAL", "1m")
	v.SetDefault("SYNC_LOOKBACK", "0s")
	v.SetDefault("SYNC_CONCURRENCY", 4)
	v.SetDefault("FEED_TIMEOUT", "30s")
	v.SetDefault("LEADERBOARD_LIMIT", 50)
	v.SetDefault("LEADERBOARD_CACHE_TTL", "30s")
	v.SetDefault("KAFKA_TOPIC", "affiliate.sync.completed")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info("⚠️  No .env file found, reading environment variables directly")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:        v.GetString("PORT"),
		DatabaseURL: v.GetString("DATABASE_URL"),
		Partners: []Partner{
			{Name: SourceChicken, BaseURL: v.GetString("CHICKEN_API_URL"), APIKey: v.GetString("CHICKEN_API_KEY")},
			{Name: SourceRainbet, BaseURL: v.GetString("RAINBET_API_URL"), APIKey: v.GetString("RAINBET_API_KEY")},
			{
				Name:    SourceCSGOWin,
				BaseURL: v.GetString("CSGOWIN_API_URL"),
				APIKey:  v.GetString("CSGOWIN_API_KEY"),
				Code:    strings.TrimSpace(v.GetString("CSGOWIN_AFFILIATE_CODE")),
			},
		},
		SyncInterval:     v.GetDuration("SYNC_INTERVAL"),
		SyncCron:         strings.TrimSpace(v.GetString("SYNC_CRON")),
		SyncLookback:     v.GetDuration("SYNC_LOOKBACK"),
		SyncConcurrency:  v.GetInt("SYNC_CONCURRENCY"),
		FeedTimeout:      v.GetDuration("FEED_TIMEOUT"),
		LeaderboardLimit: v.GetInt("LEADERBOARD_LIMIT"),
		RedisURL:         v.GetString("REDIS_URL"),
		CacheTTL:         v.GetDuration("LEADERBOARD_CACHE_TTL"),
		KafkaBrokers:     splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:       v.GetString("KAFKA_TOPIC"),
		R2AccountID:      v.GetString("CLOUDFLARE_ACCOUNT_ID"),
		R2AccessKey:      v.GetString("R2_ACCESS_KEY_ID"),
		R2AccessSecret:   v.GetString("R2_ACCESS_KEY_SECRET"),
		R2Bucket:         v.GetString("R2_BUCKET_NAME"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		LogFormat:        v.GetString("LOG_FORMAT"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL environment variable not set")
	}
	if c.SyncCron == "" && c.SyncInterval <= 0 {
		return errors.Errorf("SYNC_INTERVAL must be positive, got %s", c.SyncInterval)
	}
	if c.SyncConcurrency < 1 {
		return errors.Errorf("SYNC_CONCURRENCY must be at least 1, got %d", c.SyncConcurrency)
	}
	if c.FeedTimeout <= 0 {
		return errors.Errorf("FEED_TIMEOUT must be positive, got %s", c.FeedTimeout)
	}
	for _, p := range c.Partners {
		if p.Name == SourceCSGOWin && p.Enabled() && p.Code == "" {
			return errors.New("CSGOWIN_AFFILIATE_CODE is required when CSGOWIN_API_KEY is set")
		}
	}
	if c.LeaderboardLimit < 1 {
		return errors.Errorf("LEADERBOARD_LIMIT must be a positive integer, got %d", c.LeaderboardLimit)
	}
	return nil
}

// EnabledPartners returns the partners that have an API key.
func (c *Config) EnabledPartners() []Partner {
	var out []Partner
	for _, p := range c.Partners {
		if p.Enabled() {
			out = append(out, p)
		}
	}
	return out
}

// R2Enabled reports whether leaderboard snapshots should be archived.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2AccessKey != "" && c.R2AccessSecret != "" && c.R2Bucket != ""
}

// SetupLogging applies LOG_LEVEL and LOG_FORMAT to the standard logrus logger.
func (c *Config) SetupLogging() {
	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.Warnf("unknown LOG_LEVEL %q, falling back to info", c.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
