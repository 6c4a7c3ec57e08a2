package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBFile      string
	AdminAddr   string
	APIAddr     string
	BaseURL     string
	UploadsPath string
	AuthSecret  string
	TokenExpiry time.Duration
	TypingIdle  time.Duration

	Jobs JobsConfig
	Push PushConfig
}

type JobsConfig struct {
	BaseURL   string
	Country   string
	AppID     string
	AppKey    string
	CallDelay time.Duration
	CacheTTL  time.Duration
}

type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
}

// Load reads the configuration from the environment. Variables from a .env
// file in the working directory are used when not already set.
func Load(cliMode bool) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBFile:      getEnv("JOBCHAT_DB", "jobchat.db"),
		AdminAddr:   getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:     getEnv("API_ADDR", ":8080"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		UploadsPath: getEnv("UPLOADS_PATH", "uploads"),
		AuthSecret:  os.Getenv("AUTH_SECRET"),
		Jobs: JobsConfig{
			BaseURL: getEnv("JOBS_BASE_URL", "https://api.adzuna.com/v1/api/jobs"),
			Country: getEnv("JOBS_COUNTRY", "gb"),
			AppID:   os.Getenv("JOBS_APP_ID"),
			AppKey:  os.Getenv("JOBS_APP_KEY"),
		},
		Push: PushConfig{
			VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
			Subject:         getEnv("VAPID_SUBJECT", "mailto:admin@localhost"),
		},
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"TOKEN_EXPIRY", "24h", &cfg.TokenExpiry},
		{"TYPING_IDLE", "2s", &cfg.TypingIdle},
		{"JOBS_CALL_DELAY", "1s", &cfg.Jobs.CallDelay},
		{"JOBS_CACHE_TTL", "5m", &cfg.Jobs.CacheTTL},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.TypingIdle <= 0 {
		return fmt.Errorf("TYPING_IDLE must be greater than 0")
	}

	if c.Jobs.CallDelay < 0 {
		return fmt.Errorf("JOBS_CALL_DELAY must not be negative")
	}

	if _, err := url.ParseRequestURI(c.Jobs.BaseURL); err != nil {
		return fmt.Errorf("JOBS_BASE_URL is not a valid URL: %w", err)
	}

	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
