package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LockRule is one step of the progressive lockout table. A negative
// Cooldown marks the permanent threshold.
type LockRule struct {
	Fails    int
	Cooldown time.Duration
}

// Permanent reports whether this rule imposes a permanent lock.
func (r LockRule) Permanent() bool { return r.Cooldown < 0 }

// Config holds all configuration for the application. It is constructed
// once at startup and passed by reference; components never read the
// environment themselves.
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	Port       string
	Env        string

	JWTSecret string

	// Credential derivation
	PinIterations int
	PinPepper     []byte // optional, from PIN_PEPPER_B64

	// Session lifecycle
	SessionIdleTTL time.Duration

	// Authorization tokens
	QRSigningKey []byte // from QR_HMAC_KEY_B64
	QRTokenTTL   time.Duration
	LinkTokenTTL time.Duration
	StageTTL     time.Duration

	// Progressive lockout table, ordered by failure count
	LockRules []LockRule

	// SMTP
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Base URL embedded in member QR / deep-link payloads
	MerchantAppBaseURL string
}

// DefaultLockRules mirrors the progressive policy: 5 failures for 15
// minutes, 7 for an hour, 9 for a day, 10 permanent.
func DefaultLockRules() []LockRule {
	return []LockRule{
		{Fails: 5, Cooldown: 15 * time.Minute},
		{Fails: 7, Cooldown: time.Hour},
		{Fails: 9, Cooldown: 24 * time.Hour},
		{Fails: 10, Cooldown: -1},
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Missing .env is fine in production; the environment may be set
	// directly.
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		Port:       os.Getenv("PORT"),
		Env:        os.Getenv("ENV"),
		JWTSecret:  os.Getenv("JWT_SECRET"),

		PinIterations:  envInt("PIN_PBKDF2_ITER", 3000),
		SessionIdleTTL: envDuration("SESSION_IDLE_TTL", 60*time.Second),
		QRTokenTTL:     envDuration("QR_TOKEN_TTL", 180*time.Second),
		LinkTokenTTL:   envDuration("LINK_TOKEN_TTL", 10*time.Minute),
		StageTTL:       envDuration("STAGE_TTL", 5*time.Minute),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     envInt("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     os.Getenv("SMTP_FROM"),

		MerchantAppBaseURL: os.Getenv("MERCHANT_APP_BASE_URL"),
	}

	if cfg.PinIterations < 1000 {
		cfg.PinIterations = 1000
	}

	if v := os.Getenv("PIN_PEPPER_B64"); v != "" {
		pepper, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PIN_PEPPER_B64: %v", err)
		}
		cfg.PinPepper = pepper
	}

	if v := os.Getenv("QR_HMAC_KEY_B64"); v != "" {
		key, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid QR_HMAC_KEY_B64: %v", err)
		}
		cfg.QRSigningKey = key
	}

	rules, err := parseLockRules(os.Getenv("LOCK_RULES"))
	if err != nil {
		return nil, err
	}
	cfg.LockRules = rules

	return cfg, nil
}

// parseLockRules parses "5:15m,7:1h,9:24h,10:permanent"; empty input
// yields the default table.
func parseLockRules(raw string) ([]LockRule, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultLockRules(), nil
	}
	var rules []LockRule
	for _, part := range strings.Split(raw, ",") {
		fields := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid LOCK_RULES entry: %q", part)
		}
		fails, err := strconv.Atoi(fields[0])
		if err != nil || fails <= 0 {
			return nil, fmt.Errorf("invalid LOCK_RULES threshold: %q", part)
		}
		if strings.EqualFold(fields[1], "permanent") {
			rules = append(rules, LockRule{Fails: fails, Cooldown: -1})
			continue
		}
		d, err := time.ParseDuration(fields[1])
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid LOCK_RULES duration: %q", part)
		}
		rules = append(rules, LockRule{Fails: fails, Cooldown: d})
	}
	return rules, nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
