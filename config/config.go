package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents runtime configuration for the order service.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	Environment   string `toml:"Environment"`

	DatabaseURL  string `toml:"DatabaseURL"`
	DatabasePath string `toml:"DatabasePath"`

	JWTSecret   string `toml:"JWTSecret"`
	JWTIssuer   string `toml:"JWTIssuer"`
	JWTAudience string `toml:"JWTAudience"`

	RazorpayKeyID     string `toml:"RazorpayKeyID"`
	RazorpayKeySecret string `toml:"RazorpayKeySecret"`
	RazorpayBaseURL   string `toml:"RazorpayBaseURL"`

	FileBaseURL    string `toml:"FileBaseURL"`
	FileSignSecret string `toml:"FileSignSecret"`

	AllowSelfPurchase bool          `toml:"AllowSelfPurchase"`
	DisputeWindow     time.Duration `toml:"-"`
	DisputeWindowRaw  string        `toml:"DisputeWindow"`
	DownloadTTLRaw    string        `toml:"DownloadTTL"`
	DownloadTTL       time.Duration `toml:"-"`

	PaymentRPS   float64 `toml:"PaymentRPS"`
	PaymentBurst int     `toml:"PaymentBurst"`

	NotifyQueueCapacity int `toml:"NotifyQueueCapacity"`

	LogFilePath     string `toml:"LogFilePath"`
	LogMaxSizeMB    int    `toml:"LogMaxSizeMB"`
	LogMaxBackups   int    `toml:"LogMaxBackups"`
	MetricsEnabled  bool   `toml:"MetricsEnabled"`
	LogHTTPRequests bool   `toml:"LogHTTPRequests"`

	OTLPEndpoint string `toml:"OTLPEndpoint"`
	OTLPInsecure bool   `toml:"OTLPInsecure"`
	OTLPHeaders  string `toml:"OTLPHeaders"`
}

// Defaults returns a configuration suitable for local development.
func Defaults() Config {
	return Config{
		ListenAddress:       ":8080",
		Environment:         "dev",
		DatabasePath:        "campusmart.db",
		JWTIssuer:           "campusmart",
		JWTAudience:         "campusmart-api",
		DisputeWindow:       24 * time.Hour,
		DownloadTTL:         5 * time.Minute,
		PaymentRPS:          5,
		PaymentBurst:        10,
		NotifyQueueCapacity: 1024,
		MetricsEnabled:      true,
		LogHTTPRequests:     true,
	}
}

// Load reads an optional TOML file and then applies environment overrides.
// An empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.parseDurations(); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) parseDurations() error {
	if raw := strings.TrimSpace(c.DisputeWindowRaw); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse DisputeWindow: %w", err)
		}
		if dur <= 0 {
			return errors.New("DisputeWindow must be positive")
		}
		c.DisputeWindow = dur
	}
	if raw := strings.TrimSpace(c.DownloadTTLRaw); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse DownloadTTL: %w", err)
		}
		if dur <= 0 {
			return errors.New("DownloadTTL must be positive")
		}
		c.DownloadTTL = dur
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&c.ListenAddress, "ORDERS_LISTEN")
	setString(&c.Environment, "ORDERS_ENV")
	setString(&c.DatabaseURL, "ORDERS_DATABASE_URL")
	setString(&c.DatabasePath, "ORDERS_DATABASE_PATH")
	setString(&c.JWTSecret, "ORDERS_JWT_SECRET")
	setString(&c.JWTIssuer, "ORDERS_JWT_ISSUER")
	setString(&c.JWTAudience, "ORDERS_JWT_AUDIENCE")
	setString(&c.RazorpayKeyID, "RAZORPAY_KEY_ID")
	setString(&c.RazorpayKeySecret, "RAZORPAY_KEY_SECRET")
	setString(&c.RazorpayBaseURL, "RAZORPAY_BASE_URL")
	setString(&c.FileBaseURL, "ORDERS_FILE_BASE_URL")
	setString(&c.FileSignSecret, "ORDERS_FILE_SIGN_SECRET")
	setString(&c.LogFilePath, "ORDERS_LOG_FILE")
	setString(&c.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.OTLPHeaders, "OTEL_EXPORTER_OTLP_HEADERS")

	if raw := strings.TrimSpace(os.Getenv("ORDERS_ALLOW_SELF_PURCHASE")); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("parse ORDERS_ALLOW_SELF_PURCHASE: %w", err)
		}
		c.AllowSelfPurchase = val
	}
	if raw := strings.TrimSpace(os.Getenv("ORDERS_DISPUTE_WINDOW")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse ORDERS_DISPUTE_WINDOW: %w", err)
		}
		if dur <= 0 {
			return errors.New("ORDERS_DISPUTE_WINDOW must be positive")
		}
		c.DisputeWindow = dur
	}
	if raw := strings.TrimSpace(os.Getenv("ORDERS_PAYMENT_RPS")); raw != "" {
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("parse ORDERS_PAYMENT_RPS: %w", err)
		}
		c.PaymentRPS = val
	}
	if raw := strings.TrimSpace(os.Getenv("ORDERS_NOTIFY_QUEUE_CAP")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parse ORDERS_NOTIFY_QUEUE_CAP: %w", err)
		}
		if val <= 0 {
			return errors.New("ORDERS_NOTIFY_QUEUE_CAP must be positive")
		}
		c.NotifyQueueCapacity = val
	}
	return nil
}

// Validate enforces required settings. Production (non-dev environments)
// requires real gateway credentials and a signing secret for downloads.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("ListenAddress is required")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT secret is required (ORDERS_JWT_SECRET)")
	}
	if c.DatabaseURL == "" && c.DatabasePath == "" {
		return errors.New("either DatabaseURL or DatabasePath is required")
	}
	if !c.IsDev() {
		if c.RazorpayKeyID == "" || c.RazorpayKeySecret == "" {
			return errors.New("razorpay credentials are required outside dev")
		}
		if c.FileSignSecret == "" {
			return errors.New("file signing secret is required outside dev")
		}
	}
	return nil
}

// IsDev reports whether the service runs in the development environment.
func (c *Config) IsDev() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "" || env == "dev" || env == "development"
}
