// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// minSessionSecretLength はHS256署名鍵として受け入れる最小バイト数。
const minSessionSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET,required,notEmpty"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	// Session
	SessionSecret string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"168h"`

	// Rate Limit（req/min）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"20"`

	// Object Storage（未設定の場合はアバター削除を行わない）
	GCSBucketName         string `env:"GCS_BUCKET_NAME"`
	GCSKeyfilePath        string `env:"GCS_KEYFILE_PATH"`
	GCSServiceAccountJSON string `env:"GCS_SERVICE_ACCOUNT_JSON"`

	// Server
	AppEnv     string `env:"APP_ENV" envDefault:"development"`
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// Logging（debug / info / warn / error）
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if len(cfg.SessionSecret) < minSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}
	if cfg.SessionTTL <= 0 {
		return nil, errors.New("SESSION_TTL must be positive")
	}
	if cfg.RateLimitGeneral <= 0 {
		return nil, errors.New("RATE_LIMIT_GENERAL must be positive")
	}
	if cfg.RateLimitAuth <= 0 {
		return nil, errors.New("RATE_LIMIT_AUTH must be positive")
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.GoogleRedirectURL == "" {
		cfg.GoogleRedirectURL = cfg.BaseURL + "/auth/callback"
	}
	cfg.CookieSecure = cfg.IsProduction() || strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

// IsProduction は本番環境で動作しているかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
