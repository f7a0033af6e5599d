package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/rentals/internal/httpapi"
)

const (
	StoreBackendGorm = "gorm"
	StoreBackendPgx  = "pgx"

	defaultListenAddr        = ":8080"
	defaultDatabaseURL       = "sqlite:///tmp/rentals.db"
	defaultAllowedOrigin     = "http://localhost:8000"
	defaultSessionIssuer     = "rentals"
	defaultSessionCookie     = "rentals_session"
	defaultSessionTTL        = 12 * time.Hour
	defaultUpstreamTimeout   = 10 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
	defaultReconcileParallel = 4
	defaultAMQPExchange      = "bookings"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config aggregates runtime settings for rentald.
type Config struct {
	ListenAddr   string
	DatabaseURL  string
	StoreBackend string

	CatalogPath     string
	CredentialsJSON string

	PMSBaseURL  string
	PMSTimeout  time.Duration
	PMSTokenTTL time.Duration

	PaymentsBaseURL   string
	PaymentsSecretKey string
	PaymentsTimeout   time.Duration

	RedisURL     string
	AMQPURL      string
	AMQPExchange string

	AllowedOrigins      []string
	SessionSigningKey   string
	SessionIssuer       string
	SessionCookieName   string
	SessionTTL          time.Duration
	SessionSecureCookie bool
	AdminAccounts       []httpapi.AdminAccount

	ReconcileConcurrency int
	ReconcileInterval    time.Duration
	ChargeDueInterval    time.Duration
	ShutdownTimeout      time.Duration
}

// Validate applies defaults and rejects missing required values. Settings
// that only the HTTP server needs are checked by ValidateServe.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreBackend = strings.ToLower(defaultIfEmpty(cfg.StoreBackend, StoreBackendGorm))
	cfg.AMQPExchange = defaultIfEmpty(cfg.AMQPExchange, defaultAMQPExchange)
	if cfg.PMSTimeout <= 0 {
		cfg.PMSTimeout = defaultUpstreamTimeout
	}
	if cfg.PaymentsTimeout <= 0 {
		cfg.PaymentsTimeout = defaultUpstreamTimeout
	}
	if cfg.ReconcileConcurrency <= 0 {
		cfg.ReconcileConcurrency = defaultReconcileParallel
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.StoreBackend != StoreBackendGorm && cfg.StoreBackend != StoreBackendPgx {
		return fmt.Errorf("%w: store backend must be %s or %s", ErrInvalidConfig, StoreBackendGorm, StoreBackendPgx)
	}
	if strings.TrimSpace(cfg.CatalogPath) == "" {
		return fmt.Errorf("%w: property catalog path is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.PMSBaseURL) == "" {
		return fmt.Errorf("%w: pms base url is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.PaymentsSecretKey) == "" {
		return fmt.Errorf("%w: payments secret key is required", ErrInvalidConfig)
	}
	if cfg.ReconcileInterval < 0 || cfg.ChargeDueInterval < 0 {
		return fmt.Errorf("%w: intervals cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// ValidateServe checks the settings of the HTTP surface.
func (cfg *Config) ValidateServe() error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("%w: session signing key is required", ErrInvalidConfig)
	}
	if len(cfg.AdminAccounts) == 0 {
		return fmt.Errorf("%w: at least one admin account is required", ErrInvalidConfig)
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

// ParseAdminAccounts reads comma-separated email:role:bcrypt-hash triples.
func ParseAdminAccounts(raw string) ([]httpapi.AdminAccount, error) {
	if strings.TrimSpace(raw) == "" {
		return []httpapi.AdminAccount{}, nil
	}
	entries := strings.Split(raw, ",")
	accounts := make([]httpapi.AdminAccount, 0, len(entries))
	for index, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		parts := strings.SplitN(trimmed, ":", 3)
		if len(parts) != 3 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[2]) == "" {
			return nil, fmt.Errorf("%w: admin account %d must be email:role:hash", ErrInvalidConfig, index)
		}
		accounts = append(accounts, httpapi.AdminAccount{
			Email:        strings.TrimSpace(parts[0]),
			Role:         strings.TrimSpace(parts[1]),
			PasswordHash: strings.TrimSpace(parts[2]),
		})
	}
	return accounts, nil
}
