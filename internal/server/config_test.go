package server

import (
	"errors"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		CatalogPath:       "/etc/rentals/properties.json",
		PMSBaseURL:        "https://pms.example.com",
		PaymentsSecretKey: "sk_test",
	}
}

func TestValidateAppliesDefaults(test *testing.T) {
	test.Parallel()
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr || cfg.DatabaseURL != defaultDatabaseURL || cfg.StoreBackend != StoreBackendGorm {
		test.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.PMSTimeout != defaultUpstreamTimeout || cfg.ReconcileConcurrency != defaultReconcileParallel || cfg.AMQPExchange != defaultAMQPExchange {
		test.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestValidateRejectsMissingValues(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "catalog", mutate: func(cfg *Config) { cfg.CatalogPath = " " }},
		{name: "pms", mutate: func(cfg *Config) { cfg.PMSBaseURL = "" }},
		{name: "payments", mutate: func(cfg *Config) { cfg.PaymentsSecretKey = "" }},
		{name: "backend", mutate: func(cfg *Config) { cfg.StoreBackend = "mongo" }},
		{name: "interval", mutate: func(cfg *Config) { cfg.ReconcileInterval = -time.Second }},
	}
	for _, testCase := range testCases {
		cfg := validConfig()
		testCase.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			test.Fatalf("%s: expected ErrInvalidConfig, got %v", testCase.name, err)
		}
	}
}

func TestValidateServe(test *testing.T) {
	test.Parallel()
	cfg := validConfig()
	if err := cfg.ValidateServe(); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf("expected a missing signing key error, got %v", err)
	}
	cfg.SessionSigningKey = "secret"
	if err := cfg.ValidateServe(); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf("expected a missing admin account error, got %v", err)
	}
	accounts, err := ParseAdminAccounts("owner@example.com:owner:$2a$10$abcdefghijklmnopqrstuv")
	if err != nil {
		test.Fatalf("parse accounts: %v", err)
	}
	cfg.AdminAccounts = accounts
	if err := cfg.ValidateServe(); err != nil {
		test.Fatalf("validate serve: %v", err)
	}
	if cfg.SessionIssuer != defaultSessionIssuer || cfg.SessionCookieName != defaultSessionCookie || cfg.SessionTTL != defaultSessionTTL {
		test.Fatalf("unexpected session defaults %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != defaultAllowedOrigin {
		test.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestParseAllowedOrigins(test *testing.T) {
	test.Parallel()
	origins := ParseAllowedOrigins(" http://a.test , ,http://b.test")
	if len(origins) != 2 || origins[0] != "http://a.test" || origins[1] != "http://b.test" {
		test.Fatalf("unexpected origins %v", origins)
	}
	if len(ParseAllowedOrigins("  ")) != 0 {
		test.Fatalf("expected no origins")
	}
}

func TestParseAdminAccounts(test *testing.T) {
	test.Parallel()
	accounts, err := ParseAdminAccounts("a@example.com:admin:$2a$10$hash1, b@example.com:owner:$2a$10$hash2")
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if len(accounts) != 2 || accounts[1].Email != "b@example.com" || accounts[1].Role != "owner" || accounts[1].PasswordHash != "$2a$10$hash2" {
		test.Fatalf("unexpected accounts %+v", accounts)
	}
	if _, err := ParseAdminAccounts("missing-parts"); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
