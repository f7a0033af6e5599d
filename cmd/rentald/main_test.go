package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/rentals/internal/server"
	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func findCommand(test *testing.T, root *cobra.Command, name string) *cobra.Command {
	test.Helper()
	for _, command := range root.Commands() {
		if command.Name() == name {
			return command
		}
	}
	test.Fatalf("command %s not registered", name)
	return nil
}

func TestLoadConfigReadsFlagsAndEnvironment(test *testing.T) {
	test.Setenv("RENTALS_PMS_BASE_URL", "https://pms.env.test")
	test.Setenv("RENTALS_PAYMENTS_SECRET_KEY", "sk_env")
	test.Setenv("RENTALS_RECONCILE_CONCURRENCY", "7")
	test.Setenv("DATABASE_URL", "postgres://rentals@db.test/rentals")

	command := findCommand(test, newRootCommand(&bytes.Buffer{}), "reconcile")
	if err := command.ParseFlags([]string{"--catalog-path=/srv/properties.json", "--store-backend=pgx", "--pms-timeout=3s"}); err != nil {
		test.Fatalf("parse flags: %v", err)
	}
	var cfg server.Config
	if err := loadConfig(command, viper.New(), &cfg); err != nil {
		test.Fatalf("load config: %v", err)
	}
	if cfg.CatalogPath != "/srv/properties.json" || cfg.StoreBackend != server.StoreBackendPgx || cfg.PMSTimeout != 3*time.Second {
		test.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.PMSBaseURL != "https://pms.env.test" || cfg.PaymentsSecretKey != "sk_env" || cfg.ReconcileConcurrency != 7 {
		test.Fatalf("environment not applied: %+v", cfg)
	}
	if cfg.DatabaseURL != "postgres://rentals@db.test/rentals" {
		test.Fatalf("unexpected database url %q", cfg.DatabaseURL)
	}
}

func TestLoadConfigRejectsMissingRequiredValues(test *testing.T) {
	command := findCommand(test, newRootCommand(&bytes.Buffer{}), "reconcile")
	if err := command.ParseFlags([]string{"--catalog-path=/srv/properties.json"}); err != nil {
		test.Fatalf("parse flags: %v", err)
	}
	var cfg server.Config
	if err := loadConfig(command, viper.New(), &cfg); !errors.Is(err, server.ErrInvalidConfig) {
		test.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadServeConfigParsesAccounts(test *testing.T) {
	test.Setenv("RENTALS_PMS_BASE_URL", "https://pms.env.test")
	test.Setenv("RENTALS_PAYMENTS_SECRET_KEY", "sk_env")
	test.Setenv("RENTALS_SESSION_SIGNING_KEY", "signing-secret")

	command := findCommand(test, newRootCommand(&bytes.Buffer{}), "serve")
	if err := command.ParseFlags([]string{
		"--catalog-path=/srv/properties.json",
		"--admin-accounts=owner@example.com:owner:$2a$10$hash",
		"--allowed-origins=https://rentals.test",
		"--reconcile-interval=15m",
	}); err != nil {
		test.Fatalf("parse flags: %v", err)
	}
	settings := viper.New()
	var cfg server.Config
	if err := loadConfig(command, settings, &cfg); err != nil {
		test.Fatalf("load config: %v", err)
	}
	if err := loadServeConfig(command, settings, &cfg); err != nil {
		test.Fatalf("load serve config: %v", err)
	}
	if len(cfg.AdminAccounts) != 1 || cfg.AdminAccounts[0].Role != "owner" || cfg.SessionSigningKey != "signing-secret" {
		test.Fatalf("unexpected admin settings %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://rentals.test" || cfg.ReconcileInterval != 15*time.Minute {
		test.Fatalf("unexpected serve settings %+v", cfg)
	}
}

func TestChargeDateFlag(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		args    []string
		want    string
		wantErr error
	}{
		{name: "default", args: nil, want: ""},
		{name: "explicit", args: []string{"--on=2025-03-25"}, want: "2025-03-25"},
		{name: "invalid", args: []string{"--on=25/03/2025"}, wantErr: booking.ErrInvalidCalendarDate},
	}
	for _, testCase := range testCases {
		command := findCommand(test, newRootCommand(&bytes.Buffer{}), "charge-due")
		if err := command.ParseFlags(testCase.args); err != nil {
			test.Fatalf("%s: parse flags: %v", testCase.name, err)
		}
		date, err := chargeDate(command)
		if testCase.wantErr != nil {
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.wantErr, err)
			}
			continue
		}
		if err != nil || date.String() != testCase.want {
			test.Fatalf("%s: unexpected date %q (%v)", testCase.name, date.String(), err)
		}
	}
}
